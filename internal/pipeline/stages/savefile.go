/*
Package stages implements the five fixed pipeline stages dispatched by
internal/pipeline's StageID lookup table: Filter, source-map recovery
(registered under pipeline.Map), secret scanning, JS static analysis, and
the save-file sink. Each stage is a small struct satisfying
pipeline.Stage, constructed once at startup with its dependencies
(allow-list, output root, HTTP client) and shared across every captured
response.
*/
package stages

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/linharesaron/mboitata/internal/capture"
	"github.com/linharesaron/mboitata/internal/pipeline"
)

// SaveFileStage decodes a response body and writes it under OutputDir at
// the path capture.Response.SafeJoin resolves. It is the only stage that
// touches the filesystem; every other stage reaches disk by emitting a
// (possibly synthetic) Response to pipeline.SaveFile.
type SaveFileStage struct {
	OutputDir string
	Logger    *slog.Logger
}

func (s *SaveFileStage) Process(_ *pipeline.Dispatcher, resp capture.Response) {
	logger := s.logger()

	text, ok := resp.GetBody()
	if !ok {
		logger.Warn("save-file: body not decodable", "host", resp.Host, "path", resp.Path)
		return
	}

	dest, ok := resp.SafeJoin(s.OutputDir)
	if !ok {
		return // SafeJoin already logged the traversal attempt
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		logger.Warn("save-file: mkdir failed", "path", dest, "error", err)
		return
	}
	if err := os.WriteFile(dest, []byte(text), 0o644); err != nil {
		logger.Warn("save-file: write failed", "path", dest, "error", err)
		return
	}
}

func (s *SaveFileStage) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// basename returns the final path segment of a response path, stripping
// any query string, for use as the <file-name> component of a findings
// path. An empty or root path becomes "index".
func basename(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "index"
	}
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return "index"
	}
	return p
}

// findingResponse builds a synthetic text Response for a finding, rooted
// at findings/<basename(path)>/<label>, inheriting scheme/host from the
// parent response that produced it.
func findingResponse(parent capture.Response, label, body string) capture.Response {
	return capture.Response{
		Scheme:          parent.Scheme,
		Host:            parent.Host,
		Path:            "/findings/" + basename(parent.Path) + "/" + label,
		ContentType:     "text/plain",
		ContentEncoding: "identity",
		Body:            []byte(body),
	}
}
