package stages

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/linharesaron/mboitata/internal/capture"
	"github.com/linharesaron/mboitata/internal/pipeline"
)

var sourceMappingURLRe = regexp.MustCompile(`(?m)//[#@]\s*sourceMappingURL\s*=\s*(\S+)`)

// sourceMapUserAgent is sent on every outbound source-map fetch so the
// traffic is identifiable to an operator inspecting their own origin.
const sourceMapUserAgent = "mboitata/1.0"

// sourceMapV3 is the subset of the v3 source map format this stage uses.
type sourceMapV3 struct {
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
}

// SourceMapStage looks for a sourceMappingURL hint in JavaScript bodies,
// fetches the map, and explodes any inlined original sources into
// synthetic responses under /sourcemap/. Regardless of whether a map was
// found, the original response is always forwarded on to SaveFile, Scan,
// and JsScan.
type SourceMapStage struct {
	Client *http.Client
	Logger *slog.Logger
}

func (s *SourceMapStage) Process(d *pipeline.Dispatcher, resp capture.Response) {
	defer func() {
		d.Emit(pipeline.SaveFile, resp)
		d.Emit(pipeline.Scan, resp)
		d.Emit(pipeline.JsScan, resp)
	}()

	text, ok := resp.GetBody()
	if !ok {
		return
	}

	mapURL := s.findMapURL(resp, text)
	if mapURL == "" {
		return
	}

	sm, ok := s.fetchMap(mapURL)
	if !ok {
		return
	}

	for i, name := range sm.Sources {
		if name == "" || i >= len(sm.SourcesContent) {
			continue
		}
		content := sm.SourcesContent[i]
		if content == "" {
			continue
		}
		synth := capture.Response{
			Scheme:          resp.Scheme,
			Host:            resp.Host,
			Path:            "/sourcemap/" + sanitizeSourceName(name),
			ContentType:     "text/plain",
			ContentEncoding: "identity",
			Body:            []byte(content),
		}
		d.Emit(pipeline.SaveFile, synth)
	}
}

// findMapURL resolves an explicit sourceMappingURL hint against the
// response's own URL, or falls back to "<response-url>.map" if no hint
// is present in the body.
func (s *SourceMapStage) findMapURL(resp capture.Response, text string) string {
	base, err := url.Parse(resp.URL())
	if err != nil {
		return ""
	}

	if m := sourceMappingURLRe.FindStringSubmatch(text); m != nil {
		ref, err := url.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			return ""
		}
		return base.ResolveReference(ref).String()
	}

	fallback := *base
	fallback.Path += ".map"
	return fallback.String()
}

func (s *SourceMapStage) fetchMap(mapURL string) (*sourceMapV3, bool) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequest(http.MethodGet, mapURL, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("User-Agent", sourceMapUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}

	var sm sourceMapV3
	if err := json.Unmarshal(body, &sm); err != nil {
		return nil, false
	}
	return &sm, true
}

// sanitizeSourceName strips webpack loader prefixes and path-escaping
// sequences from a recovered source map entry name before it becomes a
// filesystem path component.
func sanitizeSourceName(name string) string {
	name = strings.ReplaceAll(name, "webpack://", "")
	name = strings.ReplaceAll(name, "webpack:/", "")
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, ":", "")
	name = strings.ReplaceAll(name, "//", "/")
	name = strings.TrimPrefix(name, "/")
	return name
}
