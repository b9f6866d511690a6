/*
Package capture defines the Response record that flows through the
analysis pipeline: an immutable snapshot of one upstream HTTP response,
along with its two non-trivial operations — decoding the body to a UTF-8
view, and joining it to a sanitized on-disk path.
*/
package capture

import (
	"bytes"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// Response is the unit of work flowing through the pipeline. It is built
// once by the upstream relay and is thereafter treated as immutable;
// stages clone it freely when re-emitting.
type Response struct {
	Scheme          string // "http" or "https"
	Host            string // DNS name, no port
	Path            string // URI path, percent-encoding preserved
	ContentType     string // MIME type, defaults to application/octet-stream
	ContentEncoding string // "identity", "gzip", "br", or ""
	Body            []byte // raw bytes as received from upstream
}

// DefaultContentType is used when a response carries no Content-Type header.
const DefaultContentType = "application/octet-stream"

// URL renders the scheme://host+path form used to resolve relative
// references (e.g. sourceMappingURL) against this response.
func (r Response) URL() string {
	return r.Scheme + "://" + r.Host + r.Path
}

// GetBody returns a best-effort decoded UTF-8 view of the body, dispatching
// on ContentEncoding. It returns ok=false when the body cannot be decoded
// or the encoding is unsupported, in which case the caller should skip this
// response for downstream text-oriented stages.
func (r Response) GetBody() (text string, ok bool) {
	switch r.ContentEncoding {
	case "", "identity":
		if !utf8.Valid(r.Body) {
			return "", false
		}
		return string(r.Body), true

	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(r.Body))
		if err != nil {
			return "", false
		}
		defer zr.Close()
		decoded, _ := io.ReadAll(zr) // best-effort: partial reads still returned
		if len(decoded) == 0 {
			return "", false
		}
		if !utf8.Valid(decoded) {
			return "", false
		}
		return string(decoded), true

	case "br":
		br := brotli.NewReader(bytes.NewReader(r.Body))
		decoded, _ := io.ReadAll(br)
		if len(decoded) == 0 {
			return "", false
		}
		if !utf8.Valid(decoded) {
			return "", false
		}
		return string(decoded), true

	default:
		slog.Default().Warn("unsupported content encoding", "encoding", r.ContentEncoding, "host", r.Host, "path", r.Path)
		return "", false
	}
}

// SafeJoin builds a path-traversal-safe file path under base for this
// response: base/sanitized-host/sanitized-path-component/.../.
//
// Each path segment is sanitized independently before joining; the final
// result is re-checked to have base as a string prefix, which rejects any
// sequence of ".." or absolute-looking components that would otherwise
// escape the output root.
func (r Response) SafeJoin(base string) (string, bool) {
	segments := []string{sanitizeSegment(r.Host)}
	for _, c := range strings.Split(r.Path, "/") {
		if c == "" {
			continue
		}
		segments = append(segments, sanitizeSegment(c))
	}

	joined := path.Join(append([]string{base}, segments...)...)
	cleanBase := path.Clean(base)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+"/") {
		slog.Default().Warn("path traversal attempt blocked", "base", base, "host", r.Host, "path", r.Path)
		return "", false
	}
	return joined, true
}

// sanitizeSegment strips characters that could be used to escape the
// output root or that are invalid in file names across common
// filesystems: path separators, drive-letter colons, NUL, and ".." runs.
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "..", "")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == 0:
			continue
		case r < 0x20:
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		out = "_"
	}
	return out
}
