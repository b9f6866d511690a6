package proxy

import (
	"bytes"
	"io"
	"net/http"

	"github.com/linharesaron/mboitata/internal/capture"
)

// captureResponse buffers resp's body (bounded by s.maxBodyBytes when
// set) and builds the capture.Response record emitted to the pipeline.
// resp.Body is replaced with a reader over the buffered bytes so the
// caller can still relay it to the original client afterward.
//
// Compatibility note: Content-Type and Content-Encoding are read
// straight off the header; a response whose header value is not valid
// UTF-8 (malformed upstream servers do exist) degrades to the empty
// string for that field rather than aborting the whole capture.
func (s *Server) captureResponse(scheme, host, path string, resp *http.Response) capture.Response {
	body, err := s.readBody(resp.Body)
	if err != nil {
		s.logger.Warn("capture: body read failed", "host", host, "path", path, "error", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	ct := headerUTF8(resp.Header.Get("Content-Type"))
	if ct == "" {
		ct = capture.DefaultContentType
	}
	enc := headerUTF8(resp.Header.Get("Content-Encoding"))
	if enc == "" {
		enc = "identity"
	}

	return capture.Response{
		Scheme:          scheme,
		Host:            host,
		Path:            path,
		ContentType:     ct,
		ContentEncoding: enc,
		Body:            body,
	}
}

// readBody reads up to s.maxBodyBytes of body (0 meaning unbounded).
func (s *Server) readBody(body io.Reader) ([]byte, error) {
	if s.maxBodyBytes <= 0 {
		return io.ReadAll(body)
	}
	limited := io.LimitReader(body, s.maxBodyBytes)
	return io.ReadAll(limited)
}

// headerUTF8 returns v unchanged if it round-trips cleanly as UTF-8 text
// (which every legitimately-encoded HTTP header value does), otherwise
// the empty string — substituting rather than erroring the capture.
func headerUTF8(v string) string {
	if string([]rune(v)) != v {
		return ""
	}
	return v
}
