package proxy

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// handleConnect terminates the CONNECT tunnel itself rather than
// blindly splicing bytes: it hijacks the client connection, completes a
// TLS handshake presenting a leaf certificate minted for the requested
// host, dials the real upstream over TLS, and relays HTTP
// request/response cycles between the two — capturing every response
// along the way.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, _ := splitHostPort(r.Host)
	if host == "" {
		host = r.Host
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, fmt.Sprintf("hijack error: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() { _ = clientConn.Close() }()

	if s.certFactory == nil {
		_, _ = clientConn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n")) //nolint:errcheck
		return
	}

	tlsConfig, err := s.certFactory.GetServerConfig(host)
	if err != nil {
		s.logger.Error("mitm leaf cert generation failed", "host", host, "error", err)
		_, _ = clientConn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n")) //nolint:errcheck
		return
	}

	_, _ = clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")) //nolint:errcheck

	clientTLS := tls.Server(clientConn, tlsConfig)
	if err := clientTLS.Handshake(); err != nil {
		s.logger.Warn("mitm client TLS handshake failed", "host", host, "error", err)
		return
	}
	defer func() { _ = clientTLS.Close() }()

	upstreamConn, err := dialTimeout("tcp", r.Host, s.connectTimeout)
	if err != nil {
		s.logger.Error("mitm upstream dial failed", "host", r.Host, "error", err)
		return
	}
	defer func() { _ = upstreamConn.Close() }()

	upstreamTLS := tls.Client(upstreamConn, &tls.Config{
		ServerName: host,
		NextProtos: []string{"http/1.1"},
		MinVersion: tls.VersionTLS12,
	})
	if err := upstreamTLS.Handshake(); err != nil {
		s.logger.Error("mitm upstream TLS handshake failed", "host", host, "error", err)
		return
	}
	defer func() { _ = upstreamTLS.Close() }()

	start := time.Now()
	requests := s.tunnelLoop(clientTLS, upstreamTLS, host)
	s.logger.Info("mitm session end", "host", host, "requests", requests, "duration_ms", time.Since(start).Milliseconds())
}

// tunnelLoop reads HTTP requests from the client over a terminated TLS
// connection, forwards each upstream, captures the response, and relays
// it back. It returns the number of request/response cycles completed.
func (s *Server) tunnelLoop(clientTLS, upstreamTLS *tls.Conn, host string) int {
	clientReader := bufio.NewReader(clientTLS)
	upstreamReader := bufio.NewReader(upstreamTLS)
	requests := 0

	for {
		req, err := http.ReadRequest(clientReader)
		if err != nil {
			if err != io.EOF && !isClosedConnErr(err) {
				s.logger.Debug("mitm client request read failed", "host", host, "error", err, "requests_completed", requests)
			}
			return requests
		}

		removeHopByHopHeaders(req.Header)
		if req.Host == "" {
			req.Host = host
		}

		if err := req.Write(upstreamTLS); err != nil {
			s.logger.Error("mitm upstream request write failed", "host", host, "method", req.Method, "url", req.URL.String(), "error", err)
			return requests
		}

		resp, err := http.ReadResponse(upstreamReader, req)
		if err != nil {
			s.logger.Error("mitm upstream response read failed", "host", host, "method", req.Method, "url", req.URL.String(), "error", err)
			return requests
		}

		removeHopByHopHeaders(resp.Header)
		captured := s.captureResponse("https", host, req.URL.Path, resp)
		s.emit(captured)

		resp.Body = io.NopCloser(bytes.NewReader(captured.Body))
		resp.ContentLength = int64(len(captured.Body))
		resp.Header.Set("Content-Length", strconv.Itoa(len(captured.Body)))
		resp.Header.Del("Transfer-Encoding")

		if err := resp.Write(clientTLS); err != nil {
			if !isClosedConnErr(err) {
				s.logger.Warn("mitm client response write failed", "host", host, "method", req.Method, "url", req.URL.String(), "error", err)
			}
			return requests
		}

		requests++
		if s.verbose {
			s.logger.Debug("mitm request", "host", host, "method", req.Method, "url", req.URL.String(),
				"status", resp.StatusCode, "content_type", resp.Header.Get("Content-Type"))
		}

		if resp.Close || req.Close {
			return requests
		}
	}
}

// isClosedConnErr reports whether err indicates a closed connection —
// an expected outcome when a client navigates away mid-session.
func isClosedConnErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "connection reset by peer") ||
		strings.Contains(s, "broken pipe")
}
