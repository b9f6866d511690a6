package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/linharesaron/mboitata/internal/logbuf"
)

// handleCAPEM serves the CA certificate so a client (browser or headless
// navigator profile) can install it as a trusted root, enabling TLS
// interception without certificate warnings.
func (s *Server) handleCAPEM(w http.ResponseWriter, _ *http.Request) {
	if len(s.caPEM) == 0 {
		http.NotFound(w, nil)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write(s.caPEM) //nolint:errcheck // best-effort response
}

// handleHeartbeat reports basic liveness and connection counters.
func (s *Server) handleHeartbeat(w http.ResponseWriter, _ *http.Request) {
	if s.heartbeatFn == nil {
		http.Error(w, `{"error":"heartbeat not configured"}`, http.StatusServiceUnavailable)
		return
	}
	data, err := s.heartbeatFn()
	if err != nil {
		s.logger.Error("heartbeat build failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data) //nolint:errcheck // best-effort response
}

// handleTelemetry reports pipeline counters: captures seen, findings
// emitted per category, and per-host counts.
func (s *Server) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	if s.telemetryFn == nil {
		http.Error(w, `{"error":"telemetry not configured"}`, http.StatusServiceUnavailable)
		return
	}
	data, err := s.telemetryFn()
	if err != nil {
		s.logger.Error("telemetry snapshot failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data) //nolint:errcheck // best-effort response
}

// handleLogs returns recent log entries from the circular buffer. Query
// params: n (max entries, default 100, max 1000), level (min level,
// default INFO).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logBuffer == nil {
		http.Error(w, `{"error":"log buffer not configured"}`, http.StatusServiceUnavailable)
		return
	}

	n := 100
	if nStr := r.URL.Query().Get("n"); nStr != "" {
		if parsed, parseErr := strconv.Atoi(nStr); parseErr == nil && parsed > 0 {
			n = parsed
		}
	}
	if n > 1000 {
		n = 1000
	}

	minLevel := slog.LevelInfo
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		minLevel = logbuf.ParseLevel(strings.ToUpper(lvl))
	}

	entries := s.logBuffer.Recent(n, minLevel)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries) //nolint:errcheck // best-effort response
}
