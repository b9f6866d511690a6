package proxy

import (
	"encoding/json"
	"net/http"
	"strings"
)

// handleManagement routes requests under the management prefix to the
// appropriate endpoint: exact-match monitoring endpoints first, then the
// dashboard handler's own sub-tree.
func (s *Server) handleManagement(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case s.managementPrefix + "/heartbeat":
		s.heartbeatHandler(w, r)
		return
	case s.managementPrefix + "/ca.pem":
		if s.caPEMHandler != nil {
			s.caPEMHandler(w, r)
		} else {
			http.NotFound(w, r)
		}
		return
	}

	if strings.HasPrefix(r.URL.Path, s.managementPrefix+"/") {
		if s.dashboardHandler != nil {
			s.dashboardHandler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"dashboard not configured"}`)) //nolint:errcheck
		return
	}

	http.NotFound(w, r)
}

// heartbeatHandler reports basic liveness and connection counters, with
// no dependency on the telemetry store.
func (s *Server) heartbeatHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"status":             "ok",
		"uptime_seconds":     int64(s.Uptime().Seconds()),
		"connections_total":  s.ConnectionsTotal(),
		"connections_active": s.ConnectionsActive(),
	})
}
