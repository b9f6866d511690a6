/*
Package web implements the recon dashboard: a minimal management HTTP
surface mounted under a path prefix on the proxy's own listener (and
optionally on a second standalone listener), serving the CA certificate
for client trust install, a liveness/telemetry JSON endpoint, a recent-log
tail, and a live WebSocket stream of captures and findings for an
operator watching a run in progress.

It has no embedded SPA or asset pipeline and no response-rewriting
surface, so only the session-less monitoring endpoints are exposed.
*/
package web

import (
	"log/slog"
	"net/http"

	"github.com/linharesaron/mboitata/internal/logbuf"
)

// Config holds all dependencies for the dashboard server.
type Config struct {
	// PathPrefix is the management endpoint prefix (e.g., "/mb").
	PathPrefix string
	// Username and Password gate every endpoint with HTTP Basic Auth
	// when both are set; leaving either empty disables auth entirely.
	Username string
	Password string
	// CAPEM is the PEM-encoded CA certificate served for client trust
	// install.
	CAPEM []byte
	// HeartbeatJSON returns the liveness/connection-counter response as
	// JSON bytes.
	HeartbeatJSON func() ([]byte, error)
	// TelemetryJSON returns the pipeline counters response as JSON bytes.
	TelemetryJSON func() ([]byte, error)
	// LogBuffer is the circular log buffer for the recent-log endpoint
	// and the live log tail over WebSocket.
	LogBuffer *logbuf.Buffer
	Logger    *slog.Logger
}

// Server handles all dashboard HTTP requests.
type Server struct {
	prefix        string
	username      string
	password      string
	caPEM         []byte
	heartbeatFn   func() ([]byte, error)
	telemetryFn   func() ([]byte, error)
	logBuffer     *logbuf.Buffer
	hub           *Hub
	logger        *slog.Logger
	mux           *http.ServeMux
}

// New creates a new dashboard server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		prefix:      cfg.PathPrefix,
		username:    cfg.Username,
		password:    cfg.Password,
		caPEM:       cfg.CAPEM,
		heartbeatFn: cfg.HeartbeatJSON,
		telemetryFn: cfg.TelemetryJSON,
		logBuffer:   cfg.LogBuffer,
		logger:      cfg.Logger,
	}
	s.hub = newHub(cfg.LogBuffer, cfg.Logger)
	s.mux = s.buildMux()
	return s
}

// Start begins the WebSocket hub's broadcast loop.
func (s *Server) Start() { go s.hub.run() }

// Stop shuts down the WebSocket hub.
func (s *Server) Stop() { s.hub.stop() }

// BroadcastCapture notifies connected operators that a response was
// captured. Safe to call from any goroutine.
func (s *Server) BroadcastCapture(host, path, contentType string) {
	s.hub.broadcastCapture(host, path, contentType)
}

// BroadcastFinding notifies connected operators that a finding was
// written under findings/<basename>/<label>.
func (s *Server) BroadcastFinding(host, label string) {
	s.hub.broadcastFinding(host, label)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	p := s.prefix

	mux.HandleFunc("GET "+p+"/ca.pem", s.auth(s.handleCAPEM))
	mux.HandleFunc("GET "+p+"/heartbeat", s.auth(s.handleHeartbeat))
	mux.HandleFunc("GET "+p+"/telemetry", s.auth(s.handleTelemetry))
	mux.HandleFunc("GET "+p+"/logs", s.auth(s.handleLogs))
	mux.HandleFunc("GET "+p+"/events", s.auth(s.handleWebSocket))

	return mux
}

// auth wraps a handler with HTTP Basic Auth when credentials are
// configured; otherwise it is a no-op passthrough.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.username == "" || s.password == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.username || pass != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="mboitata dashboard"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
