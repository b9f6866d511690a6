/*
Package proxy implements the forward proxy that sits in front of the
analysis pipeline: plain HTTP requests are relayed directly, CONNECT
requests are terminated and re-originated through the MITM tunnel in
tunnel.go, and every upstream response — from either path — is captured
and, when its host is in scope, emitted to the pipeline's Filter stage.

Management endpoints (CA cert download, liveness, telemetry) are served
under a fixed path prefix regardless of method, ahead of both of the
above.
*/
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linharesaron/mboitata/internal/allowlist"
	"github.com/linharesaron/mboitata/internal/capture"
	"github.com/linharesaron/mboitata/internal/mitmca"
	"github.com/linharesaron/mboitata/internal/pipeline"
)

// Server is an HTTP/HTTPS intercepting forward proxy.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	verbose    bool
	startTime  time.Time

	allow        *allowlist.List
	certFactory  *mitmca.Factory
	dispatcher   *pipeline.Dispatcher
	maxBodyBytes int64

	managementPrefix  string
	caPEMHandler      http.HandlerFunc
	dashboardHandler  http.Handler
	connectTimeout    time.Duration
	onCapture         func(host string)

	connectionsTotal  atomic.Int64
	connectionsActive atomic.Int64

	shutdownOnce sync.Once
}

// Config holds proxy server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8085").
	ListenAddr string
	// Logger is the structured logger to use. If nil, a default is created.
	Logger *slog.Logger
	// Verbose enables detailed request/response logging.
	Verbose bool
	// Allow scopes which hosts are captured; out-of-scope hosts are still
	// relayed, just never emitted to the pipeline.
	Allow *allowlist.List
	// CertFactory mints per-hostname leaf certificates for MITM tunnels.
	CertFactory *mitmca.Factory
	// Dispatcher is the pipeline entry point every captured response is
	// emitted to, at pipeline.Filter.
	Dispatcher *pipeline.Dispatcher
	// MaxBodyBytes caps how much of a response body is buffered for
	// capture. Zero means unbounded.
	MaxBodyBytes int64
	// ManagementPrefix is the path prefix management endpoints are served
	// under (e.g. "/mb"). Defaults to "/mb" if empty.
	ManagementPrefix string
	// CAPEMHandler serves the CA certificate for client trust install.
	CAPEMHandler http.HandlerFunc
	// DashboardHandler serves telemetry/liveness/websocket endpoints.
	DashboardHandler http.Handler
	// ConnectTimeout bounds the TCP dial to the upstream server for a
	// CONNECT (MITM) tunnel. The TLS handshake that follows the dial and
	// the plain HTTP forward path are not bounded by it.
	ConnectTimeout time.Duration
	// OnCapture, if set, is called with the host of every response
	// emitted into the pipeline (in-scope captures only). Used to feed
	// the telemetry collector without coupling this package to it.
	OnCapture func(host string)
}

// New creates a new proxy server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Allow == nil {
		cfg.Allow = allowlist.New(nil)
	}
	prefix := cfg.ManagementPrefix
	if prefix == "" {
		prefix = "/mb"
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}

	s := &Server{
		logger:           cfg.Logger,
		verbose:          cfg.Verbose,
		startTime:        time.Now(),
		allow:            cfg.Allow,
		certFactory:      cfg.CertFactory,
		dispatcher:       cfg.Dispatcher,
		maxBodyBytes:     cfg.MaxBodyBytes,
		managementPrefix: prefix,
		caPEMHandler:     cfg.CAPEMHandler,
		dashboardHandler: cfg.DashboardHandler,
		connectTimeout:   connectTimeout,
		onCapture:        cfg.OnCapture,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// ServeHTTP dispatches incoming requests to the management handler, the
// CONNECT tunnel handler, or the plain HTTP forward path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.connectionsTotal.Add(1)
	s.connectionsActive.Add(1)
	defer s.connectionsActive.Add(-1)

	if strings.HasPrefix(r.URL.Path, s.managementPrefix+"/") {
		s.handleManagement(w, r)
		return
	}

	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}

	s.handleHTTP(w, r)
}

// handleHTTP forwards a plain HTTP request to its destination, captures
// the response, and relays it back to the client.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Host == "" {
		http.Error(w, "missing host in request", http.StatusBadRequest)
		s.logger.Warn("bad request: missing host", "method", r.Method, "url", r.URL.String(), "remote", r.RemoteAddr)
		return
	}

	start := time.Now()

	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	removeHopByHopHeaders(outReq.Header)

	resp, err := http.DefaultTransport.RoundTrip(outReq)
	if err != nil {
		http.Error(w, fmt.Sprintf("proxy error: %v", err), http.StatusBadGateway)
		s.logger.Error("upstream request failed", "method", r.Method, "url", r.URL.String(), "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	captured := s.captureResponse(r.URL.Scheme, stripPort(r.URL.Host), r.URL.Path, resp)
	s.emit(captured)

	removeHopByHopHeaders(resp.Header)
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(captured.Body)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(captured.Body) //nolint:errcheck

	s.logger.Info("http", "method", r.Method, "url", r.URL.String(), "status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"), "duration_ms", time.Since(start).Milliseconds(),
		"remote", r.RemoteAddr)
}

// emit sends resp to the pipeline's entry stage when its host is in
// scope of the configured allow-list.
func (s *Server) emit(resp capture.Response) {
	if s.dispatcher == nil || !s.allow.InScope(resp.Host) {
		return
	}
	if s.onCapture != nil {
		s.onCapture(resp.Host)
	}
	s.dispatcher.Emit(pipeline.Filter, resp)
}

// ListenAndServe starts the proxy server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("proxy starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the proxy server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("proxy shutting down")
		err = s.httpServer.Shutdown(ctx)
	})
	return err
}

// ConnectionsTotal returns the total number of connections handled.
func (s *Server) ConnectionsTotal() int64 { return s.connectionsTotal.Load() }

// ConnectionsActive returns the number of currently active connections.
func (s *Server) ConnectionsActive() int64 { return s.connectionsActive.Load() }

// Uptime returns the duration since the server was created.
func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

// hopByHopHeaders are headers that apply to a single transport-level
// connection and must not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopByHopHeaders(h http.Header) {
	for _, hdr := range hopByHopHeaders {
		h.Del(hdr)
	}
}

// splitHostPort splits a host:port authority, honoring bracketed IPv6
// literals ("[::1]:443"). If there is no port, host is returned as-is
// and port is "".
func splitHostPort(hostport string) (host, port string) {
	if strings.HasPrefix(hostport, "[") {
		if end := strings.IndexByte(hostport, ']'); end >= 0 {
			host = hostport[1:end]
			rest := hostport[end+1:]
			if strings.HasPrefix(rest, ":") {
				port = rest[1:]
			}
			return host, port
		}
	}
	if idx := strings.LastIndex(hostport, ":"); idx >= 0 {
		return hostport[:idx], hostport[idx+1:]
	}
	return hostport, ""
}

// stripPort removes the port from a host:port string, honoring IPv6
// brackets. If there is no port, the host is returned as-is.
func stripPort(hostport string) string {
	host, _ := splitHostPort(hostport)
	return host
}

// dialTimeout is a small seam so tests can stub out upstream dialing.
var dialTimeout = func(network, addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, addr, timeout)
}
