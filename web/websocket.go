package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"nhooyr.io/websocket"

	"github.com/linharesaron/mboitata/internal/logbuf"
)

// event is the envelope for every message broadcast to a connected
// operator: a capture, a finding, or a tailed log line.
type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type captureEvent struct {
	Host        string `json:"host"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
}

type findingEvent struct {
	Host  string `json:"host"`
	Label string `json:"label"`
}

// client represents a single connected operator's WebSocket socket,
// identified by a random UUID for log correlation.
type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// Hub fans captures, findings, and tailed log lines out to every
// connected client via register/unregister channels plus a single run
// loop owning the client set.
type Hub struct {
	mu         sync.Mutex
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcastC chan []byte

	logBuffer *logbuf.Buffer
	logSub    *logbuf.Subscriber
	logger    *slog.Logger

	done chan struct{}
}

func newHub(logBuf *logbuf.Buffer, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcastC: make(chan []byte, 256),
		logBuffer:  logBuf,
		logger:     logger,
		done:       make(chan struct{}),
	}
	if logBuf != nil {
		h.logSub = logBuf.Subscribe(slog.LevelInfo)
	}
	return h
}

func (h *Hub) run() {
	var logC <-chan logbuf.Entry
	if h.logSub != nil {
		logC = h.logSub.C
	}

	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcastC:
			h.broadcast(msg)

		case entry, ok := <-logC:
			if !ok {
				logC = nil
				continue
			}
			data, _ := json.Marshal(entry) //nolint:errcheck // best-effort marshal
			h.broadcast(marshal("log", data))
		}
	}
}

func (h *Hub) stop() {
	close(h.done)
	if h.logSub != nil {
		h.logBuffer.Unsubscribe(h.logSub)
	}
}

// broadcastCapture queues a capture event for delivery; it never blocks
// the caller (the proxy's hot path) because broadcastC is buffered and
// a full buffer just drops the notification.
func (h *Hub) broadcastCapture(host, path, contentType string) {
	data, _ := json.Marshal(captureEvent{Host: host, Path: path, ContentType: contentType}) //nolint:errcheck
	select {
	case h.broadcastC <- marshal("capture", data):
	default:
	}
}

func (h *Hub) broadcastFinding(host, label string) {
	data, _ := json.Marshal(findingEvent{Host: host, Label: label}) //nolint:errcheck
	select {
	case h.broadcastC <- marshal("finding", data):
	default:
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow client — drop message rather than block the hub.
		}
	}
}

func marshal(eventType string, data json.RawMessage) []byte {
	b, _ := json.Marshal(event{Type: eventType, Data: data}) //nolint:errcheck // static shape always marshals
	return b
}

// handleWebSocket upgrades the HTTP connection and streams capture,
// finding, and log events to the client until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // operator-facing, same-origin behind the proxy's own listener
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewV4(),
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.hub.register <- c
	s.logger.Debug("dashboard client connected", "client_id", c.id.String())

	defer func() {
		s.hub.unregister <- c
		conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck,gosec // best-effort close
	}()

	for msg := range c.send {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
}
