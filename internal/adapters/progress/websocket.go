package progress

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
)

// frame is the JSON shape sent to every connected browser.
type frame struct {
	Kind    string `json:"kind"` // status | progress | complete | error
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Message string `json:"message"`
}

const clientSendBuffer = 32

// WebSocketReporter fans ReportProgress events out to every connected
// browser client as JSON frames. A slow reader never blocks the
// dispatcher: each client has a small buffered channel, and while that
// buffer is full new frames for the client are dropped (the client
// stays connected), not the caller losing throughput.
type WebSocketReporter struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan frame
}

// NewWebSocketReporter builds an empty WebSocketReporter; register it
// as an http.Handler to accept browser connections.
func NewWebSocketReporter(logger *slog.Logger) *WebSocketReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketReporter{
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and registers it to receive
// subsequent progress frames until it disconnects.
func (r *WebSocketReporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan frame, clientSendBuffer)}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()

	go r.writeLoop(c)
	go r.readLoop(c)
}

func (r *WebSocketReporter) readLoop(c *client) {
	defer r.disconnect(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *WebSocketReporter) writeLoop(c *client) {
	for f := range c.send {
		if err := c.conn.WriteJSON(f); err != nil {
			r.disconnect(c)
			return
		}
	}
}

func (r *WebSocketReporter) disconnect(c *client) {
	r.mu.Lock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
	r.mu.Unlock()
}

func (r *WebSocketReporter) broadcast(f frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		select {
		case c.send <- f:
		default:
			r.logger.Warn("dropping progress frame for slow websocket client")
		}
	}
}

var _ contracts.ProgressReporter = (*WebSocketReporter)(nil)

func (r *WebSocketReporter) ReportStatus(msg string) {
	r.broadcast(frame{Kind: "status", Message: msg})
}

func (r *WebSocketReporter) ReportProgress(current, total int, msg string) {
	r.broadcast(frame{Kind: "progress", Current: current, Total: total, Message: msg})
}

func (r *WebSocketReporter) ReportComplete(msg string) {
	r.broadcast(frame{Kind: "complete", Message: msg})
}

func (r *WebSocketReporter) ReportError(msg string) {
	r.broadcast(frame{Kind: "error", Message: msg})
}
