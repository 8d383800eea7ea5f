package daemon

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Feed pushes live stats updates to WebSocket clients. The daemon binds to
// loopback only, so the feed carries no auth of its own.
type Feed struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *Metrics

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewFeed(metrics *Metrics, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		metrics: metrics,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeWS upgrades the request and tracks the connection until it closes.
func (f *Feed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	f.mu.Lock()
	f.clients[conn] = struct{}{}
	f.metrics.FeedClients.Set(float64(len(f.clients)))
	f.mu.Unlock()

	// Reader drains control frames and detects disconnects; the feed is
	// one-way otherwise.
	go func() {
		defer f.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends one JSON message to every client, dropping clients whose
// writes fail.
func (f *Feed) Broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		f.logger.Error("feed message marshal failed", zap.Error(err))
		return
	}

	f.mu.Lock()
	var dead []*websocket.Conn
	for conn := range f.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			dead = append(dead, conn)
		}
	}
	f.mu.Unlock()

	for _, conn := range dead {
		f.drop(conn)
	}
}

// ClientCount reports connected clients.
func (f *Feed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.clients))
	for conn := range f.clients {
		conns = append(conns, conn)
	}
	f.mu.Unlock()

	for _, conn := range conns {
		f.drop(conn)
	}
}

func (f *Feed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	if _, ok := f.clients[conn]; ok {
		delete(f.clients, conn)
		f.metrics.FeedClients.Set(float64(len(f.clients)))
	}
	f.mu.Unlock()
	conn.Close()
}
