package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"printcast/pkg/config"
	"printcast/pkg/ingress"
	"printcast/pkg/model"
)

const (
	wsWriteTimeout = 5 * time.Second
	// wsSendBuffer is the per-client outbound backlog; broadcasts beyond it are dropped.
	wsSendBuffer = 16
)

// DispatchEvent is pushed to websocket clients after each collection.
type DispatchEvent struct {
	Type       string          `json:"type"`
	Collection string          `json:"collection"`
	Source     string          `json:"source,omitempty"`
	Jobs       []DispatchedJob `json:"jobs"`
}

// DispatchedJob is one job outcome inside a DispatchEvent.
type DispatchedJob struct {
	Kind      model.Kind `json:"kind"`
	OK        bool       `json:"ok"`
	ErrorKind string     `json:"error_kind,omitempty"`
}

// wsClient owns one connection. Only writeLoop writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer), done: make(chan struct{})}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) writeLoop() {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("WebSocket: write failed", "error", err)
				return
			}
		}
	}
}

// reply queues an ack, waiting for room unless the client is gone.
func (c *wsClient) reply(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

// offer queues a broadcast without waiting.
func (c *wsClient) offer(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// WSHandler accepts envelopes over a websocket, one per text message, and
// broadcasts dispatch outcomes to every connected client.
type WSHandler struct {
	intake   *ingress.Intake
	upgrader websocket.Upgrader
	rps      rate.Limit
	burst    int

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewWSHandler creates a WSHandler with a per-connection rate limit.
func NewWSHandler(intake *ingress.Intake, cfg config.WebSocketConfig) *WSHandler {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &WSHandler{
		intake:   intake,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		rps:      rate.Limit(cfg.RatePerSec),
		burst:    burst,
		clients:  make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the connection and reads envelopes until it closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket: upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxEnvelopeBytes)

	client := newWSClient(conn)
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	go client.writeLoop()
	slog.Debug("WebSocket: client connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		client.close()
		slog.Debug("WebSocket: client disconnected", "remote", r.RemoteAddr)
	}()

	limiter := rate.NewLimiter(h.rps, h.burst)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("WebSocket: read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var ack ingress.Ack
		if !limiter.Allow() {
			ack = ingress.Ack{Status: "error", Error: "rate limited"}
		} else {
			ack, _ = h.intake.Submit("websocket", data)
		}
		if !client.reply(ack) {
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *WSHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dispatched broadcasts the outcome of a collection. Clients that are not
// keeping up miss the event.
func (h *WSHandler) Dispatched(c model.Collection, records []model.DispatchRecord) {
	ev := DispatchEvent{Type: "dispatched", Collection: c.ID, Source: c.Source, Jobs: make([]DispatchedJob, 0, len(records))}
	for _, r := range records {
		ev.Jobs = append(ev.Jobs, DispatchedJob{Kind: r.Kind, OK: r.OK(), ErrorKind: r.ErrorKind})
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.offer(data) {
			slog.Debug("WebSocket: client backlog full, event dropped", "collection", ev.Collection)
		}
	}
}
