package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"domestia-go-home/internal/coordinator"

	"nhooyr.io/websocket"
)

const (
	wsReadLimit    = 4096
	wsWriteTimeout = 10 * time.Second
	wsClientQueue  = 64
)

// WSHub manages WebSocket connections and broadcasts coordinator events.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan any

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan any, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			// Close all remaining clients on shutdown
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("ws marshal", "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client too slow, mark for eviction
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				close(client.send)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg any) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast channel full, dropping message")
	}
}

// Clients reports the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// wsRequest is a message sent by a WebSocket client.
type wsRequest struct {
	Type    string              `json:"type"` // refresh or command
	ID      int                 `json:"id"`
	Command coordinator.Command `json:"command"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// Without allowed origins nhooyr only accepts same-origin requests.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsClientQueue),
	}
	if snap, err := json.Marshal(s.snapshot()); err == nil {
		client.send <- snap
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

// snapshot is the first message of every connection.
func (s *Server) snapshot() coordinator.Event {
	return coordinator.Event{Type: "snapshot", Data: map[string]any{
		"devices":    s.coord.Devices(),
		"controller": s.coord.Info(),
	}}
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	// Channel closed by hub; close connection.
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		reply, err := json.Marshal(s.handleWSMessage(ctx, data))
		if err != nil {
			continue
		}
		wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
		err = client.conn.Write(wctx, websocket.MessageText, reply)
		wcancel()
		if err != nil {
			return
		}
	}
}

// handleWSMessage executes one client request and returns the reply.
func (s *Server) handleWSMessage(ctx context.Context, data []byte) coordinator.Event {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return wsError("invalid message")
	}

	switch req.Type {
	case "refresh":
		s.coord.RequestRefresh()
	case "command":
		if err := s.coord.Execute(ctx, req.ID, req.Command); err != nil {
			return wsError(err.Error())
		}
	default:
		return wsError("unknown message type " + req.Type)
	}
	return coordinator.Event{Type: "ack", Data: map[string]any{"request": req.Type, "id": req.ID}}
}

func wsError(msg string) coordinator.Event {
	return coordinator.Event{Type: "error", Data: map[string]string{"error": msg}}
}
