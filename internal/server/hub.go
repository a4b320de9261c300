package server

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"
)

// wsHub manages websocket clients and fan-out of result events.
type wsHub struct {
	log        *slog.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newWSHub(log *slog.Logger) *wsHub {
	return &wsHub{
		log:        log,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *wsHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			return
		case conn := <-h.register:
			h.clients[conn] = true
			h.log.Debug("websocket client connected", "total", len(h.clients))
		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				h.log.Debug("websocket client disconnected", "total", len(h.clients))
			}
		case message := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}
