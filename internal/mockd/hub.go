package mockd

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHubClient(conn *websocket.Conn) *hubClient {
	c := &hubClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *hubClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *hubClient) close() {
	close(c.send)
}

// Hub fans envelopes out to every connected console.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]bool
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*hubClient]bool)}
}

func (h *Hub) addClient(conn *websocket.Conn) *hubClient {
	c := newHubClient(conn)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func (h *Hub) removeClient(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Broadcast sends the envelope to every connected client. A client that
// cannot keep up is disconnected rather than allowed to stall the rest.
func (h *Hub) Broadcast(env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Msg("broadcast marshal failed")
		return
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn().Msg("ws client too slow, disconnecting")
			h.removeClient(c)
		}
	}
}

// ClientCount reports connected consoles.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
