package v1

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mandi-monitor/monitor/types"
	psync "mandi-monitor/pkg/sync"
)

// sendBuffer bounds the per-client queue; a client that cannot keep up is
// disconnected rather than allowed to stall the broadcaster.
const sendBuffer = 16

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans delivered cards out to websocket subscribers. It implements the
// engine's Publisher seam; Publish never blocks the evaluation path.
type Hub struct {
	logger zerolog.Logger
	closer *psync.Closer

	mtx     sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan types.Card
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("module", "live").Logger(),
		closer:  psync.NewCloser(),
		clients: make(map[*client]struct{}),
	}
}

// Close disconnects all subscribers and refuses new ones. Safe to call more
// than once.
func (h *Hub) Close() {
	h.closer.Close()
	h.mtx.Lock()
	defer h.mtx.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
		c.conn.Close()
	}
}

// Publish queues the card to every connected client, dropping clients whose
// queue is full.
func (h *Hub) Publish(card types.Card) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	for c := range h.clients {
		select {
		case c.send <- card:
		default:
			h.logger.Warn().Msg("live client too slow, dropping")
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// ServeHTTP upgrades the request and subscribes the connection to the feed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.closer.Done():
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan types.Card, sendBuffer)}

	h.mtx.Lock()
	h.clients[c] = struct{}{}
	h.mtx.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for card := range c.send {
		if err := c.conn.WriteJSON(card); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames; its job is noticing the close.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	c.conn.Close()
}
