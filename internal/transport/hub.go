package transport

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/orderflow-engine/internal/observ"
)

const clientSendBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn    *websocket.Conn
	symbols map[string]struct{}
	send    chan []byte
}

// Hub fans broadcast payloads out to subscribed WebSocket clients. A
// client that cannot keep up with its send buffer is dropped rather
// than allowed to stall the feed path.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	met     *observ.Metrics
	log     zerolog.Logger
}

func NewHub(met *observ.Metrics, log zerolog.Logger) *Hub {
	return &Hub{
		clients: map[*client]struct{}{},
		met:     met,
		log:     log.With().Str("comp", "ws_hub").Logger(),
	}
}

// Publish sends payload to every client subscribed to symbol.
func (h *Hub) Publish(symbol string, payload []byte) {
	h.mu.Lock()
	var drop []*client
	for c := range h.clients {
		if _, ok := c.symbols[symbol]; !ok {
			continue
		}
		select {
		case c.send <- payload:
		default:
			drop = append(drop, c)
		}
	}
	for _, c := range drop {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if len(drop) > 0 {
		h.log.Warn().Int("dropped", len(drop)).Msg("dropped slow ws clients")
	}
	if h.met != nil {
		h.met.WSClients.Set(float64(n))
	}
}

// HandleWS upgrades /ws?symbols=S1,S2 and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		http.Error(w, "symbols query parameter required", http.StatusBadRequest)
		return
	}
	symbols := map[string]struct{}{}
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols[s] = struct{}{}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	c := &client{conn: conn, symbols: symbols, send: make(chan []byte, clientSendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.met != nil {
		h.met.WSClients.Set(float64(n))
	}

	go c.writeLoop()
	go h.readLoop(c)
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// readLoop discards inbound frames and unregisters on close.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if h.met != nil {
		h.met.WSClients.Set(float64(n))
	}
}

// Close drops every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
