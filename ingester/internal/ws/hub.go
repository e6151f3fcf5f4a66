package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cephscope/cephscope/ingester/internal/api"
	"github.com/cephscope/cephscope/ingester/internal/cycle"
	"github.com/cephscope/cephscope/ingester/internal/reports"
)

const (
	writeWait   = 10 * time.Second
	peerTimeout = 60 * time.Second
	pingEvery   = peerTimeout * 9 / 10 // must fire before peerTimeout expires
	queueDepth  = 16                   // messages buffered per client
	maxInbound  = 512                  // clients only send control frames
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is left to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string               `json:"event"`
	Data  api.SnapshotResponse `json:"data"`
}

// Hub manages WebSocket clients and broadcasts report snapshots.
type Hub struct {
	store    *reports.Store
	interval time.Duration
	wake     chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads from st and broadcasts every interval.
func New(st *reports.Store, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		wake:     make(chan struct{}, 1),
		clients:  make(map[*client]struct{}),
	}
}

// Notify schedules an immediate broadcast. It has the cycle.Observer
// signature and never blocks.
func (h *Hub) Notify(*cycle.Report) {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run broadcasts on every tick and on every Notify until ctx is cancelled,
// then closes all connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast()
		case <-h.wake:
			h.broadcast()
		}
	}
}

// ServeHTTP upgrades r, queues the current snapshot and then streams
// broadcasts until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade replied with an HTTP error
	}

	c := &client{conn: conn, send: make(chan []byte, queueDepth)}
	h.register(c)
	defer h.unregister(c)

	if data, err := h.buildMessage(); err == nil {
		h.send(c, data)
	}

	go c.writeLoop()
	c.readLoop()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// dropLocked forgets c and closes its queue, which makes writeLoop send a
// close frame. h.mu must be held.
func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) broadcast() {
	data, err := h.buildMessage()
	if err != nil {
		slog.Error("ws: encode snapshot", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.enqueueLocked(c, data)
	}
}

// send queues data for c if it is still connected.
func (h *Hub) send(c *client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.enqueueLocked(c, data)
	}
}

// enqueueLocked drops clients whose queue is full; a slow reader never
// stalls a broadcast. h.mu must be held.
func (h *Hub) enqueueLocked(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Debug("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.dropLocked(c)
	}
}

func (h *Hub) buildMessage() ([]byte, error) {
	return json.Marshal(Message{Event: "snapshot", Data: api.BuildSnapshot(h.store)})
}

// writeLoop owns all writes to the connection: queued snapshots, keepalive
// pings and the final close frame once send is closed.
func (c *client) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var (
			kind = websocket.PingMessage
			data []byte
		)
		select {
		case msg, open := <-c.send:
			if !open {
				c.write(websocket.CloseMessage, nil) //nolint:errcheck
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ping.C:
		}
		if err := c.write(kind, data); err != nil {
			return
		}
	}
}

func (c *client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// readLoop discards inbound frames so pongs and close frames are processed.
// It returns when the peer disconnects or stops answering pings.
func (c *client) readLoop() {
	defer c.conn.Close()
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(peerTimeout))
	}
	c.conn.SetReadLimit(maxInbound)
	extend("") //nolint:errcheck
	c.conn.SetPongHandler(extend)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
