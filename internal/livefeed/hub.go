// Package livefeed streams round updates to websocket clients. The hub is
// a round renderer and feedback sink: the simulation never blocks on a
// slow client, whose frames are dropped instead.
package livefeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/sim"
)

// Message kinds.
const (
	KindPose     = "pose"
	KindReward   = "reward"
	KindFinished = "round_finished"
	KindBoundary = "boundary"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is the wire envelope.
type Message struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans messages out to connected clients.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger
	buffer   int

	mu      sync.RWMutex
	clients map[*client]struct{}

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewHub returns a hub whose clients each queue up to buffer messages.
func NewHub(logger *log.Logger, buffer int) *Hub {
	if logger == nil {
		logger = log.Default().WithPrefix("livefeed")
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
		buffer:   buffer,
		clients:  make(map[*client]struct{}),
	}
}

// OnPositionUpdate broadcasts the pose.
func (h *Hub) OnPositionUpdate(s model.AgentState) { h.Broadcast(KindPose, s) }

// OnCollect broadcasts a collected reward.
func (h *Hub) OnCollect(r model.Reward) { h.Broadcast(KindReward, r) }

// OnFinished broadcasts the finalized round.
func (h *Hub) OnFinished(r model.Round) { h.Broadcast(KindFinished, r) }

// OnBoundary broadcasts the canvas edge the agent is held against.
func (h *Hub) OnBoundary(e sim.Edge) { h.Broadcast(KindBoundary, e) }

// Broadcast encodes one message and queues it for every client without
// blocking.
func (h *Hub) Broadcast(kind string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	b, err := json.Marshal(Message{Type: kind, Seq: h.seq.Add(1), Data: data})
	if err != nil {
		h.logger.Error("encode_failed", "type", kind, "err", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client_connected", "remote", r.RemoteAddr, "clients", n)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound frames and unregisters the client on close.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.close()
		h.logger.Info("client_disconnected", "clients", n)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were skipped for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}
