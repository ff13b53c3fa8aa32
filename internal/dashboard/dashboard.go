// Package dashboard serves a read-only websocket feed of fleet/session
// events for an operator UI, modeled on the teacher's UltraFastHub:
// register/unregister/broadcast channels, a pooled buffer for outbound
// frames, and optional compression of batched payloads. Unlike the
// teacher's hub, this one is never on any hot path: when the broadcast
// channel is full, Publish drops the new event (and counts it) instead of
// blocking the publisher; events already queued are kept.
package dashboard

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/flate"
	"github.com/sugawarayuuta/sonnet"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
)

func encodeEvent(ev Event) ([]byte, error) { return sonnet.Marshal(ev) }

// EventKind tags a fanned-out dashboard event.
type EventKind string

const (
	EventSessionCreated EventKind = "session_created"
	EventSessionRemoved EventKind = "session_removed"
	EventWatchdogOffline EventKind = "watchdog_offline"
	EventPose           EventKind = "pose"
)

// Event is one item published to the feed.
type Event struct {
	Kind      EventKind `json:"kind"`
	AgvID     string    `json:"agv_id"`
	X         float64   `json:"x,omitempty"`
	Y         float64   `json:"y,omitempty"`
	Theta     float64   `json:"theta,omitempty"`
	Battery   float64   `json:"battery,omitempty"`
	TimeUnixMS int64    `json:"time_unix_ms"`
}

const (
	eventQueueDepth      = 4096
	compressionThreshold = 512
	batchSize            = 64
	batchTimeout         = 20 * time.Millisecond
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out Events to every connected operator dashboard.
type Hub struct {
	logger *zap.Logger

	clientsMu sync.RWMutex
	clients   map[*client]bool

	events     chan Event
	register   chan *client
	unregister chan *client

	bufferPool bytebufferpool.Pool
	compressor bool

	droppedEvents uint64
	droppedMu     sync.Mutex
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]bool),
		events:     make(chan Event, eventQueueDepth),
		register:   make(chan *client, 64),
		unregister: make(chan *client, 64),
		compressor: true,
	}
}

// Publish enqueues an event for broadcast. Non-blocking: drops the event
// and counts it if the queue is already full.
func (h *Hub) Publish(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.droppedMu.Lock()
		h.droppedEvents++
		h.droppedMu.Unlock()
	}
}

// Run drives the hub's event loop; call it in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	batch := make([]Event, 0, batchSize)
	timer := time.NewTimer(batchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		h.broadcastBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = true
			h.clientsMu.Unlock()
		case c := <-h.unregister:
			h.clientsMu.Lock()
			delete(h.clients, c)
			h.clientsMu.Unlock()
			close(c.send)
		case ev := <-h.events:
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				flush()
				timer.Reset(batchTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(batchTimeout)
		}
	}
}

func (h *Hub) broadcastBatch(batch []Event) {
	buf := h.bufferPool.Get()
	defer h.bufferPool.Put(buf)

	buf.WriteByte('[')
	for i, ev := range batch {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := encodeEvent(ev)
		if err != nil {
			continue
		}
		buf.Write(b)
	}
	buf.WriteByte(']')

	payload := append([]byte(nil), buf.Bytes()...)
	if h.compressor && len(payload) > compressionThreshold {
		if compressed, ok := compress(payload); ok && len(compressed) < len(payload) {
			payload = compressed
		}
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer: drop rather than block the hub loop.
		}
	}
}

func compress(data []byte) ([]byte, bool) {
	var buf bytebufferpool.ByteBuffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, false
	}
	if _, err := w.Write(data); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router builds the mux router exposing GET /dashboard/ws.
func (h *Hub) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/dashboard/ws", h.handleWS).Methods(http.MethodGet)
	return r
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("dashboard websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 256)}
	h.register <- c
	go h.writePump(c)
	go h.readPump(c)
}

// readPump only drains control frames; the feed is read-only.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			return
		}
	}
}

func (h *Hub) DroppedEvents() uint64 {
	h.droppedMu.Lock()
	defer h.droppedMu.Unlock()
	return h.droppedEvents
}
