package writer

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dashflow/internal/metrics"
	"dashflow/internal/source"
	"dashflow/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// DefaultClientBuffer is the number of frames queued per client before
	// frames for that client are dropped.
	DefaultClientBuffer = 256
)

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub broadcasts every published frame to all attached WebSocket clients.
// A slow client never blocks the others: frames that do not fit its queue
// are dropped and counted.
type Hub struct {
	log      *logger.Log
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool

	published atomic.Int64
	bytes     atomic.Int64
	dropped   atomic.Int64
}

func NewHub(buffer int, log *logger.Log) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Hub{
		log:    log,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

func (h *Hub) Component() string { return "broadcast" }

// ServeHTTP upgrades the request and streams frames until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithComponent("broadcast")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &hubClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, h.buffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	log.WithFields(logger.Fields{"client": c.id, "remote": r.RemoteAddr, "clients": h.Clients()}).Info("client connected")

	go h.writePump(c)
	h.readPump(c)

	h.unregister(c)
	log.WithFields(logger.Fields{"client": c.id, "clients": h.Clients()}).Info("client disconnected")
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetBroadcastClients(n)
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetBroadcastClients(n)
}

// readPump discards client messages and returns when the connection fails.
func (h *Hub) readPump(c *hubClient) {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish queues f for every client without blocking.
func (h *Hub) Publish(_ context.Context, f source.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- f.Data:
			h.published.Add(1)
			h.bytes.Add(int64(len(f.Data)))
			logger.IncrementBroadcast(len(f.Data))
		default:
			h.dropped.Add(1)
			metrics.EmitDropMetric(h.log, metrics.DropMetricBroadcast, c.id, string(f.Kind), string(f.Symbol))
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BufferSizes reports the fullest client queue.
func (h *Hub) BufferSizes() []metrics.BufferSize {
	h.mu.RLock()
	defer h.mu.RUnlock()
	longest := 0
	for c := range h.clients {
		if n := len(c.send); n > longest {
			longest = n
		}
	}
	return []metrics.BufferSize{{Name: "broadcast_client", Length: longest, Capacity: h.buffer}}
}

func (h *Hub) Stats() metrics.PublisherStats {
	return metrics.PublisherStats{
		Published: h.published.Load(),
		Bytes:     h.bytes.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	metrics.SetBroadcastClients(0)
}
