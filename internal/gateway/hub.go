// Package gateway fans store changes out to websocket clients.
package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer    = 256
	replayPerPane = 500
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

type latestEntry struct {
	Data []byte
	TS   time.Time
	Seq  int64
}

// Hub manages websocket clients and fans envelopes out per pane channel.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	latest     map[string]latestEntry // key: channel/name
	seq        int64
	replayBufs map[string]*ReplayBuffer
	log        *slog.Logger

	// ReplaySize is the per-pane replay capacity for reconnecting clients.
	// Zero uses the default.
	ReplaySize int

	// OnDrop is called when a slow client misses a message.
	OnDrop func()
	// OnClients is called with the client count after every connect or
	// disconnect.
	OnClients func(n int)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		latest:     make(map[string]latestEntry),
		replayBufs: make(map[string]*ReplayBuffer),
		log:        slog.Default().With(slog.String("component", "gateway")),
	}
}

// ServeHTTP upgrades the request and registers the client. The optional
// query parameters are panes (comma separated filter) and since (last seen
// sequence, replayed from the buffer).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.Any("error", err))
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	client := &Client{
		id:    uuid.NewString(),
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		hub:   h,
		panes: parsePanes(r.URL.Query().Get("panes")),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.OnClients != nil {
		h.OnClients(count)
	}
	h.log.Info("ws client connected", slog.String("client", client.id), slog.Int("total", count))

	client.sendInitialState(since)
	go client.writePump()
	go client.readPump()
}

// removeClient unregisters c and closes its send queue.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.OnClients != nil {
		h.OnClients(count)
	}
	h.log.Info("ws client disconnected", slog.String("client", c.id), slog.Int("total", count))
}

// Broadcast wraps data in an envelope and queues it for every client
// watching paneID. Slow clients drop the message rather than block.
func (h *Hub) Broadcast(paneID, name string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.latest[paneID+"/"+name] = latestEntry{Data: data, TS: now, Seq: seq}
	rb, ok := h.replayBufs[paneID]
	if !ok {
		size := h.ReplaySize
		if size <= 0 {
			size = replayPerPane
		}
		rb = NewReplayBuffer(size)
		h.replayBufs[paneID] = rb
	}
	h.mu.Unlock()

	buf := buildEnvelope(paneID, data, now, seq, false)
	rb.Push(seq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.watches(paneID) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
}

// Forget drops the cached latest message of paneID/name.
func (h *Hub) Forget(paneID, name string) {
	h.mu.Lock()
	delete(h.latest, paneID+"/"+name)
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// buildEnvelope hand-crafts {"pane":...,"data":...,"ts":...,"seq":N}; data
// must already be JSON.
func buildEnvelope(paneID string, data []byte, ts time.Time, seq int64, initial bool) []byte {
	buf := make([]byte, 0, len(paneID)+len(data)+96)
	buf = append(buf, `{"pane":`...)
	buf = strconv.AppendQuote(buf, paneID)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}
