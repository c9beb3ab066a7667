package gateway

import (
	"cmp"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single websocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu    sync.RWMutex
	panes []string // empty: every pane
}

// subscribeMsg replaces the client's pane filter.
type subscribeMsg struct {
	Type  string   `json:"type"`
	Panes []string `json:"panes"`
	Ping  int64    `json:"ping"`
}

func parsePanes(s string) []string {
	var panes []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			panes = append(panes, p)
		}
	}
	return panes
}

func (c *Client) watches(paneID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.panes) == 0 || slices.Contains(c.panes, paneID)
}

// sendInitialState queues replayed envelopes newer than since when since is
// set and still buffered, otherwise the latest message of every instance.
func (c *Client) sendInitialState(since int64) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	if since > 0 {
		var replay []replayEntry
		complete := true
		for paneID, rb := range c.hub.replayBufs {
			if !c.watches(paneID) {
				continue
			}
			entries, ok := rb.Since(since)
			if !ok {
				complete = false
				break
			}
			replay = append(replay, entries...)
		}
		if complete {
			slices.SortFunc(replay, func(a, b replayEntry) int { return cmp.Compare(a.Seq, b.Seq) })
			for _, e := range replay {
				c.queue(e.Data)
			}
			return
		}
	}

	for key, entry := range c.hub.latest {
		paneID, _, _ := strings.Cut(key, "/")
		if !c.watches(paneID) {
			continue
		}
		c.queue(buildEnvelope(paneID, entry.Data, entry.TS, entry.Seq, true))
	}
}

func (c *Client) queue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		switch {
		case msg.Type == "SUBSCRIBE":
			c.mu.Lock()
			c.panes = slices.Clone(msg.Panes)
			c.mu.Unlock()
		case msg.Ping > 0:
			pong, _ := json.Marshal(map[string]any{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			c.queue(pong)
		}
	}
}
