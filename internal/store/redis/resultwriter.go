package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chartind/internal/indicator"

	goredis "github.com/go-redis/redis/v8"
)

const defaultLatestTTL = 30 * time.Minute

// ResultUpdate is the published summary of one instance's latest result.
type ResultUpdate struct {
	PaneID string           `json:"pane_id"`
	Name   string           `json:"name"`
	Points int              `json:"points"`
	Last   indicator.Values `json:"last,omitempty"`
	At     time.Time        `json:"at"`
}

// LatestKey is where the newest update for pane/name is kept.
func (u ResultUpdate) LatestKey() string { return "ind:latest:" + u.PaneID + ":" + u.Name }

// Channel is the Pub/Sub channel an update is published on.
func (u ResultUpdate) Channel() string { return "pub:ind:" + u.PaneID + ":" + u.Name }

// ResultWriter publishes result updates through a circuit breaker. While the
// breaker is open, updates are buffered (newest per instance) and flushed
// when it closes again.
type ResultWriter struct {
	client goredis.Cmdable
	cb     *CircuitBreaker
	log    *slog.Logger

	mu      sync.Mutex
	pending map[string]ResultUpdate
	maxBuf  int

	// OnBuffer is called when an update is buffered (for metrics).
	OnBuffer func()
}

// NewResultWriter wraps client. maxBufferSize bounds the buffered updates.
func NewResultWriter(ctx context.Context, client goredis.Cmdable, cb *CircuitBreaker, maxBufferSize int) *ResultWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	rw := &ResultWriter{
		client:  client,
		cb:      cb,
		log:     slog.Default().With(slog.String("component", "redis-results")),
		pending: make(map[string]ResultUpdate),
		maxBuf:  maxBufferSize,
	}

	// Flush on circuit close
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go rw.flush(context.WithoutCancel(ctx))
		}
	}
	return rw
}

// Run writes updates from ch until ctx is cancelled or ch is closed.
func (rw *ResultWriter) Run(ctx context.Context, ch <-chan ResultUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			if err := rw.Write(ctx, u); err != nil {
				rw.log.Warn("publish result failed", slog.String("pane", u.PaneID), slog.String("name", u.Name), slog.Any("error", err))
			}
		}
	}
}

// Write publishes u, or buffers it when the breaker is open.
func (rw *ResultWriter) Write(ctx context.Context, u ResultUpdate) error {
	err := rw.cb.Execute(func() error { return rw.write(ctx, u) })
	if errors.Is(err, ErrCircuitOpen) {
		rw.buffer(u)
		return nil
	}
	return err
}

func (rw *ResultWriter) write(ctx context.Context, u ResultUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	pipe := rw.client.Pipeline()
	pipe.Set(ctx, u.LatestKey(), data, defaultLatestTTL)
	pipe.Publish(ctx, u.Channel(), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (rw *ResultWriter) buffer(u ResultUpdate) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	key := u.LatestKey()
	if _, ok := rw.pending[key]; !ok && len(rw.pending) >= rw.maxBuf {
		rw.log.Warn("result buffer full, dropping update", slog.String("key", key))
		return
	}
	rw.pending[key] = u
	if rw.OnBuffer != nil {
		rw.OnBuffer()
	}
}

// flush replays buffered updates.
func (rw *ResultWriter) flush(ctx context.Context) {
	rw.mu.Lock()
	if len(rw.pending) == 0 {
		rw.mu.Unlock()
		return
	}
	toFlush := rw.pending
	rw.pending = make(map[string]ResultUpdate)
	rw.mu.Unlock()

	flushed := 0
	for _, u := range toFlush {
		if err := rw.write(ctx, u); err != nil {
			rw.log.Warn("flush result failed", slog.String("key", u.LatestKey()), slog.Any("error", err))
			continue
		}
		flushed++
	}
	rw.log.Info("flushed buffered results", slog.Int("count", flushed))
}

// PendingCount returns the number of buffered updates.
func (rw *ResultWriter) PendingCount() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return len(rw.pending)
}
