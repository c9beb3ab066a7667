package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"chartind/internal/indicator"
)

// Update is the payload broadcast for one store event.
type Update struct {
	Kind      indicator.EventKind `json:"kind"`
	Pane      string              `json:"pane"`
	Name      string              `json:"name"`
	State     *indicator.State    `json:"state,omitempty"`
	Points    int                 `json:"points,omitempty"`
	Last      indicator.Values    `json:"last,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// NewUpdate captures ev. Computed events carry the newest point of the
// result; every event with an instance carries its state.
func NewUpdate(ev indicator.Event) Update {
	u := Update{Kind: ev.Kind, Pane: ev.PaneID, Name: ev.Name, UpdatedAt: time.Now().UTC()}
	if ev.Instance == nil {
		return u
	}
	st := ev.Instance.State()
	u.State = &st
	if ev.Kind == indicator.EventComputed {
		result := ev.Instance.Result()
		u.Points = len(result)
		if len(result) > 0 {
			u.Last = result[len(result)-1]
		}
	}
	return u
}

// Feed turns store events into hub broadcasts. Listener only enqueues, so
// the store never waits on websocket clients.
type Feed struct {
	hub    *Hub
	events chan indicator.Event
	log    *slog.Logger

	// Sinks receive every update after it was broadcast (e.g. the Redis
	// result writer). They must not block.
	Sinks []func(Update)
}

// NewFeed creates a feed with a queue of size buffer.
func NewFeed(hub *Hub, buffer int) *Feed {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Feed{
		hub:    hub,
		events: make(chan indicator.Event, buffer),
		log:    slog.Default().With(slog.String("component", "feed")),
	}
}

// Listener is registered on the store with indicator.WithListener.
func (f *Feed) Listener(ev indicator.Event) {
	select {
	case f.events <- ev:
	default:
		f.log.Warn("feed queue full, dropping event",
			slog.String("kind", string(ev.Kind)),
			slog.String("pane", ev.PaneID),
			slog.String("name", ev.Name))
		if f.hub.OnDrop != nil {
			f.hub.OnDrop()
		}
	}
}

// Run broadcasts queued events until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.events:
			u := NewUpdate(ev)
			data, err := json.Marshal(u)
			if err != nil {
				f.log.Warn("marshal update failed", slog.Any("error", err))
				continue
			}
			f.hub.Broadcast(u.Pane, u.Name, data)
			if ev.Kind == indicator.EventRemoved {
				f.hub.Forget(u.Pane, u.Name)
			}
			for _, sink := range f.Sinks {
				sink(u)
			}
		}
	}
}
