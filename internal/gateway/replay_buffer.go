package gateway

import "sync"

// replayEntry holds a single broadcast envelope.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer is a fixed-size ring of recent envelopes for one pane, used to
// catch reconnecting clients up. Sequence numbers are pushed in increasing
// order.
type ReplayBuffer struct {
	mu      sync.RWMutex
	buf     []replayEntry
	next    int
	size    int
	evicted int64 // highest seq overwritten so far
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayPerPane
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push appends an envelope, overwriting the oldest entry when full. data is
// not copied and must not be modified afterwards.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == len(rb.buf) {
		rb.evicted = rb.buf[rb.next].Seq
	} else {
		rb.size++
	}
	rb.buf[rb.next] = replayEntry{Seq: seq, Data: data}
	rb.next = (rb.next + 1) % len(rb.buf)
}

// Since returns the entries with seq > since, oldest first. ok is false when
// entries after since were already evicted, so the gap cannot be filled.
func (rb *ReplayBuffer) Since(since int64) ([]replayEntry, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if since < rb.evicted {
		return nil, false
	}
	start := (rb.next - rb.size + len(rb.buf)) % len(rb.buf)
	var out []replayEntry
	for i := range rb.size {
		e := rb.buf[(start+i)%len(rb.buf)]
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out, true
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}
