// Package datasource holds in-process chart data lists.
package datasource

import (
	"context"
	"slices"
	"sync"

	"chartind/internal/model"
)

// Memory is a goroutine-safe, time-ordered data list kept in memory.
type Memory struct {
	mu   sync.RWMutex
	data []model.KLine
}

// NewMemory returns a Memory seeded with a copy of data.
func NewMemory(data []model.KLine) *Memory {
	return &Memory{data: slices.Clone(data)}
}

// DataList returns a copy of the current list.
func (m *Memory) DataList(ctx context.Context) ([]model.KLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.data), nil
}

// Set replaces the whole list.
func (m *Memory) Set(data []model.KLine) {
	m.mu.Lock()
	m.data = slices.Clone(data)
	m.mu.Unlock()
}

// Append adds points in order. A point whose timestamp equals the last
// point's replaces it (the bucket is still forming); older points are
// dropped. It returns how many points were added or replaced.
func (m *Memory) Append(points ...model.KLine) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range points {
		last := len(m.data) - 1
		switch {
		case last >= 0 && p.Timestamp == m.data[last].Timestamp:
			m.data[last] = p
		case last >= 0 && p.Timestamp < m.data[last].Timestamp:
			continue
		default:
			m.data = append(m.data, p)
		}
		n++
	}
	return n
}

// Last returns the newest point.
func (m *Memory) Last() (model.KLine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.data) == 0 {
		return model.KLine{}, false
	}
	return m.data[len(m.data)-1], true
}

// Len returns the number of points.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
