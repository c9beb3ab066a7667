package datasource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartind/internal/model"
)

func kl(ts int64, close float64) model.KLine {
	return model.KLine{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestMemory_AppendOrdering(t *testing.T) {
	m := NewMemory([]model.KLine{kl(1000, 10)})

	n := m.Append(kl(2000, 11), kl(2000, 12), kl(500, 9), kl(3000, 13))
	assert.Equal(t, 3, n)

	data, err := m.DataList(context.Background())
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, 12.0, data[1].Close, "same timestamp replaces the forming bucket")
	assert.Equal(t, int64(3000), data[2].Timestamp)
}

func TestMemory_DataListIsACopy(t *testing.T) {
	m := NewMemory([]model.KLine{kl(1000, 10)})
	data, err := m.DataList(context.Background())
	require.NoError(t, err)
	data[0].Close = 99

	again, _ := m.DataList(context.Background())
	assert.Equal(t, 10.0, again[0].Close)
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.DataList(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_Set(t *testing.T) {
	m := NewMemory(nil)
	m.Set([]model.KLine{kl(1, 1), kl(2, 2)})
	assert.Equal(t, 2, m.Len())
}

func TestMemory_Last(t *testing.T) {
	m := NewMemory(nil)
	_, ok := m.Last()
	assert.False(t, ok)

	m.Append(kl(1, 1), kl(2, 2))
	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, int64(2), last.Timestamp)
}
