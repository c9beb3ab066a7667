package model

import (
	"encoding/json"
	"time"
)

// KLine is one chart data point. Prices are plain float64 values as the chart
// receives them from its feed; the store never rescales them.
type KLine struct {
	Timestamp int64   `json:"timestamp"` // unix milliseconds, bucket start
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Turnover  float64 `json:"turnover,omitempty"`
}

// Time returns the bucket start as a UTC time.
func (k *KLine) Time() time.Time {
	return time.UnixMilli(k.Timestamp).UTC()
}

// JSON returns the JSON-encoded point (ignoring errors for hot-path usage).
func (k *KLine) JSON() []byte {
	b, _ := json.Marshal(k)
	return b
}
