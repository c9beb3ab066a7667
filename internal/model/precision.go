package model

import (
	"fmt"
	"strings"
)

// Series classifies what an indicator's values are denominated in. It decides
// which chart precision applies to the indicator.
type Series int

const (
	SeriesNormal Series = iota
	SeriesPrice
	SeriesVolume
)

func (s Series) String() string {
	switch s {
	case SeriesPrice:
		return "price"
	case SeriesVolume:
		return "volume"
	default:
		return "normal"
	}
}

// ParseSeries converts "price", "volume" or "normal" (case-insensitive).
func ParseSeries(s string) (Series, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "price":
		return SeriesPrice, nil
	case "volume":
		return SeriesVolume, nil
	case "normal", "":
		return SeriesNormal, nil
	}
	return SeriesNormal, fmt.Errorf("unknown series %q", s)
}

func (s Series) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Series) UnmarshalText(b []byte) error {
	v, err := ParseSeries(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Precision holds the chart's decimal digits for price and volume values.
type Precision struct {
	Price  int `json:"price"`
	Volume int `json:"volume"`
}
