package indicator

import (
	"log/slog"
	"maps"
	"slices"

	"chartind/internal/model"
)

// SetSeriesPrecision pushes the chart's precision to every PRICE and VOLUME
// instance. It is a chart-driven update: instances whose precision a user set
// keep it, and nothing is recomputed. It returns how many instances changed.
func (s *Store) SetSeriesPrecision(p model.Precision) int {
	var updated []target

	s.mu.RLock()
	for _, pid := range slices.Sorted(maps.Keys(s.panes)) {
		pane := s.panes[pid]
		for _, name := range slices.Sorted(maps.Keys(pane)) {
			inst := pane[name]
			if inst.forcePrecision(p) {
				updated = append(updated, target{paneID: pid, inst: inst})
			}
		}
	}
	s.mu.RUnlock()

	for _, t := range updated {
		s.emit(Event{Kind: EventPrecision, PaneID: t.paneID, Name: t.inst.Name(), Instance: t.inst})
	}
	s.log.Debug("series precision applied",
		slog.Int("price", p.Price),
		slog.Int("volume", p.Volume),
		slog.Int("updated", len(updated)))
	return len(updated)
}

func (i *Instance) forcePrecision(p model.Precision) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch i.series {
	case model.SeriesPrice:
		return i.setPrecision(p.Price, true)
	case model.SeriesVolume:
		return i.setPrecision(p.Volume, true)
	}
	return false
}
