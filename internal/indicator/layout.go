package indicator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// LayoutVersion is the schema version written into every Layout.
const LayoutVersion = 1

// PaneLayout holds the configuration of every instance on one pane.
type PaneLayout struct {
	PaneID     string  `json:"pane_id"`
	Indicators []State `json:"indicators"`
}

// Layout is a serializable capture of the whole instance table. Results are
// not part of it; they are recomputed on restore.
type Layout struct {
	Version int          `json:"version"`
	SavedAt time.Time    `json:"saved_at"`
	Panes   []PaneLayout `json:"panes"`
}

// MarshalJSON serializes the layout.
func (l *Layout) MarshalJSON() ([]byte, error) {
	type Alias Layout
	return json.Marshal((*Alias)(l))
}

// UnmarshalJSON deserializes the layout.
func (l *Layout) UnmarshalJSON(data []byte) error {
	type Alias Layout
	return json.Unmarshal(data, (*Alias)(l))
}

// Snapshot captures the table, panes and names sorted.
func (s *Store) Snapshot() *Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layout := &Layout{
		Version: LayoutVersion,
		SavedAt: time.Now().UTC(),
		Panes:   make([]PaneLayout, 0, len(s.panes)),
	}
	for _, pid := range slices.Sorted(maps.Keys(s.panes)) {
		pane := s.panes[pid]
		pl := PaneLayout{PaneID: pid, Indicators: make([]State, 0, len(pane))}
		for _, name := range slices.Sorted(maps.Keys(pane)) {
			pl.Indicators = append(pl.Indicators, pane[name].State())
		}
		layout.Panes = append(layout.Panes, pl)
	}
	return layout
}

// Restore re-adds every instance of layout, stacked, and applies its captured
// configuration. Instances whose template is no longer registered are
// skipped, as are names already present. It returns how many instances were
// added; a failed initial calculation still counts as added, and a data
// source failure is reported after every instance has been added.
func (s *Store) Restore(ctx context.Context, layout *Layout) (int, error) {
	if layout == nil {
		return 0, nil
	}
	restored, skipped := 0, 0
	var dataErr error
	for _, pl := range layout.Panes {
		for _, st := range pl.Indicators {
			if _, exists := s.Instance(pl.PaneID, st.Name); exists {
				skipped++
				continue
			}
			if _, err := s.AddInstance(ctx, pl.PaneID, ConfigFromState(st), true); err != nil {
				if errors.Is(err, ErrUnknownTemplate) {
					s.log.Warn("restore skipped unknown template",
						slog.String("pane", pl.PaneID), slog.String("name", st.Name))
					skipped++
					continue
				}
				if !errors.Is(err, ErrDataSource) {
					return restored, err
				}
				// Added but not computed; the next recompute catches up.
				dataErr = err
			}
			if st.UserPrecision {
				s.keepUserPrecision(pl.PaneID, st.Name)
			}
			restored++
		}
	}
	s.log.Info("layout restored",
		slog.Int("version", layout.Version),
		slog.Int("restored", restored),
		slog.Int("skipped", skipped))
	return restored, dataErr
}

// keepUserPrecision marks a restored instance's precision as user-set even
// when it matches the template default.
func (s *Store) keepUserPrecision(paneID, name string) {
	inst, ok := s.Instance(paneID, name)
	if !ok {
		return
	}
	inst.mu.Lock()
	inst.userPrecision = true
	inst.mu.Unlock()
}
