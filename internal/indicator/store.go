package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"chartind/internal/model"
)

// DataSource supplies the chart's ordered data list.
type DataSource interface {
	DataList(ctx context.Context) ([]model.KLine, error)
}

// Recorder receives store measurements. internal/metrics implements it.
type Recorder interface {
	ObserveCalc(name string, d time.Duration, ok bool)
	SetInstances(n int)
	IncOverride(name string, calcParamsChanged bool)
}

// EventKind names a store change.
type EventKind string

const (
	EventAdded      EventKind = "added"
	EventRemoved    EventKind = "removed"
	EventOverridden EventKind = "overridden"
	EventComputed   EventKind = "computed"
	EventCalcFailed EventKind = "calc_failed"
	EventPrecision  EventKind = "precision"
)

// Event describes one change to one instance.
type Event struct {
	Kind     EventKind
	PaneID   string
	Name     string
	Instance *Instance
}

// Listener is called synchronously after a change, outside the table lock.
// It must not block.
type Listener func(Event)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l.With(slog.String("component", "store")) }
}

// WithPolicy sets how recompute batches aggregate failures.
func WithPolicy(p BatchPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithCalcTimeout bounds every single calculation. Zero disables the bound.
func WithCalcTimeout(d time.Duration) Option {
	return func(s *Store) { s.calcTimeout = d }
}

// WithMaxConcurrency limits how many calculations of one batch run at once.
// Zero or less means unlimited.
func WithMaxConcurrency(n int) Option {
	return func(s *Store) { s.maxConcurrency = n }
}

// WithListener adds an event listener.
func WithListener(l Listener) Option {
	return func(s *Store) { s.listeners = append(s.listeners, l) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.rec = r }
}

// Store owns every indicator instance, keyed pane id -> name.
type Store struct {
	mu    sync.RWMutex
	panes map[string]map[string]*Instance

	registry *Registry
	source   DataSource

	log            *slog.Logger
	policy         BatchPolicy
	calcTimeout    time.Duration
	maxConcurrency int
	listeners      []Listener
	rec            Recorder
}

// NewStore creates an empty store that instantiates from registry and
// computes over source.
func NewStore(registry *Registry, source DataSource, opts ...Option) *Store {
	s := &Store{
		panes:    make(map[string]map[string]*Instance),
		registry: registry,
		source:   source,
		log:      slog.Default().With(slog.String("component", "store")),
		policy:   FailFast,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the template registry the store creates from.
func (s *Store) Registry() *Registry { return s.registry }

// AddInstance creates cfg.Name from its template on paneID, applies cfg,
// and computes it. An existing instance of the same name leaves the pane
// untouched and reports false. Unless isStack, every other instance on the
// pane is removed first. The result reports whether the initial computation
// succeeded.
func (s *Store) AddInstance(ctx context.Context, paneID string, cfg Config, isStack bool) (bool, error) {
	res, err := s.Add(ctx, paneID, cfg, isStack)
	return res.Computed, err
}

// AddResult tells a duplicate add apart from a failed first computation.
type AddResult struct {
	Added    bool `json:"added"`
	Computed bool `json:"computed"`
}

// Add is AddInstance with the insertion and the computation reported
// separately. The duplicate check and the insertion happen under one lock.
func (s *Store) Add(ctx context.Context, paneID string, cfg Config, isStack bool) (AddResult, error) {
	s.mu.Lock()
	if _, exists := s.panes[paneID][cfg.Name]; exists {
		s.mu.Unlock()
		s.log.Debug("duplicate instance ignored", slog.String("pane", paneID), slog.String("name", cfg.Name))
		return AddResult{}, nil
	}
	inst, err := s.registry.Create(cfg.Name)
	if err != nil {
		s.mu.Unlock()
		return AddResult{}, fmt.Errorf("add to pane %s: %w", paneID, err)
	}
	ApplyOverride(inst, cfg)

	var removed []string
	pane, ok := s.panes[paneID]
	if !ok || !isStack {
		if ok {
			removed = slices.Sorted(maps.Keys(pane))
		}
		pane = make(map[string]*Instance)
		s.panes[paneID] = pane
	}
	pane[cfg.Name] = inst
	total := s.countLocked()
	s.mu.Unlock()

	for _, name := range removed {
		s.emit(Event{Kind: EventRemoved, PaneID: paneID, Name: name})
	}
	s.emit(Event{Kind: EventAdded, PaneID: paneID, Name: cfg.Name, Instance: inst})
	if s.rec != nil {
		s.rec.SetInstances(total)
	}
	s.log.Info("instance added",
		slog.String("pane", paneID),
		slog.String("name", cfg.Name),
		slog.Bool("stack", isStack),
		slog.Int("replaced", len(removed)))

	flags, err := s.runBatch(ctx, []target{{paneID: paneID, inst: inst}})
	if err != nil {
		return AddResult{Added: true}, err
	}
	return AddResult{Added: true, Computed: flags[0]}, nil
}

// Instances returns a copy of paneID's name -> instance mapping. It is never
// nil.
func (s *Store) Instances(paneID string) map[string]*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pane := maps.Clone(s.panes[paneID])
	if pane == nil {
		pane = make(map[string]*Instance)
	}
	return pane
}

// Table returns a copy of the whole pane -> name -> instance table.
func (s *Store) Table() map[string]map[string]*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table := make(map[string]map[string]*Instance, len(s.panes))
	for paneID, pane := range s.panes {
		table[paneID] = maps.Clone(pane)
	}
	return table
}

// Instance returns the instance called name on paneID.
func (s *Store) Instance(paneID, name string) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.panes[paneID][name]
	return inst, ok
}

// HasInstances reports whether paneID holds at least one instance.
func (s *Store) HasInstances(paneID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.panes[paneID]) > 0
}

// PaneIDs returns the ids of all non-empty panes, sorted.
func (s *Store) PaneIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.panes))
}

// RemoveInstance removes name from paneID, or every instance on the pane
// when name is empty. A pane left empty is dropped from the table. It
// reports whether anything was removed.
func (s *Store) RemoveInstance(paneID, name string) bool {
	s.mu.Lock()
	pane, ok := s.panes[paneID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	var removed []string
	if name == "" {
		removed = slices.Sorted(maps.Keys(pane))
		delete(s.panes, paneID)
	} else {
		if _, ok := pane[name]; !ok {
			s.mu.Unlock()
			return false
		}
		delete(pane, name)
		removed = []string{name}
		if len(pane) == 0 {
			delete(s.panes, paneID)
		}
	}
	total := s.countLocked()
	s.mu.Unlock()

	for _, n := range removed {
		s.emit(Event{Kind: EventRemoved, PaneID: paneID, Name: n})
	}
	if s.rec != nil {
		s.rec.SetInstances(total)
	}
	s.log.Info("instances removed", slog.String("pane", paneID), slog.Any("names", removed))
	return len(removed) > 0
}

// Count returns the number of live instances across all panes.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked()
}

func (s *Store) countLocked() int {
	n := 0
	for _, pane := range s.panes {
		n += len(pane)
	}
	return n
}

func (s *Store) emit(ev Event) {
	for _, l := range s.listeners {
		l(ev)
	}
}
