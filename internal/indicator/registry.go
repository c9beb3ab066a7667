package indicator

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"chartind/internal/model"
)

// Factory builds a fresh, default-configured instance.
type Factory func() *Instance

// Template is the declarative form of an indicator's defaults.
type Template struct {
	Name                    string
	ShortName               string // defaults to Name
	Series                  model.Series
	CalcParams              []float64
	Precision               int
	Plots                   []Plot
	MinValue                *float64
	MaxValue                *float64
	ShouldOhlc              bool
	ShouldFormatBigNumber   bool
	Styles                  Styles
	ExtendData              any
	RegeneratePlots         RegeneratePlotsFunc
	CreateTooltipDataSource TooltipFunc
	Draw                    DrawFunc
	Calc                    CalcFunc
}

// New builds an instance from the template. Slices and maps are copied so
// instances never share mutable state with the template.
func (t Template) New() *Instance {
	shortName := t.ShortName
	if shortName == "" {
		shortName = t.Name
	}
	plots := slices.Clone(t.Plots)
	if len(plots) == 0 && t.RegeneratePlots != nil {
		plots = t.RegeneratePlots(slices.Clone(t.CalcParams))
	}
	return &Instance{
		name:                    t.Name,
		shortName:               shortName,
		series:                  t.Series,
		calcParams:              slices.Clone(t.CalcParams),
		precision:               max(t.Precision, 0),
		plots:                   plots,
		minValue:                clonePtr(t.MinValue),
		maxValue:                clonePtr(t.MaxValue),
		shouldOhlc:              t.ShouldOhlc,
		shouldFormatBigNumber:   t.ShouldFormatBigNumber,
		visible:                 true,
		styles:                  maps.Clone(t.Styles),
		extendData:              t.ExtendData,
		regeneratePlots:         t.RegeneratePlots,
		createTooltipDataSource: t.CreateTooltipDataSource,
		draw:                    t.Draw,
		calc:                    t.Calc,
	}
}

// Registry maps indicator type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register stores factory under name. A later registration of the same name
// replaces the earlier one.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return ErrEmptyName
	}
	if factory == nil {
		return fmt.Errorf("register %q: %w", name, ErrNilFactory)
	}
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
	return nil
}

// RegisterTemplate registers t under t.Name.
func (r *Registry) RegisterTemplate(t Template) error {
	return r.Register(t.Name, t.New)
}

// Create returns a fresh default instance for name.
func (r *Registry) Create(name string) (*Instance, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	inst := factory()
	if inst == nil {
		return nil, fmt.Errorf("template %q: %w", name, ErrNilFactory)
	}
	// The table key and the instance name must agree.
	inst.name = name
	return inst, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
