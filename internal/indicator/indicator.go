// Package indicator stores and recomputes the indicator instances attached to
// chart panes.
//
// Instances are created from registered templates, configured through partial
// overrides, and recomputed over the chart's full data list whenever their
// calculation parameters change. The Store owns every live instance.
package indicator

import (
	"context"
	"maps"
	"slices"
	"sync"

	"chartind/internal/model"
)

// Values is one data point's computed output, keyed by plot key. A missing
// key means the indicator has no value at that point (e.g. warm-up).
type Values map[string]float64

// Plot describes one visual output of an indicator.
type Plot struct {
	Key       string   `json:"key"`
	Title     string   `json:"title,omitempty"`
	Type      string   `json:"type,omitempty"` // "line", "bar", "circle"
	BaseValue *float64 `json:"base_value,omitempty"`
}

// Styles are visual overrides merged key by key into the instance.
type Styles map[string]any

// CalcFunc computes one Values entry per input data point. It must not
// retain dataList.
type CalcFunc func(ctx context.Context, dataList []model.KLine, ind *Instance) ([]Values, error)

// RegeneratePlotsFunc derives plot descriptors from calculation parameters.
type RegeneratePlotsFunc func(calcParams []float64) []Plot

// TooltipValue is one labelled entry of a tooltip.
type TooltipValue struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Tooltip is what the rendering layer shows for an instance at a data index.
type Tooltip struct {
	Name           string         `json:"name"`
	CalcParamsText string         `json:"calc_params_text"`
	Values         []TooltipValue `json:"values"`
}

// TooltipFunc builds the tooltip data for an instance at a data index.
type TooltipFunc func(ind *Instance, dataIndex int) Tooltip

// DrawFunc lets an indicator draw itself on an opaque surface. It returns
// true when the default figure drawing should be skipped.
type DrawFunc func(surface any, ind *Instance) bool

// Instance is the mutable realization of a template on one pane. All access
// goes through its lock; the calculation itself runs without holding it.
type Instance struct {
	mu sync.RWMutex

	name                  string
	shortName             string
	series                model.Series
	calcParams            []float64
	precision             int
	userPrecision         bool
	plots                 []Plot
	minValue              *float64
	maxValue              *float64
	shouldOhlc            bool
	shouldFormatBigNumber bool
	visible               bool
	styles                Styles
	extendData            any

	regeneratePlots         RegeneratePlotsFunc
	createTooltipDataSource TooltipFunc
	draw                    DrawFunc
	calc                    CalcFunc

	result []Values
}

// State is the plain, serializable configuration of an instance.
type State struct {
	Name                  string       `json:"name"`
	ShortName             string       `json:"short_name"`
	Series                model.Series `json:"series"`
	CalcParams            []float64    `json:"calc_params"`
	Precision             int          `json:"precision"`
	UserPrecision         bool         `json:"user_precision,omitempty"`
	Plots                 []Plot       `json:"plots,omitempty"`
	MinValue              *float64     `json:"min_value,omitempty"`
	MaxValue              *float64     `json:"max_value,omitempty"`
	ShouldOhlc            bool         `json:"should_ohlc"`
	ShouldFormatBigNumber bool         `json:"should_format_big_number"`
	Visible               bool         `json:"visible"`
	Styles                Styles       `json:"styles,omitempty"`
	ExtendData            any          `json:"extend_data,omitempty"`
}

func (i *Instance) Name() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.name
}

func (i *Instance) ShortName() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.shortName
}

func (i *Instance) Series() model.Series {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.series
}

// CalcParams returns a copy of the calculation parameters.
func (i *Instance) CalcParams() []float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.calcParams)
}

func (i *Instance) Precision() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.precision
}

// Plots returns a copy of the plot descriptors.
func (i *Instance) Plots() []Plot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.plots)
}

func (i *Instance) MinValue() *float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return clonePtr(i.minValue)
}

func (i *Instance) MaxValue() *float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return clonePtr(i.maxValue)
}

func (i *Instance) Visible() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.visible
}

// Styles returns a copy of the style overrides.
func (i *Instance) Styles() Styles {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return maps.Clone(i.styles)
}

func (i *Instance) ExtendData() any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.extendData
}

func (i *Instance) RegeneratePlots() RegeneratePlotsFunc {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.regeneratePlots
}

func (i *Instance) CreateTooltipDataSource() TooltipFunc {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.createTooltipDataSource
}

func (i *Instance) Draw() DrawFunc {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.draw
}

// Result returns the latest computed output. The entries are shared with the
// instance and must not be modified.
func (i *Instance) Result() []Values {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.result)
}

// State captures the instance's configuration.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return State{
		Name:                  i.name,
		ShortName:             i.shortName,
		Series:                i.series,
		CalcParams:            slices.Clone(i.calcParams),
		Precision:             i.precision,
		UserPrecision:         i.userPrecision,
		Plots:                 slices.Clone(i.plots),
		MinValue:              clonePtr(i.minValue),
		MaxValue:              clonePtr(i.maxValue),
		ShouldOhlc:            i.shouldOhlc,
		ShouldFormatBigNumber: i.shouldFormatBigNumber,
		Visible:               i.visible,
		Styles:                maps.Clone(i.styles),
		ExtendData:            i.extendData,
	}
}

func (i *Instance) calcFunc() CalcFunc {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.calc
}

func (i *Instance) setResult(result []Values) {
	i.mu.Lock()
	i.result = result
	i.mu.Unlock()
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
