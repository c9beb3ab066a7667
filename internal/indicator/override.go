package indicator

import (
	"reflect"
	"slices"

	"chartind/internal/model"
)

// Config is a partial instance configuration. Name selects the template (on
// add) or the instance (on override); every other field is only applied when
// present. Styles and the function fields treat nil as absent.
type Config struct {
	Name                  string                 `json:"name"`
	ShortName             Optional[string]       `json:"short_name,omitzero"`
	Series                Optional[model.Series] `json:"series,omitzero"`
	CalcParams            Optional[[]float64]    `json:"calc_params,omitzero"`
	Precision             Optional[int]          `json:"precision,omitzero"`
	Plots                 Optional[[]Plot]       `json:"plots,omitzero"`
	MinValue              Optional[*float64]     `json:"min_value,omitzero"`
	MaxValue              Optional[*float64]     `json:"max_value,omitzero"`
	ShouldOhlc            Optional[bool]         `json:"should_ohlc,omitzero"`
	ShouldFormatBigNumber Optional[bool]         `json:"should_format_big_number,omitzero"`
	Visible               Optional[bool]         `json:"visible,omitzero"`
	Styles                Styles                 `json:"styles,omitempty"`
	ExtendData            Optional[any]          `json:"extend_data,omitzero"`

	RegeneratePlots         RegeneratePlotsFunc `json:"-"`
	CreateTooltipDataSource TooltipFunc         `json:"-"`
	Draw                    DrawFunc            `json:"-"`
	Calc                    CalcFunc            `json:"-"`
}

// ConfigFromState turns a captured state back into a full patch. Precision is
// only carried when it was set by a user, so chart-driven precision keeps
// applying after a restore.
func ConfigFromState(st State) Config {
	cfg := Config{
		Name:                  st.Name,
		ShortName:             Some(st.ShortName),
		Series:                Some(st.Series),
		CalcParams:            Some(slices.Clone(st.CalcParams)),
		MinValue:              Some(clonePtr(st.MinValue)),
		MaxValue:              Some(clonePtr(st.MaxValue)),
		ShouldOhlc:            Some(st.ShouldOhlc),
		ShouldFormatBigNumber: Some(st.ShouldFormatBigNumber),
		Visible:               Some(st.Visible),
		Styles:                st.Styles,
	}
	if st.UserPrecision {
		cfg.Precision = Some(st.Precision)
	}
	if len(st.Plots) > 0 {
		cfg.Plots = Some(slices.Clone(st.Plots))
	}
	if st.ExtendData != nil {
		cfg.ExtendData = Some(st.ExtendData)
	}
	return cfg
}

// ApplyOverride applies every present field of cfg to inst under the
// instance lock. changed reports whether any setter altered state;
// calcParamsChanged is true only when the calcParams setter did. Swapping the
// calc function is unconditional and counts toward neither flag.
func ApplyOverride(inst *Instance, cfg Config) (changed, calcParamsChanged bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if v, ok := cfg.ShortName.Get(); ok && inst.setShortName(v) {
		changed = true
	}
	if v, ok := cfg.Series.Get(); ok && inst.setSeries(v) {
		changed = true
	}
	if v, ok := cfg.CalcParams.Get(); ok && inst.setCalcParams(v) {
		changed = true
		calcParamsChanged = true
	}
	if v, ok := cfg.Precision.Get(); ok && inst.setPrecision(v, false) {
		changed = true
	}
	if v, ok := cfg.Plots.Get(); ok && inst.setPlots(v) {
		changed = true
	}
	if v, ok := cfg.MinValue.Get(); ok && inst.setMinValue(v) {
		changed = true
	}
	if v, ok := cfg.MaxValue.Get(); ok && inst.setMaxValue(v) {
		changed = true
	}
	if v, ok := cfg.ShouldOhlc.Get(); ok && inst.setShouldOhlc(v) {
		changed = true
	}
	if v, ok := cfg.ShouldFormatBigNumber.Get(); ok && inst.setShouldFormatBigNumber(v) {
		changed = true
	}
	if v, ok := cfg.Visible.Get(); ok && inst.setVisible(v) {
		changed = true
	}
	if cfg.Styles != nil && inst.setStyles(cfg.Styles) {
		changed = true
	}
	if v, ok := cfg.ExtendData.Get(); ok && inst.setExtendData(v) {
		changed = true
	}
	if cfg.RegeneratePlots != nil && inst.setRegeneratePlots(cfg.RegeneratePlots) {
		changed = true
	}
	if cfg.CreateTooltipDataSource != nil && inst.setCreateTooltipDataSource(cfg.CreateTooltipDataSource) {
		changed = true
	}
	if cfg.Draw != nil && inst.setDraw(cfg.Draw) {
		changed = true
	}
	if cfg.Calc != nil {
		inst.calc = cfg.Calc
	}
	return changed, calcParamsChanged
}

// Conditional setters. Callers hold inst.mu for writing; each reports
// whether it altered state.

func (i *Instance) setShortName(v string) bool {
	if v == i.shortName {
		return false
	}
	i.shortName = v
	return true
}

func (i *Instance) setSeries(v model.Series) bool {
	if v == i.series {
		return false
	}
	i.series = v
	return true
}

func (i *Instance) setCalcParams(v []float64) bool {
	if slices.Equal(v, i.calcParams) {
		return false
	}
	i.calcParams = slices.Clone(v)
	if i.regeneratePlots != nil {
		i.plots = i.regeneratePlots(slices.Clone(v))
	}
	return true
}

// setPrecision ignores negative values. A forced update comes from the chart
// rather than a user and yields to a precision the user set explicitly.
func (i *Instance) setPrecision(v int, forced bool) bool {
	if v < 0 {
		return false
	}
	if forced && i.userPrecision {
		return false
	}
	if v == i.precision {
		return false
	}
	i.precision = v
	if !forced {
		i.userPrecision = true
	}
	return true
}

func (i *Instance) setPlots(v []Plot) bool {
	if reflect.DeepEqual(v, i.plots) {
		return false
	}
	i.plots = slices.Clone(v)
	return true
}

func (i *Instance) setMinValue(v *float64) bool {
	if floatPtrEqual(v, i.minValue) {
		return false
	}
	i.minValue = clonePtr(v)
	return true
}

func (i *Instance) setMaxValue(v *float64) bool {
	if floatPtrEqual(v, i.maxValue) {
		return false
	}
	i.maxValue = clonePtr(v)
	return true
}

func (i *Instance) setShouldOhlc(v bool) bool {
	if v == i.shouldOhlc {
		return false
	}
	i.shouldOhlc = v
	return true
}

func (i *Instance) setShouldFormatBigNumber(v bool) bool {
	if v == i.shouldFormatBigNumber {
		return false
	}
	i.shouldFormatBigNumber = v
	return true
}

func (i *Instance) setVisible(v bool) bool {
	if v == i.visible {
		return false
	}
	i.visible = v
	return true
}

// setStyles merges v into the current styles key by key.
func (i *Instance) setStyles(v Styles) bool {
	changed := false
	for k, val := range v {
		if cur, ok := i.styles[k]; ok && reflect.DeepEqual(cur, val) {
			continue
		}
		if i.styles == nil {
			i.styles = make(Styles, len(v))
		}
		i.styles[k] = val
		changed = true
	}
	return changed
}

func (i *Instance) setExtendData(v any) bool {
	if reflect.DeepEqual(v, i.extendData) {
		return false
	}
	i.extendData = v
	return true
}

// Function values are only comparable by code pointer, which cannot tell two
// closures of the same literal apart. The new value is always stored; only a
// different code pointer counts as a change.

func (i *Instance) setRegeneratePlots(v RegeneratePlotsFunc) bool {
	changed := !sameFunc(v, i.regeneratePlots)
	i.regeneratePlots = v
	return changed
}

func (i *Instance) setCreateTooltipDataSource(v TooltipFunc) bool {
	changed := !sameFunc(v, i.createTooltipDataSource)
	i.createTooltipDataSource = v
	return changed
}

func (i *Instance) setDraw(v DrawFunc) bool {
	changed := !sameFunc(v, i.draw)
	i.draw = v
	return changed
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameFunc(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.IsNil() || vb.IsNil() {
		return va.IsNil() == vb.IsNil()
	}
	return va.Pointer() == vb.Pointer()
}
