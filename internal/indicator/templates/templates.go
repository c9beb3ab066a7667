// Package templates provides the built-in indicator templates: moving
// averages, RSI and volume, each driven by a streaming calculator.
package templates

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"chartind/internal/indicator"
	"chartind/internal/model"
)

// ctxCheckEvery is how many data points a calculation processes between
// context checks.
const ctxCheckEvery = 1024

// maxPeriod bounds a calculation parameter.
const maxPeriod = 1 << 20

// stream is the shape shared by the streaming calculators.
type stream interface {
	Update(v float64)
	Value() float64
	Ready() bool
}

// warmup is a stream that never produces a value.
type warmup struct{}

func (warmup) Update(float64)      {}
func (warmup) Value() float64 { return 0 }
func (warmup) Ready() bool    { return false }

func closePrice(k model.KLine) float64  { return k.Close }
func volumeValue(k model.KLine) float64 { return k.Volume }

// linePlots returns a RegeneratePlotsFunc yielding one line per parameter,
// keyed prefix1, prefix2, ...
func linePlots(prefix, title string) indicator.RegeneratePlotsFunc {
	return func(params []float64) []indicator.Plot {
		plots := make([]indicator.Plot, 0, len(params))
		for j, p := range params {
			plots = append(plots, indicator.Plot{
				Key:   prefix + strconv.Itoa(j+1),
				Title: fmt.Sprintf("%s%s: ", title, formatParam(p)),
				Type:  "line",
			})
		}
		return plots
	}
}

// seriesCalc feeds pick(k) of every data point into one stream per
// calculation parameter.
func seriesCalc(prefix string, newStream func(period int) stream, pick func(model.KLine) float64) indicator.CalcFunc {
	return func(ctx context.Context, dataList []model.KLine, ind *indicator.Instance) ([]indicator.Values, error) {
		params := ind.CalcParams()
		streams := make([]stream, len(params))
		keys := make([]string, len(params))
		for j, p := range params {
			if !(p > 0 && p <= maxPeriod) || p != math.Trunc(p) {
				return nil, fmt.Errorf("%w: %s period %v must be an integer in [1, %d]", indicator.ErrCalcFailed, ind.Name(), p, maxPeriod)
			}
			period := int(p)
			if period > len(dataList) {
				// never warms up on this data list
				streams[j] = warmup{}
			} else {
				streams[j] = newStream(period)
			}
			keys[j] = prefix + strconv.Itoa(j+1)
		}

		out := make([]indicator.Values, len(dataList))
		for i, k := range dataList {
			if i%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			v := pick(k)
			vals := make(indicator.Values, len(streams))
			for j, s := range streams {
				s.Update(v)
				if s.Ready() {
					vals[keys[j]] = s.Value()
				}
			}
			out[i] = vals
		}
		return out, nil
	}
}

func volPlots(params []float64) []indicator.Plot {
	base := 0.0
	plots := []indicator.Plot{{Key: "volume", Title: "VOLUME: ", Type: "bar", BaseValue: &base}}
	return append(plots, linePlots("ma", "MA")(params)...)
}

func volCalc() indicator.CalcFunc {
	ma := seriesCalc("ma", func(p int) stream { return NewSMA(p) }, volumeValue)
	return func(ctx context.Context, dataList []model.KLine, ind *indicator.Instance) ([]indicator.Values, error) {
		out, err := ma(ctx, dataList, ind)
		if err != nil {
			return nil, err
		}
		for i, k := range dataList {
			out[i]["volume"] = k.Volume
		}
		return out, nil
	}
}

// Tooltip renders the instance's short name, its parameters, and each plot's
// value at dataIndex formatted with the instance precision.
func Tooltip(ind *indicator.Instance, dataIndex int) indicator.Tooltip {
	params := ind.CalcParams()
	texts := make([]string, len(params))
	for j, p := range params {
		texts[j] = formatParam(p)
	}
	tip := indicator.Tooltip{Name: ind.ShortName()}
	if len(texts) > 0 {
		tip.CalcParamsText = "(" + strings.Join(texts, ",") + ")"
	}

	result := ind.Result()
	precision := ind.Precision()
	for _, plot := range ind.Plots() {
		value := "n/a"
		if dataIndex >= 0 && dataIndex < len(result) {
			if v, ok := result[dataIndex][plot.Key]; ok {
				value = strconv.FormatFloat(v, 'f', precision, 64)
			}
		}
		tip.Values = append(tip.Values, indicator.TooltipValue{Title: plot.Title, Value: value})
	}
	return tip
}

func formatParam(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func ptr(v float64) *float64 { return &v }

// Builtins returns the built-in templates.
func Builtins() []indicator.Template {
	return []indicator.Template{
		{
			Name:                    "MA",
			Series:                  model.SeriesPrice,
			CalcParams:              []float64{5, 10, 30, 60},
			Precision:               2,
			ShouldOhlc:              true,
			RegeneratePlots:         linePlots("ma", "MA"),
			CreateTooltipDataSource: Tooltip,
			Calc:                    seriesCalc("ma", func(p int) stream { return NewSMA(p) }, closePrice),
		},
		{
			Name:                    "EMA",
			Series:                  model.SeriesPrice,
			CalcParams:              []float64{6, 12, 20},
			Precision:               2,
			ShouldOhlc:              true,
			RegeneratePlots:         linePlots("ema", "EMA"),
			CreateTooltipDataSource: Tooltip,
			Calc:                    seriesCalc("ema", func(p int) stream { return NewEMA(p) }, closePrice),
		},
		{
			Name:                    "SMMA",
			Series:                  model.SeriesPrice,
			CalcParams:              []float64{7},
			Precision:               2,
			ShouldOhlc:              true,
			RegeneratePlots:         linePlots("smma", "SMMA"),
			CreateTooltipDataSource: Tooltip,
			Calc:                    seriesCalc("smma", func(p int) stream { return NewSMMA(p) }, closePrice),
		},
		{
			Name:                    "RSI",
			Series:                  model.SeriesNormal,
			CalcParams:              []float64{6, 12, 24},
			Precision:               2,
			MinValue:                ptr(0),
			MaxValue:                ptr(100),
			RegeneratePlots:         linePlots("rsi", "RSI"),
			CreateTooltipDataSource: Tooltip,
			Calc:                    seriesCalc("rsi", func(p int) stream { return NewRSI(p) }, closePrice),
		},
		{
			Name:                    "VOL",
			ShortName:               "VOLUME",
			Series:                  model.SeriesVolume,
			CalcParams:              []float64{5, 10, 20},
			Precision:               0,
			ShouldFormatBigNumber:   true,
			RegeneratePlots:         volPlots,
			CreateTooltipDataSource: Tooltip,
			Calc:                    volCalc(),
		},
	}
}

// RegisterBuiltins registers every built-in template on reg.
func RegisterBuiltins(reg *indicator.Registry) error {
	for _, t := range Builtins() {
		if err := reg.RegisterTemplate(t); err != nil {
			return err
		}
	}
	return nil
}
