package templates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartind/internal/datasource"
	"chartind/internal/indicator"
	"chartind/internal/model"
)

func klines(closes ...float64) []model.KLine {
	out := make([]model.KLine, len(closes))
	for i, c := range closes {
		out[i] = model.KLine{
			Timestamp: int64(i+1) * 60_000,
			Open:      c, High: c + 0.5, Low: c - 0.5, Close: c,
			Volume: float64(100 * (i + 1)),
		}
	}
	return out
}

func newStore(t *testing.T, data []model.KLine) *indicator.Store {
	t.Helper()
	reg := indicator.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))
	return indicator.NewStore(reg, datasource.NewMemory(data))
}

func TestRegisterBuiltins(t *testing.T) {
	reg := indicator.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))
	assert.Equal(t, []string{"EMA", "MA", "RSI", "SMMA", "VOL"}, reg.Names())

	ma, err := reg.Create("MA")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 10, 30, 60}, ma.CalcParams())
	assert.Equal(t, model.SeriesPrice, ma.Series())
	require.Len(t, ma.Plots(), 4)
	assert.Equal(t, "ma4", ma.Plots()[3].Key)
	assert.Equal(t, "MA60: ", ma.Plots()[3].Title)

	rsi, err := reg.Create("RSI")
	require.NoError(t, err)
	require.NotNil(t, rsi.MaxValue())
	assert.Equal(t, 100.0, *rsi.MaxValue())
}

func TestMA_ComputesPerParam(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, klines(100, 102, 104, 103, 105))

	ok, err := s.AddInstance(ctx, "candle_pane", indicator.Config{
		Name:       "MA",
		CalcParams: indicator.Some([]float64{3, 5}),
	}, false)
	require.NoError(t, err)
	require.True(t, ok)

	inst, found := s.Instance("candle_pane", "MA")
	require.True(t, found)
	result := inst.Result()
	require.Len(t, result, 5)

	_, warm := result[1]["ma1"]
	assert.False(t, warm, "no value during warm-up")
	assert.InDelta(t, 102.0, result[2]["ma1"], 1e-9)
	assert.InDelta(t, 104.0, result[4]["ma1"], 1e-9)
	assert.InDelta(t, 102.8, result[4]["ma2"], 1e-9)
	assert.Len(t, inst.Plots(), 2, "plots follow calc params")
}

func TestMA_OverrideRecomputes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, klines(1, 2, 3, 4, 5, 6))

	_, err := s.AddInstance(ctx, "candle_pane", indicator.Config{Name: "MA", CalcParams: indicator.Some([]float64{2})}, false)
	require.NoError(t, err)

	res, err := s.Override(ctx, indicator.Config{Name: "MA", CalcParams: indicator.Some([]float64{4})}, "candle_pane")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []bool{true}, res.Flags)

	inst, _ := s.Instance("candle_pane", "MA")
	result := inst.Result()
	_, has := result[2]["ma1"]
	assert.False(t, has)
	assert.InDelta(t, 4.5, result[5]["ma1"], 1e-9)
}

func TestVOL_IncludesRawVolume(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, klines(1, 2, 3))

	_, err := s.AddInstance(ctx, "vol_pane", indicator.Config{Name: "VOL", CalcParams: indicator.Some([]float64{2})}, false)
	require.NoError(t, err)

	inst, _ := s.Instance("vol_pane", "VOL")
	result := inst.Result()
	require.Len(t, result, 3)
	assert.Equal(t, 100.0, result[0]["volume"])
	assert.InDelta(t, 250.0, result[2]["ma1"], 1e-9)

	plots := inst.Plots()
	require.Len(t, plots, 2)
	assert.Equal(t, "volume", plots[0].Key)
	assert.Equal(t, "bar", plots[0].Type)
}

func TestCalc_RejectsInvalidPeriod(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, klines(1, 2, 3))

	ok, err := s.AddInstance(ctx, "p", indicator.Config{Name: "EMA", CalcParams: indicator.Some([]float64{0})}, false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AddInstance(ctx, "p", indicator.Config{Name: "SMMA", CalcParams: indicator.Some([]float64{2.5})}, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCalc_OversizedPeriod(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, klines(1, 2, 3))

	ok, err := s.AddInstance(ctx, "p", indicator.Config{Name: "MA", CalcParams: indicator.Some([]float64{2})}, false)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := s.Override(ctx, indicator.Config{Name: "MA", CalcParams: indicator.Some([]float64{1e13})}, "p")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []bool{false}, res.Flags)

	// longer than the data list but within bounds: warm-up only
	res, err = s.Override(ctx, indicator.Config{Name: "MA", CalcParams: indicator.Some([]float64{2, 500})}, "p")
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, res.Flags)
	ma, _ := s.Instance("p", "MA")
	result := ma.Result()
	require.Len(t, result, 3)
	assert.Equal(t, indicator.Values{"ma1": 2.5}, result[2])
}

func TestCalc_HonorsCancellation(t *testing.T) {
	tmpl := Builtins()[0]
	inst := tmpl.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tmpl.Calc(ctx, klines(1, 2, 3), inst)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTooltip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, klines(10, 20, 30))

	_, err := s.AddInstance(ctx, "p", indicator.Config{
		Name:       "MA",
		CalcParams: indicator.Some([]float64{2, 3}),
		Precision:  indicator.Some(1),
	}, false)
	require.NoError(t, err)
	inst, _ := s.Instance("p", "MA")

	tip := inst.CreateTooltipDataSource()(inst, 1)
	assert.Equal(t, "MA", tip.Name)
	assert.Equal(t, "(2,3)", tip.CalcParamsText)
	require.Len(t, tip.Values, 2)
	assert.Equal(t, "15.0", tip.Values[0].Value)
	assert.Equal(t, "n/a", tip.Values[1].Value)

	outOfRange := Tooltip(inst, 10)
	assert.Equal(t, "n/a", outOfRange.Values[0].Value)
}
