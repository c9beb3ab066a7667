package indicator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartind/internal/model"
)

func TestRegistry_RegisterAndCreate(t *testing.T) {
	reg := NewRegistry()
	assert.ErrorIs(t, reg.Register("", func() *Instance { return &Instance{} }), ErrEmptyName)
	assert.ErrorIs(t, reg.Register("X", nil), ErrNilFactory)

	require.NoError(t, reg.Register("X", func() *Instance { return &Instance{name: "other"} }))
	inst, err := reg.Create("X")
	require.NoError(t, err)
	assert.Equal(t, "X", inst.Name(), "instance name follows the registered name")

	_, err = reg.Create("Y")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	assert.True(t, reg.Has("X"))
	assert.False(t, reg.Has("Y"))

	require.NoError(t, reg.Register("Z", func() *Instance { return nil }))
	_, err = reg.Create("Z")
	assert.ErrorIs(t, err, ErrNilFactory)
}

func TestTemplate_NewIsolatesInstances(t *testing.T) {
	tmpl := Template{
		Name:       "MA",
		Series:     model.SeriesPrice,
		CalcParams: []float64{5, 10},
		Styles:     Styles{"color": "red"},
		Precision:  -3,
	}
	a, b := tmpl.New(), tmpl.New()

	ApplyOverride(a, Config{CalcParams: Some([]float64{1}), Styles: Styles{"color": "blue"}})

	assert.Equal(t, []float64{5, 10}, b.CalcParams())
	assert.Equal(t, "red", b.Styles()["color"])
	assert.Equal(t, []float64{5, 10}, tmpl.CalcParams)
	assert.Equal(t, "MA", b.ShortName(), "short name defaults to name")
	assert.Equal(t, 0, b.Precision())
	assert.True(t, b.Visible())
}

func TestOptional_JSON(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "RSI",
		"calc_params": [14],
		"min_value": null,
		"precision": null,
		"series": "volume"
	}`), &cfg))

	assert.Equal(t, "RSI", cfg.Name)
	params, ok := cfg.CalcParams.Get()
	assert.True(t, ok)
	assert.Equal(t, []float64{14}, params)

	minValue, ok := cfg.MinValue.Get()
	assert.True(t, ok, "null clears a pointer field")
	assert.Nil(t, minValue)

	assert.False(t, cfg.Precision.IsSet(), "null on a value field reads as absent")
	assert.False(t, cfg.MaxValue.IsSet())
	assert.False(t, cfg.ShortName.IsSet())

	series, ok := cfg.Series.Get()
	assert.True(t, ok)
	assert.Equal(t, model.SeriesVolume, series)
}

func TestOptional_MarshalOmitsAbsent(t *testing.T) {
	out, err := json.Marshal(Config{Name: "MA", CalcParams: Some([]float64{3}), MinValue: Some[*float64](nil)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"MA","calc_params":[3],"min_value":null}`, string(out))
}
