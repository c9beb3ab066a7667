package indicator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartind/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

type staticSource struct {
	data []model.KLine
	err  error
}

func (s staticSource) DataList(context.Context) ([]model.KLine, error) {
	return s.data, s.err
}

func series(closes ...float64) []model.KLine {
	out := make([]model.KLine, len(closes))
	for i, c := range closes {
		out[i] = model.KLine{Timestamp: int64(i) * 60_000, Close: c, Volume: 10}
	}
	return out
}

// sumCalc stores close*calcParams[0] per point, so results reveal the params
// they were computed with.
func sumCalc(calls *atomic.Int32) CalcFunc {
	return func(ctx context.Context, dataList []model.KLine, ind *Instance) ([]Values, error) {
		if calls != nil {
			calls.Add(1)
		}
		factor := 1.0
		if p := ind.CalcParams(); len(p) > 0 {
			factor = p[0]
		}
		out := make([]Values, len(dataList))
		for i, k := range dataList {
			out[i] = Values{"v": k.Close * factor}
		}
		return out, nil
	}
}

func testTemplate(name string, series model.Series, calc CalcFunc) Template {
	return Template{
		Name:       name,
		Series:     series,
		CalcParams: []float64{5},
		Precision:  4,
		RegeneratePlots: func(params []float64) []Plot {
			plots := make([]Plot, len(params))
			for i := range params {
				plots[i] = Plot{Key: "v", Type: "line"}
			}
			return plots
		},
		Calc: calc,
	}
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *atomic.Int32) {
	t.Helper()
	calls := new(atomic.Int32)
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTemplate(testTemplate("MA", model.SeriesPrice, sumCalc(calls))))
	require.NoError(t, reg.RegisterTemplate(testTemplate("VOL", model.SeriesVolume, sumCalc(calls))))
	require.NoError(t, reg.RegisterTemplate(testTemplate("RSI", model.SeriesNormal, sumCalc(calls))))
	return NewStore(reg, staticSource{data: series(1, 2, 3)}, opts...), calls
}

func mustAdd(t *testing.T, s *Store, paneID, name string, stack bool) {
	t.Helper()
	ok, err := s.AddInstance(context.Background(), paneID, Config{Name: name}, stack)
	require.NoError(t, err)
	require.True(t, ok)
}

// ────────────────────────────────────────────────────────────
// Table structure
// ────────────────────────────────────────────────────────────

func TestAddInstance_Scenario(t *testing.T) {
	ctx := context.Background()
	s, calls := newTestStore(t)

	ok, err := s.AddInstance(ctx, "pane1", Config{Name: "MA"}, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), calls.Load())

	inst, found := s.Instance("pane1", "MA")
	require.True(t, found)
	first := inst.Result()
	assert.Equal(t, 15.0, first[2]["v"])

	ok, err = s.AddInstance(ctx, "pane1", Config{Name: "MA"}, false)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate add is a no-op")
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, s.Instances("pane1"), 1)
	assert.Equal(t, first, inst.Result())

	res, err := s.Override(ctx, Config{Name: "MA", CalcParams: Some([]float64{10})}, "pane1")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.True(t, res.Changed)
	assert.Equal(t, 30.0, inst.Result()[2]["v"])

	assert.True(t, s.RemoveInstance("pane1", "MA"))
	assert.False(t, s.HasInstances("pane1"))
	assert.Empty(t, s.PaneIDs(), "emptied pane is dropped")
}

func TestAddInstance_NonStackReplacesPane(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", true)
	mustAdd(t, s, "p", "VOL", true)
	mustAdd(t, s, "other", "MA", true)

	mustAdd(t, s, "p", "RSI", false)

	assert.Len(t, s.Instances("p"), 1)
	_, ok := s.Instance("p", "RSI")
	assert.True(t, ok)
	assert.Len(t, s.Instances("other"), 1, "other panes untouched")
}

func TestAddInstance_StackAccumulates(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", true)
	mustAdd(t, s, "p", "VOL", true)
	mustAdd(t, s, "p", "RSI", true)

	assert.Len(t, s.Instances("p"), 3)
	assert.Equal(t, 3, s.Count())
}

func TestAddInstance_SameNameOnDifferentPanes(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "a", "MA", false)
	mustAdd(t, s, "b", "MA", false)

	ia, _ := s.Instance("a", "MA")
	ib, _ := s.Instance("b", "MA")
	assert.NotSame(t, ia, ib)
}

func TestAdd_ConcurrentDuplicates(t *testing.T) {
	s, _ := newTestStore(t)

	const n = 16
	results := make([]AddResult, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Add(context.Background(), "p", Config{Name: "MA"}, true)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	added := 0
	for _, res := range results {
		if res.Added {
			added++
			assert.True(t, res.Computed)
		} else {
			assert.False(t, res.Computed)
		}
	}
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, s.Count())
}

func TestAddInstance_UnknownTemplate(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", true)

	ok, err := s.AddInstance(context.Background(), "p", Config{Name: "MACD"}, false)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	assert.Len(t, s.Instances("p"), 1, "failed add leaves the pane as it was")
}

func TestAddInstance_AppliesConfig(t *testing.T) {
	s, _ := newTestStore(t)
	ok, err := s.AddInstance(context.Background(), "p", Config{
		Name:       "MA",
		ShortName:  Some("Fast MA"),
		CalcParams: Some([]float64{2}),
		Visible:    Some(false),
	}, false)
	require.NoError(t, err)
	require.True(t, ok)

	inst, _ := s.Instance("p", "MA")
	assert.Equal(t, "Fast MA", inst.ShortName())
	assert.False(t, inst.Visible())
	assert.Equal(t, 6.0, inst.Result()[2]["v"], "initial calc uses the patched params")
}

func TestInstances_NeverNil(t *testing.T) {
	s, _ := newTestStore(t)
	got := s.Instances("nope")
	assert.NotNil(t, got)
	assert.Empty(t, got)
	_, ok := s.Instance("nope", "MA")
	assert.False(t, ok)
	assert.False(t, s.RemoveInstance("nope", ""))
}

func TestTable_IsACopy(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", false)

	table := s.Table()
	delete(table["p"], "MA")
	delete(table, "p")

	assert.True(t, s.HasInstances("p"))
}

func TestRemoveInstance_ClearPane(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", true)
	mustAdd(t, s, "p", "VOL", true)

	assert.False(t, s.RemoveInstance("p", "RSI"))
	assert.True(t, s.RemoveInstance("p", ""))
	assert.False(t, s.HasInstances("p"))
	assert.Equal(t, 0, s.Count())
}

// ────────────────────────────────────────────────────────────
// Override
// ────────────────────────────────────────────────────────────

func TestOverride_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, calls := newTestStore(t)
	mustAdd(t, s, "p", "MA", false)

	cfg := Config{Name: "MA", CalcParams: Some([]float64{7}), ShortName: Some("m")}
	first, err := s.Override(ctx, cfg, "p")
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, int32(2), calls.Load())

	second, err := s.Override(ctx, cfg, "p")
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Empty(t, second.Flags)
	assert.True(t, second.OK())
	assert.Equal(t, int32(2), calls.Load(), "no recompute without a params change")
}

func TestOverride_PresentationOnlyDoesNotRecompute(t *testing.T) {
	ctx := context.Background()
	s, calls := newTestStore(t)
	mustAdd(t, s, "p", "MA", false)

	res, err := s.Override(ctx, Config{
		Name:     "MA",
		Styles:   Styles{"color": "#ff0000"},
		MinValue: Some[*float64](nil),
		Visible:  Some(false),
	}, "p")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.Flags)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOverride_AllPanes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	mustAdd(t, s, "a", "MA", true)
	mustAdd(t, s, "b", "MA", true)
	mustAdd(t, s, "b", "VOL", true)

	res, err := s.Override(ctx, Config{Name: "MA", CalcParams: Some([]float64{3})}, "")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, res.Flags)

	vol, _ := s.Instance("b", "VOL")
	assert.Equal(t, []float64{5}, vol.CalcParams(), "other names untouched")
}

func TestOverride_MissingTarget(t *testing.T) {
	s, _ := newTestStore(t)
	res, err := s.Override(context.Background(), Config{Name: "MA", CalcParams: Some([]float64{3})}, "p")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.True(t, res.OK())
}

func TestApplyOverride_OnlyCalcParamsTriggerRecompute(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", false)
	inst, _ := s.Instance("p", "MA")

	changed, paramsChanged := ApplyOverride(inst, Config{ShortName: Some("fast")})
	assert.True(t, changed)
	assert.False(t, paramsChanged)

	changed, paramsChanged = ApplyOverride(inst, Config{CalcParams: Some([]float64{7})})
	assert.True(t, changed)
	assert.True(t, paramsChanged)
}

func TestOverride_CalcParamsAreCopied(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", false)
	inst, _ := s.Instance("p", "MA")

	params := []float64{8}
	_, err := s.Override(context.Background(), Config{Name: "MA", CalcParams: Some(params)}, "p")
	require.NoError(t, err)

	params[0] = 99
	got := inst.CalcParams()
	assert.Equal(t, []float64{8}, got)
	got[0] = 42
	assert.Equal(t, []float64{8}, inst.CalcParams())
}

func TestOverride_CalcSwapNotCounted(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", false)

	swapped := func(ctx context.Context, dataList []model.KLine, ind *Instance) ([]Values, error) {
		return []Values{{"v": -1}}, nil
	}
	res, err := s.Override(context.Background(), Config{Name: "MA", Calc: swapped}, "p")
	require.NoError(t, err)
	assert.False(t, res.Changed)

	flags, err := s.CalcInstance(context.Background(), "MA", "p")
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, flags)
	inst, _ := s.Instance("p", "MA")
	assert.Equal(t, []Values{{"v": -1}}, inst.Result())
}

func TestApplyOverride_RegeneratesPlots(t *testing.T) {
	inst := testTemplate("MA", model.SeriesPrice, nil).New()
	require.Len(t, inst.Plots(), 1)

	changed, paramsChanged := ApplyOverride(inst, Config{CalcParams: Some([]float64{1, 2, 3})})
	assert.True(t, changed)
	assert.True(t, paramsChanged)
	assert.Len(t, inst.Plots(), 3)
}

func TestApplyOverride_StylesMerge(t *testing.T) {
	inst := testTemplate("MA", model.SeriesPrice, nil).New()
	changed, _ := ApplyOverride(inst, Config{Styles: Styles{"color": "red", "size": 1}})
	assert.True(t, changed)
	changed, _ = ApplyOverride(inst, Config{Styles: Styles{"color": "red"}})
	assert.False(t, changed)
	changed, _ = ApplyOverride(inst, Config{Styles: Styles{"color": "blue"}})
	assert.True(t, changed)
	assert.Equal(t, Styles{"color": "blue", "size": 1}, inst.Styles())
}

func TestApplyOverride_MinMaxClear(t *testing.T) {
	inst := testTemplate("RSI", model.SeriesNormal, nil).New()
	lo := 0.0
	changed, _ := ApplyOverride(inst, Config{MinValue: Some(&lo)})
	assert.True(t, changed)
	require.NotNil(t, inst.MinValue())

	changed, _ = ApplyOverride(inst, Config{MinValue: Some[*float64](nil)})
	assert.True(t, changed)
	assert.Nil(t, inst.MinValue())

	changed, _ = ApplyOverride(inst, Config{})
	assert.False(t, changed, "empty patch changes nothing")
}

func TestApplyOverride_NegativePrecisionIgnored(t *testing.T) {
	inst := testTemplate("MA", model.SeriesPrice, nil).New()
	changed, _ := ApplyOverride(inst, Config{Precision: Some(-1)})
	assert.False(t, changed)
	assert.Equal(t, 4, inst.Precision())
}

// ────────────────────────────────────────────────────────────
// Precision
// ────────────────────────────────────────────────────────────

func TestSetSeriesPrecision_TargetsBySeries(t *testing.T) {
	s, calls := newTestStore(t)
	mustAdd(t, s, "a", "MA", true)
	mustAdd(t, s, "a", "VOL", true)
	mustAdd(t, s, "b", "RSI", true)
	before := calls.Load()

	n := s.SetSeriesPrecision(model.Precision{Price: 2, Volume: 0})
	assert.Equal(t, 2, n)

	ma, _ := s.Instance("a", "MA")
	vol, _ := s.Instance("a", "VOL")
	rsi, _ := s.Instance("b", "RSI")
	assert.Equal(t, 2, ma.Precision())
	assert.Equal(t, 0, vol.Precision())
	assert.Equal(t, 4, rsi.Precision())
	assert.Equal(t, before, calls.Load(), "precision never recomputes")
}

func TestSetSeriesPrecision_YieldsToUserPrecision(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "a", "MA", false)
	_, err := s.Override(context.Background(), Config{Name: "MA", Precision: Some(6)}, "a")
	require.NoError(t, err)

	s.SetSeriesPrecision(model.Precision{Price: 2})

	ma, _ := s.Instance("a", "MA")
	assert.Equal(t, 6, ma.Precision())
	assert.True(t, ma.State().UserPrecision)
}

func TestOverride_SamePrecisionLeavesChartControl(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	mustAdd(t, s, "a", "MA", false)
	ma, _ := s.Instance("a", "MA")
	current := ma.Precision()

	res, err := s.Override(ctx, Config{Name: "MA", Precision: Some(current)}, "a")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.False(t, ma.State().UserPrecision)

	assert.Equal(t, 1, s.SetSeriesPrecision(model.Precision{Price: current + 1}))
	assert.Equal(t, current+1, ma.Precision())
}

// ────────────────────────────────────────────────────────────
// Recompute coordinator
// ────────────────────────────────────────────────────────────

func TestCalcInstance_Selection(t *testing.T) {
	ctx := context.Background()
	s, calls := newTestStore(t)
	mustAdd(t, s, "a", "MA", true)
	mustAdd(t, s, "a", "VOL", true)
	mustAdd(t, s, "b", "MA", true)
	calls.Store(0)

	flags, err := s.CalcInstance(ctx, "MA", "a")
	require.NoError(t, err)
	assert.Len(t, flags, 1)

	flags, err = s.CalcInstance(ctx, "MA", "")
	require.NoError(t, err)
	assert.Len(t, flags, 2)

	flags, err = s.CalcInstance(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, flags)

	flags, err = s.CalcInstance(ctx, "", "a")
	require.NoError(t, err)
	assert.Empty(t, flags, "pane alone selects nothing")

	assert.Equal(t, int32(6), calls.Load())
}

func TestRecompute_FailureKeepsPreviousResult(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", false)
	inst, _ := s.Instance("p", "MA")
	before := inst.Result()

	failing := func(context.Context, []model.KLine, *Instance) ([]Values, error) {
		return nil, errors.New("boom")
	}
	ApplyOverride(inst, Config{Calc: failing})

	flags, err := s.CalcInstance(ctx, "MA", "p")
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, flags)
	assert.Equal(t, before, inst.Result())
}

func TestRecompute_PanicRecovered(t *testing.T) {
	s, _ := newTestStore(t)
	mustAdd(t, s, "p", "MA", false)
	inst, _ := s.Instance("p", "MA")
	ApplyOverride(inst, Config{Calc: func(context.Context, []model.KLine, *Instance) ([]Values, error) {
		panic("bad calc")
	}})

	flags, err := s.CalcInstance(context.Background(), "MA", "p")
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, flags)
}

func TestRecompute_NilCalcYieldsEmptyResult(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTemplate(Template{Name: "BARE"}))
	s := NewStore(reg, staticSource{data: series(1)})

	ok, err := s.AddInstance(context.Background(), "p", Config{Name: "BARE"}, false)
	require.NoError(t, err)
	assert.True(t, ok)
	inst, _ := s.Instance("p", "BARE")
	assert.NotNil(t, inst.Result())
	assert.Empty(t, inst.Result())
}

func TestRecompute_Timeout(t *testing.T) {
	s, _ := newTestStore(t, WithCalcTimeout(20*time.Millisecond))
	mustAdd(t, s, "p", "MA", false)
	inst, _ := s.Instance("p", "MA")

	release := make(chan struct{})
	defer close(release)
	ApplyOverride(inst, Config{Calc: func(context.Context, []model.KLine, *Instance) ([]Values, error) {
		<-release // ignores its context on purpose
		return []Values{{"v": 0}}, nil
	}})

	flags, err := s.CalcInstance(context.Background(), "MA", "p")
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, flags)
	assert.Equal(t, 15.0, inst.Result()[2]["v"], "abandoned calc never lands")
}

// blockingCalc fails for the "FAIL" name and otherwise waits for its context
// or for release.
func batchStore(t *testing.T, policy BatchPolicy, release <-chan struct{}) *Store {
	t.Helper()
	calc := func(ctx context.Context, dataList []model.KLine, ind *Instance) ([]Values, error) {
		if ind.Name() == "FAIL" {
			return nil, errors.New("boom")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return []Values{}, nil
		}
	}
	reg := NewRegistry()
	for _, name := range []string{"FAIL", "SLOW"} {
		require.NoError(t, reg.RegisterTemplate(Template{Name: name, CalcParams: []float64{1}}))
	}
	s := NewStore(reg, staticSource{}, WithPolicy(policy))
	for _, name := range []string{"FAIL", "SLOW"} {
		_, err := s.AddInstance(context.Background(), "p", Config{Name: name}, true)
		require.NoError(t, err)
		inst, _ := s.Instance("p", name)
		ApplyOverride(inst, Config{Calc: calc})
	}
	return s
}

func TestBatch_FailFastCancelsSiblings(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s := batchStore(t, FailFast, release)

	done := make(chan []bool, 1)
	go func() {
		flags, _ := s.CalcInstance(context.Background(), "", "")
		done <- flags
	}()

	select {
	case flags := <-done:
		assert.Equal(t, []bool{false, false}, flags)
	case <-time.After(2 * time.Second):
		t.Fatal("fail-fast batch did not cancel the slow sibling")
	}
}

func TestBatch_CollectAllSettlesIndependently(t *testing.T) {
	release := make(chan struct{})
	s := batchStore(t, CollectAll, release)

	done := make(chan []bool, 1)
	go func() {
		flags, _ := s.CalcInstance(context.Background(), "", "")
		done <- flags
	}()

	select {
	case <-done:
		t.Fatal("collect-all batch returned before the slow member settled")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	assert.Equal(t, []bool{false, true}, <-done)
}

func TestBatch_DataSourceError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTemplate(testTemplate("MA", model.SeriesPrice, sumCalc(nil))))
	s := NewStore(reg, staticSource{err: errors.New("db down")})

	ok, err := s.AddInstance(context.Background(), "p", Config{Name: "MA"}, false)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDataSource)
	assert.True(t, s.HasInstances("p"), "instance stays even when it could not compute")
}

func TestBatch_ConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	calc := func(ctx context.Context, dataList []model.KLine, ind *Instance) ([]Values, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return []Values{}, nil
	}
	reg := NewRegistry()
	names := []string{"A", "B", "C", "D", "E"}
	for _, n := range names {
		require.NoError(t, reg.RegisterTemplate(Template{Name: n, Calc: calc}))
	}
	s := NewStore(reg, staticSource{}, WithMaxConcurrency(2))
	for _, n := range names {
		mustAdd(t, s, "p", n, true)
	}
	peak.Store(0)

	flags, err := s.CalcInstance(context.Background(), "", "")
	require.NoError(t, err)
	assert.Len(t, flags, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pane := []string{"a", "b"}[i%2]
			for j := range 20 {
				_, _ = s.AddInstance(ctx, pane, Config{Name: "MA"}, true)
				_, _ = s.Override(ctx, Config{Name: "MA", CalcParams: Some([]float64{float64(j + 1)})}, pane)
				s.SetSeriesPrecision(model.Precision{Price: j % 4})
				_ = s.Snapshot()
				if j%5 == 0 {
					s.RemoveInstance(pane, "MA")
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Count(), 2)
}

// ────────────────────────────────────────────────────────────
// Events
// ────────────────────────────────────────────────────────────

func TestStore_Events(t *testing.T) {
	var mu sync.Mutex
	var kinds []EventKind
	s, _ := newTestStore(t, WithListener(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	}))

	mustAdd(t, s, "p", "MA", true)
	mustAdd(t, s, "p", "VOL", false)
	s.RemoveInstance("p", "VOL")

	assert.Equal(t, []EventKind{
		EventAdded, EventComputed,
		EventRemoved, EventAdded, EventComputed,
		EventRemoved,
	}, kinds)
}

type fakeRecorder struct {
	mu        sync.Mutex
	calcs     int
	failures  int
	instances int
	overrides int
}

func (r *fakeRecorder) ObserveCalc(_ string, _ time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calcs++
	if !ok {
		r.failures++
	}
}

func (r *fakeRecorder) SetInstances(n int) {
	r.mu.Lock()
	r.instances = n
	r.mu.Unlock()
}

func (r *fakeRecorder) IncOverride(string, bool) {
	r.mu.Lock()
	r.overrides++
	r.mu.Unlock()
}

func TestStore_Recorder(t *testing.T) {
	rec := &fakeRecorder{}
	s, _ := newTestStore(t, WithRecorder(rec))
	mustAdd(t, s, "p", "MA", true)
	mustAdd(t, s, "p", "VOL", true)
	_, err := s.Override(context.Background(), Config{Name: "MA", CalcParams: Some([]float64{2})}, "p")
	require.NoError(t, err)

	assert.Equal(t, 3, rec.calcs)
	assert.Equal(t, 0, rec.failures)
	assert.Equal(t, 2, rec.instances)
	assert.Equal(t, 1, rec.overrides)
}
