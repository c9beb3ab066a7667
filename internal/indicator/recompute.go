package indicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"chartind/internal/logger"
	"chartind/internal/model"
)

// BatchPolicy decides how a recompute batch treats a failing member.
type BatchPolicy int

const (
	// FailFast cancels the context of the remaining calculations as soon as
	// one fails. Members that already finished keep their new result.
	FailFast BatchPolicy = iota
	// CollectAll lets every calculation settle independently.
	CollectAll
)

func (p BatchPolicy) String() string {
	if p == CollectAll {
		return "collect_all"
	}
	return "fail_fast"
}

// ParseBatchPolicy converts "fail_fast" or "collect_all".
func ParseBatchPolicy(s string) (BatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail_fast", "failfast":
		return FailFast, nil
	case "collect_all", "collectall":
		return CollectAll, nil
	}
	return FailFast, fmt.Errorf("unknown batch policy %q", s)
}

type target struct {
	paneID string
	inst   *Instance
}

// OverrideResult summarizes an Override call.
type OverrideResult struct {
	// Changed is true when any targeted instance changed in any field.
	Changed bool `json:"changed"`
	// Flags holds one entry per recomputed instance.
	Flags []bool `json:"flags"`
}

// OK reports whether every scheduled recomputation succeeded.
func (r OverrideResult) OK() bool {
	return !slices.Contains(r.Flags, false)
}

// CalcInstance recomputes a selection of instances concurrently:
// name and paneID select one instance, name alone selects that name on every
// pane, and neither selects everything. paneID alone selects nothing.
// Flags come back in selection order (panes, then names, sorted). The error
// is only set when the data list could not be read.
func (s *Store) CalcInstance(ctx context.Context, name, paneID string) ([]bool, error) {
	s.mu.RLock()
	var targets []target
	switch {
	case name != "" && paneID != "":
		if inst, ok := s.panes[paneID][name]; ok {
			targets = append(targets, target{paneID: paneID, inst: inst})
		}
	case name != "":
		for _, pid := range slices.Sorted(maps.Keys(s.panes)) {
			if inst, ok := s.panes[pid][name]; ok {
				targets = append(targets, target{paneID: pid, inst: inst})
			}
		}
	case paneID == "":
		for _, pid := range slices.Sorted(maps.Keys(s.panes)) {
			pane := s.panes[pid]
			for _, n := range slices.Sorted(maps.Keys(pane)) {
				targets = append(targets, target{paneID: pid, inst: pane[n]})
			}
		}
	}
	s.mu.RUnlock()

	return s.runBatch(ctx, targets)
}

// Override applies cfg to the instance named cfg.Name on paneID, or on every
// pane when paneID is empty. Only instances whose calcParams changed are
// recomputed; presentation-only changes never trigger a calculation.
func (s *Store) Override(ctx context.Context, cfg Config, paneID string) (OverrideResult, error) {
	var (
		res        OverrideResult
		targets    []target
		overridden []target
	)

	s.mu.RLock()
	paneIDs := []string{paneID}
	if paneID == "" {
		paneIDs = slices.Sorted(maps.Keys(s.panes))
	}
	for _, pid := range paneIDs {
		inst, ok := s.panes[pid][cfg.Name]
		if !ok {
			continue
		}
		changed, calcParamsChanged := ApplyOverride(inst, cfg)
		if s.rec != nil {
			s.rec.IncOverride(cfg.Name, calcParamsChanged)
		}
		if changed {
			res.Changed = true
			overridden = append(overridden, target{paneID: pid, inst: inst})
		}
		if calcParamsChanged {
			targets = append(targets, target{paneID: pid, inst: inst})
		}
	}
	s.mu.RUnlock()

	for _, t := range overridden {
		s.emit(Event{Kind: EventOverridden, PaneID: t.paneID, Name: cfg.Name, Instance: t.inst})
	}

	flags, err := s.runBatch(ctx, targets)
	res.Flags = flags
	return res, err
}

// runBatch fetches the data list once and recomputes every target
// concurrently, returning one flag per target in order.
func (s *Store) runBatch(ctx context.Context, targets []target) ([]bool, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	if logger.TraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("calc", time.Now()))
	}
	flags := make([]bool, len(targets))

	var dataList []model.KLine
	if s.source != nil {
		var err error
		dataList, err = s.source.DataList(ctx)
		if err != nil {
			return flags, fmt.Errorf("%w: %w", ErrDataSource, err)
		}
	}

	g := new(errgroup.Group)
	gctx := ctx
	if s.policy == FailFast {
		g, gctx = errgroup.WithContext(ctx)
	}
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}
	for i, t := range targets {
		g.Go(func() error {
			if err := s.recompute(gctx, t, dataList); err != nil {
				if s.policy == FailFast {
					return err
				}
				return nil
			}
			flags[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn("recompute batch failed",
			append(logger.LogWithTrace(ctx),
				slog.Int("size", len(targets)),
				slog.String("policy", s.policy.String()),
				slog.Any("error", err))...)
	}
	return flags, nil
}

type calcOutcome struct {
	result []Values
	err    error
}

// recompute runs the instance's calc over dataList and stores the result.
// On failure the previous result is kept. A calculation that outlives its
// context is abandoned and its eventual output discarded.
func (s *Store) recompute(ctx context.Context, t target, dataList []model.KLine) error {
	name := t.inst.Name()
	err := ctx.Err()
	var result []Values
	start := time.Now()
	if err == nil {
		result, err = s.runCalc(ctx, t.inst, dataList)
	}
	if s.rec != nil {
		s.rec.ObserveCalc(name, time.Since(start), err == nil)
	}
	if err != nil {
		err = fmt.Errorf("%s on pane %s: %w", name, t.paneID, err)
		if !errors.Is(err, ErrCalcFailed) {
			err = fmt.Errorf("%w: %w", ErrCalcFailed, err)
		}
		s.log.Warn("calc failed",
			append(logger.LogWithTrace(ctx),
				slog.String("pane", t.paneID),
				slog.String("name", name),
				slog.Any("error", err))...)
		s.emit(Event{Kind: EventCalcFailed, PaneID: t.paneID, Name: name, Instance: t.inst})
		return err
	}

	t.inst.setResult(result)
	s.log.Debug("calc done",
		append(logger.LogWithTrace(ctx),
			slog.String("pane", t.paneID),
			slog.String("name", name),
			slog.Int("points", len(result)),
			slog.Duration("took", time.Since(start)))...)
	s.emit(Event{Kind: EventComputed, PaneID: t.paneID, Name: name, Instance: t.inst})
	return nil
}

func (s *Store) runCalc(ctx context.Context, inst *Instance, dataList []model.KLine) ([]Values, error) {
	calc := inst.calcFunc()
	if calc == nil {
		return []Values{}, nil
	}
	if s.calcTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.calcTimeout)
		defer cancel()
	}

	done := make(chan calcOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- calcOutcome{err: fmt.Errorf("%w: panic: %v", ErrCalcFailed, r)}
			}
		}()
		result, err := calc(ctx, dataList, inst)
		done <- calcOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
