package chartsvc

import (
	"context"
	"log/slog"
	"time"

	"chartind/internal/indicator"
	"chartind/internal/layout"
)

// Restore sources, reported on /healthz.
const (
	restoredRedis  = "redis"
	restoredSQLite = "sqlite"
	restoredPreset = "preset"
	restoredEmpty  = "empty"
)

// restore rebuilds the instance table from the newest available layout:
// Redis cache, then SQLite, then the preset file. With none of them the
// store starts empty.
func (svc *Service) restore(ctx context.Context) string {
	from := restoredEmpty
	defer func() { svc.health.SetRestoredFrom(from) }()

	if svc.layouts != nil {
		l, err := svc.layouts.Load(ctx)
		if err != nil {
			svc.log.Warn("redis layout read failed", slog.Any("error", err))
		}
		if svc.restoreLayout(ctx, l, restoredRedis) {
			from = restoredRedis
			return from
		}
	}

	if svc.sqlReader != nil {
		l, err := svc.sqlReader.LatestLayout(ctx)
		if err != nil {
			svc.log.Warn("sqlite layout read failed", slog.Any("error", err))
		}
		if svc.restoreLayout(ctx, l, restoredSQLite) {
			from = restoredSQLite
			return from
		}
	}

	if svc.cfg.LayoutFile != "" {
		preset, err := layout.Load(svc.cfg.LayoutFile)
		if err != nil {
			svc.log.Warn("layout preset unusable", slog.String("path", svc.cfg.LayoutFile), slog.Any("error", err))
			return from
		}
		res, err := layout.Apply(ctx, svc.store, preset, false)
		if err != nil {
			svc.log.Warn("layout preset applied with errors", slog.Any("error", err))
		}
		if res.Added > 0 {
			from = restoredPreset
		}
	}
	return from
}

// restoreLayout reports whether l put at least one instance in the store.
func (svc *Service) restoreLayout(ctx context.Context, l *indicator.Layout, source string) bool {
	if l == nil || len(l.Panes) == 0 {
		return false
	}
	n, err := svc.store.Restore(ctx, l)
	if err != nil {
		svc.log.Warn("layout restore incomplete", slog.String("source", source), slog.Any("error", err))
	}
	if n == 0 {
		return false
	}
	svc.log.Info("layout restored",
		slog.String("source", source),
		slog.Int("instances", n),
		slog.Time("saved_at", l.SavedAt))
	return true
}

// snapshotLoop periodically saves the layout to Redis and SQLite.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.saveSnapshot(ctx)
		}
	}
}

// saveSnapshot writes the current layout to every configured target.
func (svc *Service) saveSnapshot(ctx context.Context) {
	snap := svc.store.Snapshot()
	saved := false

	if svc.layouts != nil {
		err := svc.layouts.Save(ctx, snap)
		svc.prom.ObserveLayoutSave(restoredRedis, err)
		if err != nil {
			svc.log.Warn("redis layout write failed", slog.Any("error", err))
		} else {
			saved = true
		}
	}
	if svc.sqlWriter != nil {
		err := svc.sqlWriter.SaveLayout(ctx, snap)
		svc.prom.ObserveLayoutSave(restoredSQLite, err)
		if err != nil {
			svc.log.Warn("sqlite layout write failed", slog.Any("error", err))
		} else {
			saved = true
		}
	}

	if saved {
		svc.health.SetLastSnapshot(snap.SavedAt)
		svc.log.Debug("layout checkpoint saved", slog.Int("panes", len(snap.Panes)))
	}
}
