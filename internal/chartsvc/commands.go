package chartsvc

import (
	"context"
	"log/slog"
	"slices"

	"chartind/internal/indicator"
	redisstore "chartind/internal/store/redis"
)

// commandLoop applies store commands published on the command channel.
func (svc *Service) commandLoop(ctx context.Context) {
	err := redisstore.SubscribeCommands(ctx, svc.rdb, svc.cfg.CommandChannel, func(ctx context.Context, cmd redisstore.Command) {
		svc.applyCommand(ctx, cmd)
	})
	if err != nil {
		svc.log.Warn("command channel unavailable", slog.String("channel", svc.cfg.CommandChannel), slog.Any("error", err))
	}
}

// applyCommand runs one command against the store and reports whether it
// fully succeeded.
func (svc *Service) applyCommand(ctx context.Context, cmd redisstore.Command) bool {
	var (
		ok  bool
		err error
	)
	switch cmd.Op {
	case redisstore.OpAdd:
		ok, err = svc.store.AddInstance(ctx, cmd.Pane, cmd.Config, cmd.Stack)
	case redisstore.OpOverride:
		var res indicator.OverrideResult
		res, err = svc.store.Override(ctx, cmd.Config, cmd.Pane)
		ok = res.OK()
	case redisstore.OpRemove:
		ok = svc.store.RemoveInstance(cmd.Pane, cmd.Name)
	case redisstore.OpCalc:
		var flags []bool
		flags, err = svc.store.CalcInstance(ctx, cmd.Name, cmd.Pane)
		ok = !slices.Contains(flags, false)
	case redisstore.OpPrecision:
		svc.store.SetSeriesPrecision(*cmd.Precision)
		ok = true
	}

	result := "ok"
	if err != nil || !ok {
		result = "failed"
	}
	svc.prom.Commands.WithLabelValues(cmd.Op, result).Inc()

	attrs := []any{
		slog.String("op", cmd.Op),
		slog.String("pane", cmd.Pane),
		slog.String("name", firstNonEmpty(cmd.Name, cmd.Config.Name)),
		slog.String("result", result),
	}
	if err != nil {
		svc.log.Warn("command failed", append(attrs, slog.Any("error", err))...)
	} else {
		svc.log.Info("command applied", attrs...)
	}
	return err == nil && ok
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
