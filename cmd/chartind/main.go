package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chartind/config"
	"chartind/internal/chartsvc"
	"chartind/internal/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("chartind stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("chartind", slog.LevelInfo)
		return fmt.Errorf("config: %w", err)
	}
	log := logger.Init("chartind", cfg.LogLevel)
	log.Info("config loaded",
		slog.String("data_source", cfg.DataSource),
		slog.String("batch_policy", cfg.BatchPolicy.String()),
		slog.Duration("snapshot_interval", cfg.SnapshotInterval))

	svc, err := chartsvc.New(cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}
