// Package chartsvc wires the indicator store to its data source,
// persistence, remote control and live feed, and runs them as one service.
package chartsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"chartind/config"
	"chartind/internal/api"
	"chartind/internal/datasource"
	"chartind/internal/gateway"
	"chartind/internal/indicator"
	"chartind/internal/indicator/templates"
	"chartind/internal/layout"
	"chartind/internal/metrics"
	"chartind/internal/model"
	redisstore "chartind/internal/store/redis"
	sqlitestore "chartind/internal/store/sqlite"
)

const (
	feedBuffer      = 4096
	resultQueue     = 4096
	pointQueue      = 5000
	breakerFailures = 5
	breakerReset    = 10 * time.Second
	livenessEvery   = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Service is the top-level orchestrator for the chart indicator service.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	promReg *prometheus.Registry
	prom    *metrics.Metrics
	health  *metrics.HealthStatus

	store  *indicator.Store
	memory *datasource.Memory // nil unless DataSource is memory

	hub  *gateway.Hub
	feed *gateway.Feed

	// Redis; all nil when Redis is not configured or unreachable.
	rdb      *goredis.Client
	cb       *redisstore.CircuitBreaker
	layouts  *redisstore.LayoutCache
	resultCh chan redisstore.ResultUpdate

	// SQLite; nil when not configured.
	sqlReader *sqlitestore.Reader
	sqlWriter *sqlitestore.Writer
	pointCh   chan sqlitestore.Point

	handler http.Handler
}

// New connects the configured backends and builds the store. Redis is
// optional at runtime: a failed connection is logged and the service runs
// without it. SQLite is required only when it is the data source.
func New(cfg *config.Config) (*Service, error) {
	svc := &Service{
		cfg:     cfg,
		log:     slog.Default().With(slog.String("component", "chartsvc")),
		promReg: prometheus.NewRegistry(),
	}
	svc.prom = metrics.NewMetrics(svc.promReg)

	// ---- Connect to Redis ----
	if cfg.RedisAddr != "" {
		rdb, err := redisstore.NewClient(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			svc.log.Warn("redis unavailable, continuing without layout cache and commands", slog.Any("error", err))
		} else {
			svc.rdb = rdb
		}
	}

	// ---- Open SQLite ----
	if cfg.SQLitePath != "" {
		if err := svc.openSQLite(); err != nil {
			if cfg.DataSource == config.SourceSQLite {
				svc.Close()
				return nil, err
			}
			svc.log.Warn("sqlite unavailable, continuing without durable layouts", slog.Any("error", err))
		}
	} else if cfg.DataSource == config.SourceSQLite {
		return nil, errors.New("sqlite data source needs SQLITE_PATH")
	}

	svc.health = metrics.NewHealthStatus(svc.rdb, svc.sqlDB())

	// ---- Templates and data source ----
	registry := indicator.NewRegistry()
	if err := templates.RegisterBuiltins(registry); err != nil {
		svc.Close()
		return nil, fmt.Errorf("register templates: %w", err)
	}
	source, err := svc.dataSource()
	if err != nil {
		svc.Close()
		return nil, err
	}

	// ---- Live feed ----
	svc.hub = gateway.NewHub()
	svc.hub.ReplaySize = cfg.WSReplaySize
	svc.hub.OnDrop = svc.prom.WSDroppedTotal.Inc
	svc.hub.OnClients = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	svc.feed = gateway.NewFeed(svc.hub, feedBuffer)

	// ---- Store ----
	svc.store = indicator.NewStore(registry, source,
		indicator.WithLogger(slog.Default()),
		indicator.WithPolicy(cfg.BatchPolicy),
		indicator.WithCalcTimeout(cfg.CalcTimeout),
		indicator.WithMaxConcurrency(cfg.MaxConcurrency),
		indicator.WithRecorder(svc.prom),
		indicator.WithListener(svc.feed.Listener),
		indicator.WithListener(func(ev indicator.Event) {
			if ev.Kind == indicator.EventPrecision {
				svc.prom.PrecisionPushes.Inc()
			}
		}),
	)

	// ---- Redis-backed pieces ----
	if svc.rdb != nil {
		svc.cb = redisstore.NewCircuitBreaker(breakerFailures, breakerReset)
		svc.cb.OnStateChange = func(from, to redisstore.State) {
			svc.prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				svc.prom.RedisCircuitBreakerTrips.Inc()
			}
			svc.log.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
		}
		svc.layouts = redisstore.NewLayoutCache(svc.rdb, cfg.SnapshotKey, cfg.SnapshotTTL, svc.cb)
		svc.resultCh = make(chan redisstore.ResultUpdate, resultQueue)
		svc.feed.Sinks = append(svc.feed.Sinks, svc.publishResult)
	}

	// ---- HTTP ----
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	svc.handler = api.NewRouter(&api.Server{
		Store:      svc.store,
		Ingest:     svc.Ingest,
		Limiter:    limiter,
		OnThrottle: svc.prom.HTTPThrottled.Inc,
		Health:     svc.health,
		WS:         svc.hub,
	})

	return svc, nil
}

func (svc *Service) openSQLite() error {
	if dir := filepath.Dir(svc.cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: svc.cfg.SQLitePath})
	if err != nil {
		return err
	}
	r, err := sqlitestore.NewReader(svc.cfg.SQLitePath)
	if err != nil {
		w.Close()
		return err
	}
	svc.sqlWriter, svc.sqlReader = w, r
	return nil
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// dataSource picks the chart data list. A memory source is seeded from the
// stored history when SQLite is available.
func (svc *Service) dataSource() (indicator.DataSource, error) {
	switch svc.cfg.DataSource {
	case config.SourceSQLite:
		return sqlitestore.NewSource(svc.sqlReader, svc.cfg.Symbol, svc.cfg.KLineLimit), nil
	case config.SourceMemory:
		svc.memory = datasource.NewMemory(nil)
		if svc.sqlReader != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			history, err := svc.sqlReader.KLines(ctx, svc.cfg.Symbol, svc.cfg.KLineLimit)
			if err != nil {
				svc.log.Warn("seeding memory source failed", slog.Any("error", err))
			} else {
				svc.memory.Set(history)
				svc.log.Info("memory source seeded", slog.String("symbol", svc.cfg.Symbol), slog.Int("points", len(history)))
			}
			svc.pointCh = make(chan sqlitestore.Point, pointQueue)
		}
		return svc.memory, nil
	}
	return nil, fmt.Errorf("unknown data source %q", svc.cfg.DataSource)
}

// Store returns the indicator store.
func (svc *Service) Store() *indicator.Store { return svc.store }

// Handler returns the HTTP API, including /ws and /healthz.
func (svc *Service) Handler() http.Handler { return svc.handler }

// Gatherer exposes the service metrics.
func (svc *Service) Gatherer() prometheus.Gatherer { return svc.promReg }

// Ingest appends points to the chart data list. Points older than the newest
// stored one are dropped; an equal timestamp replaces the forming point. With
// a memory source the accepted points are also queued for SQLite; with a
// SQLite source they are written through.
func (svc *Service) Ingest(ctx context.Context, points []model.KLine) (int, error) {
	if svc.memory != nil {
		var last int64
		if k, ok := svc.memory.Last(); ok {
			last = k.Timestamp
		}
		kept := dropStale(points, last)
		n := svc.memory.Append(kept...)
		if svc.pointCh != nil {
			for _, p := range kept {
				select {
				case svc.pointCh <- sqlitestore.Point{Symbol: svc.cfg.Symbol, KLine: p}:
				default:
					svc.log.Warn("sqlite queue full, point not persisted", slog.Int64("ts", p.Timestamp))
				}
			}
		}
		return n, nil
	}
	if svc.sqlWriter == nil {
		return 0, errors.New("no writable data source")
	}

	last, err := svc.sqlWriter.LastTimestamp(ctx, svc.cfg.Symbol)
	if err != nil {
		return 0, fmt.Errorf("read last timestamp: %w", err)
	}
	kept := dropStale(points, last)
	if len(kept) == 0 {
		return 0, nil
	}
	if err := svc.sqlWriter.InsertKLines(ctx, svc.cfg.Symbol, kept); err != nil {
		return 0, fmt.Errorf("insert klines: %w", err)
	}
	return len(kept), nil
}

// dropStale keeps the points that do not go back in time, starting from last.
func dropStale(points []model.KLine, last int64) []model.KLine {
	kept := make([]model.KLine, 0, len(points))
	for _, p := range points {
		if p.Timestamp < last {
			continue
		}
		kept = append(kept, p)
		last = p.Timestamp
	}
	return kept
}

// publishResult forwards computed results to the Redis writer. It runs on
// the feed goroutine and never blocks.
func (svc *Service) publishResult(u gateway.Update) {
	if u.Kind != indicator.EventComputed {
		return
	}
	select {
	case svc.resultCh <- redisstore.ResultUpdate{PaneID: u.Pane, Name: u.Name, Points: u.Points, Last: u.Last, At: u.UpdatedAt}:
	default:
		svc.log.Warn("result queue full, dropping update", slog.String("pane", u.Pane), slog.String("name", u.Name))
	}
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	svc.log.Info("starting chart indicator service",
		slog.String("data_source", cfg.DataSource),
		slog.String("symbol", cfg.Symbol),
		slog.Bool("redis", svc.rdb != nil),
		slog.Bool("sqlite", svc.sqlWriter != nil))

	// ---- Restore layout ----
	svc.restore(ctx)

	// ---- Start subsystems ----
	go svc.feed.Run(ctx)
	if svc.rdb != nil {
		results := redisstore.NewResultWriter(ctx, svc.rdb, svc.cb, cfg.ResultBufferMax)
		results.OnBuffer = svc.prom.RedisBufferedResults.Inc
		go results.Run(ctx, svc.resultCh)
		go svc.commandLoop(ctx)
	}
	var writers sync.WaitGroup
	if svc.pointCh != nil {
		writers.Add(1)
		go func() {
			defer writers.Done()
			svc.sqlWriter.Run(ctx, svc.pointCh)
		}()
	}
	go svc.snapshotLoop(ctx)
	if cfg.LayoutFile != "" && cfg.WatchLayoutFile {
		svc.startLayoutWatcher(ctx)
	}

	svc.health.Check(ctx)
	svc.health.StartLivenessChecker(ctx, livenessEvery)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, svc.promReg, svc.health)
	metricsSrv.Start()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           svc.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		svc.log.Info("http api listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// ---- Graceful shutdown ----
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		svc.log.Warn("http shutdown", slog.Any("error", err))
	}
	if err := metricsSrv.Stop(shutCtx); err != nil {
		svc.log.Warn("metrics shutdown", slog.Any("error", err))
	}
	svc.saveSnapshot(shutCtx)
	writers.Wait()
	svc.Close()
	svc.log.Info("shutdown complete")
	return runErr
}

// Close releases the backend connections.
func (svc *Service) Close() {
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	if svc.rdb != nil {
		svc.rdb.Close()
	}
}

func (svc *Service) startLayoutWatcher(ctx context.Context) {
	w, err := layout.NewWatcher(svc.cfg.LayoutFile, svc.store, slog.Default())
	if err != nil {
		svc.log.Warn("layout watcher disabled", slog.Any("error", err))
		return
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			svc.log.Warn("layout watcher stopped", slog.Any("error", err))
		}
	}()
}
