package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indicator store service.
type Metrics struct {
	Instances       prometheus.Gauge
	CalcDuration    *prometheus.HistogramVec // labels: name
	CalcTotal       *prometheus.CounterVec   // labels: name, result
	OverridesTotal  *prometheus.CounterVec   // labels: name, recompute
	PrecisionPushes prometheus.Counter

	// Persistence
	LayoutSaves *prometheus.CounterVec // labels: target=redis|sqlite, result

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedResults     prometheus.Counter

	// Fan-out
	WSClients      prometheus.Gauge
	WSDroppedTotal prometheus.Counter

	// API
	HTTPThrottled prometheus.Counter
	Commands      *prometheus.CounterVec // labels: op, result
}

// NewMetrics creates every metric and registers it on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartind_instances",
			Help: "Live indicator instances across all panes",
		}),
		CalcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartind_calc_duration_seconds",
			Help:    "Indicator calculation duration over the full data list",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"name"}),
		CalcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartind_calc_total",
			Help: "Indicator calculations by outcome",
		}, []string{"name", "result"}),
		OverridesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartind_overrides_total",
			Help: "Overrides applied, split by whether they scheduled a recompute",
		}, []string{"name", "recompute"}),
		PrecisionPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartind_precision_updates_total",
			Help: "Instances whose precision was updated by the chart",
		}),
		LayoutSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartind_layout_saves_total",
			Help: "Layout snapshot writes by target and outcome",
		}, []string{"target", "result"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartind_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartind_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		RedisBufferedResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartind_redis_buffered_results_total",
			Help: "Result updates buffered while Redis was unavailable",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartind_ws_clients",
			Help: "Connected websocket clients",
		}),
		WSDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartind_ws_dropped_total",
			Help: "Websocket messages dropped for slow clients",
		}),
		HTTPThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartind_http_throttled_total",
			Help: "Recompute requests rejected by the rate limiter",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartind_commands_total",
			Help: "Commands received on the Redis command channel",
		}, []string{"op", "result"}),
	}

	reg.MustRegister(
		m.Instances,
		m.CalcDuration,
		m.CalcTotal,
		m.OverridesTotal,
		m.PrecisionPushes,
		m.LayoutSaves,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedResults,
		m.WSClients,
		m.WSDroppedTotal,
		m.HTTPThrottled,
		m.Commands,
	)
	return m
}

// ObserveCalc records one calculation.
func (m *Metrics) ObserveCalc(name string, d time.Duration, ok bool) {
	m.CalcDuration.WithLabelValues(name).Observe(d.Seconds())
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.CalcTotal.WithLabelValues(name, result).Inc()
}

// SetInstances records the live instance count.
func (m *Metrics) SetInstances(n int) {
	m.Instances.Set(float64(n))
}

// IncOverride counts one applied override.
func (m *Metrics) IncOverride(name string, calcParamsChanged bool) {
	m.OverridesTotal.WithLabelValues(name, strconv.FormatBool(calcParamsChanged)).Inc()
}

// ObserveLayoutSave counts a snapshot write to target.
func (m *Metrics) ObserveLayoutSave(target string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.LayoutSaves.WithLabelValues(target, result).Inc()
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	RestoredFrom   string    `json:"restored_from"`
	LastSnapshotAt time.Time `json:"last_snapshot_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// Optional probes; nil means the dependency is not configured.
	redis  *goredis.Client
	sqlite *sql.DB
}

// NewHealthStatus returns a health status for the configured dependencies.
// Either may be nil.
func NewHealthStatus(rdb *goredis.Client, db *sql.DB) *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), redis: rdb, sqlite: db}
}

func (h *HealthStatus) SetRestoredFrom(source string) {
	h.mu.Lock()
	h.RestoredFrom = source
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSnapshot(t time.Time) {
	h.mu.Lock()
	h.LastSnapshotAt = t
	h.mu.Unlock()
}

// Check probes every configured dependency and records latency and health.
func (h *HealthStatus) Check(ctx context.Context) {
	if h.redis != nil {
		start := time.Now()
		err := h.redis.Ping(ctx).Err()
		latency := time.Since(start)
		h.mu.Lock()
		h.RedisConnected = err == nil
		h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
		h.mu.Unlock()
	}
	if h.sqlite != nil {
		start := time.Now()
		err := h.sqlite.PingContext(ctx)
		latency := time.Since(start)
		h.mu.Lock()
		h.SQLiteOK = err == nil
		h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
		h.mu.Unlock()
	}
	h.mu.Lock()
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs Check every interval until ctx is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.Check(probeCtx)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. The store itself lives in memory,
// so missing persistence only degrades the service.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	redisDown := h.redis != nil && !h.RedisConnected
	sqliteDown := h.sqlite != nil && !h.SQLiteOK
	if redisDown || sqliteDown {
		overallStatus = "degraded"
	}
	if h.redis != nil && h.sqlite != nil && redisDown && sqliteDown {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	lastSnapshot := ""
	if !h.LastSnapshotAt.IsZero() {
		lastSnapshot = h.LastSnapshotAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RestoredFrom    string  `json:"restored_from"`
		LastSnapshotAt  string  `json:"last_snapshot_at,omitempty"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RestoredFrom:    h.RestoredFrom,
		LastSnapshotAt:  lastSnapshot,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server serving gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: slog.Default().With(slog.String("component", "metrics")),
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", slog.Any("error", err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
