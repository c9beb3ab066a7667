// Package config loads the chartind service configuration from the
// environment, with an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"chartind/internal/indicator"
	"chartind/internal/logger"
)

// Data source kinds.
const (
	SourceMemory = "memory"
	SourceSQLite = "sqlite"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    slog.Level

	// Infrastructure. An empty RedisAddr runs without Redis.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string

	// Chart data
	Symbol     string
	DataSource string // memory | sqlite
	KLineLimit int    // points loaded from SQLite per recompute, 0 = all

	// Layout persistence
	LayoutFile       string // YAML preset, optional
	WatchLayoutFile  bool
	SnapshotKey      string
	SnapshotInterval time.Duration
	SnapshotTTL      time.Duration

	// Recompute
	CalcTimeout    time.Duration
	BatchPolicy    indicator.BatchPolicy
	MaxConcurrency int

	// Remote control and fan-out
	CommandChannel  string
	ResultBufferMax int
	WSReplaySize    int

	// Recompute endpoint throttle
	RateLimit float64 // requests per second, 0 disables
	RateBurst int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		HTTPAddr:    getEnv("CHARTIND_HTTP_ADDR", ":9095"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    logger.ParseLevel(getEnv("LOG_LEVEL", "info")),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/chartind.db"),

		Symbol:     getEnv("SYMBOL", "NIFTY"),
		DataSource: strings.ToLower(getEnv("DATA_SOURCE", SourceSQLite)),

		LayoutFile:  getEnv("LAYOUT_FILE", ""),
		SnapshotKey: getEnv("SNAPSHOT_KEY", "ind:layout:chart"),

		CommandChannel: getEnv("COMMAND_CHANNEL", "config:indicators"),
	}

	cfg.RedisDB = getEnvInt("REDIS_DB", 0, &errs)
	cfg.KLineLimit = getEnvInt("KLINE_LIMIT", 5000, &errs)
	cfg.WatchLayoutFile = getEnvBool("WATCH_LAYOUT_FILE", true, &errs)
	cfg.SnapshotInterval = getEnvDuration("SNAPSHOT_INTERVAL", 30*time.Second, &errs)
	cfg.SnapshotTTL = getEnvDuration("SNAPSHOT_TTL", 24*time.Hour, &errs)
	cfg.CalcTimeout = getEnvDuration("CALC_TIMEOUT", 5*time.Second, &errs)
	cfg.MaxConcurrency = getEnvInt("MAX_CONCURRENCY", 0, &errs)
	cfg.ResultBufferMax = getEnvInt("RESULT_BUFFER_MAX", 1000, &errs)
	cfg.WSReplaySize = getEnvInt("WS_REPLAY_SIZE", 256, &errs)
	cfg.RateLimit = getEnvFloat("RATE_LIMIT", 5, &errs)
	cfg.RateBurst = getEnvInt("RATE_BURST", 10, &errs)

	policy, err := indicator.ParseBatchPolicy(getEnv("BATCH_POLICY", "fail_fast"))
	if err != nil {
		errs = append(errs, fmt.Errorf("BATCH_POLICY: %w", err))
	}
	cfg.BatchPolicy = policy

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("CHARTIND_HTTP_ADDR must be set"))
	}
	switch c.DataSource {
	case SourceMemory:
	case SourceSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH must be set for the sqlite data source"))
		}
		if c.Symbol == "" {
			errs = append(errs, errors.New("SYMBOL must be set for the sqlite data source"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATA_SOURCE must be %q or %q, got %q", SourceMemory, SourceSQLite, c.DataSource))
	}
	if c.KLineLimit < 0 {
		errs = append(errs, errors.New("KLINE_LIMIT cannot be negative"))
	}
	if c.SnapshotInterval <= 0 {
		errs = append(errs, errors.New("SNAPSHOT_INTERVAL must be positive"))
	}
	if c.CalcTimeout < 0 {
		errs = append(errs, errors.New("CALC_TIMEOUT cannot be negative"))
	}
	if c.MaxConcurrency < 0 {
		errs = append(errs, errors.New("MAX_CONCURRENCY cannot be negative"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, errors.New("REDIS_DB cannot be negative"))
	}
	if c.ResultBufferMax <= 0 {
		errs = append(errs, errors.New("RESULT_BUFFER_MAX must be positive"))
	}
	if c.WSReplaySize <= 0 {
		errs = append(errs, errors.New("WS_REPLAY_SIZE must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("RATE_LIMIT cannot be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		errs = append(errs, errors.New("RATE_BURST must be positive when RATE_LIMIT is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return b
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return d
}
