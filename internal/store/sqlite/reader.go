package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"chartind/internal/indicator"
	"chartind/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to klines and saved layouts.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	slog.Default().Info("opened database reader", slog.String("component", "sqlite"), slog.String("path", dbPath))
	return &Reader{db: db}, nil
}

// KLines returns symbol's klines ordered by timestamp ascending. A positive
// limit keeps only the newest limit points.
func (r *Reader) KLines(ctx context.Context, symbol string, limit int) ([]model.KLine, error) {
	query := `
		SELECT ts, open, high, low, close, volume, turnover FROM (
			SELECT ts, open, high, low, close, volume, turnover
			FROM klines
			WHERE symbol = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query klines: %w", err)
	}
	defer rows.Close()

	var klines []model.KLine
	for rows.Next() {
		var k model.KLine
		if err := rows.Scan(&k.Timestamp, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &k.Turnover); err != nil {
			return nil, fmt.Errorf("sqlite scan klines: %w", err)
		}
		klines = append(klines, k)
	}
	return klines, rows.Err()
}

// LatestLayout loads the most recent layout snapshot, or nil when none exists.
func (r *Reader) LatestLayout(ctx context.Context) (*indicator.Layout, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM indicator_layouts
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read layout: %w", err)
	}

	var layout indicator.Layout
	if err := json.Unmarshal([]byte(data), &layout); err != nil {
		return nil, fmt.Errorf("unmarshal layout: %w", err)
	}
	return &layout, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Source serves one symbol's stored klines as a chart data list.
type Source struct {
	reader *Reader
	symbol string
	limit  int
}

// NewSource returns a data source reading symbol's newest limit klines
// (all of them when limit <= 0) on every call.
func NewSource(reader *Reader, symbol string, limit int) *Source {
	return &Source{reader: reader, symbol: symbol, limit: limit}
}

// DataList implements indicator.DataSource.
func (s *Source) DataList(ctx context.Context) ([]model.KLine, error) {
	return s.reader.KLines(ctx, s.symbol, s.limit)
}
