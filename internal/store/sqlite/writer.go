package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chartind/internal/indicator"
	"chartind/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	layoutsKept       = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/chart.db"
}

// Point is one kline belonging to a symbol, as queued for Run.
type Point struct {
	Symbol string
	KLine  model.KLine
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db  *sql.DB
	log *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	l := slog.Default().With(slog.String("component", "sqlite"))
	l.Info("opened database", slog.String("path", cfg.DBPath))
	return &Writer{db: db, log: l}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS klines (
			symbol   TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL    NOT NULL DEFAULT 0,
			turnover REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS indicator_layouts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

// Run reads points from pointCh and inserts them in batched transactions.
// Flushes every batchSize points OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or pointCh is closed.
func (w *Writer) Run(ctx context.Context, pointCh <-chan Point) {
	batch := make([]Point, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(context.WithoutCancel(ctx), batch); err != nil {
			w.log.Error("batch insert failed", slog.Any("error", err))
		} else {
			w.log.Debug("committed klines", slog.Int("count", len(batch)), slog.Duration("took", time.Since(start)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case p, ok := <-pointCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, p)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// InsertKLines upserts klines for symbol in one transaction.
func (w *Writer) InsertKLines(ctx context.Context, symbol string, klines []model.KLine) error {
	batch := make([]Point, len(klines))
	for i, k := range klines {
		batch[i] = Point{Symbol: symbol, KLine: k}
	}
	return w.insertBatch(ctx, batch)
}

// insertBatch upserts a batch of points in a single transaction.
func (w *Writer) insertBatch(ctx context.Context, points []Point) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO klines (symbol, ts, open, high, low, close, volume, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		k := p.KLine
		if _, err := stmt.ExecContext(ctx, p.Symbol, k.Timestamp, k.Open, k.High, k.Low, k.Close, k.Volume, k.Turnover); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LastTimestamp returns the newest stored kline timestamp for symbol, or 0.
func (w *Writer) LastTimestamp(ctx context.Context, symbol string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM klines WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// SaveLayout stores a layout snapshot and prunes all but the newest few.
func (w *Writer) SaveLayout(ctx context.Context, layout *indicator.Layout) error {
	data, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("marshal layout: %w", err)
	}

	_, err = w.db.ExecContext(ctx,
		`INSERT INTO indicator_layouts (data, created_at) VALUES (?, ?)`,
		string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite insert layout: %w", err)
	}

	_, err = w.db.ExecContext(ctx,
		`DELETE FROM indicator_layouts WHERE id NOT IN (SELECT id FROM indicator_layouts ORDER BY id DESC LIMIT ?)`,
		layoutsKept)
	if err != nil {
		w.log.Warn("prune layouts failed", slog.Any("error", err))
	}

	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
