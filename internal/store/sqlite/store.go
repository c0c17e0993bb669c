// Package sqlite implements the durable candle store: a keyed record store
// with upsert-by-key, point lookups, and an administrative delete.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"candle-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the store.
type Config struct {
	DBPath string // path to the SQLite database file, e.g. "data/candles.db"
}

// Filter narrows DeleteAll. Zero-value fields match everything.
type Filter struct {
	Token       string
	Granularity model.Granularity
}

// Store is a single-writer SQLite store in WAL mode. Rows are keyed by
// (token, granularity, bucket_start); the final column distinguishes
// completed buckets from in-progress snapshots.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database, enables WAL, and bootstraps the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer discipline: all writes come from the rollover cycle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			token        TEXT    NOT NULL,
			granularity  TEXT    NOT NULL,
			bucket_start INTEGER NOT NULL,
			name         TEXT,
			exchange     TEXT,
			open         INTEGER NOT NULL,
			high         INTEGER NOT NULL,
			high_set     INTEGER NOT NULL DEFAULT 1,
			low          INTEGER NOT NULL,
			close        INTEGER NOT NULL,
			volume       INTEGER NOT NULL,
			tick_count   INTEGER NOT NULL,
			final        INTEGER NOT NULL DEFAULT 0,
			updated_at   INTEGER NOT NULL,
			PRIMARY KEY (token, granularity, bucket_start)
		);
	`)
	return err
}

const upsertSQL = `
	INSERT OR REPLACE INTO candles
		(token, granularity, bucket_start, name, exchange,
		 open, high, high_set, low, close, volume, tick_count, final, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Upsert inserts or replaces one candle row.
func (s *Store) Upsert(ctx context.Context, c model.Candle, final bool) error {
	_, err := s.db.ExecContext(ctx, upsertSQL,
		c.Token, string(c.Granularity), c.BucketStart.Unix(), c.Name, c.Exchange,
		c.Open, c.High, boolInt(c.HighSet), c.Low, c.Close,
		c.Volume, c.TickCount, boolInt(final), c.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert %s: %w", c.Key(), err)
	}
	return nil
}

// UpsertBatch writes all candles in a single transaction.
func (s *Store) UpsertBatch(ctx context.Context, candles []model.Candle, final bool) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for i := range candles {
		c := &candles[i]
		if _, err := stmt.ExecContext(ctx,
			c.Token, string(c.Granularity), c.BucketStart.Unix(), c.Name, c.Exchange,
			c.Open, c.High, boolInt(c.HighSet), c.Low, c.Close,
			c.Volume, c.TickCount, boolInt(final), c.UpdatedAt.Unix(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite batch upsert %s: %w", c.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Find returns the candle at the key, or nil when no row exists.
func (s *Store) Find(ctx context.Context, token string, g model.Granularity, bucketStart time.Time) (*model.Candle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, granularity, bucket_start, name, exchange,
		       open, high, high_set, low, close, volume, tick_count, updated_at
		FROM candles
		WHERE token = ? AND granularity = ? AND bucket_start = ?
	`, token, string(g), bucketStart.Unix())

	var c model.Candle
	var gran string
	var startUnix, updatedUnix int64
	var highSet int
	var name, exchange sql.NullString
	err := row.Scan(&c.Token, &gran, &startUnix, &name, &exchange,
		&c.Open, &c.High, &highSet, &c.Low, &c.Close, &c.Volume, &c.TickCount, &updatedUnix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite find %s %s: %w", token, g, err)
	}

	c.Granularity = model.Granularity(gran)
	c.BucketStart = time.Unix(startUnix, 0)
	c.UpdatedAt = time.Unix(updatedUnix, 0)
	c.HighSet = highSet != 0
	c.Name = name.String
	c.Exchange = exchange.String
	return &c, nil
}

// DeleteAll removes rows matching the filter and returns the count.
// Administrative, used by test/reset flows only.
func (s *Store) DeleteAll(ctx context.Context, f Filter) (int64, error) {
	q := "DELETE FROM candles WHERE 1=1"
	args := make([]any, 0, 2)
	if f.Token != "" {
		q += " AND token = ?"
		args = append(args, f.Token)
	}
	if f.Granularity != "" {
		q += " AND granularity = ?"
		args = append(args, string(f.Granularity))
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite delete: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAllCandles removes every row. Satisfies the inspection API's Wiper.
func (s *Store) DeleteAllCandles(ctx context.Context) (int64, error) {
	return s.DeleteAll(ctx, Filter{})
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
