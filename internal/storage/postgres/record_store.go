// Package postgres provides the Postgres-backed record store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for draw records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// RecordStore reads and upserts draw records.
type RecordStore struct {
	pool  Pool
	table string
}

// Connect opens a pool for cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewRecordStore constructs a store on an existing pool.
func NewRecordStore(pool Pool, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "draw_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the record table if it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	family      TEXT NOT NULL,
	code        TEXT NOT NULL,
	draw_date   DATE NOT NULL,
	region      TEXT NOT NULL DEFAULT '',
	region_slug TEXT NOT NULL DEFAULT '',
	weekday     TEXT NOT NULL DEFAULT '',
	year        INT NOT NULL,
	month       INT NOT NULL,
	fields      JSONB NOT NULL,
	complete    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create record table: %w", err)
	}
	return nil
}

// Get loads the record with id.
func (s *RecordStore) Get(ctx context.Context, id string) (draw.Record, bool, error) {
	query := fmt.Sprintf(`
SELECT id, family, code, draw_date, region, region_slug, weekday, year, month,
	fields, complete, created_at, updated_at
FROM %s WHERE id = $1`, s.table)

	var (
		rec    draw.Record
		fields []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Family,
		&rec.Code,
		&rec.DrawDate,
		&rec.Region,
		&rec.RegionSlug,
		&rec.Weekday,
		&rec.Year,
		&rec.Month,
		&fields,
		&rec.Complete,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return draw.Record{}, false, nil
	}
	if err != nil {
		return draw.Record{}, false, fmt.Errorf("select record %s: %w", id, err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return draw.Record{}, false, fmt.Errorf("decode record fields %s: %w", id, err)
	}
	return rec, true, nil
}

// Upsert inserts rec or replaces its mutable columns, keeping created_at.
func (s *RecordStore) Upsert(ctx context.Context, rec draw.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, family, code, draw_date, region, region_slug, weekday, year, month,
	fields, complete, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (id) DO UPDATE SET
	region = EXCLUDED.region,
	region_slug = EXCLUDED.region_slug,
	fields = EXCLUDED.fields,
	complete = EXCLUDED.complete,
	updated_at = EXCLUDED.updated_at`, s.table)

	args := []any{
		rec.ID,
		rec.Family,
		rec.Code,
		rec.DrawDate,
		rec.Region,
		rec.RegionSlug,
		rec.Weekday,
		rec.Year,
		rec.Month,
		fields,
		rec.Complete,
		rec.CreatedAt,
		rec.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
