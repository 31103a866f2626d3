// Package sqlite provides a single-file record store for local deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// RecordStore implements draw.RecordStore using modernc.org/sqlite.
type RecordStore struct {
	db *sql.DB
}

// Open opens a SQLite database at path and configures WAL mode.
func Open(path string) (*RecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite exec %s: %w", pragma, err)
		}
	}
	return &RecordStore{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS draw_results (
	id          TEXT PRIMARY KEY,
	family      TEXT NOT NULL,
	code        TEXT NOT NULL,
	draw_date   TEXT NOT NULL,
	region      TEXT NOT NULL DEFAULT '',
	region_slug TEXT NOT NULL DEFAULT '',
	weekday     TEXT NOT NULL DEFAULT '',
	year        INTEGER NOT NULL,
	month       INTEGER NOT NULL,
	fields      TEXT NOT NULL,
	complete    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_draw_results_family_date ON draw_results(family, draw_date);
`

// Migrate creates the schema.
func (s *RecordStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get loads the record with id.
func (s *RecordStore) Get(ctx context.Context, id string) (draw.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, family, code, draw_date, region, region_slug, weekday, year, month,
	fields, complete, created_at, updated_at
FROM draw_results WHERE id = ?`, id)

	var (
		rec                        draw.Record
		drawDate, created, updated string
		fields                     string
	)
	err := row.Scan(
		&rec.ID, &rec.Family, &rec.Code, &drawDate, &rec.Region, &rec.RegionSlug, &rec.Weekday,
		&rec.Year, &rec.Month, &fields, &rec.Complete, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return draw.Record{}, false, nil
	}
	if err != nil {
		return draw.Record{}, false, fmt.Errorf("sqlite get record %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return draw.Record{}, false, fmt.Errorf("sqlite decode fields %s: %w", id, err)
	}
	for _, ts := range []struct {
		raw string
		dst *time.Time
	}{{drawDate, &rec.DrawDate}, {created, &rec.CreatedAt}, {updated, &rec.UpdatedAt}} {
		parsed, err := time.Parse(time.RFC3339Nano, ts.raw)
		if err != nil {
			return draw.Record{}, false, fmt.Errorf("sqlite parse time %q: %w", ts.raw, err)
		}
		*ts.dst = parsed
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
		return fmt.Errorf("sqlite marshal fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO draw_results (
	id, family, code, draw_date, region, region_slug, weekday, year, month,
	fields, complete, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	region = excluded.region,
	region_slug = excluded.region_slug,
	fields = excluded.fields,
	complete = excluded.complete,
	updated_at = excluded.updated_at`,
		rec.ID, rec.Family, rec.Code, rec.DrawDate.Format(time.RFC3339Nano),
		rec.Region, rec.RegionSlug, rec.Weekday, rec.Year, rec.Month,
		string(fields), rec.Complete,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert record %s: %w", rec.ID, err)
	}
	return nil
}
