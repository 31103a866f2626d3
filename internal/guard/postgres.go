package guard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type lockPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Postgres is a guard backed by a lock table. A row older than staleAfter is
// taken over by the next acquirer in the same statement that inserts it.
type Postgres struct {
	pool  lockPool
	table string
	opts  Options
}

// NewPostgres creates a Postgres guard writing to table.
func NewPostgres(pool lockPool, table string, opts Options) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "session_locks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table, opts: opts.withDefaults()}, nil
}

// EnsureSchema creates the lock table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	lock_key    TEXT PRIMARY KEY,
	token       TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL
)`, p.table)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create lock table: %w", err)
	}
	return nil
}

// Acquire inserts the lock row, replacing it only when stale.
func (p *Postgres) Acquire(ctx context.Context, key string, staleAfter time.Duration) (Lease, error) {
	token, err := p.opts.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}
	now := p.opts.Clock.Now()
	query := fmt.Sprintf(`
INSERT INTO %[1]s (lock_key, token, acquired_at) VALUES ($1, $2, $3)
ON CONFLICT (lock_key) DO UPDATE
	SET token = EXCLUDED.token, acquired_at = EXCLUDED.acquired_at
	WHERE %[1]s.acquired_at < $4
RETURNING token`, p.table)

	var got string
	err = p.pool.QueryRow(ctx, query, key, token, now, now.Add(-staleAfter)).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	release := fmt.Sprintf(`DELETE FROM %s WHERE lock_key = $1 AND token = $2`, p.table)
	return &lease{
		key:   key,
		token: token,
		release: func(ctx context.Context) error {
			if _, err := p.pool.Exec(ctx, release, key, token); err != nil {
				return fmt.Errorf("release lock %s: %w", key, err)
			}
			return nil
		},
	}, nil
}
