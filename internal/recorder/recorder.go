// Package recorder persists target records only when their content changed.
package recorder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// Outcome reports what RecordIfChanged did.
type Outcome string

const (
	// Upserted means the record was written.
	Upserted Outcome = "upserted"
	// Unchanged means the stored record already matched.
	Unchanged Outcome = "unchanged"
)

// Recorder performs dirty-checked upserts. It remembers the fingerprint of
// the last record it saw per identity so unchanged records cost no I/O.
// A Recorder belongs to one session and is not safe for concurrent use.
type Recorder struct {
	store  draw.RecordStore
	hasher draw.Fingerprinter
	clock  draw.Clock
	logger *zap.Logger
	known  map[string]string
}

// New creates a Recorder.
func New(store draw.RecordStore, hasher draw.Fingerprinter, clock draw.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:  store,
		hasher: hasher,
		clock:  clock,
		logger: logger,
		known:  make(map[string]string),
	}
}

// RecordIfChanged writes rec unless the stored record for the same identity
// has identical business fields.
func (r *Recorder) RecordIfChanged(ctx context.Context, rec draw.Record) (Outcome, error) {
	fp, err := r.hasher.Fingerprint(rec.Business())
	if err != nil {
		return "", fmt.Errorf("fingerprint record %s: %w", rec.ID, err)
	}
	if known, ok := r.known[rec.ID]; ok && known == fp {
		return Unchanged, nil
	}

	existing, found, err := r.store.Get(ctx, rec.ID)
	if err != nil {
		return "", fmt.Errorf("load record %s: %w", rec.ID, err)
	}
	now := r.clock.Now()
	rec.CreatedAt = now
	if found {
		storedFP, err := r.hasher.Fingerprint(existing.Business())
		if err != nil {
			return "", fmt.Errorf("fingerprint stored record %s: %w", rec.ID, err)
		}
		if storedFP == fp {
			r.known[rec.ID] = fp
			return Unchanged, nil
		}
		if !existing.CreatedAt.IsZero() {
			rec.CreatedAt = existing.CreatedAt
		}
	}
	rec.UpdatedAt = now
	if err := r.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	r.known[rec.ID] = fp
	r.logger.Debug("record upserted", zap.String("record_id", rec.ID), zap.Bool("existing", found))
	return Upserted, nil
}
