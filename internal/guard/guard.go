// Package guard keeps at most one session per family running at a time.
//
// Every backend implements the same contract: Acquire fails with ErrBusy while
// another holder's lock is younger than staleAfter, a lock older than that is
// reclaimed, and releasing a lease twice is harmless.
package guard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-draw-watcher/internal/clock/system"
	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/id/uuid"
)

// ErrBusy is returned when another holder owns a fresh lock for the key.
var ErrBusy = errors.New("guard: lock is held by another session")

// Guard acquires exclusive leases.
type Guard interface {
	Acquire(ctx context.Context, key string, staleAfter time.Duration) (Lease, error)
}

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Key() string
	Token() string
	Release(ctx context.Context) error
}

// Options carries the collaborators shared by every backend.
type Options struct {
	Clock draw.Clock
	IDs   draw.IDGenerator
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = system.New()
	}
	if o.IDs == nil {
		o.IDs = uuid.New()
	}
	return o
}

// LockKey returns the guard key for a family.
func LockKey(family string) string {
	return "drawwatch:lock:" + strings.ToLower(family)
}

// lease is the shared Lease implementation; release does the backend work.
type lease struct {
	key     string
	token   string
	once    sync.Once
	release func(ctx context.Context) error
	err     error
}

func (l *lease) Key() string   { return l.key }
func (l *lease) Token() string { return l.token }

func (l *lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.release(ctx)
	})
	return l.err
}
