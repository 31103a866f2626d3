package guard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	token      string
	acquiredAt time.Time
}

// Memory is an in-process guard for single-instance deployments and tests.
type Memory struct {
	opts  Options
	mu    sync.Mutex
	locks map[string]memoryEntry
}

// NewMemory creates a Memory guard.
func NewMemory(opts Options) *Memory {
	return &Memory{opts: opts.withDefaults(), locks: make(map[string]memoryEntry)}
}

// Acquire takes the lock for key unless a fresh holder exists.
func (m *Memory) Acquire(_ context.Context, key string, staleAfter time.Duration) (Lease, error) {
	token, err := m.opts.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}
	now := m.opts.Clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.locks[key]; ok && now.Sub(held.acquiredAt) < staleAfter {
		return nil, ErrBusy
	}
	m.locks[key] = memoryEntry{token: token, acquiredAt: now}
	return &lease{
		key:   key,
		token: token,
		release: func(context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if held, ok := m.locks[key]; ok && held.token == token {
				delete(m.locks, key)
			}
			return nil
		},
	}, nil
}
