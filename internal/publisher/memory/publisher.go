// Package memory contains an in-memory event publisher for tests and dry runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// Publisher records published batches for inspection.
type Publisher struct {
	mu       sync.RWMutex
	batches  []Batch
	expiries map[string]time.Duration
	err      error
}

// Batch captures one publish call.
type Batch struct {
	Channel draw.Channel
	Events  []draw.ChangeEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{expiries: make(map[string]time.Duration)}
}

// SetError makes subsequent publishes fail with err until cleared with nil.
func (p *Publisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the batch.
func (p *Publisher) Publish(_ context.Context, ch draw.Channel, events []draw.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, Batch{Channel: ch, Events: append([]draw.ChangeEvent(nil), events...)})
	return nil
}

// Expire records the snapshot expiry requested for a channel.
func (p *Publisher) Expire(_ context.Context, ch draw.Channel, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiries[ch.SnapshotKey] = ttl
	return nil
}

// Batches returns the recorded publishes.
func (p *Publisher) Batches() []Batch {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Batch, len(p.batches))
	copy(out, p.batches)
	return out
}

// Events returns every recorded event in publish order.
func (p *Publisher) Events() []draw.ChangeEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []draw.ChangeEvent
	for _, b := range p.batches {
		out = append(out, b.Events...)
	}
	return out
}

// Expiries returns the requested expiry per snapshot key.
func (p *Publisher) Expiries() map[string]time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]time.Duration, len(p.expiries))
	for k, v := range p.expiries {
		out[k] = v
	}
	return out
}
