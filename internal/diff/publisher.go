// Package diff turns committed target state into change events.
package diff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// Snapshot holds the last values accepted by the event transport for one target.
type Snapshot struct {
	values map[string]string
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{values: make(map[string]string)}
}

// Get returns the last published value for key.
func (s *Snapshot) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len reports the number of published keys.
func (s *Snapshot) Len() int {
	return len(s.values)
}

func (s *Snapshot) apply(updates map[string]string) {
	for k, v := range updates {
		s.values[k] = v
	}
}

// Config controls event shaping.
type Config struct {
	Family draw.Family
	// WholeFields additionally emits one event per field once all of its slots are valid.
	WholeFields bool
}

// Publisher emits the difference between committed state and the per-target
// snapshot. One Publisher belongs to one session.
type Publisher struct {
	cfg       Config
	events    draw.EventPublisher
	clock     draw.Clock
	logger    *zap.Logger
	snapshots map[string]*Snapshot
}

// New creates a Publisher.
func New(cfg Config, events draw.EventPublisher, clock draw.Clock, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:       cfg,
		events:    events,
		clock:     clock,
		logger:    logger,
		snapshots: make(map[string]*Snapshot),
	}
}

// Snapshot returns the snapshot kept for target, creating it on first use.
func (p *Publisher) Snapshot(target draw.Target) *Snapshot {
	id := target.ID()
	snap, ok := p.snapshots[id]
	if !ok {
		snap = NewSnapshot()
		p.snapshots[id] = snap
	}
	return snap
}

// Publish emits events for every committed slot that differs from the
// snapshot. The snapshot only advances after the transport accepts the batch,
// so a failed publish is raised again on the next call.
func (p *Publisher) Publish(
	ctx context.Context,
	target draw.Target,
	committed map[string][]string,
) ([]draw.ChangeEvent, error) {
	snap := p.Snapshot(target)
	now := p.clock.Now()
	var (
		events  []draw.ChangeEvent
		updates = make(map[string]string)
	)
	for _, spec := range p.cfg.Family.Schema {
		vals := committed[spec.Key]
		complete := len(vals) == spec.Slots
		for i, v := range vals {
			if v == draw.Placeholder || v == "" {
				complete = false
				continue
			}
			key := draw.SlotKey(spec.Key, i)
			if prev, ok := snap.Get(key); ok && prev == v {
				continue
			}
			ev := p.event(target, spec.Key, i, now)
			ev.Key = key
			ev.Value = v
			events = append(events, ev)
			updates[key] = v
		}
		if !p.cfg.WholeFields || !complete {
			continue
		}
		joined := strings.Join(vals, ",")
		if prev, ok := snap.Get(spec.Key); ok && prev == joined {
			continue
		}
		ev := p.event(target, spec.Key, draw.WholeField, now)
		ev.Key = spec.Key
		ev.Values = append([]string(nil), vals...)
		events = append(events, ev)
		updates[spec.Key] = joined
	}
	if len(events) == 0 {
		return nil, nil
	}
	ch := target.Channel(p.cfg.Family.MultiTarget)
	if err := p.events.Publish(ctx, ch, events); err != nil {
		return nil, fmt.Errorf("publish %d events to %s: %w", len(events), ch.Name, err)
	}
	snap.apply(updates)
	p.logger.Debug("published changes",
		zap.String("channel", ch.Name),
		zap.Int("events", len(events)),
	)
	return events, nil
}

func (p *Publisher) event(target draw.Target, field string, slot int, now time.Time) draw.ChangeEvent {
	return draw.ChangeEvent{
		TargetID:   target.ID(),
		Family:     target.Family,
		DrawDate:   draw.FormatDate(target.Date),
		Region:     target.Region,
		RegionSlug: target.RegionSlug,
		Year:       target.Date.Year(),
		Month:      int(target.Date.Month()),
		Field:      field,
		Slot:       slot,
		IssuedAt:   now,
	}
}
