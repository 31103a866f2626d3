// Package redis publishes change events on Redis channels and keeps the
// companion snapshot hash that late subscribers read on connect.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// Publisher implements draw.EventPublisher over go-redis.
type Publisher struct {
	client redis.UniversalClient
}

// New creates a Publisher.
func New(client redis.UniversalClient) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Publisher{client: client}, nil
}

// metadata is stored under the snapshot meta key for each target.
type metadata struct {
	TargetID   string `json:"target_id"`
	Family     string `json:"family"`
	DrawDate   string `json:"draw_date"`
	Region     string `json:"region,omitempty"`
	RegionSlug string `json:"region_slug,omitempty"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	UpdatedAt  string `json:"updated_at"`
}

// Publish sends every event to the channel and records its value in the
// snapshot hash within a single MULTI/EXEC transaction.
func (p *Publisher) Publish(ctx context.Context, ch draw.Channel, events []draw.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	payloads := make([][]byte, 0, len(events))
	snapshot := make(map[string]any, len(events))
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.Key, err)
		}
		payloads = append(payloads, body)
		value, err := snapshotValue(ev)
		if err != nil {
			return err
		}
		snapshot[ev.Key] = value
	}
	last := events[len(events)-1]
	meta, err := json.Marshal(metadata{
		TargetID:   last.TargetID,
		Family:     last.Family,
		DrawDate:   last.DrawDate,
		Region:     last.Region,
		RegionSlug: last.RegionSlug,
		Year:       last.Year,
		Month:      last.Month,
		UpdatedAt:  last.IssuedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot metadata: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, body := range payloads {
			pipe.Publish(ctx, ch.Name, body)
		}
		pipe.HSet(ctx, ch.SnapshotKey, snapshot)
		pipe.HSet(ctx, ch.MetaKey(), "metadata", meta)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", ch.Name, err)
	}
	return nil
}

// Expire sets a TTL on the snapshot hash and its metadata.
func (p *Publisher) Expire(ctx context.Context, ch draw.Channel, ttl time.Duration) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, ch.SnapshotKey, ttl)
		pipe.Expire(ctx, ch.MetaKey(), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis expire %s: %w", ch.SnapshotKey, err)
	}
	return nil
}

func snapshotValue(ev draw.ChangeEvent) (string, error) {
	if ev.Slot != draw.WholeField {
		return ev.Value, nil
	}
	body, err := json.Marshal(ev.Values)
	if err != nil {
		return "", fmt.Errorf("marshal field %s: %w", ev.Field, err)
	}
	return string(body), nil
}
