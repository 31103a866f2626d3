// Package pubsub publishes change events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/telemetry"
)

// Publisher wraps a Pub/Sub topic publisher. The logical channel travels as a
// message attribute and ordering key so subscribers can filter per target and
// receive a target's events in publish order.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New creates a Publisher for the provided topic publisher and turns on
// message ordering for it.
func New(publisher *pubsub.Publisher) (*Publisher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("pubsub publisher is required")
	}
	publisher.EnableMessageOrdering = true
	return &Publisher{publisher: publisher}, nil
}

// Publish sends one message per event and waits until every one is acknowledged.
func (p *Publisher) Publish(ctx context.Context, ch draw.Channel, events []draw.ChangeEvent) error {
	results := make([]*pubsub.PublishResult, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.Key, err)
		}
		msg := &pubsub.Message{
			Data:        data,
			OrderingKey: ch.Name,
			Attributes: map[string]string{
				"channel":   ch.Name,
				"target_id": ev.TargetID,
				"key":       ev.Key,
				"slot":      strconv.Itoa(ev.Slot),
			},
		}
		telemetry.Inject(ctx, msg.Attributes)
		results = append(results, p.publisher.Publish(ctx, msg))
	}
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			// A failed ordered publish pauses the key until resumed; the
			// caller retries the whole batch.
			p.publisher.ResumePublish(ch.Name)
			return fmt.Errorf("publish message to %s: %w", ch.Name, err)
		}
	}
	return nil
}

// Expire is a no-op: Pub/Sub retention is configured on the topic.
func (p *Publisher) Expire(context.Context, draw.Channel, time.Duration) error {
	return nil
}
