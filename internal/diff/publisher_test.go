package diff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/publisher/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testFamily() draw.Family {
	return draw.Family{
		Name:        "south",
		Code:        "xsmn",
		MultiTarget: true,
		Schema: draw.Schema{
			{Key: "pair", Slots: 2, Shape: draw.Digits(5)},
			{Key: "single", Slots: 1, Shape: draw.Digits(2)},
		},
	}
}

func newTestPublisher(whole bool) (*Publisher, *memory.Publisher, draw.Target) {
	fam := testFamily()
	events := memory.New()
	clock := fixedClock{now: time.Date(2026, 10, 19, 9, 15, 0, 0, time.UTC)}
	pub := New(Config{Family: fam, WholeFields: whole}, events, clock, zap.NewNop())
	target := draw.NewTarget(fam, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), "Cà Mau")
	return pub, events, target
}

func TestPublishEmitsOnlyChangedSlots(t *testing.T) {
	t.Parallel()

	pub, events, target := newTestPublisher(false)
	ctx := context.Background()

	got, err := pub.Publish(ctx, target, map[string][]string{
		"pair":   {"12345", draw.Placeholder},
		"single": {draw.Placeholder},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "pair_0", got[0].Key)
	require.Equal(t, "12345", got[0].Value)
	require.Equal(t, "xsmn-19-10-2026-ca-mau", got[0].TargetID)
	require.Equal(t, "19-10-2026", got[0].DrawDate)

	got, err = pub.Publish(ctx, target, map[string][]string{
		"pair":   {"12345", draw.Placeholder},
		"single": {draw.Placeholder},
	})
	require.NoError(t, err)
	require.Empty(t, got)

	batches := events.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, "xsmn:19-10-2026:ca-mau", batches[0].Channel.Name)
}

func TestPublishFailureLeavesSnapshotUnchanged(t *testing.T) {
	t.Parallel()

	pub, events, target := newTestPublisher(false)
	ctx := context.Background()
	committed := map[string][]string{"pair": {"12345", "67890"}, "single": {draw.Placeholder}}

	events.SetError(errors.New("redis down"))
	_, err := pub.Publish(ctx, target, committed)
	require.Error(t, err)
	require.Zero(t, pub.Snapshot(target).Len())

	events.SetError(nil)
	got, err := pub.Publish(ctx, target, committed)
	require.NoError(t, err)
	require.Len(t, got, 2)
	v, ok := pub.Snapshot(target).Get("pair_1")
	require.True(t, ok)
	require.Equal(t, "67890", v)
}

func TestPublishWholeFieldOnceAllSlotsValid(t *testing.T) {
	t.Parallel()

	pub, _, target := newTestPublisher(true)
	ctx := context.Background()

	got, err := pub.Publish(ctx, target, map[string][]string{"pair": {"12345", draw.Placeholder}})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = pub.Publish(ctx, target, map[string][]string{"pair": {"12345", "67890"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "pair_1", got[0].Key)
	require.Equal(t, draw.WholeField, got[1].Slot)
	require.Equal(t, []string{"12345", "67890"}, got[1].Values)

	got, err = pub.Publish(ctx, target, map[string][]string{"pair": {"12345", "67890"}})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSnapshotsAreIsolatedPerTarget(t *testing.T) {
	t.Parallel()

	pub, events, target := newTestPublisher(false)
	other := draw.NewTarget(testFamily(), target.Date, "Bến Tre")
	ctx := context.Background()
	committed := map[string][]string{"single": {"42"}}

	_, err := pub.Publish(ctx, target, committed)
	require.NoError(t, err)
	got, err := pub.Publish(ctx, other, committed)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, events.Batches(), 2)
}
