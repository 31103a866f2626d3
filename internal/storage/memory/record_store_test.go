package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

func TestRecordStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	_, found, err := store.Get(ctx, "xsmb-19-10-2026")
	require.NoError(t, err)
	require.False(t, found)

	rec := draw.Record{ID: "xsmb-19-10-2026", Fields: map[string][]string{"first_prize": {"12345"}}}
	require.NoError(t, store.Upsert(ctx, rec))
	rec.Fields["first_prize"][0] = "mutated"

	got, found, err := store.Get(ctx, "xsmb-19-10-2026")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "12345", got.Fields["first_prize"][0])
	require.Equal(t, 1, store.Writes())
	require.Len(t, store.Records(), 1)
}

func TestRecordStoreInjectedError(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	store.SetError(errors.New("down"))
	require.Error(t, store.Upsert(context.Background(), draw.Record{ID: "a"}))
	_, _, err := store.Get(context.Background(), "a")
	require.Error(t, err)
	require.Zero(t, store.Writes())
}
