package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

func openTestStore(t *testing.T) *RecordStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestUpsertAndGet(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	created := time.Date(2026, 10, 19, 9, 40, 0, 0, time.UTC)
	rec := draw.Record{
		ID:         "xsmn-19-10-2026-tay-ninh",
		Family:     "south",
		Code:       "xsmn",
		DrawDate:   time.Date(2026, 10, 19, 0, 0, 0, 0, draw.Location()),
		Region:     "Tây Ninh",
		RegionSlug: "tay-ninh",
		Weekday:    "Thứ Hai",
		Year:       2026,
		Month:      10,
		Fields:     map[string][]string{draw.FieldEighthPrize: {"42"}},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	require.NoError(t, store.Upsert(ctx, rec))

	got, found, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rec.Fields, got.Fields)
	require.Equal(t, "Tây Ninh", got.Region)
	require.True(t, rec.DrawDate.Equal(got.DrawDate))
	require.True(t, created.Equal(got.CreatedAt))

	updated := rec
	updated.Fields = map[string][]string{draw.FieldEighthPrize: {"42"}, draw.FieldSeventhPrize: {"123"}}
	updated.Complete = true
	updated.CreatedAt = created.Add(time.Hour)
	updated.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, store.Upsert(ctx, updated))

	got, _, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, got.Complete)
	require.Equal(t, []string{"123"}, got.Fields[draw.FieldSeventhPrize])
	require.True(t, created.Equal(got.CreatedAt), "created_at is kept on update")
	require.True(t, created.Add(time.Minute).Equal(got.UpdatedAt))
	require.NoError(t, store.Ping(ctx))
}

func TestValidation(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)

	store := openTestStore(t)
	require.Error(t, store.Upsert(context.Background(), draw.Record{}))
}
