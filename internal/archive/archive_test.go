package archive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/storage/memory"
)

func TestArchiveWritesRecordDocument(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	a := New(blobs)
	rec := draw.Record{
		ID:       "xsmt-19-10-2026-thua-thien-hue",
		Family:   "central",
		Code:     "xsmt",
		DrawDate: time.Date(2026, 10, 19, 0, 0, 0, 0, draw.Location()),
		Region:   "Thừa Thiên Huế",
		Fields:   map[string][]string{draw.FieldEighthPrize: {"07"}},
		Complete: true,
	}

	uri, err := a.Archive(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "memory://central/2026-10-19/xsmt-19-10-2026-thua-thien-hue.json", uri)

	body, ok := blobs.Object(Path(rec))
	require.True(t, ok)
	var got draw.Record
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.Fields, got.Fields)
	require.True(t, got.Complete)
}
