package stability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

func testSchema() draw.Schema {
	return draw.Schema{
		{Key: "pair", Slots: 2, Shape: draw.Digits(5)},
		{Key: "special", Slots: 1, Shape: draw.Digits(5), Threshold: 2},
	}
}

// TestTrackerCommitsOnFirstValidReadAtThresholdOne walks a two slot field
// through two invalid reads followed by valid ones.
func TestTrackerCommitsOnFirstValidReadAtThresholdOne(t *testing.T) {
	t.Parallel()

	tr := New(testSchema())
	reads := []string{"...", "****", "12345", "12345"}
	var commits []int
	for i, raw := range reads {
		changed := tr.Observe(draw.Candidates{"pair": {raw, raw}})
		if len(changed) > 0 {
			commits = append(commits, i+1)
		}
	}
	require.Equal(t, []int{3}, commits)
	require.True(t, tr.FieldComplete("pair"))
	require.Equal(t, []string{"12345", "12345"}, tr.Committed()["pair"])
}

func TestTrackerThresholdRequiresConsecutiveValidReads(t *testing.T) {
	t.Parallel()

	tr := New(testSchema())
	tr.Observe(draw.Candidates{"special": {"54321"}})
	require.Equal(t, Stabilizing, tr.SlotState("special", 0))
	require.Equal(t, draw.Placeholder, tr.Committed()["special"][0])

	tr.Observe(draw.Candidates{"special": {"..."}})
	require.Equal(t, Pending, tr.SlotState("special", 0))
	require.False(t, tr.FieldComplete("special"))

	tr.Observe(draw.Candidates{"special": {"54321"}})
	require.False(t, tr.FieldComplete("special"))
	changed := tr.Observe(draw.Candidates{"special": {"54321"}})
	require.Equal(t, []string{"special"}, changed)
	require.True(t, tr.FieldComplete("special"))
}

func TestTrackerCommittedValuesAreSticky(t *testing.T) {
	t.Parallel()

	tr := New(testSchema())
	tr.Observe(draw.Candidates{"pair": {"11111", "22222"}})
	require.True(t, tr.FieldComplete("pair"))

	for _, raw := range []string{"...", "", "33333"} {
		changed := tr.Observe(draw.Candidates{"pair": {raw, raw}})
		require.Empty(t, changed)
	}
	require.Equal(t, []string{"11111", "22222"}, tr.Committed()["pair"])
}

func TestTrackerMissingSlotsAreInvalid(t *testing.T) {
	t.Parallel()

	tr := New(testSchema())
	tr.Observe(draw.Candidates{"pair": {"11111"}})
	require.Equal(t, Complete, tr.SlotState("pair", 0))
	require.Equal(t, Pending, tr.SlotState("pair", 1))
	require.False(t, tr.FieldComplete("pair"))
	require.True(t, tr.HasData())

	tr.Observe(draw.Candidates{"pair": {"11111", "22222", "99999"}})
	require.True(t, tr.FieldComplete("pair"))
	require.Equal(t, 1, tr.CompletedFields())
	require.False(t, tr.Complete())
}

func TestTrackerCompleteAndCommittedCopy(t *testing.T) {
	t.Parallel()

	tr := New(testSchema())
	require.False(t, tr.HasData())
	c := draw.Candidates{"pair": {"11111", "22222"}, "special": {"99999"}}
	tr.Observe(c)
	tr.Observe(c)
	require.True(t, tr.Complete())

	got := tr.Committed()
	got["pair"][0] = "mutated"
	require.Equal(t, "11111", tr.Committed()["pair"][0])
	require.Equal(t, Pending, tr.SlotState("unknown", 0))
	require.Equal(t, "complete", Complete.String())
}
