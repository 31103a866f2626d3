package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockTodayIsMidnightInZone checks the draw date is truncated in the requested zone.
func TestClockTodayIsMidnightInZone(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("ICT", 7*60*60)
	today := New().Today(loc)
	if today.Hour() != 0 || today.Minute() != 0 || today.Location() != loc {
		t.Fatalf("expected midnight in ICT, got %v", today)
	}
}
