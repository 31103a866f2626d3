package session

import (
	"time"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

const (
	defaultLiveInterval = 1500 * time.Millisecond
	defaultIdleInterval = 30 * time.Second
)

// Cadence chooses the wait between polls: short inside the family's live
// window, long outside it.
type Cadence struct {
	Window   draw.Window
	Location *time.Location
	Live     time.Duration
	Idle     time.Duration
}

// NewCadence builds the cadence of a family.
func NewCadence(f draw.Family) Cadence {
	c := Cadence{
		Window:   f.LiveWindow,
		Location: f.Location,
		Live:     f.LiveInterval,
		Idle:     f.IdleInterval,
	}
	if c.Live <= 0 {
		c.Live = defaultLiveInterval
	}
	if c.Idle <= 0 {
		c.Idle = defaultIdleInterval
	}
	if c.Location == nil {
		c.Location = draw.Location()
	}
	return c
}

// Interval returns the wait before the next poll at now.
func (c Cadence) Interval(now time.Time) time.Duration {
	if c.Window.Contains(now, c.Location) {
		return c.Live
	}
	return c.Idle
}
