// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// Clock implements draw.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns the current draw date in loc.
func (c Clock) Today(loc *time.Location) time.Time {
	return draw.Today(c.Now(), loc)
}
