package extractor

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// HostLimits hands out one token bucket per source host, shared by every
// session that reads from it.
type HostLimits struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewHostLimits creates per-host limits. A non-positive rps disables limiting.
func NewHostLimits(rps float64, burst int) *HostLimits {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &HostLimits{
		limiters: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    burst,
	}
}

// For returns the limiter for rawURL's host.
func (h *HostLimits) For(rawURL string) *rate.Limiter {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.rps, h.burst)
		h.limiters[host] = l
	}
	return l
}

type throttled struct {
	next    draw.Extractor
	limiter *rate.Limiter
	onWait  func(time.Duration)
}

// Throttle waits for a token from limiter before every Extract call. onWait,
// when set, receives how long the call was held back.
func Throttle(next draw.Extractor, limiter *rate.Limiter, onWait func(time.Duration)) draw.Extractor {
	return &throttled{next: next, limiter: limiter, onWait: onWait}
}

func (t *throttled) Extract(ctx context.Context, req draw.ExtractRequest) (draw.Extraction, error) {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return draw.Extraction{}, fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond && t.onWait != nil {
		t.onWait(d)
	}
	return t.next.Extract(ctx, req)
}

func (t *throttled) Close() error {
	return t.next.Close()
}
