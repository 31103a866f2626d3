package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// ErrTimeout is returned when an isolated call does not finish in time.
var ErrTimeout = errors.New("extractor call timed out")

type isolated struct {
	next    draw.Extractor
	timeout time.Duration
}

type extractResult struct {
	out draw.Extraction
	err error
}

// Isolate runs every Extract call on its own goroutine with a hard timeout and
// converts panics into errors. A call that overruns is abandoned; the
// extractor must honor context cancellation to release its resources.
func Isolate(next draw.Extractor, timeout time.Duration) draw.Extractor {
	return &isolated{next: next, timeout: timeout}
}

func (i *isolated) Extract(ctx context.Context, req draw.ExtractRequest) (draw.Extraction, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	done := make(chan extractResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- extractResult{err: fmt.Errorf("extractor panic: %v", p)}
			}
		}()
		out, err := i.next.Extract(ctx, req)
		done <- extractResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return draw.Extraction{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return draw.Extraction{}, fmt.Errorf("extract canceled: %w", ctx.Err())
	}
}

func (i *isolated) Close() error {
	return i.next.Close()
}
