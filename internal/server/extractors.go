package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-draw-watcher/internal/config"
	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/extractor"
	"github.com/JakeFAU/realtime-draw-watcher/internal/extractor/headless"
	"github.com/JakeFAU/realtime-draw-watcher/internal/extractor/replay"
	"github.com/JakeFAU/realtime-draw-watcher/internal/extractor/static"
	"github.com/JakeFAU/realtime-draw-watcher/internal/metrics"
)

// extractorFactory opens the configured extractor for a family and wraps it
// with bounded execution and retries.
type extractorFactory struct {
	cfg    config.Config
	logger *zap.Logger
	limits *extractor.HostLimits
	// frames replaces every family's extractor with a replay of this file.
	frames string
}

func newExtractorFactory(
	cfg config.Config,
	logger *zap.Logger,
	limits *extractor.HostLimits,
	frames string,
) *extractorFactory {
	return &extractorFactory{cfg: cfg, logger: logger.Named("extractor"), limits: limits, frames: frames}
}

func (f *extractorFactory) Open(_ context.Context, fam draw.Family, date time.Time) (draw.Extractor, error) {
	_, ec, err := f.cfg.Family(fam.Name)
	if err != nil {
		return nil, err
	}
	if f.frames != "" {
		ec = config.ExtractorConfig{Kind: config.KindReplay, Frames: f.frames}
	}

	callTimeout := f.cfg.Extract.CallTimeout
	var ext draw.Extractor
	switch ec.Kind {
	case config.KindHeadless:
		h, err := headless.New(headless.Config{
			URL:               ec.URL,
			Script:            ec.Script,
			WaitSelector:      ec.WaitSelector,
			UserAgent:         f.cfg.Extract.UserAgent,
			Headers:           ec.HTTPHeaders(),
			NavigationTimeout: f.cfg.Headless.NavigationTimeout,
			ReloadEvery:       f.cfg.Headless.ReloadEvery,
			ExecPath:          f.cfg.Headless.ExecPath,
		}, fam, date)
		if err != nil {
			return nil, fmt.Errorf("headless extractor: %w", err)
		}
		// The first call navigates, so it must fit the navigation timeout.
		callTimeout = max(callTimeout, f.cfg.Headless.NavigationTimeout)
		ext = h
	case config.KindStatic:
		s, err := static.New(static.Config{
			URL:            ec.URL,
			TargetSelector: ec.TargetSelector,
			RegionSelector: ec.RegionSelector,
			Fields:         ec.Fields,
			UserAgent:      f.cfg.Extract.UserAgent,
			Timeout:        callTimeout,
		}, fam, date)
		if err != nil {
			return nil, fmt.Errorf("static extractor: %w", err)
		}
		ext = s
	case config.KindReplay:
		r, err := replay.Load(ec.Frames)
		if err != nil {
			return nil, fmt.Errorf("replay extractor: %w", err)
		}
		ext = r
	default:
		return nil, fmt.Errorf("no extractor configured for family %s", fam.Name)
	}

	if callTimeout > 0 {
		ext = extractor.Isolate(ext, callTimeout)
	}
	if ec.URL != "" && f.limits != nil {
		ext = extractor.Throttle(ext, f.limits.For(ec.URL), func(d time.Duration) {
			metrics.ObserveThrottleDelay(fam.Name, d)
		})
	}
	retry := extractor.DefaultRetryConfig()
	if n := f.cfg.Extract.Retry.MaxAttempts; n > 0 {
		retry.MaxAttempts = n
	}
	if d := f.cfg.Extract.Retry.InitialBackoff; d > 0 {
		retry.InitialBackoff = d
	}
	if d := f.cfg.Extract.Retry.MaxBackoff; d > 0 {
		retry.MaxBackoff = d
	}
	f.logger.Debug("extractor opened",
		zap.String("family", fam.Name),
		zap.String("kind", ec.Kind),
		zap.Duration("call_timeout", callTimeout),
		zap.Int("max_attempts", retry.MaxAttempts),
	)
	return extractor.WithRetry(ext, retry, f.logger.With(zap.String("family", fam.Name))), nil
}
