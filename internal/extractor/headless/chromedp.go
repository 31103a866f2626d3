// Package headless reads draw results by evaluating a script in a headless
// browser that stays on the results page for the whole session.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/extractor"
)

// Config controls the behavior of the headless extractor.
type Config struct {
	// URL is the results page, optionally a template (see extractor.RenderURL).
	URL string
	// Script is evaluated in the page and must return the extraction JSON.
	Script            string
	WaitSelector      string
	UserAgent         string
	Headers           http.Header
	NavigationTimeout time.Duration
	// ReloadEvery forces a fresh navigation after this many evaluations. Zero never reloads.
	ReloadEvery int
	ExecPath    string
}

// Extractor implements draw.Extractor with one exclusive browser tab.
type Extractor struct {
	cfg           Config
	url           string
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc

	// mu serializes calls on the tab. A call abandoned by its caller may
	// still be unwinding when the next one starts.
	mu          sync.Mutex
	started     bool
	navigated   bool
	evaluations int
}

// New creates an extractor for one family and draw date. The browser starts
// lazily on the first Extract call.
func New(cfg Config, f draw.Family, date time.Time) (*Extractor, error) {
	if strings.TrimSpace(cfg.Script) == "" {
		return nil, fmt.Errorf("headless script is required")
	}
	url, err := extractor.RenderURL(cfg.URL, f, date)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("headless url is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browser, browserCancel := chromedp.NewContext(allocCtx)

	return &Extractor{
		cfg:           cfg,
		url:           url,
		allocCancel:   allocCancel,
		browser:       browser,
		browserCancel: browserCancel,
	}, nil
}

// URL returns the rendered results page address.
func (e *Extractor) URL() string {
	return e.url
}

// start launches the browser. The first Run on the browser context owns the
// Chrome process, so it must not carry a timeout or a cancel; later Runs are
// bounded per call. Launch is bounded by the allocator's websocket timeout.
func (e *Extractor) start() error {
	if e.started {
		return nil
	}
	if err := chromedp.Run(e.browser); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	e.started = true
	return nil
}

// Extract evaluates the configured script, navigating first when the tab is
// fresh, after a failure, or when a reload is due.
func (e *Extractor) Extract(ctx context.Context, _ draw.ExtractRequest) (draw.Extraction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return draw.Extraction{}, fmt.Errorf("headless extract canceled: %w", err)
	}
	if err := e.start(); err != nil {
		return draw.Extraction{}, err
	}

	runCtx, cancel := context.WithTimeout(e.browser, e.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var actions []chromedp.Action
	if e.needsNavigation() {
		actions = append(actions,
			e.networkSetupAction(),
			chromedp.Navigate(e.url),
			chromedp.WaitReady(e.cfg.WaitSelector, chromedp.ByQuery),
		)
	}
	var raw []byte
	actions = append(actions, chromedp.Evaluate(e.cfg.Script, &raw))

	if err := chromedp.Run(runCtx, actions...); err != nil {
		e.navigated = false
		if ctx.Err() != nil {
			return draw.Extraction{}, fmt.Errorf("headless extract canceled: %w", ctx.Err())
		}
		return draw.Extraction{}, fmt.Errorf("chromedp run: %w", err)
	}
	e.navigated = true
	e.evaluations++
	return extractor.DecodeJSON(raw)
}

func (e *Extractor) needsNavigation() bool {
	if !e.navigated {
		return true
	}
	return e.cfg.ReloadEvery > 0 && e.evaluations > 0 && e.evaluations%e.cfg.ReloadEvery == 0
}

// Close shuts the browser down.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.browserCancel()
	e.allocCancel()
	return nil
}

func (e *Extractor) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(e.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(e.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
