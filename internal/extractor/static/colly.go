// Package static reads draw results from server-rendered pages with CSS selectors.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/extractor"
)

// Config maps page structure onto draw fields.
type Config struct {
	URL string
	// TargetSelector matches one element per region. Defaults to the whole document.
	TargetSelector string
	// RegionSelector is evaluated inside each target element.
	RegionSelector string
	// Fields maps a field key to a selector; every match is one slot, in document order.
	Fields    map[string]string
	UserAgent string
	Timeout   time.Duration
}

// Extractor implements draw.Extractor with a Colly collector.
type Extractor struct {
	cfg  Config
	url  string
	base *colly.Collector
}

// New builds an extractor for one family and draw date.
func New(cfg Config, f draw.Family, date time.Time) (*Extractor, error) {
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("static extractor needs at least one field selector")
	}
	url, err := extractor.RenderURL(cfg.URL, f, date)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("static url is required")
	}
	if cfg.TargetSelector == "" {
		cfg.TargetSelector = "html"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)

	return &Extractor{cfg: cfg, url: url, base: c}, nil
}

// Extract fetches the page once and reads every target element.
func (e *Extractor) Extract(ctx context.Context, _ draw.ExtractRequest) (draw.Extraction, error) {
	var (
		mu       sync.Mutex
		out      draw.Extraction
		fetchErr error
	)
	collector := e.base.Clone()
	collector.OnHTML(e.cfg.TargetSelector, func(el *colly.HTMLElement) {
		target := e.readTarget(el)
		mu.Lock()
		out.Targets = append(out.Targets, target)
		mu.Unlock()
	})
	collector.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if r != nil && r.StatusCode >= 400 && r.StatusCode < 500 && r.StatusCode != http.StatusTooManyRequests {
			fetchErr = extractor.Permanent(fmt.Errorf("status %d: %w", r.StatusCode, err))
			return
		}
		fetchErr = err
	})

	runErr := runCollector(ctx, collector, e.url)
	mu.Lock()
	defer mu.Unlock()
	if ctx.Err() == nil && fetchErr != nil {
		return draw.Extraction{}, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	if runErr != nil {
		return draw.Extraction{}, runErr
	}
	return out, nil
}

func (e *Extractor) readTarget(el *colly.HTMLElement) draw.RegionCandidates {
	target := draw.RegionCandidates{Fields: draw.Candidates{}}
	if e.cfg.RegionSelector != "" {
		target.Region = strings.TrimSpace(el.ChildText(e.cfg.RegionSelector))
	}
	for key, selector := range e.cfg.Fields {
		var values []string
		el.ForEach(selector, func(_ int, item *colly.HTMLElement) {
			values = append(values, strings.TrimSpace(item.Text))
		})
		if len(values) > 0 {
			target.Fields[key] = values
		}
	}
	return target
}

// Close is a no-op; the collector holds no session resources.
func (e *Extractor) Close() error {
	return nil
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
