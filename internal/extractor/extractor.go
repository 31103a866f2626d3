// Package extractor holds decorators and helpers shared by the concrete
// extractors: bounded retries, isolated execution and payload decoding.
package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// ErrPermanent marks an extractor failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent extractor failure")

// Permanent wraps err so the retry decorator gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// DecodeJSON parses an extraction payload. Both the object form
// {"targets":[...]} and a bare array of region candidates are accepted.
func DecodeJSON(data []byte) (draw.Extraction, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return draw.Extraction{}, nil
	}
	if trimmed[0] == '[' {
		var targets []draw.RegionCandidates
		if err := json.Unmarshal(trimmed, &targets); err != nil {
			return draw.Extraction{}, Permanent(fmt.Errorf("decode extraction: %w", err))
		}
		return draw.Extraction{Targets: targets}, nil
	}
	var out draw.Extraction
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return draw.Extraction{}, Permanent(fmt.Errorf("decode extraction: %w", err))
	}
	return out, nil
}

// URLData is the data available to source URL templates.
type URLData struct {
	Family string
	Code   string
	Date   string // dd-mm-yyyy
	ISO    string // yyyy-mm-dd
}

// RenderURL expands a source URL template such as
// "https://example.test/{{.Code}}/{{.Date}}" for the given family and date.
func RenderURL(tmpl string, f draw.Family, date time.Time) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	t, err := template.New("url").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse url template: %w", err)
	}
	var buf strings.Builder
	data := URLData{
		Family: f.Name,
		Code:   f.Code,
		Date:   draw.FormatDate(date),
		ISO:    date.Format("2006-01-02"),
	}
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render url template: %w", err)
	}
	return buf.String(), nil
}
