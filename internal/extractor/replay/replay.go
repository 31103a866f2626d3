// Package replay feeds recorded extraction frames through a session, one
// frame per poll. It backs dry runs and end-to-end tests.
package replay

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// File is the on-disk frame format:
//
//	frames:
//	  - targets:
//	      - region: Tây Ninh
//	        fields:
//	          eighth_prize: ["42"]
type File struct {
	Frames []draw.Extraction `yaml:"frames"`
}

// Extractor returns frame i on the i-th call and repeats the last frame afterwards.
type Extractor struct {
	mu     sync.Mutex
	frames []draw.Extraction
	next   int
	closed bool
}

// New builds an extractor over in-memory frames.
func New(frames []draw.Extraction) *Extractor {
	return &Extractor{frames: frames}
}

// Load reads frames from a YAML file.
func Load(path string) (*Extractor, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied frames file.
	if err != nil {
		return nil, fmt.Errorf("read frames file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML frames.
func Parse(data []byte) (*Extractor, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frames: %w", err)
	}
	if len(f.Frames) == 0 {
		return nil, fmt.Errorf("frames file has no frames")
	}
	return New(f.Frames), nil
}

// Extract returns the next frame.
func (e *Extractor) Extract(ctx context.Context, _ draw.ExtractRequest) (draw.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return draw.Extraction{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return draw.Extraction{}, fmt.Errorf("replay extractor closed")
	}
	if len(e.frames) == 0 {
		return draw.Extraction{}, nil
	}
	i := e.next
	if i >= len(e.frames) {
		i = len(e.frames) - 1
	} else {
		e.next++
	}
	return e.frames[i], nil
}

// Served returns how many distinct frames have been handed out.
func (e *Extractor) Served() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// Close marks the extractor closed.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
