// Package dispatcher runs draw sessions concurrently, one per family at a time.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-draw-watcher/internal/session"
)

// ErrAlreadyRunning is returned when a session for the family is still active.
var ErrAlreadyRunning = errors.New("a session for this family is already running")

// ErrStopped is returned by Start after Run has returned.
var ErrStopped = errors.New("dispatcher stopped")

// Request starts one session.
type Request struct {
	Family  string    `json:"family"`
	Date    time.Time `json:"date"`
	Regions []string  `json:"regions,omitempty"`
}

// Runner is a prepared session.
type Runner interface {
	ID() string
	Progress() session.Result
	Run(ctx context.Context) (session.Result, error)
}

// Builder prepares a session for req. It must not start any work.
type Builder func(req Request) (Runner, error)

type entry struct {
	family string
	runner Runner
	done   bool
	final  session.Result
}

// Dispatcher fans requests out to independent session goroutines.
type Dispatcher struct {
	build   Builder
	logger  *zap.Logger
	history int

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	stopped bool
	running map[string]*entry
	byID    map[string]*entry
	order   []string
}

// New creates a Dispatcher keeping up to history finished sessions for status queries.
func New(build Builder, history int, logger *zap.Logger) *Dispatcher {
	if history <= 0 {
		history = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &Dispatcher{
		build:   build,
		logger:  logger.Named("dispatcher"),
		history: history,
		ctx:     gctx,
		cancel:  cancel,
		group:   group,
		running: make(map[string]*entry),
		byID:    make(map[string]*entry),
	}
}

// Start launches a session in the background and returns its id.
func (d *Dispatcher) Start(req Request) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return "", ErrStopped
	}
	if _, busy := d.running[req.Family]; busy {
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, req.Family)
	}
	runner, err := d.build(req)
	if err != nil {
		return "", fmt.Errorf("build session: %w", err)
	}
	e := &entry{family: req.Family, runner: runner}
	id := runner.ID()
	d.running[req.Family] = e
	d.byID[id] = e
	d.order = append(d.order, id)

	d.group.Go(func() error {
		res, err := runner.Run(d.ctx)
		logger := d.logger.With(zap.String("session_id", id), zap.String("family", req.Family))
		if err != nil {
			logger.Warn("session aborted", zap.Error(err))
		} else {
			logger.Info("session finished", zap.String("state", string(res.State)))
		}
		d.complete(e, res)
		// Session errors are reported through Result; they must not cancel siblings.
		return nil
	})
	return id, nil
}

func (d *Dispatcher) complete(e *entry, res session.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.done = true
	e.final = res
	if d.running[e.family] == e {
		delete(d.running, e.family)
	}
	d.evict()
}

// evict drops the oldest finished sessions beyond the history bound.
func (d *Dispatcher) evict() {
	finished := 0
	for _, id := range d.order {
		if d.byID[id].done {
			finished++
		}
	}
	if finished <= d.history {
		return
	}
	kept := d.order[:0]
	for _, id := range d.order {
		if finished > d.history && d.byID[id].done {
			delete(d.byID, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	d.order = kept
}

// Get returns the current or final result of a session.
func (d *Dispatcher) Get(id string) (session.Result, bool) {
	d.mu.Lock()
	e, ok := d.byID[id]
	d.mu.Unlock()
	if !ok {
		return session.Result{}, false
	}
	return e.result(&d.mu), true
}

// List returns every known session, newest first.
func (d *Dispatcher) List() []session.Result {
	d.mu.Lock()
	entries := make([]*entry, 0, len(d.order))
	for i := len(d.order) - 1; i >= 0; i-- {
		entries = append(entries, d.byID[d.order[i]])
	}
	d.mu.Unlock()

	out := make([]session.Result, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.result(&d.mu))
	}
	return out
}

// Running reports whether a session for family is active.
func (d *Dispatcher) Running(family string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[family]
	return ok
}

func (e *entry) result(mu *sync.Mutex) session.Result {
	mu.Lock()
	done, final := e.done, e.final
	mu.Unlock()
	if done {
		return final
	}
	return e.runner.Progress()
}

// Run blocks until ctx is done, then cancels every session and waits for
// them to finalize.
func (d *Dispatcher) Run(ctx context.Context) error {
	<-ctx.Done()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	if err := d.group.Wait(); err != nil {
		return fmt.Errorf("wait for sessions: %w", err)
	}
	return nil
}
