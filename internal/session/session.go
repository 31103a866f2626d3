// Package session runs one progressive-assembly session: poll the extractor,
// stabilize field values, publish changes and persist records until every
// target is complete or the session budget runs out.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-draw-watcher/internal/diff"
	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/guard"
	"github.com/JakeFAU/realtime-draw-watcher/internal/metrics"
	"github.com/JakeFAU/realtime-draw-watcher/internal/recorder"
	"github.com/JakeFAU/realtime-draw-watcher/internal/stability"
	"github.com/JakeFAU/realtime-draw-watcher/internal/telemetry"
)

// State is the lifecycle state of a session.
type State string

const (
	// Starting covers guard acquisition and extractor startup.
	Starting State = "starting"
	// Polling is the main loop.
	Polling State = "polling"
	// Completed means every target completed.
	Completed State = "completed"
	// TimedOut means the budget elapsed first. It is not an error.
	TimedOut State = "timed_out"
	// Aborted means the session could not start or was stopped early.
	Aborted State = "aborted"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == Completed || s == TimedOut || s == Aborted
}

var (
	// ErrTooManyFailures stops a session after MaxConsecutiveErrors failed iterations.
	ErrTooManyFailures = errors.New("too many consecutive failed iterations")

	errEmptyExtraction = errors.New("extraction returned no targets")
)

// Config describes one session.
type Config struct {
	Family draw.Family
	Date   time.Time
	// Regions restricts a multi-target family to these regions. Empty means
	// every region found in the extractions.
	Regions []string

	Budget               time.Duration
	IterationTimeout     time.Duration
	FinalizeTimeout      time.Duration
	MaxConsecutiveErrors int
	// CheckpointEvery persists every target with data after this many iterations.
	CheckpointEvery    int
	PublishWholeFields bool
	SnapshotTTL        time.Duration
	LockStaleAfter     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = c.Family.Budget
	}
	if c.Budget <= 0 {
		c.Budget = 20 * time.Minute
	}
	if c.IterationTimeout <= 0 {
		c.IterationTimeout = 20 * time.Second
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 30 * time.Second
	}
	if c.CheckpointEvery < 0 {
		c.CheckpointEvery = 0
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = 2 * time.Hour
	}
	if c.LockStaleAfter <= 0 {
		c.LockStaleAfter = 30 * time.Minute
	}
	return c
}

// Archiver stores final records outside the record store.
type Archiver interface {
	Archive(ctx context.Context, rec draw.Record) (string, error)
}

// Deps are the collaborators a session uses. Archive and Tracer are optional.
type Deps struct {
	Extractors draw.ExtractorFactory
	Events     draw.EventPublisher
	Store      draw.RecordStore
	Hasher     draw.Fingerprinter
	Guard      guard.Guard
	Archive    Archiver
	Clock      draw.Clock
	IDs        draw.IDGenerator
	Logger     *zap.Logger
	Tracer     trace.Tracer
}

// TargetStatus summarizes one target.
type TargetStatus struct {
	ID              string `json:"id"`
	Region          string `json:"region,omitempty"`
	Channel         string `json:"channel"`
	CompletedFields int    `json:"completed_fields"`
	TotalFields     int    `json:"total_fields"`
	Complete        bool   `json:"complete"`
}

// Result is the outcome and counters of a session.
type Result struct {
	SessionID       string         `json:"session_id"`
	Family          string         `json:"family"`
	Date            string         `json:"date"`
	State           State          `json:"state"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at,omitzero"`
	DurationSeconds float64        `json:"duration_seconds"`
	Iterations      int            `json:"iterations"`
	Successes       int            `json:"successes"`
	Failures        int            `json:"failures"`
	Events          int            `json:"events"`
	PublishFailures int            `json:"publish_failures"`
	RecordWrites    int            `json:"record_writes"`
	WriteErrors     int            `json:"write_errors"`
	Targets         []TargetStatus `json:"targets"`
	Error           string         `json:"error,omitempty"`
}

type tracked struct {
	target    draw.Target
	channel   draw.Channel
	tracker   *stability.Tracker
	completed bool
	last      draw.Record
}

// Session is a single run. It is not reusable.
type Session struct {
	id       string
	cfg      Config
	deps     Deps
	logger   *zap.Logger
	cadence  Cadence
	diff     *diff.Publisher
	recorder *recorder.Recorder

	targets     []*tracked
	consecutive int

	mu     sync.Mutex
	result Result
}

// New validates cfg and deps and prepares a session.
func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.Family.Name == "" || len(cfg.Family.Schema) == 0 {
		return nil, fmt.Errorf("family with a schema is required")
	}
	if cfg.Date.IsZero() {
		return nil, fmt.Errorf("draw date is required")
	}
	if deps.Extractors == nil || deps.Events == nil || deps.Store == nil || deps.Hasher == nil || deps.Guard == nil {
		return nil, fmt.Errorf("extractors, events, store, hasher and guard are required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, fmt.Errorf("clock and id generator are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer()
	}
	cfg = cfg.withDefaults()

	id, err := deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	logger := deps.Logger.Named("session").With(
		zap.String("session_id", id),
		zap.String("family", cfg.Family.Name),
		zap.String("date", draw.FormatDate(cfg.Date)),
	)
	return &Session{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		cadence: NewCadence(cfg.Family),
		diff: diff.New(diff.Config{
			Family:      cfg.Family,
			WholeFields: cfg.PublishWholeFields,
		}, deps.Events, deps.Clock, logger),
		recorder: recorder.New(deps.Store, deps.Hasher, deps.Clock, logger),
		result: Result{
			SessionID: id,
			Family:    cfg.Family.Name,
			Date:      draw.FormatDate(cfg.Date),
			State:     Starting,
		},
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Progress returns a copy of the current result.
func (s *Session) Progress() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.result
	out.Targets = append([]TargetStatus(nil), s.result.Targets...)
	return out
}

func (s *Session) update(fn func(r *Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.result)
}

// Run executes the session. Completed and TimedOut return a nil error;
// Aborted returns the cause, wrapping guard.ErrBusy on contention.
func (s *Session) Run(ctx context.Context) (Result, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("draw.family", s.cfg.Family.Name),
		attribute.String("draw.date", draw.FormatDate(s.cfg.Date)),
	))
	defer span.End()
	if id := telemetry.TraceID(ctx); id != "" {
		s.logger = s.logger.With(zap.String("trace_id", id))
	}

	res, err := s.run(ctx)
	span.SetAttributes(
		attribute.String("session.state", string(res.State)),
		attribute.Int("session.iterations", res.Iterations),
		attribute.Int("session.events", res.Events),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Session) run(ctx context.Context) (Result, error) {
	started := s.deps.Clock.Now()
	s.update(func(r *Result) { r.StartedAt = started })
	metrics.SessionStarted(s.cfg.Family.Name)

	lease, err := s.deps.Guard.Acquire(ctx, guard.LockKey(s.cfg.Family.Name), s.cfg.LockStaleAfter)
	if err != nil {
		if errors.Is(err, guard.ErrBusy) {
			s.logger.Warn("another session holds the family lock")
		}
		return s.abort(fmt.Errorf("acquire guard: %w", err))
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalizeTimeout)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			s.logger.Error("failed to release guard", zap.Error(err))
		}
	}()

	ext, err := s.deps.Extractors.Open(ctx, s.cfg.Family, s.cfg.Date)
	if err != nil {
		return s.abort(fmt.Errorf("open extractor: %w", err))
	}
	var closeOnce sync.Once
	closeExtractor := func() {
		closeOnce.Do(func() {
			if err := ext.Close(); err != nil {
				s.logger.Warn("failed to close extractor", zap.Error(err))
			}
		})
	}
	defer closeExtractor()

	s.seedTargets()
	s.update(func(r *Result) { r.State = Polling })
	s.logger.Info("session started",
		zap.Duration("budget", s.cfg.Budget),
		zap.String("live_window", s.cfg.Family.LiveWindow.String()),
		zap.Strings("regions", s.cfg.Regions),
	)

	deadline := started.Add(s.cfg.Budget)
	state, cause := s.poll(ctx, ext, deadline)

	closeExtractor()
	s.finalize(ctx)
	return s.finish(state, cause)
}

func (s *Session) poll(ctx context.Context, ext draw.Extractor, deadline time.Time) (State, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Aborted, err
		}
		s.iterate(ctx, ext)

		if s.allComplete() {
			return Completed, nil
		}
		if s.cfg.MaxConsecutiveErrors > 0 && s.consecutive >= s.cfg.MaxConsecutiveErrors {
			return Aborted, fmt.Errorf("%w: %d", ErrTooManyFailures, s.consecutive)
		}

		now := s.deps.Clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return TimedOut, nil
		}
		wait := s.cadence.Interval(now)
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Aborted, ctx.Err()
		case <-timer.C:
		}
		if !s.deps.Clock.Now().Before(deadline) {
			return TimedOut, nil
		}
	}
}

// iterate runs one poll. Every failure is contained here.
func (s *Session) iterate(ctx context.Context, ext draw.Extractor) {
	s.mu.Lock()
	s.result.Iterations++
	iteration := s.result.Iterations
	s.mu.Unlock()

	ctx, span := s.deps.Tracer.Start(ctx, "session.iteration",
		trace.WithAttributes(attribute.Int("session.iteration", iteration)))
	err := s.runIteration(ctx, ext, iteration)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if err != nil {
		s.consecutive++
		s.update(func(r *Result) { r.Failures++ })
		metrics.ObserveIteration(s.cfg.Family.Name, "failure")
		s.logger.Warn("iteration failed",
			zap.Int("iteration", iteration),
			zap.Int("consecutive_failures", s.consecutive),
			zap.Error(err),
		)
		return
	}
	s.consecutive = 0
	s.update(func(r *Result) { r.Successes++ })
	metrics.ObserveIteration(s.cfg.Family.Name, "success")
	if iteration%10 == 0 {
		p := s.Progress()
		s.logger.Info("session progress",
			zap.Int("iteration", iteration),
			zap.Int("successes", p.Successes),
			zap.Int("failures", p.Failures),
			zap.Int("events", p.Events),
			zap.Int("targets", len(p.Targets)),
		)
	}
}

func (s *Session) runIteration(ctx context.Context, ext draw.Extractor, iteration int) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("iteration panic: %v", p)
		}
	}()

	iterCtx, cancel := context.WithTimeout(ctx, s.cfg.IterationTimeout)
	defer cancel()

	start := time.Now()
	out, err := ext.Extract(iterCtx, draw.ExtractRequest{
		Family:    s.cfg.Family,
		Date:      s.cfg.Date,
		Regions:   s.cfg.Regions,
		Iteration: iteration,
	})
	metrics.ObserveExtract(s.cfg.Family.Name, time.Since(start))
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if len(out.Targets) == 0 {
		return errEmptyExtraction
	}

	seen := make(map[*tracked]bool, len(s.targets))
	for _, rc := range out.Targets {
		t := s.resolve(rc.Region)
		if t == nil {
			s.logger.Debug("ignoring untracked region", zap.String("region", rc.Region))
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		s.adoptRegion(t, rc.Region)
		t.tracker.Observe(rc.Fields)
	}
	// A target absent from this read counts as an all-invalid read.
	for _, t := range s.targets {
		if !seen[t] {
			t.tracker.Observe(nil)
		}
	}

	checkpoint := s.cfg.CheckpointEvery > 0 && iteration%s.cfg.CheckpointEvery == 0
	for _, t := range s.targets {
		s.publish(iterCtx, t)
		switch {
		case t.complete() && !t.completed:
			if s.persist(iterCtx, t) {
				t.completed = true
				s.logger.Info("target complete", zap.String("target", t.target.ID()), zap.Int("iteration", iteration))
			}
		case checkpoint && t.tracker.HasData():
			s.persist(iterCtx, t)
		}
	}
	s.refreshTargets()
	return nil
}

func (s *Session) publish(ctx context.Context, t *tracked) {
	events, err := s.diff.Publish(ctx, t.target, t.tracker.Committed())
	if err != nil {
		s.update(func(r *Result) { r.PublishFailures++ })
		metrics.ObservePublishFailure(s.cfg.Family.Name)
		s.logger.Warn("publish failed", zap.String("target", t.target.ID()), zap.Error(err))
		return
	}
	if len(events) > 0 {
		s.update(func(r *Result) { r.Events += len(events) })
		metrics.ObserveEvents(s.cfg.Family.Name, len(events))
	}
}

func (s *Session) persist(ctx context.Context, t *tracked) bool {
	rec := draw.NewRecord(t.target, t.tracker.Committed(), t.complete())
	outcome, err := s.recorder.RecordIfChanged(ctx, rec)
	if err != nil {
		s.update(func(r *Result) { r.WriteErrors++ })
		metrics.ObserveRecordWrite(s.cfg.Family.Name, "error")
		s.logger.Warn("persist failed", zap.String("target", t.target.ID()), zap.Error(err))
		return false
	}
	metrics.ObserveRecordWrite(s.cfg.Family.Name, string(outcome))
	if outcome == recorder.Upserted {
		s.update(func(r *Result) { r.RecordWrites++ })
	}
	rec.UpdatedAt = s.deps.Clock.Now()
	t.last = rec
	return true
}

// finalize persists every target once, expires its snapshot and archives the
// final record. It runs on every exit path after startup, detached from
// cancellation of ctx.
func (s *Session) finalize(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalizeTimeout)
	defer cancel()

	for _, t := range s.targets {
		if s.persist(fctx, t) && s.deps.Archive != nil {
			if uri, err := s.deps.Archive.Archive(fctx, t.last); err != nil {
				s.logger.Warn("archive failed", zap.String("target", t.target.ID()), zap.Error(err))
			} else {
				s.logger.Debug("archived record", zap.String("target", t.target.ID()), zap.String("uri", uri))
			}
		}
		if err := s.deps.Events.Expire(fctx, t.channel, s.cfg.SnapshotTTL); err != nil {
			s.logger.Warn("snapshot expiry failed", zap.String("channel", t.channel.Name), zap.Error(err))
		}
	}
	s.refreshTargets()
}

func (s *Session) abort(cause error) (Result, error) {
	return s.finish(Aborted, cause)
}

func (s *Session) finish(state State, cause error) (Result, error) {
	finished := s.deps.Clock.Now()
	s.update(func(r *Result) {
		r.State = state
		r.FinishedAt = finished
		r.DurationSeconds = finished.Sub(r.StartedAt).Seconds()
		if cause != nil {
			r.Error = cause.Error()
		}
	})
	metrics.SessionFinished(s.cfg.Family.Name, string(state))

	res := s.Progress()
	s.logger.Info("session finished",
		zap.String("state", string(state)),
		zap.Float64("duration_seconds", res.DurationSeconds),
		zap.Int("iterations", res.Iterations),
		zap.Int("successes", res.Successes),
		zap.Int("failures", res.Failures),
		zap.Int("events", res.Events),
		zap.Int("record_writes", res.RecordWrites),
		zap.Int("targets", len(res.Targets)),
		zap.Error(cause),
	)
	if state == Aborted {
		return res, cause
	}
	return res, nil
}

func (s *Session) allComplete() bool {
	if len(s.targets) == 0 {
		return false
	}
	for _, t := range s.targets {
		if !t.complete() {
			return false
		}
	}
	return true
}

func (s *Session) refreshTargets() {
	statuses := make([]TargetStatus, 0, len(s.targets))
	for _, t := range s.targets {
		statuses = append(statuses, TargetStatus{
			ID:              t.target.ID(),
			Region:          t.target.Region,
			Channel:         t.channel.Name,
			CompletedFields: t.tracker.CompletedFields(),
			TotalFields:     len(s.cfg.Family.Schema),
			Complete:        t.complete(),
		})
	}
	s.update(func(r *Result) { r.Targets = statuses })
}
