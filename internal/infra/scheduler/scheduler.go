// Package scheduler drives the periodic passes on a cron cadence.
//
// Core concepts:
//   - Cadence: a named cron spec per job, chosen by environment
//   - Single flight: a job never overlaps itself; late ticks are dropped
//   - Fan-out: per-user work runs on a bounded pool, one pass per user at a time
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pledgeloop/pledge/internal/infra/metrics"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Job names.
const (
	JobEvaluate  = "evaluate"
	JobCharge    = "charge"
	JobStaged    = "staged"
	JobReconcile = "reconcile"
	JobTransfer  = "transfer"
)

// Environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config configures the scheduler.
type Config struct {
	Env                string            // production or development
	Specs              map[string]string // per-job cron overrides
	MaxConcurrentUsers int               // fan-out width (default 8)
	JobTimeout         time.Duration     // deadline for one job run (default 10m)
}

// DefaultConfig returns production scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Env:                EnvProduction,
		MaxConcurrentUsers: 8,
		JobTimeout:         10 * time.Minute,
	}
}

// Cadence returns the cron table for an environment. Unknown environments
// get the production table.
func Cadence(env string) map[string]string {
	if env == EnvDevelopment {
		return map[string]string{
			JobEvaluate:  "*/2 * * * *",
			JobCharge:    "*/5 * * * *",
			JobStaged:    "*/5 * * * *",
			JobReconcile: "*/5 * * * *",
			JobTransfer:  "*/5 * * * *",
		}
	}
	return map[string]string{
		JobEvaluate:  "0 * * * *",
		JobCharge:    "15 * * * *",
		JobStaged:    "30 * * * *",
		JobReconcile: "*/15 * * * *",
		JobTransfer:  "*/15 * * * *",
	}
}

// ─── Jobs ───────────────────────────────────────────────────────────────────

// RunFunc performs one pass as of now.
type RunFunc func(ctx context.Context, now time.Time) error

// Job is a named periodic pass.
type Job struct {
	Name string
	Run  RunFunc
}

// ErrJobRunning is returned when a run is requested while the same job is
// still in flight.
var ErrJobRunning = errors.New("job already running")

// ErrUnknownJob is returned for a job name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

type entry struct {
	job     Job
	spec    string
	running atomic.Bool
	lastRun atomic.Int64 // unix seconds of the last completed run
	lastErr atomic.Value // string
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Scheduler owns the cron loop and the per-user worker pool.
type Scheduler struct {
	cfg   Config
	cron  *cron.Cron
	locks *KeyedMutex
	log   *log.Logger
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. Jobs are added with Register before Start.
func New(cfg Config, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.MaxConcurrentUsers <= 0 {
		cfg.MaxConcurrentUsers = 8
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	cl := cronLogger{l: logger}
	return &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locks:   NewKeyedMutex(),
		log:     logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// WithClock overrides the time source (for testing).
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Register adds a job on the cadence for its name. Config overrides win
// over the environment table.
func (s *Scheduler) Register(job Job) error {
	spec := s.cfg.Specs[job.Name]
	if spec == "" {
		spec = Cadence(s.cfg.Env)[job.Name]
	}
	if spec == "" {
		return fmt.Errorf("%w: %s has no cadence", ErrUnknownJob, job.Name)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %s: bad cron spec %q: %w", job.Name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[job.Name]; dup {
		return fmt.Errorf("job %s registered twice", job.Name)
	}
	e := &entry{job: job, spec: spec}
	s.entries[job.Name] = e

	_, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.baseCtx
		s.mu.Unlock()
		if ctx == nil {
			return
		}
		if err := s.run(ctx, e, s.now()); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Error("job failed", "job", e.job.Name, "err", err)
		}
	})
	return err
}

// Start begins firing jobs. Runs in progress observe ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()

	for _, st := range s.Status() {
		s.log.Info("job scheduled", "job", st.Name, "spec", st.Spec)
	}
}

// Stop halts the cron loop, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// RunOnce runs a registered job immediately as of at.
func (s *Scheduler) RunOnce(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if at.IsZero() {
		at = s.now()
	}
	return s.run(ctx, e, at)
}

// Jobs lists the registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// JobStatus is a point-in-time view of a job.
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Running bool      `json:"running"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
}

// Status reports every registered job.
func (s *Scheduler) Status() []JobStatus {
	var out []JobStatus
	for _, n := range s.Jobs() {
		s.mu.Lock()
		e := s.entries[n]
		s.mu.Unlock()
		st := JobStatus{Name: n, Spec: e.spec, Running: e.running.Load()}
		if ts := e.lastRun.Load(); ts > 0 {
			st.LastRun = time.Unix(ts, 0).UTC()
		}
		st.LastErr, _ = e.lastErr.Load().(string)
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, e *entry, now time.Time) (err error) {
	if !e.running.CompareAndSwap(false, true) {
		metrics.JobsSkipped.WithLabelValues(e.job.Name).Inc()
		return ErrJobRunning
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v\n%s", e.job.Name, r, debug.Stack())
		}
		metrics.JobDuration.WithLabelValues(e.job.Name).Observe(time.Since(start).Seconds())
		e.lastRun.Store(s.now().Unix())
		if err != nil {
			e.lastErr.Store(err.Error())
		} else {
			e.lastErr.Store("")
		}
	}()

	s.log.Debug("job started", "job", e.job.Name, "at", now.UTC().Format(time.RFC3339))
	return e.job.Run(ctx, now)
}

// ─── Fan-out ────────────────────────────────────────────────────────────────

// ForEachUser calls fn for every user on a pool of MaxConcurrentUsers
// workers. Each call holds that user's lock, so two passes never work on the
// same user at once. Failures do not stop the other users; they are joined
// into the returned error.
func (s *Scheduler) ForEachUser(ctx context.Context, userIDs []string, fn func(ctx context.Context, userID string) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(s.cfg.MaxConcurrentUsers)

	for _, id := range userIDs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			unlock := s.locks.Lock(id)
			defer unlock()
			if ctx.Err() != nil {
				return nil
			}
			if err := fn(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("user %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Locks exposes the per-user lock so other callers can serialize with
// scheduled passes.
func (s *Scheduler) Locks() *KeyedMutex { return s.locks }

// ─── Cron Logging ───────────────────────────────────────────────────────────

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
