package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/ledger-sync/internal/infrastructure/metrics"
)

const leaseGrace = 30 * time.Second

var (
	ErrUnknownJob    = errors.New("unknown job")
	ErrDuplicateJob  = errors.New("job already registered")
	ErrInvalidJob    = errors.New("job needs a name, a positive interval and a run function")
	ErrSchedulerLive = errors.New("scheduler already started")
)

// Job is one periodically scheduled unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	// RunOnStart fires the first run when the scheduler starts instead of one
	// interval later.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// PanicError is returned for a job run that panicked.
type PanicError struct {
	Job   string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job %s panicked: %v", e.Job, e.Value)
}

// Scheduler runs each job on its own ticker. A run is skipped when the same
// job is still running in this process or another holder owns its lease.
// Errors and panics stop at the run boundary.
type Scheduler struct {
	locker     Locker
	jobTimeout time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	running map[string]*atomic.Bool
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Every run is bounded by jobTimeout and
// holds its lease for jobTimeout plus a grace period.
func NewScheduler(locker Locker, jobTimeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	return &Scheduler{
		locker:     locker,
		jobTimeout: jobTimeout,
		metrics:    m,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		jobs:       make(map[string]Job),
		running:    make(map[string]*atomic.Bool),
	}
}

// Register adds a job. Jobs must be registered before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Interval <= 0 || job.Run == nil {
		return fmt.Errorf("%w: %q", ErrInvalidJob, job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerLive
	}
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	s.jobs[job.Name] = job
	s.running[job.Name] = &atomic.Bool{}
	return nil
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(runCtx, job)
		s.logger.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job scheduled")
	}
}

// Stop cancels every ticker and in-flight run and waits for the loops to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a job immediately under the same guards as a scheduled run. It
// reports false when the run was skipped because the job was busy.
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.runJob(ctx, job)
}

// Running reports whether a run of the job is in flight in this process.
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	flag := s.running[name]
	s.mu.Unlock()
	return flag != nil && flag.Load()
}

// Status returns the running flag of every job.
func (s *Scheduler) Status() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.running))
	for name, flag := range s.running {
		out[name] = flag.Load()
	}
	return out
}

// Jobs lists registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	if job.RunOnStart {
		_, _ = s.runJob(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.runJob(ctx, job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	s.mu.Lock()
	flag := s.running[job.Name]
	s.mu.Unlock()
	if !flag.CompareAndSwap(false, true) {
		s.metrics.ObserveJob(job.Name, "skipped", 0)
		s.logger.Debug().Str("job", job.Name).Msg("job still running, skipping")
		return false, nil
	}
	defer flag.Store(false)

	token, ok, err := s.locker.TryLock(ctx, job.Name, s.jobTimeout+leaseGrace)
	if err != nil {
		s.metrics.ObserveJob(job.Name, "error", 0)
		s.logger.Error().Err(err).Str("job", job.Name).Msg("failed to acquire job lease")
		return false, fmt.Errorf("failed to acquire lease for %s: %w", job.Name, err)
	}
	if !ok {
		s.metrics.ObserveJob(job.Name, "skipped", 0)
		s.logger.Debug().Str("job", job.Name).Msg("job lease held elsewhere, skipping")
		return false, nil
	}
	defer s.release(ctx, job.Name, token)

	s.metrics.SetJobRunning(job.Name, true)
	defer s.metrics.SetJobRunning(job.Name, false)

	start := time.Now()
	err = s.invoke(ctx, job)
	elapsed := time.Since(start)

	var panicErr *PanicError
	switch {
	case err == nil:
		s.metrics.ObserveJob(job.Name, "success", elapsed)
		s.logger.Debug().Str("job", job.Name).Dur("elapsed", elapsed).Msg("job finished")
	case errors.As(err, &panicErr):
		s.metrics.ObserveJob(job.Name, "panic", elapsed)
		s.logger.Error().
			Str("job", job.Name).
			Interface("panic", panicErr.Value).
			Bytes("stack", panicErr.Stack).
			Msg("job panicked")
	default:
		s.metrics.ObserveJob(job.Name, "error", elapsed)
		s.logger.Error().Err(err).Str("job", job.Name).Dur("elapsed", elapsed).Msg("job failed")
	}
	return true, err
}

func (s *Scheduler) invoke(ctx context.Context, job Job) (err error) {
	runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Job: job.Name, Value: r, Stack: debug.Stack()}
		}
	}()
	return job.Run(runCtx)
}

func (s *Scheduler) release(ctx context.Context, name, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.locker.Unlock(releaseCtx, name, token); err != nil {
		s.logger.Warn().Err(err).Str("job", name).Msg("failed to release job lease")
	}
}
