package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrInvalidJob     = errors.New("job needs a name, an interval and a func")
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // Per-run timeout, 0 for none
	Run      func(ctx context.Context) error
}

// JobStats counts runs of a job.
type JobStats struct {
	Runs    int64
	Errors  int64
	Skipped int64
}

type job struct {
	Job
	running atomic.Bool
	runs    atomic.Int64
	errors  atomic.Int64
	skipped atomic.Int64
}

// Runner runs registered jobs on fixed intervals.
type Runner struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []*job
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty Runner.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Add registers a job. Jobs must be added before Start.
func (r *Runner) Add(j Job) error {
	if j.Name == "" || j.Interval <= 0 || j.Run == nil {
		return ErrInvalidJob
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	r.jobs = append(r.jobs, &job{Job: j})
	return nil
}

// Start begins running every job.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	for _, j := range r.jobs {
		r.wg.Add(1)
		go r.loop(j)
	}

	r.logger.Info("scheduler started", "jobs", len(r.jobs))
	return nil
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns run counters for the named job.
func (r *Runner) Stats(name string) (JobStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Name == name {
			return JobStats{
				Runs:    j.runs.Load(),
				Errors:  j.errors.Load(),
				Skipped: j.skipped.Load(),
			}, true
		}
	}
	return JobStats{}, false
}

func (r *Runner) loop(j *job) {
	defer r.wg.Done()

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	// Run immediately on start.
	r.trigger(j)

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.trigger(j)
		}
	}
}

// trigger starts a run unless the previous one is still executing.
func (r *Runner) trigger(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		r.logger.Debug("job still running, skipping tick", "job", j.Name)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer j.running.Store(false)
		r.execute(j)
	}()
}

func (r *Runner) execute(j *job) {
	ctx := r.ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			j.errors.Add(1)
			r.logger.Error("job panicked", "job", j.Name, "panic", rec)
		}
	}()

	start := time.Now()
	j.runs.Add(1)
	if err := j.Run(ctx); err != nil {
		j.errors.Add(1)
		r.logger.Warn("job failed",
			"job", j.Name,
			"err", err,
			"duration", time.Since(start),
		)
	}
}
