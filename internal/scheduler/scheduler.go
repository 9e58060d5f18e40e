// ABOUTME: Scheduler actor that owns the job table and fires due jobs on a tick.
// ABOUTME: Admin operations arrive as messages; runs execute on goroutines and report back as completions.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389/toolgate/internal/tools"
)

const (
	// DefaultTick is how often the scheduler checks for due jobs.
	DefaultTick = time.Second
	// DefaultBudget bounds a run when neither the job nor the config sets one.
	DefaultBudget = 30 * time.Second
)

var (
	// ErrJobNotFound indicates no job has the given ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning is returned when triggering a job whose run has not finished.
	ErrJobRunning = errors.New("job is already running")
	// ErrJobCancelled is returned when triggering a cancelled job.
	ErrJobCancelled = errors.New("job is cancelled")
	// ErrUnknownCallback indicates a job names a callback that is not registered.
	ErrUnknownCallback = errors.New("unknown callback")
	// ErrStopped is returned for operations after the scheduler has stopped.
	ErrStopped = errors.New("scheduler stopped")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Dispatcher runs tool invocations. *tools.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv tools.Invocation) (*tools.Result, error)
}

// Config contains configuration options for the Scheduler.
type Config struct {
	Dispatcher    Dispatcher
	Logger        *slog.Logger
	Tick          time.Duration
	DefaultBudget time.Duration
	// MaxFailures cancels a job after this many consecutive failures. Zero
	// keeps re-arming forever.
	MaxFailures int
	Recorder    RunRecorder
}

type adminMsg struct {
	apply func(now time.Time) error
	reply chan error
}

type completion struct {
	jobID string
	runID string
	start time.Time
	err   error
}

// Scheduler fires jobs through the tool dispatcher or registered callbacks.
type Scheduler struct {
	dispatcher    Dispatcher
	logger        *slog.Logger
	tick          time.Duration
	defaultBudget time.Duration
	maxFailures   int
	recorder      RunRecorder

	callbacksMu sync.RWMutex
	callbacks   map[string]Callback

	admin       chan adminMsg
	completions chan completion
	stopped     chan struct{}
	started     atomic.Bool

	// Owned by the Run goroutine.
	jobs     map[string]*job
	runIDs   map[string]string // job ID -> current run ID
	inflight int
	runCtx   context.Context
}

// New creates a Scheduler. Call Run to start it.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	budget := cfg.DefaultBudget
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Scheduler{
		dispatcher:    cfg.Dispatcher,
		logger:        logger.With("component", "scheduler"),
		tick:          tick,
		defaultBudget: budget,
		maxFailures:   cfg.MaxFailures,
		recorder:      cfg.Recorder,
		callbacks:     make(map[string]Callback),
		admin:         make(chan adminMsg),
		completions:   make(chan completion),
		stopped:       make(chan struct{}),
		jobs:          make(map[string]*job),
		runIDs:        make(map[string]string),
	}, nil
}

// RegisterCallback makes fn available to jobs under name.
func (s *Scheduler) RegisterCallback(name string, fn Callback) error {
	if name == "" || fn == nil {
		return errors.New("callback name and function are required")
	}
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	if _, exists := s.callbacks[name]; exists {
		return fmt.Errorf("callback %q already registered", name)
	}
	s.callbacks[name] = fn
	return nil
}

func (s *Scheduler) callback(name string) (Callback, bool) {
	s.callbacksMu.RLock()
	defer s.callbacksMu.RUnlock()
	fn, ok := s.callbacks[name]
	return fn, ok
}

// Run owns the job table until ctx is cancelled. Running jobs are cancelled
// and awaited before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()
	s.runCtx = runCtx

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "tick", s.tick)

	for {
		select {
		case <-ctx.Done():
			s.shutdown(cancelRuns)
			return nil

		case now := <-ticker.C:
			s.fireDue(now)

		case msg := <-s.admin:
			msg.reply <- msg.apply(time.Now())

		case c := <-s.completions:
			s.complete(c)
		}
	}
}

func (s *Scheduler) shutdown(cancelRuns context.CancelFunc) {
	close(s.stopped)
	cancelRuns()
	for s.inflight > 0 {
		s.complete(<-s.completions)
	}
	s.logger.Info("scheduler stopped", "jobs", len(s.jobs))
}

// fireDue launches every pending job whose slot has arrived, oldest slot first.
func (s *Scheduler) fireDue(now time.Time) {
	var due []*job
	for _, j := range s.jobs {
		if j.state == StatePending && !j.nextRun.After(now) {
			j.state = StateDue
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].nextRun.Before(due[b].nextRun) })

	for _, j := range due {
		j.scheduled = j.nextRun
		s.launch(j, false)
	}
}

// launch starts one run of j on its own goroutine under the job's budget.
func (s *Scheduler) launch(j *job, manual bool) {
	runID := ulid.Make().String()
	ctx, cancel := context.WithTimeout(s.runCtx, j.budget)
	j.state = StateRunning
	j.cancel = cancel
	s.runIDs[j.id] = runID
	s.inflight++

	spec := j.spec
	budget := j.budget
	target := j.target()
	jobID := j.id

	s.logger.Debug("job firing", "job_id", jobID, "name", spec.Name, "target", target, "manual", manual)

	go func() {
		defer cancel()
		start := time.Now()
		err := s.execute(ctx, jobID, runID, spec, budget)
		s.record(JobRun{
			ID:        runID,
			JobID:     jobID,
			JobName:   spec.Name,
			Target:    target,
			Manual:    manual,
			StartedAt: start,
			Duration:  time.Since(start),
		}, err)
		s.completions <- completion{jobID: jobID, runID: runID, start: start, err: err}
	}()
}

func (s *Scheduler) execute(ctx context.Context, jobID, runID string, spec JobSpec, budget time.Duration) error {
	if spec.Tool != "" {
		_, err := s.dispatcher.Dispatch(ctx, tools.Invocation{
			RequestID: runID,
			Scope:     "job:" + jobID,
			Tool:      spec.Tool,
			Arguments: spec.Arguments,
			Source:    tools.SourceScheduler,
			Budget:    budget,
		})
		return err
	}

	fn, ok := s.callback(spec.Callback)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCallback, spec.Callback)
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job callback panicked",
					"job_id", jobID,
					"callback", spec.Callback,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- fmt.Errorf("callback %s panicked: %v", spec.Callback, r)
			}
		}()
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &tools.TimeoutError{Tool: "callback:" + spec.Callback, Budget: budget}
	}
	return err
}

func (s *Scheduler) record(run JobRun, err error) {
	if err != nil {
		info := tools.Describe(err)
		run.ErrorKind = string(info.Kind)
		run.Error = err.Error()
	}
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := s.recorder.RecordJobRun(ctx, run); rerr != nil {
		s.logger.Warn("failed to record job run", "job_id", run.JobID, "run_id", run.ID, "error", rerr)
	}
}

// complete applies a finished run to its job: re-arm, or cancel when a limit
// is reached.
func (s *Scheduler) complete(c completion) {
	s.inflight--
	j, ok := s.jobs[c.jobID]
	if !ok || s.runIDs[c.jobID] != c.runID {
		return
	}
	delete(s.runIDs, c.jobID)
	j.cancel = nil
	j.lastRun = c.start
	j.runCount++

	if c.err != nil {
		j.failCount++
		j.lastError = c.err.Error()
		j.state = StateFailed
		s.logger.Warn("job run failed",
			"job_id", j.id,
			"name", j.spec.Name,
			"consecutive_failures", j.failCount,
			"error", c.err,
		)
		if s.maxFailures > 0 && j.failCount >= s.maxFailures {
			s.cancelJob(j, "too many consecutive failures")
			return
		}
	} else {
		j.failCount = 0
		j.lastError = ""
	}

	if j.spec.MaxRuns > 0 && j.runCount >= j.spec.MaxRuns {
		s.cancelJob(j, "max runs reached")
		return
	}

	j.state = StatePending
	j.nextRun = j.spec.Trigger.Next(j.scheduled, time.Now())
}

func (s *Scheduler) cancelJob(j *job, reason string) {
	j.state = StateCancelled
	j.nextRun = time.Time{}
	s.logger.Info("job cancelled", "job_id", j.id, "name", j.spec.Name, "reason", reason, "runs", j.runCount)
}

// call hands apply to the scheduler goroutine and waits for its result.
func (s *Scheduler) call(ctx context.Context, apply func(now time.Time) error) error {
	reply := make(chan error, 1)
	select {
	case s.admin <- adminMsg{apply: apply, reply: reply}:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add schedules a new job and returns its snapshot. The first run is one
// trigger period from now.
func (s *Scheduler) Add(ctx context.Context, spec JobSpec) (JobInfo, error) {
	if err := s.validate(spec); err != nil {
		return JobInfo{}, err
	}
	var info JobInfo
	err := s.call(ctx, func(now time.Time) error {
		j := &job{
			id:        ulid.Make().String(),
			spec:      spec,
			budget:    spec.Budget,
			state:     StatePending,
			scheduled: now,
			nextRun:   spec.Trigger.Next(now, now),
		}
		if j.budget <= 0 {
			j.budget = s.defaultBudget
		}
		s.jobs[j.id] = j
		info = j.info()
		s.logger.Info("job added",
			"job_id", j.id,
			"name", spec.Name,
			"trigger", spec.Trigger.String(),
			"target", j.target(),
			"next_run", j.nextRun,
		)
		return nil
	})
	if err != nil {
		return JobInfo{}, err
	}
	return info, nil
}

func (s *Scheduler) validate(spec JobSpec) error {
	if spec.Name == "" {
		return errors.New("job name is required")
	}
	if spec.Trigger == nil {
		return fmt.Errorf("job %q: trigger is required", spec.Name)
	}
	if iv, ok := spec.Trigger.(Interval); ok && iv.Every <= 0 {
		return fmt.Errorf("job %q: interval must be positive", spec.Name)
	}
	if (spec.Tool == "") == (spec.Callback == "") {
		return fmt.Errorf("job %q: exactly one of tool or callback is required", spec.Name)
	}
	if spec.Callback != "" {
		if _, ok := s.callback(spec.Callback); !ok {
			return fmt.Errorf("job %q: %w: %s", spec.Name, ErrUnknownCallback, spec.Callback)
		}
	}
	if spec.MaxRuns < 0 {
		return fmt.Errorf("job %q: max runs must not be negative", spec.Name)
	}
	return nil
}

// Remove cancels any running attempt of the job and deletes it.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	return s.call(ctx, func(time.Time) error {
		j, ok := s.jobs[id]
		if !ok {
			return ErrJobNotFound
		}
		if j.cancel != nil {
			j.cancel()
		}
		delete(s.jobs, id)
		delete(s.runIDs, id)
		s.logger.Info("job removed", "job_id", id, "name", j.spec.Name)
		return nil
	})
}

// Get returns a snapshot of one job.
func (s *Scheduler) Get(ctx context.Context, id string) (JobInfo, error) {
	var info JobInfo
	err := s.call(ctx, func(time.Time) error {
		j, ok := s.jobs[id]
		if !ok {
			return ErrJobNotFound
		}
		info = j.info()
		return nil
	})
	if err != nil {
		return JobInfo{}, err
	}
	return info, nil
}

// List returns snapshots of all jobs ordered by ID, which is creation order.
func (s *Scheduler) List(ctx context.Context) ([]JobInfo, error) {
	var out []JobInfo
	err := s.call(ctx, func(time.Time) error {
		out = make([]JobInfo, 0, len(s.jobs))
		for _, j := range s.jobs {
			out = append(out, j.info())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// Trigger runs a job now without moving its schedule.
func (s *Scheduler) Trigger(ctx context.Context, id string) error {
	return s.call(ctx, func(time.Time) error {
		j, ok := s.jobs[id]
		if !ok {
			return ErrJobNotFound
		}
		switch j.state {
		case StateRunning, StateDue:
			return ErrJobRunning
		case StateCancelled:
			return ErrJobCancelled
		}
		s.launch(j, true)
		return nil
	})
}
