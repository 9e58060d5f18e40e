// ABOUTME: Scheduled job types: specs submitted by callers, the actor-owned job, and read-only snapshots.
// ABOUTME: Jobs target either a registered tool or a named housekeeping callback.

package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending   State = "pending"
	StateDue       State = "due"
	StateRunning   State = "running"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Callback is a housekeeping function a job can run instead of a tool.
type Callback func(ctx context.Context) error

// JobSpec describes a job to add.
type JobSpec struct {
	Name    string
	Trigger Trigger

	// Exactly one of Tool or Callback.
	Tool      string
	Arguments json.RawMessage
	Callback  string

	// Budget bounds each run. Zero uses the scheduler default.
	Budget time.Duration
	// MaxRuns cancels the job after this many runs. Zero means unlimited.
	MaxRuns int
}

// JobInfo is a snapshot of a job handed to readers.
type JobInfo struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Trigger   string          `json:"trigger"`
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Callback  string          `json:"callback,omitempty"`
	State     State           `json:"state"`
	NextRun   time.Time       `json:"next_run"`
	LastRun   time.Time       `json:"last_run"`
	RunCount  int             `json:"run_count"`
	FailCount int             `json:"fail_count"`
	LastError string          `json:"last_error,omitempty"`
	Budget    string          `json:"budget"`
	MaxRuns   int             `json:"max_runs,omitempty"`
}

// JobRun is one completed run, handed to the RunRecorder.
type JobRun struct {
	ID        string
	JobID     string
	JobName   string
	Target    string // tool name or "callback:<name>"
	Manual    bool
	StartedAt time.Time
	Duration  time.Duration
	ErrorKind string
	Error     string
}

// RunRecorder persists job run history.
type RunRecorder interface {
	RecordJobRun(ctx context.Context, run JobRun) error
}

// job is owned by the scheduler goroutine.
type job struct {
	id        string
	spec      JobSpec
	budget    time.Duration
	state     State
	scheduled time.Time // slot the next interval is anchored on
	nextRun   time.Time
	lastRun   time.Time
	runCount  int
	failCount int // consecutive
	lastError string
	cancel    context.CancelFunc
}

func (j *job) target() string {
	if j.spec.Tool != "" {
		return j.spec.Tool
	}
	return "callback:" + j.spec.Callback
}

func (j *job) info() JobInfo {
	info := JobInfo{
		ID:        j.id,
		Name:      j.spec.Name,
		Trigger:   j.spec.Trigger.String(),
		Tool:      j.spec.Tool,
		Callback:  j.spec.Callback,
		State:     j.state,
		NextRun:   j.nextRun,
		LastRun:   j.lastRun,
		RunCount:  j.runCount,
		FailCount: j.failCount,
		LastError: j.lastError,
		Budget:    j.budget.String(),
		MaxRuns:   j.spec.MaxRuns,
	}
	if len(j.spec.Arguments) > 0 {
		info.Arguments = append(json.RawMessage(nil), j.spec.Arguments...)
	}
	return info
}
