// ABOUTME: Store interface and data types for toolgate history persistence
// ABOUTME: Defines Invocation and JobRun records plus the filters used to query them

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/2389/toolgate/internal/scheduler"
	"github.com/2389/toolgate/internal/tools"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Invocation is one recorded tool call.
type Invocation struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id"`
	Tool       string          `json:"tool"`
	Source     string          `json:"source"`
	Scope      string          `json:"scope,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS float64         `json:"duration_ms"`
}

// JobRun is one recorded scheduler run.
type JobRun struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	JobName    string    `json:"job_name"`
	Target     string    `json:"target"`
	Manual     bool      `json:"manual"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS float64   `json:"duration_ms"`
}

// InvocationFilter narrows ListInvocations. Zero fields match everything.
type InvocationFilter struct {
	Tool       string
	Source     string
	ErrorsOnly bool
	Since      *time.Time
	Limit      int // defaults to 100
}

// ToolStats aggregates calls of one tool.
type ToolStats struct {
	Tool          string  `json:"tool"`
	Calls         int64   `json:"calls"`
	Failures      int64   `json:"failures"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Store defines the interface for history persistence. It satisfies both
// tools.Recorder and scheduler.RunRecorder.
type Store interface {
	RecordInvocation(ctx context.Context, rec tools.InvocationRecord) error
	RecordJobRun(ctx context.Context, run scheduler.JobRun) error

	// GetInvocation returns ErrNotFound if no invocation has the ID.
	GetInvocation(ctx context.Context, id string) (*Invocation, error)
	// ListInvocations returns matching invocations, newest first.
	ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error)
	// ListJobRuns returns runs of one job, newest first.
	ListJobRuns(ctx context.Context, jobID string, limit int) ([]*JobRun, error)
	// ToolStats aggregates invocations started at or after since, by tool name.
	ToolStats(ctx context.Context, since time.Time) ([]ToolStats, error)

	// Prune deletes history older than before and returns the rows removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

var (
	_ Store                 = (*SQLiteStore)(nil)
	_ Store                 = (*MemoryStore)(nil)
	_ tools.Recorder        = (*SQLiteStore)(nil)
	_ scheduler.RunRecorder = (*SQLiteStore)(nil)
)
