// ABOUTME: In-memory Store implementation for tests and ephemeral runs
// ABOUTME: Mirrors SQLiteStore ordering and filtering without a database

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/toolgate/internal/scheduler"
	"github.com/2389/toolgate/internal/tools"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu          sync.RWMutex
	invocations map[string]*Invocation
	jobRuns     []*JobRun
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invocations: make(map[string]*Invocation),
	}
}

// RecordInvocation stores one tool call.
func (m *MemoryStore) RecordInvocation(_ context.Context, rec tools.InvocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invocations[rec.ID] = &Invocation{
		ID:         rec.ID,
		RequestID:  rec.RequestID,
		Tool:       rec.Tool,
		Source:     rec.Source,
		Scope:      rec.Scope,
		Arguments:  append([]byte(nil), rec.Arguments...),
		ErrorKind:  rec.ErrorKind,
		Error:      rec.Error,
		StartedAt:  rec.StartedAt.UTC(),
		DurationMS: durationMS(rec.Duration),
	}
	return nil
}

// RecordJobRun stores one scheduler run.
func (m *MemoryStore) RecordJobRun(_ context.Context, run scheduler.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobRuns = append(m.jobRuns, &JobRun{
		ID:         run.ID,
		JobID:      run.JobID,
		JobName:    run.JobName,
		Target:     run.Target,
		Manual:     run.Manual,
		ErrorKind:  run.ErrorKind,
		Error:      run.Error,
		StartedAt:  run.StartedAt.UTC(),
		DurationMS: durationMS(run.Duration),
	})
	return nil
}

// GetInvocation retrieves one invocation by ID.
func (m *MemoryStore) GetInvocation(_ context.Context, id string) (*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invocations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *inv
	return &result, nil
}

// ListInvocations returns invocations matching filter, newest first.
func (m *MemoryStore) ListInvocations(_ context.Context, filter InvocationFilter) ([]*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Invocation
	for _, inv := range m.invocations {
		if filter.Tool != "" && inv.Tool != filter.Tool {
			continue
		}
		if filter.Source != "" && inv.Source != filter.Source {
			continue
		}
		if filter.ErrorsOnly && inv.ErrorKind == "" {
			continue
		}
		if filter.Since != nil && inv.StartedAt.Before(*filter.Since) {
			continue
		}
		result := *inv
		out = append(out, &result)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListJobRuns returns the most recent runs of a job, newest first.
func (m *MemoryStore) ListJobRuns(_ context.Context, jobID string, limit int) ([]*JobRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*JobRun
	for i := len(m.jobRuns) - 1; i >= 0; i-- {
		if m.jobRuns[i].JobID == jobID {
			result := *m.jobRuns[i]
			out = append(out, &result)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ToolStats returns per-tool call counts since the given time, busiest first.
func (m *MemoryStore) ToolStats(_ context.Context, since time.Time) ([]ToolStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byTool := make(map[string]*ToolStats)
	totals := make(map[string]float64)
	for _, inv := range m.invocations {
		if inv.StartedAt.Before(since) {
			continue
		}
		st, ok := byTool[inv.Tool]
		if !ok {
			st = &ToolStats{Tool: inv.Tool}
			byTool[inv.Tool] = st
		}
		st.Calls++
		if inv.ErrorKind != "" {
			st.Failures++
		}
		totals[inv.Tool] += inv.DurationMS
	}

	out := make([]ToolStats, 0, len(byTool))
	for name, st := range byTool {
		st.AvgDurationMS = totals[name] / float64(st.Calls)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Tool < out[j].Tool
	})
	return out, nil
}

// Prune deletes history that started before the cutoff.
func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, inv := range m.invocations {
		if inv.StartedAt.Before(before) {
			delete(m.invocations, id)
			removed++
		}
	}
	kept := m.jobRuns[:0]
	for _, run := range m.jobRuns {
		if run.StartedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, run)
	}
	m.jobRuns = kept
	return removed, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
