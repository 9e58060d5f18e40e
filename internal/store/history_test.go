// ABOUTME: Tests for invocation and job run history
// ABOUTME: Runs the same cases against SQLiteStore and MemoryStore so their behavior matches

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/scheduler"
	"github.com/2389/toolgate/internal/tools"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// eachStore runs fn against every Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func invocation(id, tool, source string, offset time.Duration, kind string) tools.InvocationRecord {
	rec := tools.InvocationRecord{
		ID:        id,
		RequestID: "req-" + id,
		Tool:      tool,
		Source:    source,
		Scope:     "session-1",
		Arguments: json.RawMessage(`{"a":2,"b":3}`),
		StartedAt: epoch.Add(offset),
		Duration:  1500 * time.Microsecond,
	}
	if kind != "" {
		rec.ErrorKind = kind
		rec.Error = kind + " happened"
	}
	return rec
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "history.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.RecordInvocation(ctx, invocation("01A", "add", tools.SourceMCP, 0, "")))
	got, err := store.GetInvocation(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, "add", got.Tool)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.RecordJobRun(ctx, scheduler.JobRun{ID: "run-1", JobID: "job-1", JobName: "j", Target: "add", StartedAt: epoch}))
	require.NoError(t, first.Close())

	// Migrations must be idempotent on an existing database.
	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	runs, err := second.ListJobRuns(ctx, "job-1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestRecordAndGetInvocation(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.RecordInvocation(ctx, invocation("01A", "add", tools.SourceMCP, 0, "")))
		require.NoError(t, st.RecordInvocation(ctx, invocation("01B", "add", tools.SourceMCP, time.Second, "invalid_arguments")))

		got, err := st.GetInvocation(ctx, "01A")
		require.NoError(t, err)
		assert.Equal(t, "req-01A", got.RequestID)
		assert.Equal(t, tools.SourceMCP, got.Source)
		assert.Equal(t, "session-1", got.Scope)
		assert.JSONEq(t, `{"a":2,"b":3}`, string(got.Arguments))
		assert.True(t, got.StartedAt.Equal(epoch))
		assert.InDelta(t, 1.5, got.DurationMS, 0.001)
		assert.Empty(t, got.ErrorKind)

		failed, err := st.GetInvocation(ctx, "01B")
		require.NoError(t, err)
		assert.Equal(t, "invalid_arguments", failed.ErrorKind)
		assert.Equal(t, "invalid_arguments happened", failed.Error)

		_, err = st.GetInvocation(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListInvocationsFilters(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.RecordInvocation(ctx, invocation("01A", "add", tools.SourceMCP, 0, "")))
		require.NoError(t, st.RecordInvocation(ctx, invocation("01B", "multiply", tools.SourceStdio, time.Minute, "")))
		require.NoError(t, st.RecordInvocation(ctx, invocation("01C", "add", tools.SourceScheduler, 2*time.Minute, "timeout")))

		all, err := st.ListInvocations(ctx, InvocationFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"01C", "01B", "01A"}, ids(all), "newest first")

		byTool, err := st.ListInvocations(ctx, InvocationFilter{Tool: "add"})
		require.NoError(t, err)
		assert.Equal(t, []string{"01C", "01A"}, ids(byTool))

		bySource, err := st.ListInvocations(ctx, InvocationFilter{Source: tools.SourceStdio})
		require.NoError(t, err)
		assert.Equal(t, []string{"01B"}, ids(bySource))

		failures, err := st.ListInvocations(ctx, InvocationFilter{ErrorsOnly: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"01C"}, ids(failures))

		since := epoch.Add(30 * time.Second)
		recent, err := st.ListInvocations(ctx, InvocationFilter{Since: &since})
		require.NoError(t, err)
		assert.Equal(t, []string{"01C", "01B"}, ids(recent))

		limited, err := st.ListInvocations(ctx, InvocationFilter{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"01C"}, ids(limited))
	})
}

func ids(invs []*Invocation) []string {
	out := make([]string, len(invs))
	for i, inv := range invs {
		out[i] = inv.ID
	}
	return out
}

func TestListJobRuns(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for i, kind := range []string{"", "timeout", ""} {
			run := scheduler.JobRun{
				ID:        "run-" + string(rune('a'+i)),
				JobID:     "job-1",
				JobName:   "purge",
				Target:    "callback:purge_upstream_cache",
				Manual:    i == 2,
				StartedAt: epoch.Add(time.Duration(i) * time.Minute),
				Duration:  time.Millisecond,
				ErrorKind: kind,
			}
			require.NoError(t, st.RecordJobRun(ctx, run))
		}
		require.NoError(t, st.RecordJobRun(ctx, scheduler.JobRun{ID: "other", JobID: "job-2", JobName: "x", Target: "add", StartedAt: epoch}))

		runs, err := st.ListJobRuns(ctx, "job-1", 0)
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, "run-c", runs[0].ID)
		assert.True(t, runs[0].Manual)
		assert.Equal(t, "timeout", runs[1].ErrorKind)
		assert.False(t, runs[2].Manual)
		assert.InDelta(t, 1.0, runs[2].DurationMS, 0.001)

		limited, err := st.ListJobRuns(ctx, "job-1", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := st.ListJobRuns(ctx, "job-404", 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestToolStats(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.RecordInvocation(ctx, invocation("01A", "add", tools.SourceMCP, 0, "")))
		require.NoError(t, st.RecordInvocation(ctx, invocation("01B", "add", tools.SourceMCP, time.Second, "handler_error")))
		require.NoError(t, st.RecordInvocation(ctx, invocation("01C", "multiply", tools.SourceMCP, time.Second, "")))
		require.NoError(t, st.RecordInvocation(ctx, invocation("01D", "old", tools.SourceMCP, -time.Hour, "")))

		stats, err := st.ToolStats(ctx, epoch)
		require.NoError(t, err)
		require.Len(t, stats, 2)
		assert.Equal(t, "add", stats[0].Tool)
		assert.Equal(t, int64(2), stats[0].Calls)
		assert.Equal(t, int64(1), stats[0].Failures)
		assert.InDelta(t, 1.5, stats[0].AvgDurationMS, 0.001)
		assert.Equal(t, "multiply", stats[1].Tool)
		assert.Equal(t, int64(0), stats[1].Failures)
	})
}

func TestPrune(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.RecordInvocation(ctx, invocation("old", "add", tools.SourceMCP, -48*time.Hour, "")))
		require.NoError(t, st.RecordInvocation(ctx, invocation("new", "add", tools.SourceMCP, 0, "")))
		require.NoError(t, st.RecordJobRun(ctx, scheduler.JobRun{ID: "r-old", JobID: "j", JobName: "j", Target: "add", StartedAt: epoch.Add(-48 * time.Hour)}))
		require.NoError(t, st.RecordJobRun(ctx, scheduler.JobRun{ID: "r-new", JobID: "j", JobName: "j", Target: "add", StartedAt: epoch}))

		removed, err := st.Prune(ctx, epoch.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		all, err := st.ListInvocations(ctx, InvocationFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, ids(all))

		runs, err := st.ListJobRuns(ctx, "j", 0)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "r-new", runs[0].ID)
	})
}

func TestPruneCallback(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.RecordInvocation(ctx, tools.InvocationRecord{ID: "stale", Tool: "add", StartedAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, st.RecordInvocation(ctx, tools.InvocationRecord{ID: "fresh", Tool: "add", StartedAt: time.Now()}))

	require.NoError(t, PruneCallback(st, time.Hour)(ctx))

	_, err := st.GetInvocation(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetInvocation(ctx, "fresh")
	assert.NoError(t, err)
}

func TestDispatcherRecordsIntoStore(t *testing.T) {
	st := setupTestStore(t)
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.Register(tools.Descriptor{
		Name:    "echo",
		Params:  []tools.Param{{Name: "text", Type: tools.TypeString, Required: true}},
		Handler: func(_ context.Context, args tools.Arguments) (any, error) { return args.String("text"), nil },
	}))
	d, err := tools.NewDispatcher(tools.DispatcherConfig{Registry: reg, Recorder: st})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	_, err = d.Dispatch(ctx, tools.Invocation{Tool: "echo", Arguments: json.RawMessage(`{"text":"hi"}`), Source: tools.SourceAdmin})
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, tools.Invocation{Tool: "echo", Arguments: json.RawMessage(`{}`), Source: tools.SourceAdmin})
	require.Error(t, err)

	invs, err := st.ListInvocations(ctx, InvocationFilter{Tool: "echo"})
	require.NoError(t, err)
	require.Len(t, invs, 2)

	kinds := map[string]bool{}
	for _, inv := range invs {
		kinds[inv.ErrorKind] = true
		assert.Equal(t, tools.SourceAdmin, inv.Source)
	}
	assert.True(t, kinds[""])
	assert.True(t, kinds[string(tools.KindInvalidArguments)])
}
