// ABOUTME: SQLite implementation of invocation and job run history
// ABOUTME: Records, lists, aggregates and prunes history rows

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/toolgate/internal/scheduler"
	"github.com/2389/toolgate/internal/tools"
)

// timeFormat has fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RecordInvocation stores one tool call.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, rec tools.InvocationRecord) error {
	query := `
		INSERT INTO invocations (
			id, request_id, tool, source, scope, arguments,
			error_kind, error, started_at, duration_us
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.RequestID,
		rec.Tool,
		rec.Source,
		rec.Scope,
		nullString(string(rec.Arguments)),
		nullString(rec.ErrorKind),
		nullString(rec.Error),
		formatTime(rec.StartedAt),
		rec.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}
	return nil
}

// RecordJobRun stores one scheduler run.
func (s *SQLiteStore) RecordJobRun(ctx context.Context, run scheduler.JobRun) error {
	query := `
		INSERT INTO job_runs (
			id, job_id, job_name, target, manual,
			error_kind, error, started_at, duration_us
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.JobID,
		run.JobName,
		run.Target,
		run.Manual,
		nullString(run.ErrorKind),
		nullString(run.Error),
		formatTime(run.StartedAt),
		run.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting job run: %w", err)
	}

	s.logger.Debug("recorded job run", "job_id", run.JobID, "run_id", run.ID, "error_kind", run.ErrorKind)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

const invocationColumns = `id, request_id, tool, source, scope, arguments, error_kind, error, started_at, duration_us`

func scanInvocation(row scanner) (*Invocation, error) {
	var (
		inv        Invocation
		arguments  sql.NullString
		errorKind  sql.NullString
		errMsg     sql.NullString
		startedAt  string
		durationUS int64
	)
	if err := row.Scan(&inv.ID, &inv.RequestID, &inv.Tool, &inv.Source, &inv.Scope,
		&arguments, &errorKind, &errMsg, &startedAt, &durationUS); err != nil {
		return nil, err
	}

	started, err := parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	inv.StartedAt = started
	inv.DurationMS = durationMS(time.Duration(durationUS) * time.Microsecond)
	if arguments.Valid {
		inv.Arguments = []byte(arguments.String)
	}
	inv.ErrorKind = errorKind.String
	inv.Error = errMsg.String
	return &inv, nil
}

// GetInvocation retrieves one invocation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)
	inv, err := scanInvocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns invocations matching filter, newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error) {
	query := `SELECT ` + invocationColumns + ` FROM invocations WHERE 1=1`
	args := []any{}

	if filter.Tool != "" {
		query += " AND tool = ?"
		args = append(args, filter.Tool)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.ErrorsOnly {
		query += " AND error_kind IS NOT NULL"
	}
	if filter.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocation rows: %w", err)
	}
	return out, nil
}

// ListJobRuns returns the most recent runs of a job, newest first.
func (s *SQLiteStore) ListJobRuns(ctx context.Context, jobID string, limit int) ([]*JobRun, error) {
	query := `
		SELECT id, job_id, job_name, target, manual, error_kind, error, started_at, duration_us
		FROM job_runs
		WHERE job_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, jobID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying job runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*JobRun
	for rows.Next() {
		var (
			run        JobRun
			errorKind  sql.NullString
			errMsg     sql.NullString
			startedAt  string
			durationUS int64
		)
		if err := rows.Scan(&run.ID, &run.JobID, &run.JobName, &run.Target, &run.Manual,
			&errorKind, &errMsg, &startedAt, &durationUS); err != nil {
			return nil, fmt.Errorf("scanning job run: %w", err)
		}
		started, err := parseTime(startedAt)
		if err != nil {
			return nil, err
		}
		run.StartedAt = started
		run.DurationMS = durationMS(time.Duration(durationUS) * time.Microsecond)
		run.ErrorKind = errorKind.String
		run.Error = errMsg.String
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job run rows: %w", err)
	}
	return out, nil
}

// ToolStats returns per-tool call counts since the given time, busiest first.
func (s *SQLiteStore) ToolStats(ctx context.Context, since time.Time) ([]ToolStats, error) {
	query := `
		SELECT
			tool,
			COUNT(*) as calls,
			COALESCE(SUM(CASE WHEN error_kind IS NOT NULL THEN 1 ELSE 0 END), 0) as failures,
			COALESCE(AVG(duration_us), 0) as avg_us
		FROM invocations
		WHERE started_at >= ?
		GROUP BY tool
		ORDER BY calls DESC, tool ASC
	`

	rows, err := s.db.QueryContext(ctx, query, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying tool stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ToolStats
	for rows.Next() {
		var (
			st    ToolStats
			avgUS float64
		)
		if err := rows.Scan(&st.Tool, &st.Calls, &st.Failures, &avgUS); err != nil {
			return nil, fmt.Errorf("scanning tool stats: %w", err)
		}
		st.AvgDurationMS = avgUS / 1000
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool stats rows: %w", err)
	}
	return out, nil
}

// Prune deletes invocations and job runs that started before the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := formatTime(before)
	var total int64
	for _, table := range []string{"invocations", "job_runs"} {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE started_at < ?`, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("getting rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}

	s.logger.Debug("pruned history", "before", cutoff, "rows", total)
	return total, nil
}

// PruneCallback returns a scheduler callback that drops history older than
// retention.
func PruneCallback(st Store, retention time.Duration) scheduler.Callback {
	return func(ctx context.Context) error {
		_, err := st.Prune(ctx, time.Now().Add(-retention))
		return err
	}
}
