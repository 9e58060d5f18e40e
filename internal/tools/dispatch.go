// ABOUTME: Generic dispatch path shared by protocol sessions, gRPC, admin API and the scheduler.
// ABOUTME: Handles lookup, request correlation, execution budgets, panic recovery, and recording.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultTimeout is the default execution budget for a tool call.
const DefaultTimeout = 30 * time.Second

// Invocation sources.
const (
	SourceMCP       = "mcp"
	SourceStdio     = "stdio"
	SourceGRPC      = "grpc"
	SourceAdmin     = "admin"
	SourceScheduler = "scheduler"
)

// Invocation is one request to run a tool.
type Invocation struct {
	// RequestID correlates the call with its response. Generated when empty.
	RequestID string
	// Scope namespaces RequestID, e.g. a session id, so ids only need to be
	// unique per caller.
	Scope     string
	Tool      string
	Arguments json.RawMessage
	Source    string
	// Budget overrides the tool's execution budget when positive.
	Budget time.Duration
}

// Result is the outcome of a successful invocation.
type Result struct {
	RequestID string
	Tool      string
	Value     any
	// Structured is Value shaped per the tool's output schema (nil if none).
	Structured any
	Duration   time.Duration
}

// InvocationRecord is what a Recorder persists for every dispatched call.
type InvocationRecord struct {
	ID        string
	RequestID string
	Tool      string
	Source    string
	Scope     string
	Arguments json.RawMessage
	ErrorKind string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Recorder persists invocation history.
type Recorder interface {
	RecordInvocation(ctx context.Context, rec InvocationRecord) error
}

// DispatcherConfig contains configuration options for the Dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Timeout  time.Duration
	Recorder Recorder
}

// Dispatcher resolves and runs tools.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration
	recorder Recorder

	mu      sync.Mutex
	pending map[string]context.CancelFunc
	closed  bool
}

// NewDispatcher creates a Dispatcher with the given configuration.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		logger:   logger,
		timeout:  timeout,
		recorder: cfg.Recorder,
		pending:  make(map[string]context.CancelFunc),
	}, nil
}

// Registry returns the registry the dispatcher resolves tools from.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// ErrDispatcherClosed is returned for invocations after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatch runs one invocation. Errors are one of the types in errors.go,
// context.Canceled, ErrDuplicateRequestID or ErrDispatcherClosed.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.RequestID == "" {
		inv.RequestID = ulid.Make().String()
	}
	start := time.Now()

	res, err := d.dispatch(ctx, inv)
	elapsed := time.Since(start)
	if res != nil {
		res.Duration = elapsed
	}

	d.record(inv, start, elapsed, err)
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, inv Invocation) (*Result, error) {
	fn, ok := d.registry.Lookup(inv.Tool)
	if !ok {
		d.logger.Debug("tool not found in registry", "tool_name", inv.Tool, "request_id", inv.RequestID)
		return nil, &UnknownToolError{Name: inv.Tool}
	}

	budget := d.timeout
	if fn.desc.Timeout > 0 {
		budget = fn.desc.Timeout
	}
	if inv.Budget > 0 {
		budget = inv.Budget
	}

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	key := inv.Scope + "/" + inv.RequestID
	if err := d.createPending(key, cancel); err != nil {
		return nil, err
	}
	defer d.closePending(key)

	d.logger.Debug("→ dispatching",
		"tool_name", inv.Tool,
		"request_id", inv.RequestID,
		"source", inv.Source,
	)

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool handler panicked",
					"tool_name", inv.Tool,
					"request_id", inv.RequestID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- outcome{err: &HandlerExecutionError{Tool: inv.Tool, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		v, err := fn.Call(ctx, inv.Arguments)
		done <- outcome{value: v, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, &TimeoutError{Tool: inv.Tool, Budget: budget}
		}
		return nil, out.err
	}

	return &Result{
		RequestID:  inv.RequestID,
		Tool:       inv.Tool,
		Value:      out.value,
		Structured: fn.Structured(out.value),
	}, nil
}

func (d *Dispatcher) record(inv Invocation, start time.Time, elapsed time.Duration, err error) {
	if err != nil {
		info := Describe(err)
		level := slog.LevelWarn
		if info.Kind == KindUnknownTool || info.Kind == KindInvalidArguments {
			level = slog.LevelDebug
		}
		d.logger.Log(context.Background(), level, "tool call failed",
			"tool_name", inv.Tool,
			"request_id", inv.RequestID,
			"source", inv.Source,
			"kind", info.Kind,
			"error", err,
		)
	} else {
		d.logger.Debug("← tool responded",
			"tool_name", inv.Tool,
			"request_id", inv.RequestID,
			"duration", elapsed,
		)
	}

	if d.recorder == nil {
		return
	}
	rec := InvocationRecord{
		ID:        ulid.Make().String(),
		RequestID: inv.RequestID,
		Tool:      inv.Tool,
		Source:    inv.Source,
		Scope:     inv.Scope,
		Arguments: inv.Arguments,
		StartedAt: start,
		Duration:  elapsed,
	}
	if err != nil {
		rec.ErrorKind = string(Describe(err).Kind)
		rec.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := d.recorder.RecordInvocation(ctx, rec); rerr != nil {
		d.logger.Warn("failed to record invocation", "request_id", inv.RequestID, "error", rerr)
	}
}

// createPending registers an in-flight call. Returns ErrDuplicateRequestID if
// the key is already in flight.
func (d *Dispatcher) createPending(key string, cancel context.CancelFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if _, exists := d.pending[key]; exists {
		return ErrDuplicateRequestID
	}
	d.pending[key] = cancel
	return nil
}

func (d *Dispatcher) closePending(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

// PendingCount returns the number of in-flight calls.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close cancels all in-flight calls and rejects new ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	cancelled := len(d.pending)
	for key, cancel := range d.pending {
		cancel()
		delete(d.pending, key)
	}
	d.closed = true
	d.logger.Info("dispatcher closed", "pending_cancelled", cancelled)
}
