// ABOUTME: Tests for the toolgate command tree, logger, and client commands
// ABOUTME: Client commands run against an httptest server standing in for the admin API

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/config"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp().withOutput(&stdout, &stderr)
	err := a.execute(context.Background(), args)
	return stdout.String(), err
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	h := &colorHandler{out: &buf, mu: &sync.Mutex{}, level: slog.LevelInfo}
	logger := slog.New(h)

	logger.Debug("hidden")
	logger.With("component", "scheduler").WithGroup("job").Warn("run failed", "id", "01J", "attempt", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN run failed")
	assert.Contains(t, out, "component=scheduler")
	assert.Contains(t, out, "job.id=01J")
	assert.Contains(t, out, "job.attempt=2")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestSetupLogger_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("tool dispatched", "tool", "add")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tool dispatched", entry["msg"])
	assert.Equal(t, "add", entry["tool"])
	assert.Equal(t, "DEBUG", entry["level"])
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("TOOLGATE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	a := newApp()
	assert.Equal(t, config.DefaultPath(), a.resolveConfigPath())

	t.Setenv("TOOLGATE_CONFIG", "/etc/toolgate.yaml")
	assert.Equal(t, "/etc/toolgate.yaml", a.resolveConfigPath())

	a.configPath = "/flag/config.yaml"
	assert.Equal(t, "/flag/config.yaml", a.resolveConfigPath())
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	a := newApp()
	a.configPath = filepath.Join(t.TempDir(), "absent.yaml")

	cfg, path, err := a.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, a.configPath, path)
	assert.Equal(t, config.Default().Server.HTTPAddr, cfg.Server.HTTPAddr)
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "toolgate version dev\n", out)
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "http://127.0.0.1:8080"},
		{"0.0.0.0:8080", "http://127.0.0.1:8080"},
		{"[::]:8080", "http://127.0.0.1:8080"},
		{"10.0.0.5:9000", "http://10.0.0.5:9000"},
		{"localhost:8080", "http://localhost:8080"},
		{"http://example.ts.net/", "http://example.ts.net"},
		{"https://example.ts.net", "https://example.ts.net"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, baseURL(tt.addr))
		})
	}
}

// fakeAPI records requests and serves canned responses keyed by "METHOD path".
type fakeAPI struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	requests  []recordedRequest
}

type fakeResponse struct {
	status int
	body   string
}

type recordedRequest struct {
	method string
	path   string
	query  string
	body   string
}

func newFakeAPI(t *testing.T, responses map[string]fakeResponse) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{responses: responses}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			body:   string(body),
		})
		f.mu.Unlock()

		resp, ok := f.responses[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if resp.body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.status)
		_, _ = io.WriteString(w, resp.body)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return recordedRequest{}
	}
	return f.requests[len(f.requests)-1]
}

func TestHealthCommand(t *testing.T) {
	_, srv := newFakeAPI(t, map[string]fakeResponse{
		"GET /health":       {status: http.StatusOK, body: "OK"},
		"GET /health/ready": {status: http.StatusOK, body: "ready (6 tools, 0 sessions)"},
	})

	out, err := runApp(t, "--addr", srv.URL, "health")
	require.NoError(t, err)
	assert.Equal(t, "healthy: ready (6 tools, 0 sessions)\n", out)
}

func TestHealthCommand_NotReady(t *testing.T) {
	_, srv := newFakeAPI(t, map[string]fakeResponse{
		"GET /health":       {status: http.StatusOK, body: "OK"},
		"GET /health/ready": {status: http.StatusServiceUnavailable, body: "not serving"},
	})

	_, err := runApp(t, "--addr", srv.URL, "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "not serving")
}

func TestToolsCommand(t *testing.T) {
	_, srv := newFakeAPI(t, map[string]fakeResponse{
		"GET /api/tools": {status: http.StatusOK, body: `[
			{"name":"add","source":"builtin","signature":"add(a: integer, b: integer) -> integer","description":"Add two integers.","input_schema":{"type":"object"}},
			{"name":"weather_current","source":"service:weather","signature":"weather_current(city: string) -> object","input_schema":{"type":"object"}}
		]`},
	})

	out, err := runApp(t, "--addr", srv.URL, "tools")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "SIGNATURE")
	assert.Contains(t, lines[1], "add(a: integer, b: integer) -> integer")
	assert.Contains(t, lines[1], "Add two integers.")
	assert.Contains(t, lines[2], "service:weather")
}

func TestToolsCallCommand(t *testing.T) {
	api, srv := newFakeAPI(t, map[string]fakeResponse{
		"POST /api/tools/add/call":         {status: http.StatusOK, body: `{"request_id":"r1","tool":"add","value":5,"duration_ms":0.1}`},
		"POST /api/tools/format_text/call": {status: http.StatusOK, body: `{"request_id":"r2","tool":"format_text","value":"HELLO","duration_ms":0.1}`},
	})

	out, err := runApp(t, "--addr", srv.URL, "tools", "call", "add", `{"a":2,"b":3}`, "--budget", "5s")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)

	req := api.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "budget=5s", req.query)
	assert.JSONEq(t, `{"a":2,"b":3}`, req.body)

	out, err = runApp(t, "--addr", srv.URL, "tools", "call", "format_text", `{"text":"hello","style":"upper"}`)
	require.NoError(t, err)
	assert.Equal(t, "HELLO\n", out)
}

func TestToolsCallCommand_DefaultsToEmptyArguments(t *testing.T) {
	api, srv := newFakeAPI(t, map[string]fakeResponse{
		"POST /api/tools/server_info/call": {status: http.StatusOK, body: `{"request_id":"r1","tool":"server_info","value":{"name":"toolgate"},"duration_ms":0.1}`},
	})

	out, err := runApp(t, "--addr", srv.URL, "tools", "call", "server_info")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"toolgate"}`, out)
	assert.JSONEq(t, `{}`, api.last().body)
}

func TestToolsCallCommand_Errors(t *testing.T) {
	_, srv := newFakeAPI(t, map[string]fakeResponse{
		"POST /api/tools/add/call": {status: http.StatusBadRequest, body: `{"error":"missing required argument \"b\"","kind":"invalid_arguments"}`},
	})

	_, err := runApp(t, "--addr", srv.URL, "tools", "call", "add", `{"a":1}`)
	require.Error(t, err)
	assert.Equal(t, `invalid_arguments: missing required argument "b"`, err.Error())

	_, err = runApp(t, "--addr", srv.URL, "tools", "call", "add", `{not json`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid JSON")

	_, err = runApp(t, "--addr", srv.URL, "tools", "call")
	require.Error(t, err)
}

func TestJobsListCommand(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	next := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	_, srv := newFakeAPI(t, map[string]fakeResponse{
		"GET /api/jobs": {status: http.StatusOK, body: `[
			{"id":"01JA","name":"sum","trigger":"every 30s","tool":"add","state":"pending","next_run":"` + next + `","run_count":3,"fail_count":1,"budget":"30s"},
			{"id":"01JB","name":"prune","trigger":"every 1h0m0s","callback":"prune_history","state":"cancelled","next_run":"` + next + `","budget":"30s"}
		]`},
	})

	out, err := runApp(t, "--addr", srv.URL, "jobs", "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NEXT RUN")
	assert.Contains(t, lines[1], "01JA")
	assert.Contains(t, lines[1], "pending")
	assert.Contains(t, lines[1], "add")
	assert.Contains(t, lines[2], "callback:prune_history")
	assert.True(t, strings.HasSuffix(lines[2], "-"), "cancelled jobs have no next run: %q", lines[2])
}

func TestJobsListCommand_Empty(t *testing.T) {
	_, srv := newFakeAPI(t, map[string]fakeResponse{
		"GET /api/jobs": {status: http.StatusOK, body: `[]`},
	})

	out, err := runApp(t, "--addr", srv.URL, "jobs", "list")
	require.NoError(t, err)
	assert.Equal(t, "no jobs\n", out)
}

func TestJobsAddCommand(t *testing.T) {
	api, srv := newFakeAPI(t, map[string]fakeResponse{
		"POST /api/jobs": {status: http.StatusCreated, body: `{"id":"01JC","name":"sum","trigger":"every 30s","tool":"add","state":"pending","budget":"5s"}`},
	})

	out, err := runApp(t, "--addr", srv.URL, "jobs", "add",
		"--name", "sum", "--tool", "add", "--args", `{"a":1,"b":2}`,
		"--every", "30s", "--budget", "5s", "--max-runs", "3")
	require.NoError(t, err)
	assert.Equal(t, "added 01JC (sum, every 30s)\n", out)

	assert.JSONEq(t, `{"name":"sum","tool":"add","arguments":{"a":1,"b":2},"every":"30s","budget":"5s","max_runs":3}`, api.last().body)
}

func TestJobsAddCommand_Validation(t *testing.T) {
	_, srv := newFakeAPI(t, map[string]fakeResponse{
		"POST /api/jobs": {status: http.StatusBadRequest, body: `{"error":"exactly one of every or cron is required"}`},
	})

	_, err := runApp(t, "--addr", srv.URL, "jobs", "add", "--tool", "add", "--every", "1m")
	require.Error(t, err, "name is required")

	_, err = runApp(t, "--addr", srv.URL, "jobs", "add", "--name", "x", "--tool", "add", "--args", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--args")

	_, err = runApp(t, "--addr", srv.URL, "jobs", "add", "--name", "x", "--tool", "add")
	require.Error(t, err)
	assert.Equal(t, "exactly one of every or cron is required", err.Error())
}

func TestJobsRemoveAndRunCommands(t *testing.T) {
	api, srv := newFakeAPI(t, map[string]fakeResponse{
		"DELETE /api/jobs/01JA":   {status: http.StatusNoContent},
		"POST /api/jobs/01JA/run": {status: http.StatusAccepted, body: `{"id":"01JA","status":"started"}`},
	})

	out, err := runApp(t, "--addr", srv.URL, "jobs", "run", "01JA")
	require.NoError(t, err)
	assert.Equal(t, "started 01JA\n", out)
	assert.Equal(t, "/api/jobs/01JA/run", api.last().path)

	out, err = runApp(t, "--addr", srv.URL, "jobs", "remove", "01JA")
	require.NoError(t, err)
	assert.Equal(t, "removed 01JA\n", out)
	assert.Equal(t, http.MethodDelete, api.last().method)

	_, err = runApp(t, "--addr", srv.URL, "jobs", "remove", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
