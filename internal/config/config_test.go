// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, defaults, env var expansion, duration parsing and job validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:9090"
  grpc_addr: "127.0.0.1:50051"
  shutdown_grace: "10s"
  session_idle_timeout: "5m"
  tool_timeout: "15s"

database:
  path: "./history.db"
  retention: "24h"

scheduler:
  tick: "250ms"
  default_budget: "20s"
  max_failures: 3

jobs:
  - name: "heartbeat"
    tool: "server_info"
    every: "1m"
  - name: "nightly-stats"
    tool: "calculate_stats"
    arguments:
      numbers: [1, 2, 3]
    cron: "0 3 * * *"
    budget: "5s"
    max_runs: 10
  - name: "purge"
    callback: "purge_upstream_cache"
    every: "10m"

services:
  dir: "./services"
  watch: true
  retry_delay: "200ms"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9090")
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "127.0.0.1:50051")
	}
	if cfg.Server.ShutdownGrace != 10*time.Second {
		t.Errorf("Server.ShutdownGrace = %v, want 10s", cfg.Server.ShutdownGrace)
	}
	if cfg.Server.SessionIdleTimeout != 5*time.Minute {
		t.Errorf("Server.SessionIdleTimeout = %v, want 5m", cfg.Server.SessionIdleTimeout)
	}
	if cfg.Server.ToolTimeout != 15*time.Second {
		t.Errorf("Server.ToolTimeout = %v, want 15s", cfg.Server.ToolTimeout)
	}
	if cfg.Database.Path != "./history.db" || cfg.Database.Retention != 24*time.Hour {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Scheduler.Tick != 250*time.Millisecond {
		t.Errorf("Scheduler.Tick = %v, want 250ms", cfg.Scheduler.Tick)
	}
	if cfg.Scheduler.DefaultBudget != 20*time.Second {
		t.Errorf("Scheduler.DefaultBudget = %v, want 20s", cfg.Scheduler.DefaultBudget)
	}
	if cfg.Scheduler.MaxFailures != 3 {
		t.Errorf("Scheduler.MaxFailures = %d, want 3", cfg.Scheduler.MaxFailures)
	}

	if len(cfg.Jobs) != 3 {
		t.Fatalf("len(Jobs) = %d, want 3", len(cfg.Jobs))
	}
	if cfg.Jobs[0].Every != time.Minute {
		t.Errorf("Jobs[0].Every = %v, want 1m", cfg.Jobs[0].Every)
	}
	if cfg.Jobs[1].Cron != "0 3 * * *" || cfg.Jobs[1].Budget != 5*time.Second || cfg.Jobs[1].MaxRuns != 10 {
		t.Errorf("Jobs[1] = %+v", cfg.Jobs[1])
	}
	if nums, ok := cfg.Jobs[1].Arguments["numbers"].([]any); !ok || len(nums) != 3 {
		t.Errorf("Jobs[1].Arguments = %v", cfg.Jobs[1].Arguments)
	}
	if cfg.Jobs[2].Callback != "purge_upstream_cache" {
		t.Errorf("Jobs[2].Callback = %q", cfg.Jobs[2].Callback)
	}

	if cfg.Services.Dir != "./services" || !cfg.Services.Watch || cfg.Services.RetryDelay != 200*time.Millisecond {
		t.Errorf("Services = %+v", cfg.Services)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: warn\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
	if cfg.Server.GRPCAddr != "" {
		t.Errorf("Server.GRPCAddr = %q, want empty", cfg.Server.GRPCAddr)
	}
	if cfg.Server.ShutdownGrace != 5*time.Second {
		t.Errorf("Server.ShutdownGrace = %v, want 5s", cfg.Server.ShutdownGrace)
	}
	if cfg.Server.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("Server.SessionIdleTimeout = %v, want 30m", cfg.Server.SessionIdleTimeout)
	}
	if cfg.Scheduler.Tick != time.Second {
		t.Errorf("Scheduler.Tick = %v, want 1s", cfg.Scheduler.Tick)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
	if cfg.Server.ToolTimeout != 30*time.Second {
		t.Errorf("Server.ToolTimeout = %v, want 30s", cfg.Server.ToolTimeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_TOOLGATE_ADDR", "127.0.0.1:7000")
	t.Setenv("TEST_TS_KEY", "tskey-from-env")
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	path := writeConfig(t, `
server:
  http_addr: "${TEST_TOOLGATE_ADDR}"
tailscale:
  auth_key: "${TEST_TS_KEY}"
database:
  path: "${UNSET_VAR_FOR_TEST}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:7000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:7000")
	}
	if cfg.Tailscale.AuthKey != "tskey-from-env" {
		t.Errorf("Tailscale.AuthKey = %q, want %q", cfg.Tailscale.AuthKey, "tskey-from-env")
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty string for unset env var", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr "missing colon"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  shutdown_grace: "invalid-duration"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "shutdown_grace") {
		t.Errorf("error %q should name the field", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing http addr",
			yaml:    "server:\n  http_addr: \"\"\n",
			wantErr: "server.http_addr is required",
		},
		{
			name:    "tailscale without hostname",
			yaml:    "tailscale:\n  enabled: true\n  hostname: \"\"\n",
			wantErr: "tailscale.hostname is required",
		},
		{
			name:    "zero tick",
			yaml:    "scheduler:\n  tick: \"0s\"\n",
			wantErr: "scheduler.tick must be positive",
		},
		{
			name:    "bad log format",
			yaml:    "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "job without target",
			yaml:    "jobs:\n  - name: a\n    every: 1m\n",
			wantErr: "exactly one of tool or callback",
		},
		{
			name:    "job with both triggers",
			yaml:    "jobs:\n  - name: a\n    tool: add\n    every: 1m\n    cron: \"* * * * *\"\n",
			wantErr: "exactly one of every or cron",
		},
		{
			name:    "job with bad cron",
			yaml:    "jobs:\n  - name: a\n    tool: add\n    cron: \"not a cron\"\n",
			wantErr: "invalid cron expression",
		},
		{
			name:    "duplicate job names",
			yaml:    "jobs:\n  - name: a\n    tool: add\n    every: 1m\n  - name: a\n    tool: add\n    every: 2m\n",
			wantErr: "duplicate job name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultPath(); got != "/tmp/xdg/toolgate/config.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}
}
