// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the complete toolgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Jobs      []JobConfig     `yaml:"jobs"`
	Services  ServicesConfig  `yaml:"services"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // tailnet-only HTTPS with Tailscale certs
	Funnel    bool   `yaml:"funnel"` // public Funnel, implies HTTPS
}

// ServerConfig holds listener addresses and request limits
type ServerConfig struct {
	HTTPAddr        string `yaml:"http_addr"`
	GRPCAddr        string `yaml:"grpc_addr"` // empty disables gRPC
	MaxRequestBytes int64  `yaml:"max_request_bytes"`

	ShutdownGrace      time.Duration `yaml:"-"`
	SessionIdleTimeout time.Duration `yaml:"-"`
	ToolTimeout        time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ShutdownGraceRaw      string `yaml:"shutdown_grace"`
	SessionIdleTimeoutRaw string `yaml:"session_idle_timeout"`
	ToolTimeoutRaw        string `yaml:"tool_timeout"`
}

// DatabaseConfig holds history database configuration. An empty path
// disables history.
type DatabaseConfig struct {
	Path string `yaml:"path"`

	Retention    time.Duration `yaml:"-"`
	RetentionRaw string        `yaml:"retention"`
}

// SchedulerConfig holds scheduler timing configuration
type SchedulerConfig struct {
	MaxFailures int `yaml:"max_failures"` // 0 means unlimited

	Tick          time.Duration `yaml:"-"`
	DefaultBudget time.Duration `yaml:"-"`

	TickRaw          string `yaml:"tick"`
	DefaultBudgetRaw string `yaml:"default_budget"`
}

// JobConfig declares a job that is scheduled at startup.
// Exactly one of Tool or Callback, and exactly one of Every or Cron, is set.
type JobConfig struct {
	Name      string         `yaml:"name"`
	Tool      string         `yaml:"tool"`
	Arguments map[string]any `yaml:"arguments"`
	Callback  string         `yaml:"callback"`
	Cron      string         `yaml:"cron"`
	MaxRuns   int            `yaml:"max_runs"`

	Every  time.Duration `yaml:"-"`
	Budget time.Duration `yaml:"-"`

	EveryRaw  string `yaml:"every"`
	BudgetRaw string `yaml:"budget"`
}

// ServicesConfig holds upstream service definition settings
type ServicesConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`

	RetryDelay    time.Duration `yaml:"-"`
	RetryDelayRaw string        `yaml:"retry_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := defaultRaw()
	if err := parseDurations(cfg); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	return cfg
}

func defaultRaw() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:              "0.0.0.0:8080",
			MaxRequestBytes:       4 << 20,
			ShutdownGraceRaw:      "5s",
			SessionIdleTimeoutRaw: "30m",
			ToolTimeoutRaw:        "30s",
		},
		Tailscale: TailscaleConfig{Hostname: "toolgate"},
		Database:  DatabaseConfig{RetentionRaw: "168h"},
		Scheduler: SchedulerConfig{
			TickRaw:          "1s",
			DefaultBudgetRaw: "30s",
		},
		Services: ServicesConfig{RetryDelayRaw: "1s"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse parses YAML configuration content over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := defaultRaw()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// DefaultPath returns $XDG_CONFIG_HOME/toolgate/config.yaml, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "toolgate", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "toolgate", "config.yaml")
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Server.MaxRequestBytes <= 0 {
		return fmt.Errorf("server.max_request_bytes must be positive")
	}

	positive := map[string]time.Duration{
		"server.shutdown_grace":       c.Server.ShutdownGrace,
		"server.session_idle_timeout": c.Server.SessionIdleTimeout,
		"server.tool_timeout":         c.Server.ToolTimeout,
		"scheduler.tick":              c.Scheduler.Tick,
		"scheduler.default_budget":    c.Scheduler.DefaultBudget,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Scheduler.MaxFailures < 0 {
		return fmt.Errorf("scheduler.max_failures must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, job := range c.Jobs {
		if err := job.validate(); err != nil {
			return fmt.Errorf("jobs[%d]: %w", i, err)
		}
		if seen[job.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job name %q", i, job.Name)
		}
		seen[job.Name] = true
	}

	return nil
}

func (j JobConfig) validate() error {
	if j.Name == "" {
		return fmt.Errorf("name is required")
	}
	if (j.Tool == "") == (j.Callback == "") {
		return fmt.Errorf("job %q: exactly one of tool or callback is required", j.Name)
	}
	if (j.Every == 0) == (j.Cron == "") {
		return fmt.Errorf("job %q: exactly one of every or cron is required", j.Name)
	}
	if j.Every < 0 {
		return fmt.Errorf("job %q: every must be positive", j.Name)
	}
	if j.Cron != "" {
		if _, err := cron.ParseStandard(j.Cron); err != nil {
			return fmt.Errorf("job %q: invalid cron expression %q: %w", j.Name, j.Cron, err)
		}
	}
	if j.MaxRuns < 0 {
		return fmt.Errorf("job %q: max_runs must not be negative", j.Name)
	}
	return nil
}

type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []durationField{
		{"server.shutdown_grace", cfg.Server.ShutdownGraceRaw, &cfg.Server.ShutdownGrace},
		{"server.session_idle_timeout", cfg.Server.SessionIdleTimeoutRaw, &cfg.Server.SessionIdleTimeout},
		{"server.tool_timeout", cfg.Server.ToolTimeoutRaw, &cfg.Server.ToolTimeout},
		{"database.retention", cfg.Database.RetentionRaw, &cfg.Database.Retention},
		{"scheduler.tick", cfg.Scheduler.TickRaw, &cfg.Scheduler.Tick},
		{"scheduler.default_budget", cfg.Scheduler.DefaultBudgetRaw, &cfg.Scheduler.DefaultBudget},
		{"services.retry_delay", cfg.Services.RetryDelayRaw, &cfg.Services.RetryDelay},
	}
	for i := range cfg.Jobs {
		job := &cfg.Jobs[i]
		fields = append(fields,
			durationField{fmt.Sprintf("jobs[%d].every", i), job.EveryRaw, &job.Every},
			durationField{fmt.Sprintf("jobs[%d].budget", i), job.BudgetRaw, &job.Budget},
		)
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
