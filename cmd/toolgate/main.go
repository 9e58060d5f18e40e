// ABOUTME: Entry point for the toolgate MCP tool server
// ABOUTME: Cobra command tree for serving over HTTP or stdio and for driving a running server

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/toolgate/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _              _             _
 | |_ ___   ___ | | __ _  __ _| |_ ___
 | __/ _ \ / _ \| |/ _' |/ _' | __/ _ \
 | || (_) | (_) | | (_| | (_| | ||  __/
  \__\___/ \___/|_|\__, |\__,_|\__\___|
                   |___/
`

// app holds the command tree and the flags shared by every command.
type app struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer

	configPath string
	addr       string
}

func newApp() *app {
	a := &app{stdout: os.Stdout, stderr: os.Stderr}

	a.root = &cobra.Command{
		Use:   "toolgate",
		Short: "MCP tool server with synthesized tools and scheduled jobs",
		Long: `toolgate serves a catalog of tools to MCP clients over Streamable HTTP or
stdio. Tools come from built-in descriptors and upstream HTTP service
definitions; jobs run tools or housekeeping on intervals and cron schedules.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $TOOLGATE_CONFIG or $XDG_CONFIG_HOME/toolgate/config.yaml)")
	a.root.PersistentFlags().StringVar(&a.addr, "addr", "", "server HTTP address for client commands (default server.http_addr)")

	a.root.AddCommand(
		a.newServeCmd(),
		a.newStdioCmd(),
		a.newHealthCmd(),
		a.newToolsCmd(),
		a.newJobsCmd(),
		a.newVersionCmd(),
	)
	return a
}

// withOutput redirects command output, for tests.
func (a *app) withOutput(stdout, stderr io.Writer) *app {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

func (a *app) execute(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.root.ExecuteContext(ctx)
}

// resolveConfigPath returns the config file path.
// Priority: --config flag > TOOLGATE_CONFIG env var > config.DefaultPath().
func (a *app) resolveConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	if envPath := os.Getenv("TOOLGATE_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultPath()
}

// loadConfig loads the config file, falling back to defaults when it is missing.
func (a *app) loadConfig() (*config.Config, string, error) {
	path := a.resolveConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(a.stdout, "toolgate version %s\n", version)
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp().execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
