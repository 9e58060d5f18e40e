// ABOUTME: serve and stdio commands that run the gateway in-process
// ABOUTME: Prints the startup banner and wires config and logging into the gateway

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/toolgate/internal/gateway"
)

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP (and optional gRPC) server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd)
		},
	}
}

func (a *app) newStdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve MCP over stdin/stdout",
		Long: `Serve the tool catalog to a single MCP client over stdin/stdout, for clients
that launch servers as subprocesses. Logs go to stderr. Scheduled jobs and
service reloads run as they do under serve.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStdio(cmd)
		},
	}
}

func (a *app) runServe(cmd *cobra.Command) error {
	cyan := color.New(color.FgCyan)
	_, _ = cyan.Fprint(a.stdout, banner)

	gray := color.New(color.FgHiBlack)
	_, _ = gray.Fprintf(a.stdout, "    version: %s\n\n", version)

	cfg, configPath, err := a.loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, a.stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	line := func(label, value string) {
		_, _ = green.Fprint(a.stdout, "    ▶ ")
		_, _ = fmt.Fprintf(a.stdout, "%-10s %s\n", label+":", value)
	}
	line("Config", configPath)
	line("HTTP", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		line("gRPC", cfg.Server.GRPCAddr)
	}
	if cfg.Database.Path != "" {
		line("History", cfg.Database.Path)
	}
	if cfg.Services.Dir != "" {
		watch := ""
		if cfg.Services.Watch {
			watch = " (watching)"
		}
		line("Services", cfg.Services.Dir+watch)
	}

	if cfg.Tailscale.Enabled {
		_, _ = green.Fprint(a.stdout, "    ▶ ")
		_, _ = fmt.Fprintf(a.stdout, "%-10s ", "Tailscale:")
		_, _ = cyan.Fprint(a.stdout, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			_, _ = yellow.Fprint(a.stdout, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			_, _ = gray.Fprint(a.stdout, " (ephemeral)")
		}
		_, _ = fmt.Fprintln(a.stdout)
	}
	_, _ = fmt.Fprintln(a.stdout)

	logger.Info("starting toolgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger, version)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}

func (a *app) runStdio(cmd *cobra.Command) error {
	cfg, configPath, err := a.loadConfig()
	if err != nil {
		return err
	}

	// stdout carries the protocol.
	logger := setupLogger(cfg.Logging, a.stderr)
	logger.Info("starting toolgate on stdio", "config", configPath, "version", version)

	gw, err := gateway.New(cfg, logger, version)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.RunStdio(cmd.Context())
}
