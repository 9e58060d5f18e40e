// ABOUTME: Client commands that drive a running toolgate through its admin HTTP API
// ABOUTME: health, tools list/call, and jobs list/add/remove/run

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/toolgate/internal/gateway"
	"github.com/2389/toolgate/internal/scheduler"
)

// apiClient calls the admin API of a running server.
type apiClient struct {
	base string
	http *http.Client
}

// baseURL turns a listen address into a URL to dial. Wildcard hosts become loopback.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (a *app) client() (*apiClient, error) {
	addr := a.addr
	if addr == "" {
		cfg, _, err := a.loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.Server.HTTPAddr
	}
	return &apiClient{
		base: baseURL(addr),
		http: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case json.RawMessage:
			reader = bytes.NewReader(b)
		default:
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encoding request: %w", err)
			}
			reader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Kind != "" {
				return fmt.Errorf("%s: %s", apiErr.Kind, apiErr.Error)
			}
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (a *app) newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health and readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			return a.runHealth(cmd.Context(), c)
		},
	}
}

func (a *app) runHealth(ctx context.Context, c *apiClient) error {
	for _, path := range []string{"/health", "/health/ready"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: %s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if path == "/health/ready" {
			_, _ = fmt.Fprintf(a.stdout, "healthy: %s\n", strings.TrimSpace(string(body)))
		}
	}
	return nil
}

func (a *app) newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			return a.listTools(cmd.Context(), c)
		},
	}

	var budget string
	call := &cobra.Command{
		Use:   "call NAME [ARGUMENTS_JSON]",
		Short: "Invoke a tool",
		Long: `Invoke a tool through the server's dispatcher.

Examples:
  toolgate tools call add '{"a": 2, "b": 3}'
  toolgate tools call server_info`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			return a.callTool(cmd.Context(), c, args[0], raw, budget)
		},
	}
	call.Flags().StringVar(&budget, "budget", "", "execution budget, e.g. 10s")
	cmd.AddCommand(call)
	return cmd
}

func (a *app) listTools(ctx context.Context, c *apiClient) error {
	var list []gateway.ToolResponse
	if err := c.do(ctx, http.MethodGet, "/api/tools", nil, &list); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SOURCE\tSIGNATURE\tDESCRIPTION")
	for _, t := range list {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Source, t.Signature, t.Description)
	}
	return tw.Flush()
}

func (a *app) callTool(ctx context.Context, c *apiClient, name, rawArgs, budget string) error {
	if !json.Valid([]byte(rawArgs)) {
		return errors.New("arguments must be valid JSON")
	}
	path := "/api/tools/" + name + "/call"
	if budget != "" {
		path += "?budget=" + budget
	}

	var res gateway.CallToolResponse
	if err := c.do(ctx, http.MethodPost, path, json.RawMessage(rawArgs), &res); err != nil {
		return err
	}

	if s, ok := res.Value.(string); ok {
		_, _ = fmt.Fprintln(a.stdout, s)
		return nil
	}
	out, err := json.MarshalIndent(res.Value, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting result: %w", err)
	}
	_, _ = fmt.Fprintln(a.stdout, string(out))
	return nil
}

func (a *app) newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage scheduled jobs on a running server",
	}

	withClient := func(run func(ctx context.Context, c *apiClient, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			return run(cmd.Context(), c, args)
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *apiClient, _ []string) error {
			return a.listJobs(ctx, c)
		}),
	}

	var req gateway.CreateJobRequest
	var rawArgs string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a job",
		Long: `Add a job that runs a tool or a housekeeping callback.

Examples:
  toolgate jobs add --name sum --tool add --args '{"a":1,"b":2}' --every 30s
  toolgate jobs add --name prune --callback prune_history --cron '@daily'`,
		Args: cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *apiClient, _ []string) error {
			if rawArgs != "" {
				if !json.Valid([]byte(rawArgs)) {
					return errors.New("--args must be valid JSON")
				}
				req.Arguments = json.RawMessage(rawArgs)
			}
			return a.addJob(ctx, c, req)
		}),
	}
	add.Flags().StringVar(&req.Name, "name", "", "job name (required)")
	add.Flags().StringVar(&req.Tool, "tool", "", "tool to invoke")
	add.Flags().StringVar(&rawArgs, "args", "", "tool arguments as JSON")
	add.Flags().StringVar(&req.Callback, "callback", "", "housekeeping callback ("+gateway.CallbackPurgeUpstreamCache+", "+gateway.CallbackPruneHistory+")")
	add.Flags().StringVar(&req.Every, "every", "", "interval, e.g. 5m")
	add.Flags().StringVar(&req.Cron, "cron", "", "cron expression, e.g. '0 3 * * *'")
	add.Flags().StringVar(&req.Budget, "budget", "", "per-run budget, e.g. 30s")
	add.Flags().IntVar(&req.MaxRuns, "max-runs", 0, "cancel after this many runs")
	_ = add.MarkFlagRequired("name")

	remove := &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a job, cancelling any running attempt",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *apiClient, args []string) error {
			if err := c.do(ctx, http.MethodDelete, "/api/jobs/"+args[0], nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "removed %s\n", args[0])
			return nil
		}),
	}

	run := &cobra.Command{
		Use:   "run ID",
		Short: "Run a job now without moving its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *apiClient, args []string) error {
			if err := c.do(ctx, http.MethodPost, "/api/jobs/"+args[0]+"/run", nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "started %s\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(list, add, remove, run)
	return cmd
}

func stateColor(s scheduler.State) func(format string, a ...interface{}) string {
	switch s {
	case scheduler.StateRunning, scheduler.StateDue:
		return color.YellowString
	case scheduler.StateFailed:
		return color.RedString
	case scheduler.StateCancelled:
		return color.HiBlackString
	default:
		return color.GreenString
	}
}

func (a *app) listJobs(ctx context.Context, c *apiClient) error {
	var jobs []scheduler.JobInfo
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &jobs); err != nil {
		return err
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(a.stdout, "no jobs")
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSTATE\tTRIGGER\tTARGET\tRUNS\tFAILS\tNEXT RUN")
	for _, j := range jobs {
		target := j.Tool
		if j.Callback != "" {
			target = "callback:" + j.Callback
		}
		next := "-"
		if !j.NextRun.IsZero() && j.State != scheduler.StateCancelled {
			next = j.NextRun.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			j.ID, j.Name, stateColor(j.State)("%s", j.State), j.Trigger, target, j.RunCount, j.FailCount, next)
	}
	return tw.Flush()
}

func (a *app) addJob(ctx context.Context, c *apiClient, req gateway.CreateJobRequest) error {
	var info scheduler.JobInfo
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &info); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stdout, "added %s (%s, %s)\n", info.ID, info.Name, info.Trigger)
	return nil
}
