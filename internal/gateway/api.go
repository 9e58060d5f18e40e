// ABOUTME: Admin HTTP API for the tool catalog, scheduled jobs, history and upstream services.
// ABOUTME: JSON endpoints under /api used by the toolgate CLI and operators.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/toolgate/internal/scheduler"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/tools"
)

// maxAdminBody bounds admin request bodies.
const maxAdminBody = 1 << 20

// ToolResponse is the JSON response for one entry of GET /api/tools.
type ToolResponse struct {
	Name         string             `json:"name"`
	Title        string             `json:"title,omitempty"`
	Description  string             `json:"description,omitempty"`
	Source       string             `json:"source,omitempty"`
	Signature    string             `json:"signature"`
	InputSchema  *jsonschema.Schema `json:"input_schema"`
	OutputSchema *jsonschema.Schema `json:"output_schema,omitempty"`
	Annotations  *tools.Annotations `json:"annotations,omitempty"`
}

// CallToolResponse is the JSON response for POST /api/tools/{name}/call.
type CallToolResponse struct {
	RequestID  string  `json:"request_id"`
	Tool       string  `json:"tool"`
	Value      any     `json:"value"`
	Structured any     `json:"structured,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// ToolErrorResponse is the JSON body of a failed tool call.
type ToolErrorResponse struct {
	Error  string     `json:"error"`
	Kind   tools.Kind `json:"kind"`
	Detail any        `json:"detail,omitempty"`
}

// CreateJobRequest is the JSON request body for POST /api/jobs.
// Exactly one of Tool or Callback, and exactly one of Every or Cron.
type CreateJobRequest struct {
	Name      string          `json:"name"`
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Callback  string          `json:"callback,omitempty"`
	Every     string          `json:"every,omitempty"`
	Cron      string          `json:"cron,omitempty"`
	Budget    string          `json:"budget,omitempty"`
	MaxRuns   int             `json:"max_runs,omitempty"`
}

// registerAPIRoutes mounts the admin API on mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tools", g.handleListTools)
	mux.HandleFunc("POST /api/tools/{name}/call", g.handleCallTool)

	mux.HandleFunc("GET /api/jobs", g.handleListJobs)
	mux.HandleFunc("POST /api/jobs", g.handleCreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", g.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", g.handleDeleteJob)
	mux.HandleFunc("POST /api/jobs/{id}/run", g.handleRunJob)
	mux.HandleFunc("GET /api/jobs/{id}/runs", g.handleJobRuns)

	mux.HandleFunc("GET /api/invocations", g.handleListInvocations)
	mux.HandleFunc("GET /api/invocations/{id}", g.handleGetInvocation)
	mux.HandleFunc("GET /api/stats/tools", g.handleToolStats)

	mux.HandleFunc("GET /api/services", g.handleListServices)
	mux.HandleFunc("POST /api/services/reload", g.handleReloadServices)
}

// handleListTools handles GET /api/tools. Tools are listed in registration order.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	fns := g.registry.List()
	response := make([]ToolResponse, 0, len(fns))
	for _, fn := range fns {
		desc := fn.Descriptor()
		tr := ToolResponse{
			Name:         desc.Name,
			Title:        desc.Title,
			Description:  desc.Description,
			Source:       desc.Source,
			Signature:    fn.String(),
			InputSchema:  fn.InputSchema(),
			OutputSchema: fn.OutputSchema(),
		}
		if desc.Annotations != (tools.Annotations{}) {
			a := desc.Annotations
			tr.Annotations = &a
		}
		response = append(response, tr)
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleCallTool handles POST /api/tools/{name}/call. The body is the
// arguments object; an empty body means no arguments.
func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAdminBody))
	if err != nil {
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	inv := tools.Invocation{
		RequestID: r.Header.Get("X-Request-Id"),
		Scope:     "admin",
		Tool:      r.PathValue("name"),
		Arguments: body,
		Source:    tools.SourceAdmin,
	}
	if raw := r.URL.Query().Get("budget"); raw != "" {
		budget, err := time.ParseDuration(raw)
		if err != nil || budget <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "budget must be a positive duration")
			return
		}
		inv.Budget = budget
	}

	res, err := g.dispatcher.Dispatch(r.Context(), inv)
	if err != nil {
		g.writeToolError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, CallToolResponse{
		RequestID:  res.RequestID,
		Tool:       res.Tool,
		Value:      res.Value,
		Structured: res.Structured,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	})
}

// toolErrorStatus maps an error kind to an HTTP status.
func toolErrorStatus(kind tools.Kind) int {
	switch kind {
	case tools.KindUnknownTool:
		return http.StatusNotFound
	case tools.KindInvalidArguments:
		return http.StatusBadRequest
	case tools.KindTimeout:
		return http.StatusGatewayTimeout
	case tools.KindDuplicateRequest:
		return http.StatusConflict
	case tools.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) writeToolError(w http.ResponseWriter, err error) {
	info := tools.Describe(err)
	if info.Kind == tools.KindHandlerError {
		g.logger.Error("admin tool call failed", "error", err)
	}
	g.writeJSON(w, toolErrorStatus(info.Kind), ToolErrorResponse{
		Error:  info.Message,
		Kind:   info.Kind,
		Detail: info.Detail,
	})
}

// handleListJobs handles GET /api/jobs.
func (g *Gateway) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := g.scheduler.List(r.Context())
	if err != nil {
		g.writeSchedulerError(w, err)
		return
	}
	if jobs == nil {
		jobs = []scheduler.JobInfo{}
	}
	g.writeJSON(w, http.StatusOK, jobs)
}

// parseCreateJobRequest decodes and validates a job request into a JobSpec.
func parseCreateJobRequest(r io.Reader) (scheduler.JobSpec, error) {
	var req CreateJobRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return scheduler.JobSpec{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Name == "" {
		return scheduler.JobSpec{}, errors.New("name is required")
	}

	var every time.Duration
	if req.Every != "" {
		d, err := time.ParseDuration(req.Every)
		if err != nil {
			return scheduler.JobSpec{}, fmt.Errorf("invalid every: %w", err)
		}
		every = d
	}
	trigger, err := scheduler.ParseTrigger(every, req.Cron)
	if err != nil {
		return scheduler.JobSpec{}, err
	}

	spec := scheduler.JobSpec{
		Name:      req.Name,
		Trigger:   trigger,
		Tool:      req.Tool,
		Arguments: req.Arguments,
		Callback:  req.Callback,
		MaxRuns:   req.MaxRuns,
	}
	if req.Budget != "" {
		d, err := time.ParseDuration(req.Budget)
		if err != nil {
			return scheduler.JobSpec{}, fmt.Errorf("invalid budget: %w", err)
		}
		spec.Budget = d
	}
	return spec, nil
}

// handleCreateJob handles POST /api/jobs.
func (g *Gateway) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	spec, err := parseCreateJobRequest(http.MaxBytesReader(w, r.Body, maxAdminBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := g.scheduler.Add(r.Context(), spec)
	if err != nil {
		g.writeSchedulerError(w, err)
		return
	}
	g.logger.Info("job added via API", "id", info.ID, "name", info.Name, "trigger", info.Trigger)
	g.writeJSON(w, http.StatusCreated, info)
}

// handleGetJob handles GET /api/jobs/{id}.
func (g *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	info, err := g.scheduler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.writeSchedulerError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, info)
}

// handleDeleteJob handles DELETE /api/jobs/{id}.
func (g *Gateway) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := g.scheduler.Remove(r.Context(), r.PathValue("id")); err != nil {
		g.writeSchedulerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunJob handles POST /api/jobs/{id}/run. The run is started, not awaited.
func (g *Gateway) handleRunJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.scheduler.Trigger(r.Context(), id); err != nil {
		g.writeSchedulerError(w, err)
		return
	}
	g.writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "started"})
}

// writeSchedulerError maps scheduler errors to HTTP statuses.
func (g *Gateway) writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		g.sendJSONError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, scheduler.ErrJobRunning), errors.Is(err, scheduler.ErrJobCancelled):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrStopped):
		g.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		// spec validation, including ErrUnknownCallback
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	}
}

// requireStore writes a 404 and returns false when history is disabled.
func (g *Gateway) requireStore(w http.ResponseWriter) bool {
	if g.store == nil {
		g.sendJSONError(w, http.StatusNotFound, "history is disabled (set database.path)")
		return false
	}
	return true
}

// parseLimit reads the optional limit query parameter. Zero means the store default.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}

// handleJobRuns handles GET /api/jobs/{id}/runs.
func (g *Gateway) handleJobRuns(w http.ResponseWriter, r *http.Request) {
	if !g.requireStore(w) {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := g.store.ListJobRuns(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		g.logger.Error("failed to list job runs", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if runs == nil {
		runs = []*store.JobRun{}
	}
	g.writeJSON(w, http.StatusOK, runs)
}

// handleListInvocations handles GET /api/invocations.
// Query: tool, source, errors=true, since (RFC3339 or a duration such as 1h), limit.
func (g *Gateway) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if !g.requireStore(w) {
		return
	}
	q := r.URL.Query()

	filter := store.InvocationFilter{
		Tool:       q.Get("tool"),
		Source:     q.Get("source"),
		ErrorsOnly: q.Get("errors") == "true",
	}
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = limit

	if raw := q.Get("since"); raw != "" {
		since, err := parseSince(raw, time.Now())
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Since = &since
	}

	invs, err := g.store.ListInvocations(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list invocations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if invs == nil {
		invs = []*store.Invocation{}
	}
	g.writeJSON(w, http.StatusOK, invs)
}

// parseSince accepts an RFC3339 timestamp or a duration back from now.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return time.Time{}, errors.New("since must be an RFC3339 time or a positive duration")
	}
	return now.Add(-d), nil
}

// handleGetInvocation handles GET /api/invocations/{id}.
func (g *Gateway) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	if !g.requireStore(w) {
		return
	}
	inv, err := g.store.GetInvocation(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get invocation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, inv)
}

// handleToolStats handles GET /api/stats/tools. since defaults to 24h.
func (g *Gateway) handleToolStats(w http.ResponseWriter, r *http.Request) {
	if !g.requireStore(w) {
		return
	}
	raw := r.URL.Query().Get("since")
	if raw == "" {
		raw = "24h"
	}
	since, err := parseSince(raw, time.Now())
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := g.store.ToolStats(r.Context(), since)
	if err != nil {
		g.logger.Error("failed to aggregate tool stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if stats == nil {
		stats = []store.ToolStats{}
	}
	g.writeJSON(w, http.StatusOK, stats)
}

// handleListServices handles GET /api/services.
func (g *Gateway) handleListServices(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.upstream.Services())
}

// handleReloadServices handles POST /api/services/reload. Files that fail to
// load are reported; the rest are registered.
func (g *Gateway) handleReloadServices(w http.ResponseWriter, r *http.Request) {
	if err := g.upstream.LoadAll(); err != nil {
		g.logger.Warn("service reload reported errors", "error", err)
		g.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"services": g.upstream.Services(),
		})
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"services": g.upstream.Services()})
}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
