// ABOUTME: MCP Streamable HTTP server exposing the tool registry to remote agents.
// ABOUTME: Handles POST (single and batch), GET (SSE notifications) and DELETE on /mcp.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/toolgate/internal/catalog"
	"github.com/2389/toolgate/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise when the client asks for
// one we don't support.
const latestProtocolVersion = "2025-11-25"

const (
	// DefaultMaxRequestBytes is the default limit on request bodies (1MB).
	DefaultMaxRequestBytes = 1 << 20
	// DefaultIdleTimeout closes sessions that have been quiet this long.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultKeepAlive is the interval between SSE keep-alive comments.
	DefaultKeepAlive = 25 * time.Second
)

const (
	headerSessionID       = "Mcp-Session-Id"
	headerProtocolVersion = "Mcp-Protocol-Version"
)

// negotiateVersion echoes the client's version if supported, else the latest.
func negotiateVersion(requested string) string {
	if supportedProtocolVersions[requested] {
		return requested
	}
	return latestProtocolVersion
}

// Config holds configuration for the MCP server.
type Config struct {
	Dispatcher      *tools.Dispatcher
	Logger          *slog.Logger
	Name            string
	Version         string
	Instructions    string
	IdleTimeout     time.Duration
	MaxRequestBytes int64
	KeepAlive       time.Duration

	// Catalog serves resources and prompts; nil serves empty lists.
	Catalog *catalog.Catalog
}

// Server implements the MCP Streamable HTTP transport over a tool Dispatcher.
type Server struct {
	dispatcher      *tools.Dispatcher
	catalog         *catalog.Catalog
	logger          *slog.Logger
	name            string
	version         string
	instructions    string
	idleTimeout     time.Duration
	maxRequestBytes int64
	keepAlive       time.Duration

	sessions *sessionStore

	// ctx parents every session context.
	ctx        context.Context
	cancel     context.CancelFunc
	closing    atomic.Bool
	closeOnce  sync.Once
	reaperDone chan struct{}
}

// NewServer creates a new MCP server with the given configuration and starts
// its idle session reaper.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "toolgate"
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	maxBytes := cfg.MaxRequestBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	cat := cfg.Catalog
	if cat == nil {
		cat = catalog.New(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		dispatcher:      cfg.Dispatcher,
		catalog:         cat,
		logger:          logger,
		name:            name,
		version:         cfg.Version,
		instructions:    cfg.Instructions,
		idleTimeout:     idle,
		maxRequestBytes: maxBytes,
		keepAlive:       keepAlive,
		sessions:        newSessionStore(),
		ctx:             ctx,
		cancel:          cancel,
		reaperDone:      make(chan struct{}),
	}

	cfg.Dispatcher.Registry().OnChange(s.notifyToolsChanged)

	interval := idle / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	go s.reap(interval)

	return s, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.sessions.len()
}

// handleMCP is the single MCP endpoint supporting POST, GET, and DELETE.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// requireSession resolves the session named by the request headers. It
// writes the HTTP error and returns false when there is none.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*session, bool) {
	if v := r.Header.Get(headerProtocolVersion); v != "" && !supportedProtocolVersions[v] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return nil, false
	}

	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return nil, false
	}
	sess, ok := s.sessions.get(sessionID)
	if !ok || sess.State() >= StateClosing {
		// Session expired or invalid - client must re-initialize
		http.Error(w, "Not Found", http.StatusNotFound)
		return nil, false
	}
	sess.touch()
	return sess, true
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxRequestBytes+1))
	if err != nil {
		s.writeJSON(w, newError(nil, JSONRPCParseError, "failed to read request body", nil))
		return
	}
	if int64(len(body)) > s.maxRequestBytes {
		s.writeJSON(w, newError(nil, JSONRPCInvalidRequest, "request body too large", nil))
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		s.handleBatch(w, r, body)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, newError(nil, JSONRPCParseError, "invalid JSON", nil))
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeJSON(w, newError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil))
		return
	}

	if req.Method == "initialize" {
		s.handleInitialize(w, req)
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", req.isNotification(),
		"session_id", sess.id,
	)

	// Notifications and client responses: accept and return HTTP 202 with no body
	if req.isResponse() || req.isNotification() {
		s.handleNotification(sess, req)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.writeJSON(w, s.handleRequest(r.Context(), sess, req))
}

// handleBatch runs every request of a batch concurrently and responds with
// the results in completion order.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var msgs []json.RawMessage
	if err := json.Unmarshal(body, &msgs); err != nil {
		s.writeJSON(w, newError(nil, JSONRPCParseError, "invalid JSON", nil))
		return
	}
	if len(msgs) == 0 {
		s.writeJSON(w, newError(nil, JSONRPCInvalidRequest, "empty batch", nil))
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	results := make(chan *JSONRPCResponse, len(msgs))
	var wg sync.WaitGroup
	for _, raw := range msgs {
		var req JSONRPCRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			results <- newError(nil, JSONRPCParseError, "invalid JSON", nil)
			continue
		}
		if req.isResponse() || req.isNotification() {
			s.handleNotification(sess, req)
			continue
		}
		if req.JSONRPC != "2.0" {
			results <- newError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
			continue
		}
		if req.Method == "initialize" {
			results <- newError(req.ID, JSONRPCInvalidRequest, "initialize must not be part of a batch", nil)
			continue
		}

		wg.Add(1)
		go func(req JSONRPCRequest) {
			defer wg.Done()
			results <- s.handleRequest(r.Context(), sess, req)
		}(req)
	}
	wg.Wait()
	close(results)

	out := make([]*JSONRPCResponse, 0, len(msgs))
	for resp := range results {
		out = append(out, resp)
	}

	s.logger.Debug("MCP batch", "session_id", sess.id, "messages", len(msgs), "responses", len(out))

	if len(out) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.writeJSON(w, out)
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	if req.isNotification() {
		s.writeJSON(w, newError(nil, JSONRPCInvalidRequest, "initialize must be a request", nil))
		return
	}
	if s.closing.Load() {
		http.Error(w, "Service Unavailable: shutting down", http.StatusServiceUnavailable)
		return
	}

	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeJSON(w, newError(req.ID, JSONRPCInvalidParams, "invalid params", nil))
			return
		}
	}

	version := negotiateVersion(params.ProtocolVersion)
	sess := s.sessions.create(s.ctx)
	sess.negotiate(version, params.ClientInfo, params.Capabilities)

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"protocol_version", version,
		"requested_version", params.ProtocolVersion,
		"client", params.ClientInfo.Name,
	)

	// Set the session ID header so the client can use it on subsequent requests
	w.Header().Set(headerSessionID, sess.id)

	s.writeJSON(w, newResult(req.ID, InitializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		ServerInfo:   ClientInfo{Name: s.name, Version: s.version},
		Instructions: s.instructions,
	}))
}

// handleNotification applies a client notification to the session.
func (s *Server) handleNotification(sess *session, req JSONRPCRequest) {
	switch req.Method {
	case "notifications/initialized":
		sess.activate()
		s.logger.Debug("MCP session active", "session_id", sess.id)
	case "notifications/cancelled":
		var params cancelledParams
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params.RequestID) == 0 {
			s.logger.Debug("ignoring malformed cancellation", "session_id", sess.id)
			return
		}
		found := sess.cancelCall(idKey(params.RequestID))
		s.logger.Debug("MCP request cancelled",
			"session_id", sess.id,
			"request_id", idKey(params.RequestID),
			"reason", params.Reason,
			"found", found,
		)
	case "":
		// A response to a server request; we never send any.
	default:
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
	}
}

// handleRequest routes one JSON-RPC request and returns its response.
func (s *Server) handleRequest(ctx context.Context, sess *session, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "ping":
		return newResult(req.ID, struct{}{})
	case "tools/list":
		return s.handleToolsList(sess, req)
	case "tools/call":
		return s.handleToolsCall(ctx, sess, req)
	case "resources/list":
		return s.handleResourcesList(req)
	case "resources/templates/list":
		return s.handleResourceTemplatesList(req)
	case "resources/read":
		return s.handleResourcesRead(ctx, sess, req)
	case "prompts/list":
		return s.handlePromptsList(req)
	case "prompts/get":
		return s.handlePromptsGet(ctx, sess, req)
	case "initialize":
		return newError(req.ID, JSONRPCInvalidRequest, "session already initialized", nil)
	default:
		return newError(req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(sess *session, req JSONRPCRequest) *JSONRPCResponse {
	fns := s.dispatcher.Registry().List()
	result := MCPListToolsResult{
		Tools: make([]MCPToolInfo, len(fns)),
	}
	for i, fn := range fns {
		result.Tools[i] = toolInfo(fn)
	}

	s.logger.Debug("tools/list", "session_id", sess.id, "count", len(fns))
	return newResult(req.ID, result)
}

// handleToolsCall handles tools/call requests.
func (s *Server) handleToolsCall(ctx context.Context, sess *session, req JSONRPCRequest) *JSONRPCResponse {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, JSONRPCInvalidParams, "invalid params", nil)
		}
	}
	if params.Name == "" {
		return newError(req.ID, JSONRPCInvalidParams, "tool name is required", nil)
	}
	if st := sess.State(); st != StateNegotiated && st != StateActive {
		return newError(req.ID, JSONRPCInvalidRequest, "session is "+st.String(), nil)
	}

	requestID := idKey(req.ID)
	callCtx, done, err := sess.beginCall(ctx, requestID)
	if errors.Is(err, errSessionClosed) {
		return newError(req.ID, JSONRPCInvalidRequest, "session closed", nil)
	}
	if err != nil {
		return toolError(req.ID, err)
	}
	defer done()

	s.logger.Debug("tools/call",
		"tool_name", params.Name,
		"request_id", requestID,
		"session_id", sess.id,
	)

	res, err := s.dispatcher.Dispatch(callCtx, tools.Invocation{
		RequestID: requestID,
		Scope:     sess.id,
		Tool:      params.Name,
		Arguments: params.Arguments,
		Source:    tools.SourceMCP,
	})
	if err != nil {
		return toolError(req.ID, err)
	}

	text, err := textContent(res.Value)
	if err != nil {
		s.logger.Error("failed to encode tool result", "tool_name", params.Name, "error", err)
		return toolError(req.ID, &tools.HandlerExecutionError{Tool: params.Name, Err: err})
	}

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"request_id", requestID,
		"duration", res.Duration,
	)

	return newResult(req.ID, MCPCallToolResult{
		Content:           []MCPContent{{Type: "text", Text: text}},
		StructuredContent: res.Structured,
	})
}

// handleStream serves the server-to-client SSE stream of a session.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "Not Acceptable: expected text/event-stream", http.StatusNotAcceptable)
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	stream, err := sess.attachStream()
	switch {
	case errors.Is(err, errStreamActive):
		http.Error(w, "Conflict: stream already open", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	defer sess.detachStream()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(headerSessionID, sess.id)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("MCP stream opened", "session_id", sess.id)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		var werr error
		select {
		case <-r.Context().Done():
			s.logger.Debug("MCP stream detached", "session_id", sess.id)
			return
		case <-sess.ctx.Done():
			return
		case msg := <-stream:
			_, werr = fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
		case <-ticker.C:
			_, werr = io.WriteString(w, ": keepalive\n\n")
		}
		if werr != nil {
			s.failSession(sess, &tools.TransportError{Op: "sse write", Err: werr})
			return
		}
		flusher.Flush()
	}
}

// handleDelete terminates a session.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	if !s.closeSession(sessionID, "client") {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// failSession tears a session down after a transport failure.
func (s *Server) failSession(sess *session, err error) {
	s.logger.Warn("MCP transport failure", "session_id", sess.id, "error", err)
	s.closeSession(sess.id, "transport")
}

// closeSession removes a session and cancels its in-flight calls.
func (s *Server) closeSession(id, reason string) bool {
	sess, ok := s.sessions.delete(id)
	if !ok {
		return false
	}
	cancelled := sess.inflightCount()
	if !sess.close() {
		return false
	}
	s.logger.Info("MCP session closed",
		"session_id", id,
		"reason", reason,
		"calls_cancelled", cancelled,
	)
	return true
}

// notifyToolsChanged queues notifications/tools/list_changed on every open
// stream. Non-blocking: sessions with full buffers miss the notification.
func (s *Server) notifyToolsChanged() {
	msg, err := json.Marshal(JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  "notifications/tools/list_changed",
	})
	if err != nil {
		s.logger.Error("failed to encode notification", "error", err)
		return
	}

	delivered := 0
	for _, sess := range s.sessions.all() {
		if sess.notify(msg) {
			delivered++
		}
	}
	s.logger.Debug("tools/list_changed broadcast", "delivered", delivered)
}

// reap closes idle sessions until the server is closed.
func (s *Server) reap(interval time.Duration) {
	defer close(s.reaperDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.reapIdle(now)
		}
	}
}

// reapIdle closes every session idle since now minus the idle timeout.
func (s *Server) reapIdle(now time.Time) int {
	cutoff := now.Add(-s.idleTimeout)
	reaped := 0
	for _, sess := range s.sessions.all() {
		if sess.idleSince(cutoff) && s.closeSession(sess.id, "idle") {
			reaped++
		}
	}
	return reaped
}

func (s *Server) inflightTotal() int {
	total := 0
	for _, sess := range s.sessions.all() {
		total += sess.inflightCount()
	}
	return total
}

// Shutdown stops accepting new sessions and waits for in-flight calls to
// finish until ctx is done, then closes every session. Returns ctx.Err() if
// calls were still running when the grace period ended.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.inflightTotal() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Warn("MCP shutdown grace expired", "in_flight", s.inflightTotal())
			s.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	s.Close()
	return nil
}

// Close closes every session immediately and stops the reaper.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		for _, sess := range s.sessions.all() {
			s.closeSession(sess.id, "shutdown")
		}
		s.cancel()
		<-s.reaperDone
	})
}

// writeJSON sends a JSON-RPC response body.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
