// ABOUTME: JSON-RPC 2.0 message types and MCP wire shapes used by the HTTP transport.
// ABOUTME: Maps dispatch errors to JSON-RPC error objects through tools.Describe.

package mcp

import (
	"bytes"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/toolgate/internal/tools"
)

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request or notification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`

	// Set on client responses to server requests, which we accept and ignore.
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// isNotification reports whether the message carries no id.
func (r JSONRPCRequest) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// isResponse reports whether the message is a client response rather than a call.
func (r JSONRPCRequest) isResponse() bool {
	return r.Method == "" && (len(r.Result) > 0 || len(r.Error) > 0)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSONRPCNotification is a server-to-client notification.
type JSONRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Server-defined error codes
const (
	JSONRPCToolTimeout      = -32001
	JSONRPCRequestCancelled = -32002
)

func newResult(id json.RawMessage, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func newError(id json.RawMessage, code int, message string, data any) *JSONRPCResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	}
}

// errorCode maps an error kind to its JSON-RPC code.
func errorCode(kind tools.Kind) int {
	switch kind {
	case tools.KindUnknownTool, tools.KindInvalidArguments:
		return JSONRPCInvalidParams
	case tools.KindTimeout:
		return JSONRPCToolTimeout
	case tools.KindCancelled:
		return JSONRPCRequestCancelled
	case tools.KindDuplicateRequest:
		return JSONRPCInvalidRequest
	default:
		return JSONRPCInternalError
	}
}

// toolError converts a dispatch error into a JSON-RPC error response whose
// data is the structured {kind, message, detail} triple.
func toolError(id json.RawMessage, err error) *JSONRPCResponse {
	info := tools.Describe(err)
	return newError(id, errorCode(info.Kind), info.Message, info)
}

// idKey canonicalizes a JSON-RPC id for use as an in-flight table key.
func idKey(id json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, id); err != nil {
		return string(id)
	}
	return buf.String()
}

// MCP-specific types

// ClientInfo identifies the client implementation.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams are the params for initialize.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      ClientInfo      `json:"clientInfo"`
}

// InitializeResult is the result for initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ClientInfo     `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name         string             `json:"name"`
	Title        string             `json:"title,omitempty"`
	Description  string             `json:"description"`
	InputSchema  *jsonschema.Schema `json:"inputSchema"`
	OutputSchema *jsonschema.Schema `json:"outputSchema,omitempty"`
	Annotations  *tools.Annotations `json:"annotations,omitempty"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content           []MCPContent `json:"content"`
	StructuredContent any          `json:"structuredContent,omitempty"`
	IsError           bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// cancelledParams are the params of notifications/cancelled.
type cancelledParams struct {
	RequestID json.RawMessage `json:"requestId"`
	Reason    string          `json:"reason,omitempty"`
}

// toolInfo renders one registry entry for tools/list.
func toolInfo(fn *tools.Function) MCPToolInfo {
	desc := fn.Descriptor()
	info := MCPToolInfo{
		Name:         desc.Name,
		Title:        desc.Title,
		Description:  desc.Description,
		InputSchema:  fn.InputSchema(),
		OutputSchema: fn.OutputSchema(),
	}
	if desc.Annotations != (tools.Annotations{}) {
		a := desc.Annotations
		info.Annotations = &a
	}
	return info
}

// textContent renders a tool value as the text block of a call result.
// Strings are sent as-is; everything else as JSON.
func textContent(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
