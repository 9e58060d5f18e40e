// Package mcp implements the Model Context Protocol server for remote tool access.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This package
// exposes the process-wide tool registry to MCP clients over two transports:
//
//   - Streamable HTTP on /mcp (Server)
//   - stdin/stdout through the official go-sdk (StdioBridge)
//
// Both route every call through the same tools.Dispatcher, so validation,
// budgets and history recording behave identically.
//
// # Protocol
//
// The HTTP server speaks JSON-RPC 2.0 and supports protocol versions
// 2025-03-26, 2025-06-18 and 2025-11-25:
//
//   - POST /mcp - one JSON-RPC message or a batch array
//   - GET /mcp - SSE stream for notifications/tools/list_changed
//   - DELETE /mcp - terminate the session
//
// # Sessions
//
// initialize creates a session and returns its id in the Mcp-Session-Id
// header. Every later request must carry that header: missing is 400, unknown
// or closed is 404. A session moves Connecting, Negotiated, Active, Closing,
// Closed. Closing happens on DELETE, idle timeout, a failed stream write, or
// server shutdown, and cancels every call the session still has in flight.
//
// Calls are tracked per session by JSON-RPC id. Reusing an id that is still
// in flight is rejected, and notifications/cancelled cancels the named call.
//
// # Errors
//
// Dispatch failures are returned as JSON-RPC errors whose data carries
// {kind, message, detail}:
//
//	unknown_tool, invalid_arguments  -32602
//	handler_error                    -32603
//	timeout                          -32001
//	cancelled                        -32002
//	duplicate_request                -32600
//
// # Tool Execution
//
// Clients call tools/call to execute a tool:
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "add",
//	    "arguments": {"a": 2, "b": 3}
//	  },
//	  "id": 2
//	}
//
// The result carries the value as text content and, for tools that declare a
// return schema, as structuredContent.
//
// # Integration with Claude Desktop
//
// Add to Claude Desktop's MCP configuration:
//
//	{
//	  "mcpServers": {
//	    "toolgate": {
//	      "command": "toolgate",
//	      "args": ["stdio"]
//	    }
//	  }
//	}
package mcp
