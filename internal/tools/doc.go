// Package tools holds tool descriptors and turns them into callable functions.
//
// # Overview
//
// A tool is described declaratively by a Descriptor: a name, an ordered list
// of parameters, an optional return schema and a Handler. Nothing else is
// hand-written per tool. Synthesize derives a Function from the descriptor:
//
//   - Signature: the ordered formal parameters (name, type, required, default)
//   - InputSchema: a JSON Schema object whose property order matches the signature
//   - OutputSchema: the return schema, wrapped under "result" when not an object
//   - Call: decode, apply defaults, validate, run the handler, validate the result
//
// # Registry
//
// The Registry keeps functions in registration order. Registration takes the
// write lock; lookups and listings only read. Replace swaps every tool from one
// source at once, which is how upstream service reloads are applied.
//
// # Dispatch
//
// Every caller (MCP sessions, the gRPC service, the admin API and the
// scheduler) goes through Dispatcher.Dispatch:
//
//  1. Look up the tool (UnknownToolError)
//  2. Register the request id as in flight (ErrDuplicateRequestID)
//  3. Run the function under its execution budget (TimeoutError)
//  4. Recover handler panics (HandlerExecutionError)
//  5. Log and optionally record the invocation
//
// # Errors
//
// Describe maps any dispatch error to an ErrorInfo{Kind, Message, Detail}.
// Handler failures are reported with an opaque message.
package tools
