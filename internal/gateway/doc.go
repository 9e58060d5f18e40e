// Package gateway orchestrates the toolgate server components.
//
// # Overview
//
// The gateway owns every long-lived component: the tool registry and
// dispatcher, upstream service manager, scheduler, history store, MCP server,
// and the HTTP and gRPC servers that expose them.
//
//	registry ─┬─ builtins
//	          └─ upstream services (services.dir, hot reload)
//	dispatcher ── store (invocation history)
//	scheduler ─── dispatcher, store (job runs)
//	HTTP :8080 ── /mcp, /health, /health/ready, /api/...
//	gRPC ──────── grpc.health.v1.Health, toolgate.v1.Tools
//
// # HTTP API
//
//   - GET /api/tools - catalog with signatures and schemas
//   - POST /api/tools/{name}/call - invoke a tool; body is the arguments object
//   - GET, POST /api/jobs - list or add scheduled jobs
//   - GET, DELETE /api/jobs/{id} - inspect or remove a job
//   - POST /api/jobs/{id}/run - run a job now
//   - GET /api/jobs/{id}/runs - job run history
//   - GET /api/invocations, /api/invocations/{id} - call history
//   - GET /api/stats/tools - per-tool call counts and latency
//   - GET /api/services, POST /api/services/reload - upstream services
//
// History endpoints answer 404 when database.path is empty.
//
// # gRPC Service
//
// toolgate.v1.Tools is declared with a hand-written grpc.ServiceDesc whose
// messages are google.protobuf.Struct. Failed calls carry an ErrorInfo detail
// whose reason is the error kind (unknown_tool, invalid_arguments, ...).
//
// # Tailscale
//
// With tailscale.enabled the gateway joins the tailnet via tsnet and listens
// on :50051 (gRPC) and :80, or :443 with https or funnel, instead of the
// configured TCP addresses.
//
// # Lifecycle
//
// Run opens the listeners, starts the scheduler, adds the configured jobs and
// blocks until its context is canceled. Shutdown then stops accepting
// connections, gives MCP sessions server.shutdown_grace to finish their calls,
// stops gRPC and the scheduler, and closes the dispatcher, upstream clients
// and store.
package gateway
