// Package pkg groups the building blocks of the MCP session SDK.
//
// # Layers
//
// From the wire up:
//
//   - transport: moves opaque frames (stdio, WebSocket, HTTP+SSE, streamable HTTP, in-memory pipe)
//   - protocol: JSON-RPC envelopes, identifiers and MCP method names
//   - correlation: the table matching responses to pending requests
//   - resilience: retry policies, circuit breakers, the cascade detector and the retry engine
//   - pool: connections with health state and the balancing strategies
//   - middleware: the ordered chain every attempt passes through
//   - session: the orchestrator tying the layers together
//
// Supporting packages:
//
//   - errors: the MCPError taxonomy and JSON-RPC error conversion
//   - logging: structured logging with text and JSON formatters
//   - auth: credential sources (static, bearer JWT, API key, OAuth2)
//   - config: YAML/JSON configuration loading
//   - observability: Prometheus metrics and OpenTelemetry tracing
//   - utils: test support
//
// # Failure handling
//
// A failed attempt is classified once. Transport failures and timeouts are
// retried on another eligible connection with backoff bounded by the call
// deadline; errors the peer reported, invalid input and local rejections
// are returned at once. Every attempt outcome feeds the breaker of the
// connection that carried it, and the cascade detector watches failures
// across the pool.
package pkg
