// Package mcp is the root of a Model Context Protocol client SDK with a
// resilient session layer.
//
// A session multiplexes JSON-RPC requests over a pool of transports. Each
// logical call gets a correlation id, passes through an ordered middleware
// chain, and is retried with backoff on another healthy connection when a
// transport fails. Every connection carries its own circuit breaker, and a
// cascade detector opens all of them when failures spike across the pool.
//
// # Overview
//
// The SDK consists of several sub-packages:
//
//   - pkg/session: the session orchestrator, call handles and dispatch of peer requests
//   - pkg/pool: connections, health tracking and load balancing strategies
//   - pkg/resilience: retry policies, circuit breakers and the cascade detector
//   - pkg/correlation: the pending request table
//   - pkg/middleware: logging, auth, rate limit, compression, metrics and circuit break
//   - pkg/transport: stdio, WebSocket, HTTP+SSE and streamable HTTP transports
//   - pkg/protocol: JSON-RPC envelopes and MCP method names
//   - pkg/config: YAML/JSON configuration loading
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//
// # Connecting from configuration
//
//	cfg, err := mcp.LoadConfig("client.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := mcp.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	var tools struct {
//	    Tools []json.RawMessage `json:"tools"`
//	}
//	if err := client.RequestInto(ctx, "tools/list", nil, &tools); err != nil {
//	    log.Fatal(err)
//	}
//
// # Building a session by hand
//
//	s, err := mcp.NewSession(session.DefaultConfig(),
//	    mcp.WithMiddleware(middleware.Entry{
//	        Capability: middleware.CapabilityRateLimit,
//	        Middleware: middleware.RateLimit(middleware.DefaultRateLimitConfig()),
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	t, err := mcp.Dial(ctx, transport.Config{Type: transport.TypeWebSocket, Endpoint: "ws://localhost:8080/mcp"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := s.AddTransport(t); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := s.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Examples
//
// The examples directory holds resilient-client, which loads a
// configuration file, connects, and issues calls while printing the pool
// health.
package mcp
