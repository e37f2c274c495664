// Package transport provides the byte-frame transports used by the MCP session layer.
//
// # Contract
//
// Every transport implements Transport:
//
//   - Send(ctx, frame) writes one frame
//   - Receive(ctx) returns the next frame, FIFO as produced by the wire
//   - Close() releases resources; afterwards Send and Receive return ErrClosed
//
// Receive returns io.EOF when the peer ends the stream. Transports that can
// restart their receive sequence also implement Reconnector.
//
// # Supported Transport Types
//
// Stdio:
//   - Newline-delimited frames over stdin/stdout or a spawned subprocess
//   - Recommended by the MCP specification for CLI tools
//
// WebSocket:
//   - One text message per frame
//   - Supports Reconnect
//
// SSE:
//   - HTTP+SSE: GET event stream for server frames, POST for client frames
//   - The stream's "endpoint" event names the POST URL
//   - Supports Reconnect
//
// StreamableHTTP:
//   - POST per frame; JSON and event-stream replies are both queued for Receive
//   - Mcp-Session-Id tracking and optional GET listener stream
//
// Pipe:
//   - Connected in-memory pair for tests and in-process peers
//
// # Headers
//
// HTTP and WebSocket transports add the configured static headers, the
// credential from auth.FromContext, and the W3C trace context of the span
// carried by the request context.
//
// # Usage
//
//	cfg := transport.DefaultConfig(transport.TypeWebSocket)
//	cfg.Endpoint = "wss://api.example.com/mcp"
//	t, err := transport.Dial(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
package transport
