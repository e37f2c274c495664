// Package protocol defines the JSON-RPC 2.0 envelopes and MCP method names
// used by the session layer.
//
// # Envelopes
//
// A frame holds one of three shapes:
//
//   - Request: id, method, params
//   - Response: id plus result or error
//   - Notification: method, params and no id
//
// ParseMessages accepts a single envelope or a batch array and returns the
// concrete messages. Malformed input is reported as a *Error carrying
// ParseError or InvalidRequest, which the session surfaces as a protocol
// error.
//
// # Identifiers
//
// ID is a comparable value holding a number or a string. The session layer
// never interprets it beyond equality, so it can be used directly as a map
// key:
//
//	id := protocol.NewNumberID(7)
//	req, _ := protocol.NewRequest(id, protocol.MethodPing, nil)
//	data, _ := protocol.Marshal(req)
//
// Numeric and string IDs with the same printed form are different IDs.
package protocol
