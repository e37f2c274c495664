package errors

import (
	"fmt"
	"time"
)

// CallErrorData describes the call an error belongs to
type CallErrorData struct {
	Operation string        `json:"operation"`
	ConnID    string        `json:"conn_id,omitempty"`
	Attempts  int           `json:"attempts,omitempty"`
	RetryIn   time.Duration `json:"retry_in,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

func causeText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// Timeout is the outcome of a call whose deadline passed first
func Timeout(operation string, cause error) MCPError {
	return WrapError(cause, CodeOperationTimeout, fmt.Sprintf("%s: timed out", operation)).
		WithData(&CallErrorData{Operation: operation, Reason: causeText(cause)})
}

// Cancelled is the outcome of a cooperative cancellation
func Cancelled(operation string, cause error) MCPError {
	return WrapError(cause, CodeOperationCancelled, fmt.Sprintf("%s: cancelled", operation)).
		WithData(&CallErrorData{Operation: operation, Reason: causeText(cause)})
}

// ProtocolViolation reports a malformed or unexpected frame
func ProtocolViolation(reason string) MCPError {
	return NewError(CodeProtocolError, "protocol violation: "+reason)
}

func VersionMismatch(expected, actual string) MCPError {
	return NewError(CodeVersionMismatch, fmt.Sprintf("protocol version %q not supported, want %s", actual, expected))
}

// MethodNotFound answers a request for an unregistered method
func MethodNotFound(method string) MCPError {
	return NewError(CodeMethodNotFound, "method not found: "+method)
}

// InvalidParams reports params that could not be encoded or decoded
func InvalidParams(method string, cause error) MCPError {
	return WrapError(cause, CodeInvalidParams, fmt.Sprintf("%s: invalid params: %s", method, causeText(cause)))
}

// InternalError reports a handler failure
func InternalError(operation string, cause error) MCPError {
	return WrapError(cause, CodeInternalError, fmt.Sprintf("%s: %s", operation, causeText(cause)))
}

// CircuitOpen is returned when a breaker or the cascade detector refuses a
// call. scope names the connection, or "cascade".
func CircuitOpen(scope string, retryIn time.Duration) MCPError {
	return NewError(CodeCircuitOpen, fmt.Sprintf("circuit open: %s", scope)).
		WithData(&CallErrorData{Operation: "acquire", ConnID: scope, RetryIn: retryIn})
}

// PoolExhausted is returned when no connection is eligible
func PoolExhausted(total int) MCPError {
	return NewError(CodePoolExhausted, fmt.Sprintf("no eligible connection among %d", total)).
		WithData(&CallErrorData{Operation: "acquire", Reason: "all connections unhealthy or removed"})
}

// RateLimited is returned by a rejecting rate limiter
func RateLimited(method string, retryIn time.Duration) MCPError {
	return NewError(CodeResourceUnavailable, "rate limit exceeded: "+method).
		WithData(&CallErrorData{Operation: method, RetryIn: retryIn})
}

// Overloaded answers a peer request that arrived while every handler slot
// was taken
func Overloaded(method string) MCPError {
	return NewError(CodeResourceUnavailable, "too many requests in progress: "+method).
		WithData(&CallErrorData{Operation: method, Reason: "handler capacity exhausted"})
}

// NotInitialized is returned for calls made before the handshake completed
func NotInitialized(method string) MCPError {
	return NewError(CodeNotInitialized, fmt.Sprintf("%s: session not initialized", method))
}

// SessionClosed is returned for calls made after Close
func SessionClosed(operation string) MCPError {
	return NewError(CodeSessionClosed, fmt.Sprintf("%s: session closed", operation))
}

func Unauthorized(reason string, cause error) MCPError {
	return WrapError(cause, CodeUnauthorized, "unauthorized: "+reason)
}

// TokenExpired reports credentials past their expiry
func TokenExpired(tokenType string, expiredAt time.Time) MCPError {
	return NewError(CodeTokenExpired, fmt.Sprintf("%s token expired at %s", tokenType, expiredAt.Format(time.RFC3339)))
}
