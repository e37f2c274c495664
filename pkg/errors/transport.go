package errors

import (
	"fmt"
	"net/url"
	"time"
)

// TransportErrorData is the data of every connection-level error. Retryable
// overrides the category default in IsRetryable.
type TransportErrorData struct {
	Transport  string        `json:"transport"`
	Operation  string        `json:"operation,omitempty"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Retryable  bool          `json:"retryable"`
	StatusCode int           `json:"status_code,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// connError builds a transport-category error. The cause text is appended
// to the message and recorded as the reason.
func connError(code int, cause error, data *TransportErrorData, format string, args ...interface{}) MCPError {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		data.Reason = cause.Error()
		msg += ": " + data.Reason
	}
	return WrapError(cause, code, msg).WithData(data)
}

// redact keeps the host of endpoint so URLs with credentials stay out of
// error data
func redact(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

// TransportError reports a failed send or receive
func TransportError(transport, operation string, cause error) MCPError {
	data := &TransportErrorData{Transport: transport, Operation: operation, Retryable: true}
	if operation == "" {
		return connError(CodeTransportError, cause, data, "%s transport failed", transport)
	}
	return connError(CodeTransportError, cause, data, "%s transport: %s failed", transport, operation)
}

// ConnectionFailed reports a dial that did not produce a connection
func ConnectionFailed(transport, endpoint string, cause error) MCPError {
	host := redact(endpoint)
	data := &TransportErrorData{Transport: transport, Operation: "connect", Endpoint: host, Retryable: true}
	if host == "" {
		return connError(CodeConnectionFailed, cause, data, "%s: connect failed", transport)
	}
	return connError(CodeConnectionFailed, cause, data, "%s: connect to %s failed", transport, host)
}

// ConnectionLost reports a connection that went away while in use
func ConnectionLost(transport, connID string, cause error) MCPError {
	data := &TransportErrorData{Transport: transport, Operation: "receive", Retryable: true}
	if connID == "" {
		return connError(CodeConnectionLost, cause, data, "%s: connection lost", transport)
	}
	return connError(CodeConnectionLost, cause, data, "%s: connection %s lost", transport, connID)
}

// ConnectionTimeout reports a dial or handshake that ran out of time
func ConnectionTimeout(transport, endpoint string, timeout time.Duration) MCPError {
	host := redact(endpoint)
	data := &TransportErrorData{Transport: transport, Operation: "connect", Endpoint: host, Timeout: timeout, Retryable: true, Reason: "timeout"}
	return connError(CodeConnectionTimeout, nil, data, "%s: connect to %s timed out after %v", transport, host, timeout)
}

// HTTPTransportError reports an HTTP exchange that failed. A zero status
// means no response arrived. Client errors other than 408 and 429 are not
// retried.
func HTTPTransportError(operation, endpoint string, statusCode int, cause error) MCPError {
	data := &TransportErrorData{
		Transport:  "http",
		Operation:  operation,
		Endpoint:   redact(endpoint),
		StatusCode: statusCode,
		Retryable:  statusCode == 0 || statusCode >= 500 || statusCode == 429 || statusCode == 408,
	}
	if statusCode == 0 {
		return connError(CodeTransportError, cause, data, "http %s to %s failed", operation, data.Endpoint)
	}
	return connError(CodeTransportError, cause, data, "http %s to %s: status %d", operation, data.Endpoint, statusCode)
}
