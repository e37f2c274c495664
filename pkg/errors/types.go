// Package errors is the error taxonomy of the SDK. Every failure a call can
// end with is an MCPError carrying a JSON-RPC code, a category the retry
// engine classifies on, and the session coordinates it happened at.
package errors

import (
	"encoding/json"
	goerrors "errors"
	"time"
)

// Category groups codes by how callers react to them
type Category string

const (
	CategoryValidation  Category = "validation"
	CategoryAuth        Category = "auth"
	CategoryTransport   Category = "transport"
	CategoryInternal    Category = "internal"
	CategoryTimeout     Category = "timeout"
	CategoryCancelled   Category = "cancelled"
	CategoryProtocol    Category = "protocol"
	CategoryCircuitOpen Category = "circuit_open"
	CategoryCapacity    Category = "capacity"
	CategoryLifecycle   Category = "lifecycle"
)

// Severity is used by loggers to pick a level
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where in a session an error surfaced
type Context struct {
	SessionID string    `json:"session_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	ConnID    string    `json:"conn_id,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MCPError is implemented by every error the SDK creates
type MCPError interface {
	error

	Code() int
	Message() string
	Category() Category
	Severity() Severity

	// Data is the structured payload sent as the JSON-RPC error data
	Data() interface{}
	// Context is nil until the error is annotated
	Context() *Context

	// WithContext and WithData return copies; the receiver is unchanged
	WithContext(ctx *Context) MCPError
	WithData(data interface{}) MCPError

	Unwrap() error
	ToJSON() map[string]interface{}
}

type sdkError struct {
	code   int
	msg    string
	class  codeSpec
	data   interface{}
	ctx    *Context
	cause  error
	remote bool
}

// NewError creates an error for code. Category and severity follow from
// the code.
func NewError(code int, message string) MCPError {
	spec, _ := lookup(code)
	return &sdkError{code: code, msg: message, class: spec}
}

// WrapError is NewError with a cause reachable through errors.Is and As
func WrapError(cause error, code int, message string) MCPError {
	spec, _ := lookup(code)
	return &sdkError{code: code, msg: message, class: spec, cause: cause}
}

func (e *sdkError) Error() string      { return e.msg }
func (e *sdkError) Code() int          { return e.code }
func (e *sdkError) Message() string    { return e.msg }
func (e *sdkError) Category() Category { return e.class.category }
func (e *sdkError) Severity() Severity { return e.class.severity }
func (e *sdkError) Data() interface{}  { return e.data }
func (e *sdkError) Context() *Context  { return e.ctx }
func (e *sdkError) Unwrap() error      { return e.cause }

func (e *sdkError) WithContext(ctx *Context) MCPError {
	c := *e
	c.ctx = ctx
	return &c
}

func (e *sdkError) WithData(data interface{}) MCPError {
	c := *e
	c.data = data
	return &c
}

func (e *sdkError) ToJSON() map[string]interface{} {
	out := map[string]interface{}{
		"code":     e.code,
		"name":     e.class.name,
		"message":  e.msg,
		"category": string(e.class.category),
		"severity": string(e.class.severity),
	}
	if e.data != nil {
		out["data"] = e.data
	}
	if e.ctx != nil {
		out["context"] = e.ctx
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	if e.remote {
		out["remote"] = true
	}
	return out
}

func (e *sdkError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// Annotate stamps the first MCPError in err's chain with ctx. The timestamp
// is filled in when ctx leaves it zero. Other errors are returned as is.
func Annotate(err error, ctx Context) error {
	mcpErr, ok := AsMCPError(err)
	if !ok {
		return err
	}
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}
	return mcpErr.WithContext(&ctx)
}

// AsMCPError finds the first MCPError in err's chain
func AsMCPError(err error) (MCPError, bool) {
	var mcpErr MCPError
	if err != nil && goerrors.As(err, &mcpErr) {
		return mcpErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries an MCPError of category
func IsCategory(err error, category Category) bool {
	mcpErr, ok := AsMCPError(err)
	return ok && mcpErr.Category() == category
}

// IsCode reports whether err carries an MCPError with code
func IsCode(err error, code int) bool {
	mcpErr, ok := AsMCPError(err)
	return ok && mcpErr.Code() == code
}

// IsRemote reports whether err was decoded from the peer's error response
func IsRemote(err error) bool {
	var e *sdkError
	return goerrors.As(err, &e) && e.remote
}
