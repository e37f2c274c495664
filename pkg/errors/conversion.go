package errors

import (
	"context"
	"encoding/json"
	goerrors "errors"

	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
)

// ToJSONRPCError converts err to the error object of a response. Errors
// decoded from a peer go back out unchanged.
func ToJSONRPCError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	var rpcErr *protocol.Error
	if goerrors.As(err, &rpcErr) {
		return rpcErr
	}

	mcpErr, ok := AsMCPError(err)
	if !ok {
		return &protocol.Error{Code: protocol.InternalError, Message: err.Error()}
	}

	out := &protocol.Error{Code: protocol.ErrorCode(mcpErr.Code()), Message: mcpErr.Message()}
	switch data := mcpErr.Data().(type) {
	case nil:
	case json.RawMessage:
		out.Data = data
	default:
		if raw, err := json.Marshal(data); err == nil {
			out.Data = raw
		}
	}
	return out
}

// ToErrorResponse builds the error response to request id
func ToErrorResponse(id protocol.ID, err error) *protocol.Response {
	return &protocol.Response{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		ID:             id,
		Error:          ToJSONRPCError(err),
	}
}

// FromJSONRPCError wraps an error object received from the peer. The
// result is remote: the engine never retries it and it does not count
// against the connection.
func FromJSONRPCError(rpcErr *protocol.Error) MCPError {
	if rpcErr == nil {
		return nil
	}
	err := WrapError(rpcErr, int(rpcErr.Code), rpcErr.Message).(*sdkError)
	err.remote = true
	if len(rpcErr.Data) > 0 {
		err.data = rpcErr.Data
	}
	return err
}

// FromContext turns the state of a finished context into a Cancelled or
// Timeout error. A cancel cause that is already an MCPError is returned
// as is; this is how a cascade trip reaches the caller.
func FromContext(ctx context.Context, operation string) MCPError {
	cause := context.Cause(ctx)
	if cause == nil {
		return nil
	}
	if mcpErr, ok := AsMCPError(cause); ok {
		return mcpErr
	}
	if goerrors.Is(cause, context.DeadlineExceeded) {
		return Timeout(operation, cause)
	}
	return Cancelled(operation, cause)
}

// ConvertStandardError maps common Go errors onto the taxonomy
func ConvertStandardError(err error) MCPError {
	if err == nil {
		return nil
	}
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr
	}

	var (
		rpcErr    *protocol.Error
		syntaxErr *json.SyntaxError
	)
	switch {
	case goerrors.As(err, &rpcErr):
		return ProtocolViolation(rpcErr.Message).WithData(map[string]interface{}{"code": rpcErr.Code})
	case goerrors.Is(err, context.Canceled):
		return Cancelled("request", err)
	case goerrors.Is(err, context.DeadlineExceeded):
		return Timeout("request", err)
	case goerrors.As(err, &syntaxErr):
		return WrapError(err, CodeParseError, "invalid JSON: "+err.Error())
	default:
		return WrapError(err, CodeInternalError, "internal error: "+err.Error())
	}
}

// IsRetryable is the classification the retry engine runs on. Transport
// and timeout failures are retryable unless their data says otherwise.
// Errors reported by the peer never are.
func IsRetryable(err error) bool {
	if err == nil || IsRemote(err) {
		return false
	}
	mcpErr, ok := AsMCPError(err)
	if !ok {
		return false
	}
	if data, ok := mcpErr.Data().(*TransportErrorData); ok && data != nil {
		return data.Retryable
	}
	cat := mcpErr.Category()
	return cat == CategoryTransport || cat == CategoryTimeout
}
