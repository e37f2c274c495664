package errors

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
)

func TestTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		err       MCPError
		wantCode  int
		wantCat   Category
		retryable bool
	}{
		{
			name:      "transport",
			err:       TransportError("stdio", "send", io.ErrClosedPipe),
			wantCode:  CodeTransportError,
			wantCat:   CategoryTransport,
			retryable: true,
		},
		{
			name:      "connection lost",
			err:       ConnectionLost("websocket", "c1", io.EOF),
			wantCode:  CodeConnectionLost,
			wantCat:   CategoryTransport,
			retryable: true,
		},
		{
			name:      "timeout",
			err:       Timeout("tools/call", context.DeadlineExceeded),
			wantCode:  CodeOperationTimeout,
			wantCat:   CategoryTimeout,
			retryable: true,
		},
		{
			name:     "protocol",
			err:      ProtocolViolation("bad envelope"),
			wantCode: CodeProtocolError,
			wantCat:  CategoryProtocol,
		},
		{
			name:     "circuit open",
			err:      CircuitOpen("c1", time.Second),
			wantCode: CodeCircuitOpen,
			wantCat:  CategoryCircuitOpen,
		},
		{
			name:     "pool exhausted",
			err:      PoolExhausted(3),
			wantCode: CodePoolExhausted,
			wantCat:  CategoryCapacity,
		},
		{
			name:     "cancelled",
			err:      Cancelled("ping", context.Canceled),
			wantCode: CodeOperationCancelled,
			wantCat:  CategoryCancelled,
		},
		{
			name:     "not initialized",
			err:      NotInitialized("tools/list"),
			wantCode: CodeNotInitialized,
			wantCat:  CategoryLifecycle,
		},
		{
			name:     "rate limited",
			err:      RateLimited("tools/call", 10*time.Millisecond),
			wantCode: CodeResourceUnavailable,
			wantCat:  CategoryCapacity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Code(); got != tt.wantCode {
				t.Errorf("Code() = %v, want %v", got, tt.wantCode)
			}
			if got := tt.err.Category(); got != tt.wantCat {
				t.Errorf("Category() = %v, want %v", got, tt.wantCat)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if tt.err.Error() == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

func TestErrorContext(t *testing.T) {
	err := ProtocolViolation("test error")
	assert.Nil(t, err.Context())

	requestCtx := &Context{RequestID: "123", Method: "test/method", ConnID: "conn-1"}
	withCtx := err.WithContext(requestCtx)
	assert.Same(t, requestCtx, withCtx.Context())
	assert.Nil(t, err.Context(), "original error must not change")
}

func TestAnnotate(t *testing.T) {
	plain := fmt.Errorf("plain")
	assert.Same(t, plain, Annotate(plain, Context{Method: "ping"}))
	assert.Nil(t, Annotate(nil, Context{}))

	wrapped := fmt.Errorf("attempt: %w", ConnectionLost("ws", "c1", io.EOF))
	err := Annotate(wrapped, Context{SessionID: "s1", RequestID: "7", Method: "tools/call", ConnID: "c1", Attempt: 2})

	mcpErr, ok := AsMCPError(err)
	require.True(t, ok)
	require.NotNil(t, mcpErr.Context())
	assert.Equal(t, "tools/call", mcpErr.Context().Method)
	assert.Equal(t, 2, mcpErr.Context().Attempt)
	assert.False(t, mcpErr.Context().Timestamp.IsZero())
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, io.EOF)

	remote := Annotate(FromJSONRPCError(&protocol.Error{Code: protocol.InvalidParams, Message: "bad"}), Context{Method: "x"})
	assert.True(t, IsRemote(remote))
}

func TestCodeName(t *testing.T) {
	assert.Equal(t, "PoolExhausted", CodeName(CodePoolExhausted))
	assert.Equal(t, "MethodNotFound", CodeName(CodeMethodNotFound))
	assert.Equal(t, "Unknown", CodeName(-1))
	assert.Equal(t, CategoryLifecycle, SessionClosed("call").Category())
	assert.Equal(t, SeverityInfo, Cancelled("call", nil).Severity())
}

func TestErrorChaining(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := WrapError(cause, CodeInternalError, "wrapped error")
	assert.Equal(t, cause, err.Unwrap())
	assert.Equal(t, CategoryInternal, err.Category())

	wrapped := fmt.Errorf("attempt 2: %w", TransportError("ws", "send", cause))
	mcpErr, ok := AsMCPError(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeTransportError, mcpErr.Code())
	assert.True(t, IsCategory(wrapped, CategoryTransport))
	assert.True(t, IsCode(wrapped, CodeTransportError))
	assert.True(t, goerrors.Is(wrapped, cause))
}

func TestCancelledUnwrapsContextError(t *testing.T) {
	err := Cancelled("ping", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)

	err = Timeout("ping", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestErrorSerialization(t *testing.T) {
	err := CircuitOpen("conn-1", 2*time.Second).
		WithContext(&Context{RequestID: "123", Method: "tools/call"})

	jsonData := err.ToJSON()
	assert.Equal(t, CodeCircuitOpen, jsonData["code"])
	assert.Equal(t, "CircuitOpen", jsonData["name"])
	assert.NotNil(t, jsonData["context"])

	data, err2 := json.Marshal(err)
	require.NoError(t, err2)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(CodeCircuitOpen), decoded["code"])
	assert.Equal(t, string(CategoryCircuitOpen), decoded["category"])
}

func TestJSONRPCConversion(t *testing.T) {
	t.Run("remote errors are fatal and verbatim", func(t *testing.T) {
		rpcErr := &protocol.Error{Code: protocol.MethodNotFound, Message: "no such tool", Data: json.RawMessage(`{"name":"x"}`)}
		err := FromJSONRPCError(rpcErr)

		assert.True(t, IsRemote(err))
		assert.False(t, IsRetryable(err))
		assert.Equal(t, CategoryProtocol, err.Category())
		assert.Equal(t, "no such tool", err.Message())
		assert.Same(t, rpcErr, ToJSONRPCError(err))
	})

	t.Run("remote transport code still fatal", func(t *testing.T) {
		err := FromJSONRPCError(&protocol.Error{Code: protocol.ErrorCode(CodeTransportError), Message: "upstream"})
		assert.Equal(t, CategoryTransport, err.Category())
		assert.False(t, IsRetryable(err))
	})

	t.Run("unknown code is protocol", func(t *testing.T) {
		err := FromJSONRPCError(&protocol.Error{Code: -1, Message: "custom"})
		assert.Equal(t, CategoryProtocol, err.Category())
	})

	t.Run("local error to wire", func(t *testing.T) {
		rpcErr := ToJSONRPCError(PoolExhausted(2))
		assert.Equal(t, protocol.ErrorCode(CodePoolExhausted), rpcErr.Code)
		assert.Contains(t, string(rpcErr.Data), `"operation":"acquire"`)
	})

	t.Run("plain error to wire", func(t *testing.T) {
		rpcErr := ToJSONRPCError(fmt.Errorf("boom"))
		assert.Equal(t, protocol.InternalError, rpcErr.Code)
		assert.Equal(t, "boom", rpcErr.Message)
	})

	t.Run("error response", func(t *testing.T) {
		resp := ToErrorResponse(protocol.NewNumberID(4), MethodNotFound("x"))
		assert.Equal(t, protocol.KindError, resp.Kind())
		assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
	})

	assert.Nil(t, FromJSONRPCError(nil))
	assert.Nil(t, ToJSONRPCError(nil))
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.Nil(t, FromContext(ctx, "op"))
	cancel()
	assert.True(t, IsCategory(FromContext(ctx, "op"), CategoryCancelled))

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	assert.True(t, IsCategory(FromContext(ctx, "op"), CategoryTimeout))

	cctx, ccancel := context.WithCancelCause(context.Background())
	ccancel(CircuitOpen("cascade", time.Second))
	assert.True(t, IsCategory(FromContext(cctx, "op"), CategoryCircuitOpen))
}

func TestHTTPTransportRetryable(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{0, true},
		{400, false},
		{404, false},
		{408, true},
		{429, true},
		{503, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := HTTPTransportError("send", "http://example.invalid", tt.status, io.ErrUnexpectedEOF)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestConvertStandardError(t *testing.T) {
	assert.Nil(t, ConvertStandardError(nil))
	assert.True(t, IsCategory(ConvertStandardError(context.Canceled), CategoryCancelled))
	assert.True(t, IsCategory(ConvertStandardError(context.DeadlineExceeded), CategoryTimeout))
	assert.True(t, IsCategory(ConvertStandardError(&protocol.Error{Code: protocol.InvalidRequest}), CategoryProtocol))
	assert.True(t, IsCategory(ConvertStandardError(io.EOF), CategoryInternal))
	assert.False(t, IsRetryable(io.EOF))
}
