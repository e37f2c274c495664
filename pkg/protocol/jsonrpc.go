package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// ErrorCode represents standard JSON-RPC 2.0 error codes
type ErrorCode int

// Standard error codes as per JSON-RPC 2.0 specification
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// MessageKind tells the three envelope shapes apart. A Response carrying
// an error object reports KindError.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindResponse
	KindError
	KindNotification
)

// String returns the kind name
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Message is implemented by *Request, *Response and *Notification
type Message interface {
	Kind() MessageKind
}

// JSONRPCMessage represents a JSON-RPC 2.0 message
type JSONRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
}

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPCMessage
	ID     ID              `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Kind implements Message
func (r *Request) Kind() MessageKind { return KindRequest }

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id ID, method string, params interface{}) (*Request, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Request{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPCMessage
	ID     ID              `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Kind implements Message
func (r *Response) Kind() MessageKind {
	if r.Error != nil {
		return KindError
	}
	return KindResponse
}

// NewResponse creates a new JSON-RPC 2.0 success response
func NewResponse(id ID, result interface{}) (*Response, error) {
	resultJSON, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	if resultJSON == nil {
		// A success response must carry a result member.
		resultJSON = json.RawMessage("null")
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Result:         resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id ID, code ErrorCode, message string, data interface{}) (*Response, error) {
	dataJSON, err := marshalParams(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error data: %w", err)
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    dataJSON,
		},
	}, nil
}

// Notification represents a JSON-RPC 2.0 notification
type Notification struct {
	JSONRPCMessage
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Kind implements Message
func (n *Notification) Kind() MessageKind { return KindNotification }

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Notification, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Notification{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func marshalParams(v interface{}) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return data, nil
}

// wireMessage is the superset of all envelope members, used to decide
// which concrete message a frame holds.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// ParseMessage decodes a single JSON-RPC envelope. Malformed input is
// reported as a *Error with ParseError or InvalidRequest code.
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &Error{Code: ParseError, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return w.message()
}

// ParseMessages decodes either a single envelope or a batch array
func ParseMessages(data []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &Error{Code: ParseError, Message: "empty frame"}
	}
	if trimmed[0] != '[' {
		msg, err := ParseMessage(trimmed)
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &Error{Code: ParseError, Message: fmt.Sprintf("invalid batch: %v", err)}
	}
	if len(raw) == 0 {
		return nil, &Error{Code: InvalidRequest, Message: "empty batch"}
	}

	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		msg, err := ParseMessage(item)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (w *wireMessage) message() (Message, error) {
	if w.JSONRPC != JSONRPCVersion {
		return nil, &Error{Code: InvalidRequest, Message: fmt.Sprintf("unsupported jsonrpc version %q", w.JSONRPC)}
	}

	var id ID
	if len(w.ID) > 0 {
		if err := id.UnmarshalJSON(w.ID); err != nil {
			return nil, &Error{Code: InvalidRequest, Message: err.Error()}
		}
	}

	hdr := JSONRPCMessage{JSONRPC: w.JSONRPC}
	switch {
	case w.Method != "" && id.IsValid():
		return &Request{JSONRPCMessage: hdr, ID: id, Method: w.Method, Params: w.Params}, nil
	case w.Method != "":
		return &Notification{JSONRPCMessage: hdr, Method: w.Method, Params: w.Params}, nil
	case w.Error != nil:
		// Error responses may carry a null id (e.g. parse errors).
		return &Response{JSONRPCMessage: hdr, ID: id, Error: w.Error}, nil
	case w.Result != nil && id.IsValid():
		return &Response{JSONRPCMessage: hdr, ID: id, Result: w.Result}, nil
	default:
		return nil, &Error{Code: InvalidRequest, Message: "envelope has neither method nor result/error"}
	}
}

// Marshal encodes any message into a frame
func Marshal(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.Kind(), err)
	}
	return data, nil
}
