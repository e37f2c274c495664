package errors

// Codes reserved by JSON-RPC 2.0
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// SDK codes. They live outside the range servers use for application
// errors so a peer can tell them apart.
const (
	CodeUnauthorized = -32100
	CodeTokenExpired = -32103

	// Capacity
	CodeResourceUnavailable = -32201

	// Call lifecycle
	CodeOperationCancelled = -32300
	CodeOperationTimeout   = -32301

	// Connections
	CodeTransportError    = -32500
	CodeConnectionFailed  = -32501
	CodeConnectionLost    = -32502
	CodeConnectionTimeout = -32503
	CodeCircuitOpen       = -32504
	CodePoolExhausted     = -32505

	// Session protocol
	CodeProtocolError   = -32900
	CodeVersionMismatch = -32901
	CodeNotInitialized  = -32904
	CodeSessionClosed   = -32905
)

type codeSpec struct {
	name     string
	category Category
	severity Severity
}

var codeTable = map[int]codeSpec{
	CodeParseError:     {"ParseError", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {"InvalidRequest", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {"MethodNotFound", CategoryProtocol, SeverityError},
	CodeInvalidParams:  {"InvalidParams", CategoryProtocol, SeverityError},
	CodeInternalError:  {"InternalError", CategoryInternal, SeverityError},

	CodeUnauthorized: {"Unauthorized", CategoryAuth, SeverityError},
	CodeTokenExpired: {"TokenExpired", CategoryAuth, SeverityWarning},

	CodeResourceUnavailable: {"ResourceUnavailable", CategoryCapacity, SeverityWarning},

	CodeOperationCancelled: {"OperationCancelled", CategoryCancelled, SeverityInfo},
	CodeOperationTimeout:   {"OperationTimeout", CategoryTimeout, SeverityError},

	CodeTransportError:    {"TransportError", CategoryTransport, SeverityError},
	CodeConnectionFailed:  {"ConnectionFailed", CategoryTransport, SeverityCritical},
	CodeConnectionLost:    {"ConnectionLost", CategoryTransport, SeverityError},
	CodeConnectionTimeout: {"ConnectionTimeout", CategoryTransport, SeverityError},
	CodeCircuitOpen:       {"CircuitOpen", CategoryCircuitOpen, SeverityWarning},
	CodePoolExhausted:     {"PoolExhausted", CategoryCapacity, SeverityCritical},

	CodeProtocolError:   {"ProtocolError", CategoryProtocol, SeverityError},
	CodeVersionMismatch: {"VersionMismatch", CategoryProtocol, SeverityError},
	CodeNotInitialized:  {"NotInitialized", CategoryLifecycle, SeverityError},
	CodeSessionClosed:   {"SessionClosed", CategoryLifecycle, SeverityError},
}

// lookup returns the table entry of a known code. Unknown codes are protocol
// errors: they can only come from a peer.
func lookup(code int) (codeSpec, bool) {
	spec, ok := codeTable[code]
	if !ok {
		return codeSpec{name: "Unknown", category: CategoryProtocol, severity: SeverityError}, false
	}
	return spec, true
}

// CodeName returns the symbolic name of code, or "Unknown"
func CodeName(code int) string {
	spec, _ := lookup(code)
	return spec.name
}
