package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// Current protocol revision
	ProtocolRevision = "2025-03-26"

	// Methods for lifecycle management
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"

	// Methods for server features. The session layer treats these as
	// opaque method names; they are listed for handler registration.
	MethodListTools           = "tools/list"
	MethodCallTool            = "tools/call"
	MethodToolsChanged        = "notifications/tools/list_changed"
	MethodListResources       = "resources/list"
	MethodReadResource        = "resources/read"
	MethodSubscribeResource   = "resources/subscribe"
	MethodUnsubscribeResource = "resources/unsubscribe"
	MethodResourcesChanged    = "notifications/resources/list_changed"
	MethodResourceUpdated     = "notifications/resources/updated"
	MethodListPrompts         = "prompts/list"
	MethodGetPrompt           = "prompts/get"
	MethodPromptsChanged      = "notifications/prompts/list_changed"
	MethodComplete            = "completion/complete"
	MethodListRoots           = "roots/list"
	MethodRootsChanged        = "notifications/roots/list_changed"
	MethodCreateMessage       = "sampling/createMessage"
	MethodSetLogLevel         = "logging/setLevel"
	MethodLogMessage          = "notifications/message"

	// Methods for utilities
	MethodPing      = "ping"
	MethodCancelled = "notifications/cancelled"
	MethodProgress  = "notifications/progress"
)

// Capabilities is the capability map exchanged during initialization.
// Values are capability-specific option objects.
type Capabilities map[string]json.RawMessage

// Has reports whether the named capability was advertised
func (c Capabilities) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Implementation describes the client or server software
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams defines the parameters for the initialize request
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult defines the response for the initialize request
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// CancelledParams is the payload of notifications/cancelled
type CancelledParams struct {
	RequestID ID     `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// ProgressParams is the payload of notifications/progress
type ProgressParams struct {
	ProgressToken json.RawMessage `json:"progressToken"`
	Progress      float64         `json:"progress"`
	Total         *float64        `json:"total,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// CheckVersion validates the protocol version a peer answered with
func CheckVersion(got string) error {
	if got == "" {
		return fmt.Errorf("peer did not report a protocol version")
	}
	for _, v := range SupportedVersions {
		if v == got {
			return nil
		}
	}
	return fmt.Errorf("unsupported protocol version %q", got)
}

// SupportedVersions lists the revisions this SDK can talk
var SupportedVersions = []string{ProtocolRevision, "2024-11-05"}
