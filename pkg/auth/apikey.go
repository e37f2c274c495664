package auth

import (
	"context"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// DefaultAPIKeyHeader is the header API keys are sent in unless configured
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey sends a fixed key in a header, without a scheme
type APIKey struct {
	header string
	key    string
}

// NewAPIKey creates an API key source. An empty header means X-API-Key.
func NewAPIKey(header, key string) *APIKey {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKey{header: header, key: key}
}

// Credentials implements CredentialSource
func (k *APIKey) Credentials(ctx context.Context) (*AuthContext, error) {
	if k.key == "" {
		return nil, mcperrors.Unauthorized("empty API key", nil)
	}
	return &AuthContext{Token: k.key, Header: k.header}, nil
}
