package auth

import (
	"context"
	"fmt"
)

// Credential source types accepted by FromConfig
const (
	TypeNone              = ""
	TypeStatic            = "static"
	TypeBearer            = "bearer"
	TypeAPIKey            = "apikey"
	TypeClientCredentials = "oauth2_client_credentials"
)

// Config describes a credential source
type Config struct {
	// Type selects the source; empty disables authentication
	Type string `json:"type"`

	// Scheme is used by the static source
	Scheme string `json:"scheme,omitempty"`

	// Token is the static/bearer token or the API key
	Token string `json:"token,omitempty"`

	// Header overrides the header for API keys
	Header string `json:"header,omitempty"`

	// OAuth2 client credentials
	ClientID     string   `json:"clientId,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	TokenURL     string   `json:"tokenUrl,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// FromConfig creates a credential source from config. It returns a nil
// source and no error when authentication is disabled.
func FromConfig(ctx context.Context, cfg Config) (CredentialSource, error) {
	switch cfg.Type {
	case TypeNone:
		return nil, nil
	case TypeStatic:
		return NewStatic(cfg.Scheme, cfg.Token), nil
	case TypeBearer:
		if cfg.Token == "" {
			return nil, fmt.Errorf("auth: bearer source requires a token")
		}
		return NewBearer(cfg.Token), nil
	case TypeAPIKey:
		if cfg.Token == "" {
			return nil, fmt.Errorf("auth: apikey source requires a token")
		}
		return NewAPIKey(cfg.Header, cfg.Token), nil
	case TypeClientCredentials:
		if cfg.ClientID == "" || cfg.TokenURL == "" {
			return nil, fmt.Errorf("auth: client credentials require clientId and tokenUrl")
		}
		return ClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret, cfg.TokenURL, cfg.Scopes), nil
	default:
		return nil, fmt.Errorf("auth: unknown credential source type %q", cfg.Type)
	}
}
