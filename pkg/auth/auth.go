// Package auth provides the credential side of the MCP SDK.
// The session layer never acquires or refreshes tokens itself; it asks a
// CredentialSource for an AuthContext and attaches it to outgoing calls.
// HTTP and WebSocket transports turn the attached AuthContext into an
// Authorization header.
package auth

import (
	"context"
	"fmt"
	"time"
)

// AuthContext is the opaque credential attached to an outgoing request.
type AuthContext struct {
	// Scheme is the authorization scheme (e.g., "Bearer")
	Scheme string `json:"scheme"`

	// Token is the credential value
	Token string `json:"-"`

	// Header overrides the header the credential is sent in.
	// Defaults to Authorization.
	Header string `json:"header,omitempty"`

	// Subject identifies the principal, when known
	Subject string `json:"subject,omitempty"`

	// ExpiresAt is zero when the credential does not expire
	ExpiresAt time.Time `json:"expiresAt,omitempty"`

	// Extra carries source-specific attributes
	Extra map[string]string `json:"extra,omitempty"`
}

// HeaderName returns the header the credential is carried in
func (a *AuthContext) HeaderName() string {
	if a.Header != "" {
		return a.Header
	}
	return "Authorization"
}

// HeaderValue renders the credential for an HTTP header
func (a *AuthContext) HeaderValue() string {
	if a.Scheme == "" {
		return a.Token
	}
	return fmt.Sprintf("%s %s", a.Scheme, a.Token)
}

// Expired reports whether the credential is past its expiry at now
func (a *AuthContext) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// CredentialSource supplies credentials for outgoing calls.
// Implementations must be safe for concurrent use.
type CredentialSource interface {
	// Credentials returns the credential to attach to the next call
	Credentials(ctx context.Context) (*AuthContext, error)
}

// CredentialFunc adapts a function to CredentialSource
type CredentialFunc func(ctx context.Context) (*AuthContext, error)

// Credentials implements CredentialSource
func (f CredentialFunc) Credentials(ctx context.Context) (*AuthContext, error) {
	return f(ctx)
}

type contextKey struct{}

// NewContext returns a context carrying ac
func NewContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the AuthContext attached to ctx, if any
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(*AuthContext)
	return ac, ok && ac != nil
}
