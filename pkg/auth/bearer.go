package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// Static always returns the same credential
type Static struct {
	ctx AuthContext
}

// NewStatic creates a source for a fixed scheme and token
func NewStatic(scheme, token string) *Static {
	return &Static{ctx: AuthContext{Scheme: scheme, Token: token}}
}

// Credentials implements CredentialSource
func (s *Static) Credentials(ctx context.Context) (*AuthContext, error) {
	ac := s.ctx
	return &ac, nil
}

// Bearer supplies a bearer token. When the token is a JWT its exp and sub
// claims are read (without verifying the signature, which is the server's
// job) so that an expired token is refused locally instead of costing a
// round trip.
type Bearer struct {
	token     string
	subject   string
	expiresAt time.Time
	now       func() time.Time
}

// NewBearer creates a bearer source. Non-JWT tokens are accepted as opaque.
func NewBearer(token string) *Bearer {
	b := &Bearer{token: strings.TrimSpace(token), now: time.Now}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(b.token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			b.expiresAt = exp.Time
		}
		if sub, err := claims.GetSubject(); err == nil {
			b.subject = sub
		}
	}
	return b
}

// ExpiresAt returns the token expiry, zero for opaque tokens
func (b *Bearer) ExpiresAt() time.Time {
	return b.expiresAt
}

// Credentials implements CredentialSource
func (b *Bearer) Credentials(ctx context.Context) (*AuthContext, error) {
	if b.token == "" {
		return nil, mcperrors.Unauthorized("empty bearer token", nil)
	}

	ac := &AuthContext{
		Scheme:    "Bearer",
		Token:     b.token,
		Subject:   b.subject,
		ExpiresAt: b.expiresAt,
	}
	if ac.Expired(b.now()) {
		return nil, mcperrors.TokenExpired("bearer", b.expiresAt)
	}
	return ac, nil
}
