package middleware

import (
	"context"

	"github.com/hwiorn/mcp-sdk-go/pkg/auth"
	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

type authMiddleware struct {
	source auth.CredentialSource
}

// Auth asks source for credentials on every attempt and attaches them to
// the attempt and its context. A credential failure short-circuits.
func Auth(source auth.CredentialSource) Middleware {
	return &authMiddleware{source: source}
}

func (m *authMiddleware) Outgoing(ctx context.Context, req *Request) (context.Context, error) {
	ac, err := m.source.Credentials(ctx)
	if err != nil {
		if _, ok := mcperrors.AsMCPError(err); ok {
			return ctx, err
		}
		return ctx, mcperrors.Unauthorized("credential source failed", err)
	}
	if ac == nil {
		return ctx, mcperrors.Unauthorized("credential source returned no credentials", nil)
	}

	req.Auth = ac
	return auth.NewContext(ctx, ac), nil
}

func (m *authMiddleware) Incoming(context.Context, *Request, *Response) error {
	return nil
}
