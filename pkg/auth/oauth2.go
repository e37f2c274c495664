package auth

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// TokenSource adapts an oauth2.TokenSource. Acquisition and refresh stay
// with the token source; this only renders whatever token it hands out.
type TokenSource struct {
	src oauth2.TokenSource
}

// FromTokenSource wraps src. The source is wrapped in oauth2.ReuseTokenSource
// so a valid token is not fetched again for every call.
func FromTokenSource(src oauth2.TokenSource) *TokenSource {
	return &TokenSource{src: oauth2.ReuseTokenSource(nil, src)}
}

// Credentials implements CredentialSource
func (t *TokenSource) Credentials(ctx context.Context) (*AuthContext, error) {
	tok, err := t.src.Token()
	if err != nil {
		return nil, mcperrors.Unauthorized("token source failed", err)
	}
	if !tok.Valid() {
		return nil, mcperrors.TokenExpired("oauth2", tok.Expiry)
	}

	return &AuthContext{
		Scheme:    tok.Type(),
		Token:     tok.AccessToken,
		ExpiresAt: tok.Expiry,
	}, nil
}

// ClientCredentials builds a token source for the OAuth2 client credentials
// grant. ctx governs the HTTP client used for token requests.
func ClientCredentials(ctx context.Context, clientID, clientSecret, tokenURL string, scopes []string) *TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return FromTokenSource(cfg.TokenSource(ctx))
}
