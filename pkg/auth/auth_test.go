package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/hwiorn/mcp-sdk-go/pkg/auth"
	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := auth.FromContext(context.Background())
	assert.False(t, ok)

	ac := &auth.AuthContext{Scheme: "Bearer", Token: "abc"}
	got, ok := auth.FromContext(auth.NewContext(context.Background(), ac))
	require.True(t, ok)
	assert.Same(t, ac, got)
	assert.Equal(t, "Bearer abc", got.HeaderValue())
	assert.Equal(t, "Authorization", got.HeaderName())
}

func TestBearer(t *testing.T) {
	t.Run("valid jwt", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		src := auth.NewBearer(signedToken(t, jwt.MapClaims{"sub": "alice", "exp": exp.Unix()}))

		ac, err := src.Credentials(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer", ac.Scheme)
		assert.Equal(t, "alice", ac.Subject)
		assert.True(t, exp.Equal(ac.ExpiresAt))
	})

	t.Run("expired jwt", func(t *testing.T) {
		src := auth.NewBearer(signedToken(t, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()}))

		_, err := src.Credentials(context.Background())
		require.Error(t, err)
		assert.True(t, mcperrors.IsCode(err, mcperrors.CodeTokenExpired))
	})

	t.Run("opaque token", func(t *testing.T) {
		src := auth.NewBearer("  not-a-jwt ")
		ac, err := src.Credentials(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer not-a-jwt", ac.HeaderValue())
		assert.True(t, src.ExpiresAt().IsZero())
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := auth.NewBearer("").Credentials(context.Background())
		assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryAuth))
	})
}

func TestAPIKey(t *testing.T) {
	ac, err := auth.NewAPIKey("", "k-123").Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultAPIKeyHeader, ac.HeaderName())
	assert.Equal(t, "k-123", ac.HeaderValue())
}

func TestTokenSource(t *testing.T) {
	src := auth.FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: "tok",
		TokenType:   "bearer",
	}))

	ac, err := src.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", ac.HeaderValue())
}

func TestClientCredentials(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	src, err := auth.FromConfig(context.Background(), auth.Config{
		Type:         auth.TypeClientCredentials,
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ac, err := src.Credentials(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "cc-token", ac.Token)
	}
	assert.Equal(t, 1, calls, "valid token must be reused")
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     auth.Config
		wantNil bool
		wantErr bool
	}{
		{name: "disabled", cfg: auth.Config{}, wantNil: true},
		{name: "static", cfg: auth.Config{Type: auth.TypeStatic, Scheme: "Token", Token: "x"}},
		{name: "bearer", cfg: auth.Config{Type: auth.TypeBearer, Token: "x"}},
		{name: "bearer without token", cfg: auth.Config{Type: auth.TypeBearer}, wantErr: true},
		{name: "apikey", cfg: auth.Config{Type: auth.TypeAPIKey, Token: "x"}},
		{name: "client credentials incomplete", cfg: auth.Config{Type: auth.TypeClientCredentials}, wantErr: true},
		{name: "unknown", cfg: auth.Config{Type: "kerberos"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := auth.FromConfig(context.Background(), tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, src)
				return
			}
			assert.NotNil(t, src)
		})
	}
}
