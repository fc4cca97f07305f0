package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newFakeProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" || r.Form.Get("code_verifier") == "" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       12345,
			"mail":     "a@example.com",
			"verified": true,
			"name":     "Ada",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, srv *httptest.Server) *OAuth2Provider {
	t.Helper()
	p, err := NewOAuth2Provider(OAuth2Config{
		Name:        "example",
		ClientID:    "client",
		AuthURL:     srv.URL + "/authorize",
		TokenURL:    srv.URL + "/token",
		UserInfoURL: srv.URL + "/userinfo",
		Scopes:      []string{"profile", "email"},
		Claims:      ClaimMapping{Subject: "id", Email: "mail", EmailVerified: "verified"},
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)
	return p
}

func TestAuthorizationURLCarriesStateAndPKCE(t *testing.T) {
	srv := newFakeProviderServer(t)
	p := newTestProvider(t, srv)

	verifier := oauth2.GenerateVerifier()
	raw := p.AuthorizationURL("st-1", "https://app.example.com/cb", oauth2.S256ChallengeOption(verifier))
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "st-1", q.Get("state"))
	assert.Equal(t, "https://app.example.com/cb", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
	assert.Equal(t, "profile email", q.Get("scope"))
}

func TestExchangeAndUserInfo(t *testing.T) {
	srv := newFakeProviderServer(t)
	p := newTestProvider(t, srv)
	ctx := context.Background()

	_, err := p.ExchangeCode(ctx, "bad-code", "https://app.example.com/cb", oauth2.VerifierOption("v"))
	require.Error(t, err)

	tok, err := p.ExchangeCode(ctx, "good-code", "https://app.example.com/cb", oauth2.VerifierOption("v"))
	require.NoError(t, err)

	info, err := p.UserInfo(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "12345", info.Subject)
	assert.Equal(t, "a@example.com", info.Email)
	assert.True(t, info.EmailVerified)
	assert.Equal(t, "Ada", info.Name)
}

func TestNewOAuth2ProviderValidates(t *testing.T) {
	_, err := NewOAuth2Provider(OAuth2Config{Name: "x", ClientID: "c"})
	assert.Error(t, err)
	_, err = NewOAuth2Provider(OAuth2Config{ClientID: "c", AuthURL: "a", TokenURL: "t", UserInfoURL: "u"})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	srv := newFakeProviderServer(t)
	r := NewRegistry(newTestProvider(t, srv))

	p, err := r.Get("EXAMPLE")
	require.NoError(t, err)
	assert.Equal(t, "example", p.Name())

	_, err = r.Get("other")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Equal(t, []string{"example"}, r.Names())
}
