package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// ClaimMapping names the user-info JSON fields. Empty fields use the OIDC
// names: sub, email, email_verified, name.
type ClaimMapping struct {
	Subject       string
	Email         string
	EmailVerified string
	Name          string
}

type OAuth2Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	Claims       ClaimMapping

	// HTTPClient is used for the token exchange and the user-info call.
	HTTPClient *http.Client
}

// OAuth2Provider is a Provider for generic authorization-code providers.
type OAuth2Provider struct {
	name     string
	base     oauth2.Config
	userInfo string
	claims   ClaimMapping
	client   *http.Client
}

func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	switch {
	case strings.TrimSpace(cfg.Name) == "":
		return nil, errors.New("oauth provider name is required")
	case cfg.ClientID == "":
		return nil, errors.New("oauth client id is required")
	case cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "":
		return nil, errors.New("oauth auth, token and user-info urls are required")
	}

	claims := cfg.Claims
	if claims.Subject == "" {
		claims.Subject = "sub"
	}
	if claims.Email == "" {
		claims.Email = "email"
	}
	if claims.EmailVerified == "" {
		claims.EmailVerified = "email_verified"
	}
	if claims.Name == "" {
		claims.Name = "name"
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &OAuth2Provider{
		name: cfg.Name,
		base: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		userInfo: cfg.UserInfoURL,
		claims:   claims,
		client:   client,
	}, nil
}

func (p *OAuth2Provider) Name() string { return p.name }

func (p *OAuth2Provider) config(redirectURI string) *oauth2.Config {
	c := p.base
	c.RedirectURL = redirectURI
	return &c
}

func (p *OAuth2Provider) AuthorizationURL(state, redirectURI string, opts ...oauth2.AuthCodeOption) string {
	return p.config(redirectURI).AuthCodeURL(state, opts...)
}

func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code, redirectURI string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	return p.config(redirectURI).Exchange(ctx, code, opts...)
}

func (p *OAuth2Provider) UserInfo(ctx context.Context, token *oauth2.Token) (UserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	client := p.base.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfo, nil)
	if err != nil {
		return UserInfo{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return UserInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("%s user info: status %d", p.name, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return UserInfo{}, fmt.Errorf("%s user info: %w", p.name, err)
	}

	info := UserInfo{
		Subject:       stringClaim(raw[p.claims.Subject]),
		Email:         strings.TrimSpace(stringClaim(raw[p.claims.Email])),
		EmailVerified: boolClaim(raw[p.claims.EmailVerified]),
		Name:          stringClaim(raw[p.claims.Name]),
		Raw:           raw,
	}
	if info.Subject == "" {
		return UserInfo{}, fmt.Errorf("%s user info: missing %q", p.name, p.claims.Subject)
	}
	return info, nil
}

// stringClaim accepts numeric ids, which some providers use for the subject.
func stringClaim(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case json.Number:
		return t.String()
	}
	return ""
}

func boolClaim(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}
