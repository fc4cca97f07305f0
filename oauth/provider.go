package oauth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

var ErrUnknownProvider = errors.New("oauth provider not registered")

// UserInfo is the normalized external account.
type UserInfo struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Raw           map[string]any
}

// Provider is one external identity provider.
type Provider interface {
	Name() string
	AuthorizationURL(state, redirectURI string, opts ...oauth2.AuthCodeOption) string
	ExchangeCode(ctx context.Context, code, redirectURI string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
	UserInfo(ctx context.Context, token *oauth2.Token) (UserInfo, error)
}

// Registry resolves providers by name. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces p.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
