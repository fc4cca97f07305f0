package main

import (
	"context"
	"fmt"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/store/postgres"
	"github.com/MrEthical07/goIdentity/store/sqlite"
)

// identityStore is an opened store together with its schema and lifecycle
// hooks.
type identityStore struct {
	goIdentity.IdentityStore
	migrate func(ctx context.Context) error
	close   func()
}

// openStore accepts "sqlite:<path>" or a postgres:// / postgresql:// URL.
func openStore(ctx context.Context, target string) (*identityStore, error) {
	switch {
	case strings.HasPrefix(target, "sqlite:"):
		s, err := sqlite.Open(strings.TrimPrefix(target, "sqlite:"))
		if err != nil {
			return nil, err
		}
		return &identityStore{
			IdentityStore: s,
			migrate:       func(context.Context) error { return s.ApplyMigrations() },
			close:         func() { _ = s.Close() },
		}, nil
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		s, err := postgres.Open(ctx, target)
		if err != nil {
			return nil, err
		}
		return &identityStore{IdentityStore: s, migrate: s.ApplyMigrations, close: s.Close}, nil
	case target == "":
		return nil, fmt.Errorf("no store given: use --store or IDENTITY_STORE")
	}
	return nil, fmt.Errorf("unsupported store %q: want sqlite:<path> or postgres://", target)
}
