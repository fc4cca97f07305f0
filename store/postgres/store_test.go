package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/store/storetest"
)

// startPostgres runs a throwaway PostgreSQL container. Tests are skipped
// under -short or when no container runtime is reachable.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "identity",
			"POSTGRES_PASSWORD": "identity",
			"POSTGRES_DB":       "identity",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("container runtime unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://identity:identity@%s:%s/identity?sslmode=disable", host, port.Port())
}

func TestStoreContract(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.ApplyMigrations(ctx))
	require.NoError(t, s.ApplyMigrations(ctx))

	storetest.Run(t, func(t *testing.T) goIdentity.IdentityStore {
		_, err := s.Pool().Exec(ctx, `TRUNCATE identities CASCADE`)
		require.NoError(t, err)
		return s
	})
}

func TestParseIDRejectsNonUUID(t *testing.T) {
	_, err := parseID("not-a-uuid")
	require.ErrorIs(t, err, goIdentity.ErrIdentityNotFound)

	id, err := parseID(" 0190f5d2-3c1a-7b3e-8f00-000000000001 ")
	require.NoError(t, err)
	require.Equal(t, "0190f5d2-3c1a-7b3e-8f00-000000000001", id.String())
}
