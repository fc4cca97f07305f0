//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/keys"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/store/sqlite"
)

const testPassword = "a long enough passphrase"

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) redis.UniversalClient
}

// redisModes returns the Redis backends to test. miniredis is always
// available; REDIS_ADDR, REDIS_CLUSTER_ADDRS and REDIS_SENTINEL_ADDRS add
// real servers.
func redisModes() []redisMode {
	modes := []redisMode{{
		name: "miniredis",
		setup: func(t *testing.T) redis.UniversalClient {
			t.Helper()
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return rdb
		},
	}}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				return ping(t, redis.NewClient(&redis.Options{Addr: addr}))
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				return ping(t, redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)}))
			},
		})
	}

	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name: "sentinel",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				return ping(t, redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				}))
			},
		})
	}
	return modes
}

func ping(t *testing.T, rdb redis.UniversalClient) redis.UniversalClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("cannot connect to Redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func splitAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// flush drops every key the engine wrote, on each master for a cluster.
func flush(t *testing.T, rdb redis.UniversalClient) {
	t.Helper()
	ctx := context.Background()
	if cc, ok := rdb.(*redis.ClusterClient); ok {
		require.NoError(t, cc.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return c.FlushDB(ctx).Err()
		}))
		return
	}
	require.NoError(t, rdb.FlushDB(ctx).Err())
}

// newEngine builds an engine over a fresh SQLite file. Each call gets its own
// Redis prefix so runs against a shared server never see each other's keys.
func newEngine(t *testing.T, rdb redis.UniversalClient) *goIdentity.Engine {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.ApplyMigrations())

	key, _, _, err := keys.Generate(keys.AlgEdDSA, "it")
	require.NoError(t, err)
	ring, err := keys.NewRing(key)
	require.NoError(t, err)
	hasher, err := password.NewBcrypt(4)
	require.NoError(t, err)

	cfg := goIdentity.DefaultConfig()
	cfg.Session.RedisPrefix = "it-" + uuid.NewString()[:8]

	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithIdentityStore(store).
		WithRedis(rdb).
		WithKeys(ring).
		WithHasher(hasher).
		WithLogger(zap.NewNop()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

// login registers a fresh identity and signs it in.
func login(t *testing.T, engine *goIdentity.Engine) (goIdentity.Identity, goIdentity.TokenPair) {
	t.Helper()
	ctx := context.Background()
	email := "it-" + uuid.NewString()[:8] + "@example.com"
	ident, err := engine.CreateIdentity(ctx, email, testPassword)
	require.NoError(t, err)
	res := engine.Authenticate(ctx, email, testPassword)
	require.True(t, res.OK(), "login: %v", res.Err)
	return ident, *res.Tokens
}
