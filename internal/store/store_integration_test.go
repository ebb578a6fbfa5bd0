//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tvsignal/engine/internal/config"
	"github.com/tvsignal/engine/pkg/observability"
)

// startRedisContainer spins up a disposable Redis for integration
// coverage of the atomic primitives, grounded on
// pkg/testing/framework.go's SetupSuite redis container setup.
func startRedisContainer(t *testing.T) (*Store, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "info", LogFormat: "json"})
	s, err := New(config.RedisConfig{
		URL:      fmt.Sprintf("redis://%s:%s", host, port.Port()),
		PoolSize: 5,
	}, logger)
	require.NoError(t, err)

	return s, func() {
		s.Close()
		c.Terminate(ctx)
	}
}

func TestStore_SetNX_IsAtomicAndExclusive(t *testing.T) {
	s, cleanup := startRedisContainer(t)
	defer cleanup()
	ctx := context.Background()

	ok1, err := s.SetNX(ctx, "dedupe:x", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok1)

	ok2, err := s.SetNX(ctx, "dedupe:x", "1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestStore_IncrWithExpire_SetsTTLOnlyOnFirst(t *testing.T) {
	s, cleanup := startRedisContainer(t)
	defer cleanup()
	ctx := context.Background()

	n1, err := s.IncrWithExpire(ctx, "rate:x", 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(1), n1)

	n2, err := s.IncrWithExpire(ctx, "rate:x", 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), n2)

	// the TTL set on the first increment (2s), not the second (10m),
	// governs expiry.
	time.Sleep(2500 * time.Millisecond)
	_, err = s.Get(ctx, "rate:x")
	require.True(t, IsNotFound(err))
}

func TestStore_ReleaseIfOwner_OnlyDeletesMatchingToken(t *testing.T) {
	s, cleanup := startRedisContainer(t)
	defer cleanup()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock:ai:ETHUSDT", "token-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleaseIfOwner(ctx, "lock:ai:ETHUSDT", "token-b"))
	v, err := s.Get(ctx, "lock:ai:ETHUSDT")
	require.NoError(t, err)
	require.Equal(t, "token-a", v)

	require.NoError(t, s.ReleaseIfOwner(ctx, "lock:ai:ETHUSDT", "token-a"))
	_, err = s.Get(ctx, "lock:ai:ETHUSDT")
	require.True(t, IsNotFound(err))
}
