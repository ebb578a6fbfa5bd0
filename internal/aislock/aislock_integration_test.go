//go:build integration

package aislock

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tvsignal/engine/internal/config"
	"github.com/tvsignal/engine/internal/store"
	"github.com/tvsignal/engine/pkg/observability"
)

func startRedis(t *testing.T) (*store.Store, func()) {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "info", LogFormat: "json"})
	s, err := store.New(config.RedisConfig{URL: fmt.Sprintf("redis://%s:%s", host, port.Port()), PoolSize: 5}, logger)
	require.NoError(t, err)
	return s, func() { s.Close(); c.Terminate(ctx) }
}

func TestLock_AcquireIsExclusiveUntilReleased(t *testing.T) {
	s, cleanup := startRedis(t)
	defer cleanup()
	l := New(s)
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok2, err := l.Acquire(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.False(t, ok2)

	require.NoError(t, l.Release(ctx, "ETHUSDT", token))

	_, ok3, err := l.Acquire(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.True(t, ok3)
}

func TestLock_ReleaseWithStaleTokenIsNoop(t *testing.T) {
	s, cleanup := startRedis(t)
	defer cleanup()
	l := New(s)
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "BTCUSDT", "not-the-real-token"))

	_, ok2, err := l.Acquire(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.False(t, ok2, "lock should still be held since release used a stale token")

	require.NoError(t, l.Release(ctx, "BTCUSDT", token))
}
