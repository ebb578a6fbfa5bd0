//go:build integration

package dedupe

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

func TestChecker_IsDuplicate_FirstClaimWinsOnly(t *testing.T) {
	s, cleanup := startRedis(t)
	defer cleanup()
	c := New(s)
	ctx := context.Background()

	dup1, err := c.IsDuplicate(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, dup1)

	dup2, err := c.IsDuplicate(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, dup2)
}

func TestChecker_RateLimitExceeded_TripsAfterMax(t *testing.T) {
	s, cleanup := startRedis(t)
	defer cleanup()
	c := New(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, count, err := c.RateLimitExceeded(ctx, "ETHUSDT", 60, 3)
		require.NoError(t, err)
		require.False(t, exceeded, "count=%d", count)
	}

	exceeded, count, err := c.RateLimitExceeded(ctx, "ETHUSDT", 60, 3)
	require.NoError(t, err)
	require.True(t, exceeded)
	require.Equal(t, int64(4), count)
}
