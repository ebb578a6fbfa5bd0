//go:build integration

package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tvsignal/engine/internal/config"
	"github.com/tvsignal/engine/internal/model"
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

func pushEvent(t *testing.T, s *store.Store, symbol string, ev model.NormalizedEvent) {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, s.RPush(context.Background(), store.EventsKey(symbol), string(b)))
}

func TestAggregate_CountsWithinWindowAndSkipsStaleAndCorrupt(t *testing.T) {
	s, cleanup := startRedis(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().Unix()

	pushEvent(t, s, "ETHUSDT", model.NormalizedEvent{Indicator: "A", Symbol: "ETHUSDT", TF: model.TF1h, Signal: model.SignalBuy, TS: now, Strength: 0.7})
	pushEvent(t, s, "ETHUSDT", model.NormalizedEvent{Indicator: "A", Symbol: "ETHUSDT", TF: model.TF1h, Signal: model.SignalSell, TS: now - 10000, Strength: 0.3})
	require.NoError(t, s.RPush(ctx, store.EventsKey("ETHUSDT"), "{not json"))

	a := New(s)
	cfg := model.DefaultRuntimeConfig()
	result, err := a.Aggregate(ctx, "ETHUSDT", cfg, 1000)
	require.NoError(t, err)

	summary := result.Timeframes[model.TF1h]
	require.Equal(t, 1, summary.BuyCount)
	require.Equal(t, 0, summary.SellCount)
	require.Len(t, summary.Indicators, 1)
	require.Equal(t, model.SignalBuy, summary.Indicators[0].Signal)
}

func TestAggregate_LatestPerIndicatorWinsOnTie(t *testing.T) {
	s, cleanup := startRedis(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().Unix()

	pushEvent(t, s, "ETHUSDT", model.NormalizedEvent{Indicator: "A", Symbol: "ETHUSDT", TF: model.TF5m, Signal: model.SignalBuy, TS: now, Strength: 0.7})
	pushEvent(t, s, "ETHUSDT", model.NormalizedEvent{Indicator: "A", Symbol: "ETHUSDT", TF: model.TF5m, Signal: model.SignalSell, TS: now, Strength: 0.4})

	a := New(s)
	cfg := model.DefaultRuntimeConfig()
	result, err := a.Aggregate(ctx, "ETHUSDT", cfg, 1000)
	require.NoError(t, err)

	summary := result.Timeframes[model.TF5m]
	require.Len(t, summary.Indicators, 1)
	require.Equal(t, model.SignalSell, summary.Indicators[0].Signal)
}

func TestLoadRuntimeConfig_FallsBackWhenAbsent(t *testing.T) {
	s, cleanup := startRedis(t)
	defer cleanup()
	cfg := LoadRuntimeConfig(context.Background(), s)
	require.Equal(t, model.DefaultRuntimeConfig().Threshold, cfg.Threshold)
}

func TestLoadRuntimeConfig_FallsBackWhenCorrupt(t *testing.T) {
	s, cleanup := startRedis(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, store.ConfigKey, "{not json", 0))
	cfg := LoadRuntimeConfig(ctx, s)
	require.Equal(t, model.DefaultRuntimeConfig().Threshold, cfg.Threshold)
}
