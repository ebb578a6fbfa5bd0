package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyNamespace(t *testing.T) {
	assert.Equal(t, "tv:events:ETHUSDT", EventsKey("ETHUSDT"))
	assert.Equal(t, "tv:dedupe:abc123", DedupeKey("abc123"))
	assert.Equal(t, "tv:rate:ETHUSDT:100", RateKey("ETHUSDT", 100))
	assert.Equal(t, "tv:lock:ai:ETHUSDT", AILockKey("ETHUSDT"))
	assert.Equal(t, "tv:latest:ETHUSDT", LatestKey("ETHUSDT"))
	assert.Equal(t, "tv:config", ConfigKey)
}

func TestLifecycleConstants(t *testing.T) {
	assert.Equal(t, int64(86400), int64(EventTTL))
	assert.Equal(t, int64(600), int64(DedupeTTL))
	assert.Equal(t, int64(172800), int64(LatestTTL))
	assert.Equal(t, int64(60000), int64(AILockTTL))
}
