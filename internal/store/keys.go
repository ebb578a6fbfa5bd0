package store

import "fmt"

// Key namespace (spec.md §6 "Persisted key layout").
const (
	EventTTL  = 24 * 60 * 60        // 24h
	DedupeTTL = 10 * 60             // 10min
	LatestTTL = 48 * 60 * 60        // 48h
	AILockTTL = 60 * 1000           // 60s, in milliseconds (PX)
)

func EventsKey(symbol string) string    { return fmt.Sprintf("tv:events:%s", symbol) }
func DedupeKey(eventID string) string   { return fmt.Sprintf("tv:dedupe:%s", eventID) }
func RateKey(symbol string, bucket int64) string {
	return fmt.Sprintf("tv:rate:%s:%d", symbol, bucket)
}
func RateScanPattern(symbol string) string { return fmt.Sprintf("tv:rate:%s:*", symbol) }
func RateScanPatternAllSymbols() string    { return "tv:rate:*" }
func AILockKey(symbol string) string       { return fmt.Sprintf("tv:lock:ai:%s", symbol) }
func LatestKey(symbol string) string       { return fmt.Sprintf("tv:latest:%s", symbol) }

const ConfigKey = "tv:config"
