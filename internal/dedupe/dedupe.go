// Package dedupe implements the atomic dedupe and rate-limit gates (L3
// in SPEC_FULL.md), grounded on
// original_source/app/modules/dedup.py — with one deliberate deviation
// from the original (documented in SPEC_FULL.md §4): dedupe uses
// SetNX, not GET-then-SET, since the latter is a race under concurrent
// webhook delivery.
package dedupe

import (
	"context"
	"time"

	"github.com/tvsignal/engine/internal/store"
)

const (
	dedupeTTL = 10 * time.Minute
)

// Checker gates duplicate events and per-symbol event rates.
type Checker struct {
	store *store.Store
}

func New(s *store.Store) *Checker {
	return &Checker{store: s}
}

// IsDuplicate atomically claims eventID for dedupeTTL. Returns true if
// the event was already seen (caller should drop it), false if this
// call claimed it first.
func (c *Checker) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	claimed, err := c.store.SetNX(ctx, store.DedupeKey(eventID), "1", dedupeTTL)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// RateLimitExceeded increments the current window's counter for symbol
// and reports whether it now exceeds maxEvents. The bucket key is keyed
// by floor(now/windowSec) and expires after 2x the window so a client
// inspecting the previous bucket still finds it briefly.
func (c *Checker) RateLimitExceeded(ctx context.Context, symbol string, windowSec int, maxEvents int64) (bool, int64, error) {
	bucket := time.Now().Unix() / int64(windowSec)
	key := store.RateKey(symbol, bucket)
	count, err := c.store.IncrWithExpire(ctx, key, time.Duration(windowSec)*2*time.Second)
	if err != nil {
		return false, 0, err
	}
	return count > maxEvents, count, nil
}
