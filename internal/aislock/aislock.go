// Package aislock implements the single-flight distributed lock that
// coordinates concurrent AI-explanation generation for a symbol (L6 in
// SPEC_FULL.md), grounded on original_source/app/modules/locks.py.
package aislock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tvsignal/engine/internal/store"
)

const ttl = 60 * time.Second

// Lock coordinates single-flight AI generation per symbol.
type Lock struct {
	store *store.Store
}

func New(s *store.Store) *Lock {
	return &Lock{store: s}
}

// Acquire attempts to claim the AI-generation lock for symbol. On
// success it returns a token that must be passed to Release; on
// contention it returns ok=false because another goroutine/process
// already holds the lock.
func (l *Lock) Acquire(ctx context.Context, symbol string) (token string, ok bool, err error) {
	token = uuid.New().String()
	acquired, err := l.store.SetNX(ctx, store.AILockKey(symbol), token, ttl)
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// Release gives up the lock, but only if token still matches the
// current holder — a compare-and-delete so a slow caller can never
// release a lock some other goroutine has since acquired.
func (l *Lock) Release(ctx context.Context, symbol, token string) error {
	return l.store.ReleaseIfOwner(ctx, store.AILockKey(symbol), token)
}
