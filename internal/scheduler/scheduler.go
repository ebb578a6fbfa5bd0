// Package scheduler keeps evaluations fresh even when no webhook
// arrives, running an independent cadence for the rules layer and the
// (slower) AI layer (L9 in SPEC_FULL.md). Grounded on
// original_source/app/modules/scheduler.py's _loop/_tick.
package scheduler

import (
	"context"
	"time"

	"github.com/tvsignal/engine/internal/aggregator"
	"github.com/tvsignal/engine/internal/ai"
	"github.com/tvsignal/engine/internal/aislock"
	"github.com/tvsignal/engine/internal/marketdata"
	"github.com/tvsignal/engine/internal/publisher"
	"github.com/tvsignal/engine/internal/rules"
	"github.com/tvsignal/engine/internal/store"
	"github.com/tvsignal/engine/pkg/observability"
)

const minIntervalSeconds = 5

// Scheduler ticks every watchlist symbol on the admin-configured
// cadence, forcing an AI refresh every ai_every ticks.
type Scheduler struct {
	store      *store.Store
	aggregator *aggregator.Aggregator
	lock       *aislock.Lock
	publisher  *publisher.Publisher
	market     *marketdata.Fetcher
	aiProvider ai.Provider
	logger     *observability.Logger
	perf       *observability.PerformanceLogger
	metrics    *observability.MetricsProvider

	cancel context.CancelFunc
	done   chan struct{}
}

// slowTickThreshold flags ticks that take long enough to risk crowding
// out the next symbol's refresh within the same cadence window.
const slowTickThreshold = 5 * time.Second

func New(
	s *store.Store,
	agg *aggregator.Aggregator,
	lock *aislock.Lock,
	pub *publisher.Publisher,
	market *marketdata.Fetcher,
	aiProvider ai.Provider,
	logger *observability.Logger,
	metrics *observability.MetricsProvider,
) *Scheduler {
	return &Scheduler{
		store: s, aggregator: agg, lock: lock, publisher: pub,
		market: market, aiProvider: aiProvider, logger: logger,
		perf: observability.NewPerformanceLogger(logger), metrics: metrics,
	}
}

// Start launches the refresh loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	s.logger.Info(ctx, "scheduler started", nil)

	// ticksSinceAI tracks, per symbol, how many ticks have elapsed since
	// its last forced AI refresh.
	ticksSinceAI := make(map[string]int)

	for {
		cfg := aggregator.LoadRuntimeConfig(ctx, s.store)

		interval := cfg.RefreshRulesSeconds
		if interval < minIntervalSeconds {
			interval = minIntervalSeconds
		}
		aiEvery := cfg.RefreshAISeconds / interval
		if aiEvery < 1 {
			aiEvery = 1
		}

		for _, symbol := range cfg.WatchlistSymbols {
			ticksSinceAI[symbol]++
			forceAI := ticksSinceAI[symbol] >= aiEvery
			if forceAI {
				ticksSinceAI[symbol] = 0
			}
			s.tick(ctx, symbol, forceAI)
		}

		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopped", nil)
			return
		case <-time.After(time.Duration(interval) * time.Second):
		}
	}
}

// tick runs a single refresh for one symbol: reaggregate, re-evaluate,
// and — only when forceAI is true and the single-flight lock is free —
// regenerate the AI explanation. Errors are logged and swallowed; one
// symbol's failure must never stall the rest of the watchlist.
func (s *Scheduler) tick(ctx context.Context, symbol string, forceAI bool) {
	tickStart := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "scheduler tick panicked", nil, map[string]interface{}{"symbol": symbol, "panic": r})
		}
		s.perf.LogSlowOperation(ctx, "scheduler_tick", time.Since(tickStart), slowTickThreshold, map[string]interface{}{"symbol": symbol})
	}()

	cfg := aggregator.LoadRuntimeConfig(ctx, s.store)

	evalStart := time.Now()
	agg, err := s.aggregator.Aggregate(ctx, symbol, cfg, cfg.EventsMaxPerSymbol)
	if err != nil {
		s.logger.Error(ctx, "scheduler tick aggregate failed", err, map[string]interface{}{"symbol": symbol})
		return
	}
	rulesOut := rules.Evaluate(*agg, cfg)
	s.metrics.EvaluationDuration.Record(ctx, time.Since(evalStart).Seconds())

	market := s.market.GetMarketSummaries(ctx, symbol)

	var aiText string
	if forceAI {
		token, ok, err := s.lock.Acquire(ctx, symbol)
		if err != nil {
			s.logger.Error(ctx, "scheduler ai lock acquire failed", err, map[string]interface{}{"symbol": symbol})
		} else if ok {
			s.metrics.AILockAcquiredTotal.Add(ctx, 1)
			aiStart := time.Now()
			text, explainErr := s.aiProvider.Explain(ctx, rulesOut, *agg, market)
			s.metrics.AICallDuration.Record(ctx, time.Since(aiStart).Seconds())
			if explainErr != nil {
				s.logger.Error(ctx, "scheduler ai explain failed", explainErr, map[string]interface{}{"symbol": symbol})
			} else {
				aiText = text
				s.metrics.AIExplanationsTotal.Add(ctx, 1)
			}
			if releaseErr := s.lock.Release(ctx, symbol, token); releaseErr != nil {
				s.logger.Error(ctx, "scheduler ai lock release failed", releaseErr, map[string]interface{}{"symbol": symbol})
			}
		} else {
			s.logger.Debug(ctx, "scheduler ai lock busy", map[string]interface{}{"symbol": symbol})
		}
	}

	if err := s.publisher.StoreLatest(ctx, symbol, rulesOut, *agg, market, aiText, ""); err != nil {
		s.logger.Error(ctx, "scheduler publish failed", err, map[string]interface{}{"symbol": symbol})
		return
	}

	s.metrics.SchedulerTicksTotal.Add(ctx, 1)
	s.logger.Debug(ctx, "scheduler tick", map[string]interface{}{"symbol": symbol, "decision": rulesOut.Decision, "ai": forceAI})
}
