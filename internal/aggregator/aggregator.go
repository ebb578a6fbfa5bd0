// Package aggregator collapses recent per-symbol events into per-
// timeframe summaries (L4 in SPEC_FULL.md), grounded on
// original_source/app/modules/aggregator.py.
package aggregator

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/tvsignal/engine/internal/model"
	"github.com/tvsignal/engine/internal/store"
)

// Aggregator reads the recent event log for a symbol and rolls it up
// per timeframe.
type Aggregator struct {
	store *store.Store
}

func New(s *store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// Aggregate reads up to maxEvents from the tail of the symbol's event
// log, windows them per the runtime config's tf_windows, and returns
// the per-timeframe rollup. Corrupt entries are skipped, not fatal.
func (a *Aggregator) Aggregate(ctx context.Context, symbol string, cfg model.RuntimeConfig, maxEvents int64) (*model.AggregationResult, error) {
	now := time.Now().Unix()

	raw, err := a.store.LRange(ctx, store.EventsKey(symbol), -maxEvents, -1)
	if err != nil {
		return nil, err
	}

	events := make([]model.NormalizedEvent, 0, len(raw))
	for _, r := range raw {
		var ev model.NormalizedEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}

	summaries := make(map[model.Timeframe]model.TimeframeSummary, len(cfg.TFWindows))
	var used []model.NormalizedEvent

	for tf, windowSec := range cfg.TFWindows {
		cutoff := now - windowSec
		summary := model.TimeframeSummary{TF: tf}
		latestPerIndicator := make(map[string]model.NormalizedEvent)

		for _, ev := range events {
			if ev.TF != tf || ev.TS < cutoff {
				continue
			}
			switch ev.Signal {
			case model.SignalBuy:
				summary.BuyCount++
			case model.SignalSell:
				summary.SellCount++
			case model.SignalClose:
				summary.CloseCount++
			default:
				summary.NeutralCount++
			}

			prev, ok := latestPerIndicator[ev.Indicator]
			if !ok || ev.TS >= prev.TS {
				latestPerIndicator[ev.Indicator] = ev
			}
			used = append(used, ev)
		}

		for indicator, ev := range latestPerIndicator {
			summary.Indicators = append(summary.Indicators, model.IndicatorSignal{
				Indicator: indicator,
				TF:        tf,
				Signal:    ev.Signal,
				Strength:  ev.Strength,
				TS:        ev.TS,
			})
		}
		// Sort for determinism: map iteration above is randomized, but
		// the rules engine's reasons must be reproducible across runs.
		sort.Slice(summary.Indicators, func(i, j int) bool {
			return summary.Indicators[i].Indicator < summary.Indicators[j].Indicator
		})

		summaries[tf] = summary
	}

	return &model.AggregationResult{
		Symbol:       symbol,
		Timeframes:   summaries,
		Events:       used,
		AggregatedAt: now,
	}, nil
}

// LoadRuntimeConfig reads the admin-controlled config from the store,
// falling back to defaults when absent or corrupt.
func LoadRuntimeConfig(ctx context.Context, s *store.Store) model.RuntimeConfig {
	raw, err := s.Get(ctx, store.ConfigKey)
	if err != nil {
		return model.DefaultRuntimeConfig()
	}
	var cfg model.RuntimeConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return model.DefaultRuntimeConfig()
	}
	return cfg
}
