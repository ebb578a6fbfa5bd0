// Package publisher implements the two-layer LatestEvaluation
// publication (L7 in SPEC_FULL.md), grounded on
// original_source/app/modules/scheduler.py's build_latest_rules and
// store_latest.
package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tvsignal/engine/internal/model"
	"github.com/tvsignal/engine/internal/store"
)

const latestTTL = 48 * time.Hour

// Publisher persists the two-layer LatestEvaluation envelope.
type Publisher struct {
	store *store.Store
}

func New(s *store.Store) *Publisher {
	return &Publisher{store: s}
}

// BuildLatestRules projects a rules/aggregation pair into the fast
// publication layer.
func BuildLatestRules(rulesOut model.RulesOutput, agg model.AggregationResult) model.LatestRules {
	var signalsUsed []model.IndicatorSignal
	counts := make(map[model.Timeframe]model.CountBucket, len(agg.Timeframes))

	for _, tf := range model.AllTimeframes {
		ts, ok := agg.Timeframes[tf]
		if !ok {
			continue
		}
		signalsUsed = append(signalsUsed, ts.Indicators...)
		counts[tf] = model.CountBucket{
			Buy:     ts.BuyCount,
			Sell:    ts.SellCount,
			Close:   ts.CloseCount,
			Neutral: ts.NeutralCount,
		}
	}

	return model.LatestRules{
		Decision:         rulesOut.Decision,
		Bias:             rulesOut.Bias,
		Confidence:       rulesOut.Confidence,
		Score:            rulesOut.Score,
		Reasons:          rulesOut.Reasons,
		SignalsUsed:      signalsUsed,
		AggregatedCounts: counts,
	}
}

// StoreLatest persists the two-layer envelope for symbol. When aiText is
// empty, the previous AI layer is carried forward if present and
// parseable; a corrupt or absent previous value is treated as no AI
// layer at all, never as an error. A monotonicity gate skips the write
// entirely if the previously stored evaluation is somehow newer than
// now (clock skew / out-of-order background completion).
func (p *Publisher) StoreLatest(ctx context.Context, symbol string, rulesOut model.RulesOutput, agg model.AggregationResult, market map[model.Timeframe]model.MarketSummary, aiText string, evaluationID string) error {
	now := time.Now().Unix()

	lr := BuildLatestRules(rulesOut, agg)

	var latestAI *model.LatestAI
	if strings.TrimSpace(aiText) != "" {
		latestAI = &model.LatestAI{Lines: splitNonEmptyLines(aiText, 6), GeneratedAt: now}
	}

	prevRaw, err := p.store.Get(ctx, store.LatestKey(symbol))
	hasPrev := err == nil
	var prev model.LatestEvaluation
	if hasPrev {
		if jsonErr := json.Unmarshal([]byte(prevRaw), &prev); jsonErr != nil {
			hasPrev = false
		}
	}

	if latestAI == nil && hasPrev {
		latestAI = prev.LatestAI
	}

	if hasPrev && prev.EvaluatedAt > now {
		return nil // stale write, skip
	}

	eid := evaluationID
	if eid == "" {
		eid = uuid.New().String()[:12]
	}

	var marketSummary map[string]model.MarketSummary
	if len(market) > 0 {
		marketSummary = make(map[string]model.MarketSummary, len(market))
		for tf, ms := range market {
			marketSummary[string(tf)] = ms
		}
	}

	le := model.LatestEvaluation{
		EvaluationID:  eid,
		Symbol:        symbol,
		LatestRules:   lr,
		LatestAI:      latestAI,
		MarketSummary: marketSummary,
		EvaluatedAt:   now,
	}

	body, err := json.Marshal(le)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, store.LatestKey(symbol), string(body), latestTTL)
}

func splitNonEmptyLines(text string, max int) []string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(text), "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, l)
		if len(lines) >= max {
			break
		}
	}
	return lines
}
