// Package rules implements the deterministic, pure scoring/bias/veto/
// decision engine (L5 in SPEC_FULL.md), grounded on
// original_source/app/modules/rules_engine.py. Every function here is
// side-effect free: same inputs always produce the same RulesOutput.
package rules

import (
	"fmt"
	"math"

	"github.com/tvsignal/engine/internal/model"
)

var direction = map[model.Signal]float64{
	model.SignalBuy:     1.0,
	model.SignalSell:    -1.0,
	model.SignalClose:   0.0,
	model.SignalNeutral: 0.0,
}

// Evaluate runs the deterministic rules against an aggregation snapshot.
//
// Weight lookup is intentionally asymmetric: an unlisted timeframe
// contributes zero weight (config.TFWeights defaults to 0.0), while an
// unlisted indicator defaults to full weight (config.IndicatorWeights
// defaults to 1.0) — an indicator not explicitly down-weighted still
// counts at face value, but a timeframe the operator hasn't configured
// a weight for is silently excluded from the score.
func Evaluate(agg model.AggregationResult, cfg model.RuntimeConfig) model.RulesOutput {
	score := 0.0
	var reasons []string

	// Iterate timeframes in a fixed order so reasons (and floating-point
	// summation order) are reproducible across runs, not at the mercy of
	// Go's randomized map iteration.
	for _, tf := range model.AllTimeframes {
		summary, ok := agg.Timeframes[tf]
		if !ok {
			continue
		}
		tfWeight := cfg.TFWeights[tf] // zero value 0.0 if absent

		for _, sig := range summary.Indicators {
			indWeight, ok := cfg.IndicatorWeights[sig.Indicator]
			if !ok {
				indWeight = 1.0
			}
			dir := direction[sig.Signal]
			contribution := dir * tfWeight * indWeight * sig.Strength
			score += contribution

			if dir != 0.0 {
				reasons = append(reasons, fmt.Sprintf("%s@%s: %s (str=%.1f, contrib=%+.3f)",
					sig.Indicator, tf, sig.Signal, sig.Strength, contribution))
			}
		}
	}

	threshold := cfg.Threshold

	var bias model.Bias
	switch {
	case score >= threshold:
		bias = model.BiasLong
	case score <= -threshold:
		bias = model.BiasShort
	default:
		bias = model.BiasNeutral
	}

	vetoApplied := false
	vetoReason := ""

	if tf4h, ok := agg.Timeframes[model.TF4h]; ok {
		// The veto's internal 4h recomputation uses its own 0.5
		// fallback when "4h" has no configured weight — distinct from
		// the main score's 0.0 default above.
		h4Weight, ok := cfg.TFWeights[model.TF4h]
		if !ok {
			h4Weight = 0.5
		}
		h4Score := 0.0
		for _, sig := range tf4h.Indicators {
			indWeight, ok := cfg.IndicatorWeights[sig.Indicator]
			if !ok {
				indWeight = 1.0
			}
			h4Score += direction[sig.Signal] * h4Weight * indWeight * sig.Strength
		}

		h4NetSell := tf4h.SellCount > tf4h.BuyCount || h4Score < 0
		h4NetBuy := tf4h.BuyCount > tf4h.SellCount || h4Score > 0

		if bias == model.BiasLong && h4NetSell {
			vetoApplied = true
			vetoReason = "4H net SELL — LONG_SETUP vetoed"
		} else if bias == model.BiasShort && h4NetBuy {
			vetoApplied = true
			vetoReason = "4H net BUY — SHORT_SETUP vetoed"
		}
	}

	var decision model.Decision
	switch {
	case vetoApplied:
		decision = model.DecisionNoTrade
	case bias == model.BiasLong:
		decision = model.DecisionLongSetup
	case bias == model.BiasShort:
		decision = model.DecisionShortSetup
	default:
		decision = model.DecisionWatch
	}

	confidence := 0
	if threshold > 0 {
		confidence = int(math.Min(100, math.Abs(score)/(threshold*2)*100))
	}

	return model.RulesOutput{
		Symbol:      agg.Symbol,
		Decision:    decision,
		Bias:        bias,
		Confidence:  confidence,
		Score:       math.Round(score*10000) / 10000,
		Threshold:   threshold,
		Reasons:     reasons,
		VetoApplied: vetoApplied,
		VetoReason:  vetoReason,
	}
}
