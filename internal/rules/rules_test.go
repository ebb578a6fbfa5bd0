package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tvsignal/engine/internal/model"
)

func baseConfig() model.RuntimeConfig {
	return model.RuntimeConfig{
		TFWeights: map[model.Timeframe]float64{
			model.TF4h:  0.45,
			model.TF1h:  0.25,
			model.TF15m: 0.18,
			model.TF5m:  0.12,
		},
		IndicatorWeights: map[string]float64{"AdaptiveTrendFlow": 1.0},
		Threshold:        0.25,
	}
}

func agg(symbol string, timeframes map[model.Timeframe]model.TimeframeSummary) model.AggregationResult {
	return model.AggregationResult{Symbol: symbol, Timeframes: timeframes}
}

func TestEvaluate_UnweightedTimeframeContributesZero(t *testing.T) {
	cfg := baseConfig()
	delete(cfg.TFWeights, model.TF15m)

	result := Evaluate(agg("ETHUSDT", map[model.Timeframe]model.TimeframeSummary{
		model.TF15m: {
			TF:        model.TF15m,
			BuyCount:  1,
			Indicators: []model.IndicatorSignal{
				{Indicator: "AdaptiveTrendFlow", TF: model.TF15m, Signal: model.SignalBuy, Strength: 1.0},
			},
		},
	}), cfg)

	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, model.BiasNeutral, result.Bias)
}

func TestEvaluate_UnweightedIndicatorDefaultsToFullWeight(t *testing.T) {
	cfg := baseConfig()

	result := Evaluate(agg("ETHUSDT", map[model.Timeframe]model.TimeframeSummary{
		model.TF1h: {
			TF: model.TF1h,
			Indicators: []model.IndicatorSignal{
				{Indicator: "SomeOtherIndicator", TF: model.TF1h, Signal: model.SignalBuy, Strength: 1.0},
			},
		},
	}), cfg)

	assert.Equal(t, 0.25, result.Score)
}

func TestEvaluate_LongBiasAboveThreshold(t *testing.T) {
	cfg := baseConfig()
	result := Evaluate(agg("ETHUSDT", map[model.Timeframe]model.TimeframeSummary{
		model.TF4h: {
			TF:       model.TF4h,
			BuyCount: 1,
			Indicators: []model.IndicatorSignal{
				{Indicator: "AdaptiveTrendFlow", TF: model.TF4h, Signal: model.SignalBuy, Strength: 1.0},
			},
		},
	}), cfg)

	assert.Equal(t, model.BiasLong, result.Bias)
	assert.Equal(t, model.DecisionLongSetup, result.Decision)
	assert.False(t, result.VetoApplied)
}

func TestEvaluate_4hVetoBlocksLongOnNetSell(t *testing.T) {
	cfg := baseConfig()
	// 1h and 15m push LONG bias, but 4h is net SELL -> veto.
	// score: 2*0.25*0.9 + 2*0.18*0.9 - 0.45*0.9 = 0.369 >= 0.25 -> LONG
	result := Evaluate(agg("ETHUSDT", map[model.Timeframe]model.TimeframeSummary{
		model.TF1h: {
			TF:       model.TF1h,
			BuyCount: 2,
			Indicators: []model.IndicatorSignal{
				{Indicator: "AdaptiveTrendFlow", TF: model.TF1h, Signal: model.SignalBuy, Strength: 0.9},
				{Indicator: "BigBeluga", TF: model.TF1h, Signal: model.SignalBuy, Strength: 0.9},
			},
		},
		model.TF15m: {
			TF:       model.TF15m,
			BuyCount: 2,
			Indicators: []model.IndicatorSignal{
				{Indicator: "AdaptiveTrendFlow", TF: model.TF15m, Signal: model.SignalBuy, Strength: 0.9},
				{Indicator: "BigBeluga", TF: model.TF15m, Signal: model.SignalBuy, Strength: 0.9},
			},
		},
		model.TF4h: {
			TF:        model.TF4h,
			SellCount: 1,
			Indicators: []model.IndicatorSignal{
				{Indicator: "AdaptiveTrendFlow", TF: model.TF4h, Signal: model.SignalSell, Strength: 0.9},
			},
		},
	}), cfg)

	assert.True(t, result.VetoApplied)
	assert.Equal(t, model.DecisionNoTrade, result.Decision)
	assert.Contains(t, result.VetoReason, "4H net SELL")
}

func TestEvaluate_VetoInternalH4WeightFallsBackTo0Point5(t *testing.T) {
	cfg := baseConfig()
	delete(cfg.TFWeights, model.TF4h) // forces the veto's own 0.5 fallback

	// One full-strength 1h BUY scores exactly the 0.25 threshold, so bias
	// is LONG without any 4h contribution. The 4h summary carries no
	// counts, so the veto can only fire through the 4h re-score, which is
	// non-zero only with the 0.5 fallback weight.
	result := Evaluate(agg("ETHUSDT", map[model.Timeframe]model.TimeframeSummary{
		model.TF1h: {
			TF: model.TF1h,
			Indicators: []model.IndicatorSignal{
				{Indicator: "AdaptiveTrendFlow", TF: model.TF1h, Signal: model.SignalBuy, Strength: 1.0},
			},
		},
		model.TF4h: {
			TF: model.TF4h,
			Indicators: []model.IndicatorSignal{
				{Indicator: "AdaptiveTrendFlow", TF: model.TF4h, Signal: model.SignalSell, Strength: 1.0},
			},
		},
	}), cfg)

	// main score: 0.25(1h weight) * 1.0 * 1.0 + 0.0(4h weight absent) * ... = 0.25 >= threshold -> LONG
	assert.Equal(t, model.BiasLong, result.Bias)
	// veto fires because the 4h re-score is 0.5 * -1.0 = -0.5 < 0, using
	// its own 0.5 fallback rather than the main score's 0.0 default.
	assert.True(t, result.VetoApplied)
}

func TestEvaluate_ConfidenceCappedAt100(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0.1
	result := Evaluate(agg("ETHUSDT", map[model.Timeframe]model.TimeframeSummary{
		model.TF4h: {
			TF: model.TF4h,
			Indicators: []model.IndicatorSignal{
				{Indicator: "AdaptiveTrendFlow", TF: model.TF4h, Signal: model.SignalBuy, Strength: 1.0},
			},
		},
	}), cfg)

	assert.Equal(t, 100, result.Confidence)
}

func TestEvaluate_ZeroThresholdYieldsZeroConfidenceNotPanic(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = 0
	assert.NotPanics(t, func() {
		Evaluate(agg("ETHUSDT", map[model.Timeframe]model.TimeframeSummary{}), cfg)
	})
}

func TestEvaluate_NoSignalsYieldsWatch(t *testing.T) {
	cfg := baseConfig()
	result := Evaluate(agg("ETHUSDT", map[model.Timeframe]model.TimeframeSummary{}), cfg)
	assert.Equal(t, model.BiasNeutral, result.Bias)
	assert.Equal(t, model.DecisionWatch, result.Decision)
	assert.Empty(t, result.Reasons)
}
