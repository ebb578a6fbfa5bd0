package ai

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvsignal/engine/internal/model"
)

func TestDummyProvider_ProducesSixLineTemplate(t *testing.T) {
	p := NewDummyProvider()
	rules := model.RulesOutput{
		Symbol:     "ETHUSDT",
		Decision:   model.DecisionLongSetup,
		Bias:       model.BiasLong,
		Confidence: 62,
		Score:      0.31,
		Threshold:  0.25,
	}
	agg := model.AggregationResult{
		Timeframes: map[model.Timeframe]model.TimeframeSummary{
			model.TF4h: {Indicators: []model.IndicatorSignal{{Indicator: "AdaptiveTrendFlow", Signal: model.SignalBuy}}},
		},
	}
	market := map[model.Timeframe]model.MarketSummary{
		model.TF4h: {LastPrice: decimal.NewFromFloat(2500.5), Slope: decimal.NewFromFloat(0.8), GreenCandles: 5, RedCandles: 1},
	}

	text, err := p.Explain(context.Background(), rules, agg, market)
	require.NoError(t, err)

	lines := splitLines(text)
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "LONG_SETUP")
	assert.Contains(t, lines[0], "62/100")
	assert.Contains(t, lines[1], "yukari")
	assert.NotContains(t, text, "kesin al/sat")
}

func TestDummyProvider_VetoTextAppendedToFirstLine(t *testing.T) {
	p := NewDummyProvider()
	rules := model.RulesOutput{
		Symbol: "ETHUSDT", Decision: model.DecisionNoTrade, Bias: model.BiasLong,
		VetoApplied: true, VetoReason: "4H net SELL — LONG_SETUP vetoed",
	}
	text, err := p.Explain(context.Background(), rules, model.AggregationResult{}, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "Veto: 4H net SELL")
}

func TestDummyProvider_NoSignalsReportsNone(t *testing.T) {
	p := NewDummyProvider()
	rules := model.RulesOutput{Symbol: "ETHUSDT", Decision: model.DecisionWatch, Bias: model.BiasNeutral}
	text, err := p.Explain(context.Background(), rules, model.AggregationResult{}, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "sinyal yok")
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
