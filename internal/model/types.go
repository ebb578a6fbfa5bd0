// Package model holds the data shapes shared across the ingestion
// pipeline, rules engine, publisher, and HTTP surface.
package model

import "github.com/shopspring/decimal"

// Signal is the canonical direction a normalized event carries.
type Signal string

const (
	SignalBuy     Signal = "BUY"
	SignalSell    Signal = "SELL"
	SignalClose   Signal = "CLOSE"
	SignalNeutral Signal = "NEUTRAL"
)

// Timeframe is a candlestick resolution.
type Timeframe string

const (
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
)

// AllTimeframes is the closed set of timeframes the rules engine and
// aggregator recognize.
var AllTimeframes = []Timeframe{TF5m, TF15m, TF1h, TF4h}

// Decision is the gated trade recommendation.
type Decision string

const (
	DecisionLongSetup  Decision = "LONG_SETUP"
	DecisionShortSetup Decision = "SHORT_SETUP"
	DecisionWatch      Decision = "WATCH"
	DecisionNoTrade    Decision = "NO_TRADE"
)

// Bias is the direction of aggregate pressure.
type Bias string

const (
	BiasLong    Bias = "LONG"
	BiasShort   Bias = "SHORT"
	BiasNeutral Bias = "NEUTRAL"
)

// RawPayload is the as-received webhook body, decoded from a
// map[string]interface{} rather than straight into this struct so that
// fields this type doesn't name are never silently dropped: the ingress
// handler populates Raw with the full decoded body (minus secret), and
// Normalize carries it through to NormalizedEvent.Raw untouched.
type RawPayload struct {
	Secret    string                 `json:"secret"`
	Indicator string                 `json:"indicator"`
	Symbol    string                 `json:"symbol"`
	TF        string                 `json:"tf"`
	Signal    string                 `json:"signal"`
	Strength  interface{}            `json:"strength,omitempty"`
	Price     interface{}            `json:"price,omitempty"`
	EventID   string                 `json:"event_id,omitempty"`
	TS        interface{}            `json:"ts,omitempty"`
	Raw       map[string]interface{} `json:"-"`
}

// NormalizedEvent is the canonical, immutable-after-creation event.
type NormalizedEvent struct {
	EventID    string                 `json:"event_id"`
	ReceivedAt int64                  `json:"received_at"`
	TS         int64                  `json:"ts"`
	Indicator  string                 `json:"indicator"`
	Symbol     string                 `json:"symbol"`
	TF         Timeframe              `json:"tf"`
	Signal     Signal                 `json:"signal"`
	Strength   float64                `json:"strength"`
	Price      float64                `json:"price"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
}

// IndicatorSignal is the most recent signal from one indicator within an
// aggregation window.
type IndicatorSignal struct {
	Indicator string    `json:"indicator"`
	TF        Timeframe `json:"tf"`
	Signal    Signal    `json:"signal"`
	Strength  float64   `json:"strength"`
	TS        int64     `json:"ts"`
}

// TimeframeSummary collapses recent events for a single timeframe.
type TimeframeSummary struct {
	TF           Timeframe         `json:"tf"`
	BuyCount     int               `json:"buy_count"`
	SellCount    int               `json:"sell_count"`
	CloseCount   int               `json:"close_count"`
	NeutralCount int               `json:"neutral_count"`
	Indicators   []IndicatorSignal `json:"indicators"`
}

// AggregationResult is the per-symbol rollup consumed by the rules
// engine.
type AggregationResult struct {
	Symbol      string                       `json:"symbol"`
	Timeframes  map[Timeframe]TimeframeSummary `json:"timeframes"`
	Events      []NormalizedEvent            `json:"events"`
	AggregatedAt int64                       `json:"aggregated_at"`
}

// RulesOutput is the deterministic decision produced by the rules
// engine.
type RulesOutput struct {
	Symbol      string   `json:"symbol"`
	Decision    Decision `json:"decision"`
	Bias        Bias     `json:"bias"`
	Confidence  int      `json:"confidence"`
	Score       float64  `json:"score"`
	Threshold   float64  `json:"threshold"`
	Reasons     []string `json:"reasons"`
	VetoApplied bool     `json:"veto_applied"`
	VetoReason  string   `json:"veto_reason,omitempty"`
}

// MarketSummary is the per-interval candlestick summary from the
// market-data fetcher.
type MarketSummary struct {
	LastPrice    decimal.Decimal `json:"last_price"`
	GreenCandles int             `json:"green_candles"`
	RedCandles   int             `json:"red_candles"`
	Slope        decimal.Decimal `json:"slope"`
}

// LatestRules is the fast, frequently-refreshed publication layer.
type LatestRules struct {
	Decision          Decision                    `json:"decision"`
	Bias              Bias                        `json:"bias"`
	Confidence        int                         `json:"confidence"`
	Score             float64                     `json:"score"`
	Reasons           []string                    `json:"reasons"`
	SignalsUsed       []IndicatorSignal           `json:"signals_used"`
	AggregatedCounts  map[Timeframe]CountBucket   `json:"aggregated_counts"`
}

// CountBucket is the per-timeframe signal-count snapshot embedded in
// LatestRules.AggregatedCounts.
type CountBucket struct {
	Buy     int `json:"buy"`
	Sell    int `json:"sell"`
	Close   int `json:"close"`
	Neutral int `json:"neutral"`
}

// LatestAI is the slow, independently-refreshed AI explanation layer.
type LatestAI struct {
	Lines       []string `json:"lines"`
	GeneratedAt int64    `json:"generated_at"`
}

// LatestEvaluation is the two-layer publication envelope for a symbol.
type LatestEvaluation struct {
	EvaluationID  string         `json:"evaluation_id"`
	Symbol        string         `json:"symbol"`
	LatestRules   LatestRules    `json:"latest_rules"`
	LatestAI      *LatestAI      `json:"latest_ai,omitempty"`
	MarketSummary map[string]MarketSummary `json:"market_summary,omitempty"`
	EvaluatedAt   int64          `json:"evaluated_at"`
}

// RuntimeConfig is the mutable, admin-controlled configuration persisted
// in the keyed store under tv:config.
type RuntimeConfig struct {
	WatchlistSymbols    []string             `json:"watchlist_symbols"`
	RefreshRulesSeconds int                  `json:"refresh_rules_seconds"`
	RefreshAISeconds    int                  `json:"refresh_ai_seconds"`
	EventsMaxPerSymbol  int64                `json:"events_max_per_symbol"`
	TFWindows           map[Timeframe]int64  `json:"tf_windows"`
	TFWeights           map[Timeframe]float64 `json:"tf_weights"`
	IndicatorWeights    map[string]float64   `json:"indicator_weights"`
	Threshold           float64              `json:"threshold"`
}

// DefaultRuntimeConfig returns the embedded defaults named in spec.md
// §3, matching original_source/app/schemas/config.py.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		WatchlistSymbols:    []string{"ETHUSDT", "BTCUSDT"},
		RefreshRulesSeconds: 30,
		RefreshAISeconds:    120,
		EventsMaxPerSymbol:  1000,
		TFWindows: map[Timeframe]int64{
			TF5m:  180,
			TF15m: 300,
			TF1h:  900,
			TF4h:  1800,
		},
		TFWeights: map[Timeframe]float64{
			TF4h:  0.45,
			TF1h:  0.25,
			TF15m: 0.18,
			TF5m:  0.12,
		},
		IndicatorWeights: map[string]float64{
			"AdaptiveTrendFlow": 1.0,
		},
		Threshold: 0.25,
	}
}

// WebhookResponse is the wire response of POST /tv-webhook.
type WebhookResponse struct {
	Status     string   `json:"status"`
	EventID    string   `json:"event_id"`
	Message    string   `json:"message,omitempty"`
	Decision   Decision `json:"decision,omitempty"`
	Bias       Bias     `json:"bias,omitempty"`
	Confidence int      `json:"confidence,omitempty"`
	Score      float64  `json:"score,omitempty"`
}
