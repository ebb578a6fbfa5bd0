package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvsignal/engine/internal/model"
)

func TestNormalizeTF_CanonicalAliases(t *testing.T) {
	cases := map[string]model.Timeframe{
		"5": model.TF5m, "5m": model.TF5m,
		"15": model.TF15m, "15m": model.TF15m,
		"60": model.TF1h, "1h": model.TF1h, "1H": model.TF1h,
		"240": model.TF4h, "4h": model.TF4h, "4H": model.TF4h,
	}
	for raw, want := range cases {
		tf, ok := NormalizeTF(raw)
		assert.True(t, ok, "expected %q to normalize", raw)
		assert.Equal(t, want, tf)
	}
}

func TestNormalizeTF_RejectsUnknown(t *testing.T) {
	for _, raw := range []string{"3h", "daily", ""} {
		_, ok := NormalizeTF(raw)
		assert.False(t, ok, "expected %q to be rejected", raw)
	}
}

func TestNormalizeSymbol_StripsPrefixAndSuffix(t *testing.T) {
	assert.Equal(t, "ETHUSDT", NormalizeSymbol("BINANCE:ETHUSDT.P"))
	assert.Equal(t, "ETHUSDT", NormalizeSymbol("ethusdt"))
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("BYBIT:BTCUSDT"))
}

func TestNormalizeSymbol_Idempotent(t *testing.T) {
	once := NormalizeSymbol("BINANCE:ETHUSDT.P")
	twice := NormalizeSymbol(once)
	assert.Equal(t, once, twice)
}

func TestNormalize_InvalidTimeframeReportsDetail(t *testing.T) {
	p := model.RawPayload{Indicator: "x", Symbol: "ETHUSDT", TF: "3h", Signal: "BUY"}
	_, err := Normalize(p, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid timeframe")
}

func TestNormalize_InvalidSignalReportsDetail(t *testing.T) {
	p := model.RawPayload{Indicator: "x", Symbol: "ETHUSDT", TF: "1h", Signal: "SELLL"}
	_, err := Normalize(p, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid signal")
}

func TestNormalize_EmptySymbolAfterStripping(t *testing.T) {
	p := model.RawPayload{Indicator: "x", Symbol: "   ", TF: "1h", Signal: "BUY"}
	_, err := Normalize(p, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Empty symbol")
}

func TestNormalize_UnparseableTS(t *testing.T) {
	p := model.RawPayload{Indicator: "x", Symbol: "ETHUSDT", TF: "1h", Signal: "BUY", TS: "not-a-date"}
	_, err := Normalize(p, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot parse ts")
}

func TestNormalize_UnparseablePrice(t *testing.T) {
	p := model.RawPayload{Indicator: "x", Symbol: "ETHUSDT", TF: "1h", Signal: "BUY", Price: "nope"}
	_, err := Normalize(p, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot parse price")
}

func TestNormalize_PrefixAndSuffixNormalizedToETHUSDT(t *testing.T) {
	p := model.RawPayload{Indicator: "AdaptiveTrendFlow", Symbol: "BINANCE:ETHUSDT.P", TF: "1h", Signal: "BUY", Price: 2500.5}
	evt, err := Normalize(p, 0)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", evt.Symbol)
	assert.Equal(t, model.TF1h, evt.TF)
	assert.Equal(t, model.SignalBuy, evt.Signal)
}

func TestNormalize_LongAndShortMapToBuySell(t *testing.T) {
	long, err := Normalize(model.RawPayload{Indicator: "x", Symbol: "ETHUSDT", TF: "1h", Signal: "LONG"}, 0)
	require.NoError(t, err)
	assert.Equal(t, model.SignalBuy, long.Signal)

	short, err := Normalize(model.RawPayload{Indicator: "x", Symbol: "ETHUSDT", TF: "1h", Signal: "SHORT"}, 0)
	require.NoError(t, err)
	assert.Equal(t, model.SignalSell, short.Signal)
}

func TestNormalize_MissingPriceUsesFallback(t *testing.T) {
	evt, err := Normalize(model.RawPayload{Indicator: "x", Symbol: "ETHUSDT", TF: "1h", Signal: "BUY"}, 1234.5)
	require.NoError(t, err)
	assert.Equal(t, 1234.5, evt.Price)
}

func TestNormalize_EventIDIsDeterministicOverRawFields(t *testing.T) {
	p1 := model.RawPayload{Indicator: "AdaptiveTrendFlow", Symbol: "BINANCE:ETHUSDT.P", TF: "60", Signal: "BUY", TS: 1700000000, Price: 2500.5}
	p2 := p1
	e1, err := Normalize(p1, 0)
	require.NoError(t, err)
	e2, err := Normalize(p2, 0)
	require.NoError(t, err)
	assert.Equal(t, e1.EventID, e2.EventID)
	assert.Len(t, e1.EventID, 16)
}

func TestNormalize_ExplicitEventIDIsPreserved(t *testing.T) {
	p := model.RawPayload{Indicator: "x", Symbol: "ETHUSDT", TF: "1h", Signal: "BUY", EventID: "custom-id-1"}
	evt, err := Normalize(p, 0)
	require.NoError(t, err)
	assert.Equal(t, "custom-id-1", evt.EventID)
}

func TestNormalize_StrengthClampedToUnitInterval(t *testing.T) {
	evt, err := Normalize(model.RawPayload{Indicator: "x", Symbol: "ETHUSDT", TF: "1h", Signal: "BUY", Strength: 5.0}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, evt.Strength)
}
