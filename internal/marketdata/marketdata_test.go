package marketdata

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func klineRow(open, close string) []interface{} {
	return []interface{}{int64(0), open, "0", "0", close, "0"}
}

func TestSummarize_EmptyKlinesYieldsZeroSummary(t *testing.T) {
	s := summarize(nil)
	assert.True(t, s.LastPrice.IsZero())
	assert.Equal(t, 0, s.GreenCandles)
	assert.Equal(t, 0, s.RedCandles)
}

func TestSummarize_CountsGreenAndRedCandles(t *testing.T) {
	klines := [][]interface{}{
		klineRow("100", "105"), // green
		klineRow("105", "102"), // red
		klineRow("102", "110"), // green
	}
	s := summarize(klines)
	assert.Equal(t, 2, s.GreenCandles)
	assert.Equal(t, 1, s.RedCandles)

	want, err := decimal.NewFromString("110")
	require.NoError(t, err)
	assert.True(t, s.LastPrice.Equal(want))
}

func TestSummarize_SlopeIsLastMinusFirstCloseOfWindow(t *testing.T) {
	klines := [][]interface{}{
		klineRow("100", "100"),
		klineRow("100", "120"),
	}
	s := summarize(klines)

	want, err := decimal.NewFromString("20")
	require.NoError(t, err)
	assert.True(t, s.Slope.Equal(want))
}
