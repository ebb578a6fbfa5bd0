// Package marketdata fetches and summarizes Binance Futures klines (L7
// support component in SPEC_FULL.md), grounded on
// original_source/app/modules/market_data.py, with the cache/mutex
// idiom adapted from internal/realtime/market_data_service.go.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tvsignal/engine/internal/model"
	"github.com/tvsignal/engine/pkg/observability"
)

const (
	binanceKlinesURL = "https://fapi.binance.com/fapi/v1/klines"
	cacheTTL         = 10 * time.Second
)

// binanceInterval maps this engine's timeframes to Binance's interval
// strings (they happen to already agree for the three we fetch).
var binanceInterval = map[model.Timeframe]string{
	model.TF15m: "15m",
	model.TF1h:  "1h",
	model.TF4h:  "4h",
}

type cacheEntry struct {
	fetchedAt time.Time
	klines    [][]interface{}
}

// Fetcher retrieves klines from Binance Futures with a short in-memory
// cache to keep the per-webhook background path and the scheduler from
// hammering the exchange on every tick.
type Fetcher struct {
	httpClient *http.Client
	logger     *observability.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(logger *observability.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		cache:      make(map[string]cacheEntry),
	}
}

func (f *Fetcher) fetchKlines(ctx context.Context, symbol, interval string, limit int) ([][]interface{}, error) {
	cacheKey := symbol + ":" + interval

	f.mu.Lock()
	if entry, ok := f.cache[cacheKey]; ok && time.Since(entry.fetchedAt) < cacheTTL {
		f.mu.Unlock()
		return entry.klines, nil
	}
	f.mu.Unlock()

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, binanceKlinesURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance klines request failed: status %d", resp.StatusCode)
	}

	var klines [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[cacheKey] = cacheEntry{fetchedAt: time.Now(), klines: klines}
	f.mu.Unlock()

	return klines, nil
}

func summarize(klines [][]interface{}) model.MarketSummary {
	if len(klines) == 0 {
		return model.MarketSummary{}
	}

	last20 := klines
	if len(klines) > 20 {
		last20 = klines[len(klines)-20:]
	}

	lastClose := closeOf(klines[len(klines)-1])
	firstOfWindow := closeOf(last20[0])
	lastOfWindow := closeOf(last20[len(last20)-1])

	green, red := 0, 0
	for _, k := range last20 {
		if closeOf(k).GreaterThanOrEqual(openOf(k)) {
			green++
		} else {
			red++
		}
	}

	slope := lastOfWindow.Sub(firstOfWindow).Round(4)

	return model.MarketSummary{
		LastPrice:    lastClose,
		GreenCandles: green,
		RedCandles:   red,
		Slope:        slope,
	}
}

func openOf(k []interface{}) decimal.Decimal  { return klineField(k, 1) }
func closeOf(k []interface{}) decimal.Decimal { return klineField(k, 4) }

func klineField(k []interface{}, idx int) decimal.Decimal {
	if idx >= len(k) {
		return decimal.Zero
	}
	s, ok := k[idx].(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetMarketSummaries fetches and summarizes the 15m/1h/4h klines for
// symbol concurrently. A per-interval fetch failure degrades to a zero
// MarketSummary for that timeframe rather than failing the whole call.
func (f *Fetcher) GetMarketSummaries(ctx context.Context, symbol string) map[model.Timeframe]model.MarketSummary {
	timeframes := []model.Timeframe{model.TF15m, model.TF1h, model.TF4h}
	results := make(map[model.Timeframe]model.MarketSummary, len(timeframes))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, tf := range timeframes {
		tf := tf
		wg.Add(1)
		go func() {
			defer wg.Done()
			klines, err := f.fetchKlines(ctx, symbol, binanceInterval[tf], 200)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.logger.Error(ctx, "klines fetch failed", err, map[string]interface{}{"symbol": symbol, "tf": string(tf)})
				results[tf] = model.MarketSummary{}
				return
			}
			results[tf] = summarize(klines)
		}()
	}
	wg.Wait()
	return results
}

// GetLastPrice returns the last 15m close, used as the webhook's price
// fallback when a payload omits it.
func (f *Fetcher) GetLastPrice(ctx context.Context, symbol string) float64 {
	klines, err := f.fetchKlines(ctx, symbol, "15m", 1)
	if err != nil || len(klines) == 0 {
		if err != nil {
			f.logger.Error(ctx, "last price fetch failed", err, map[string]interface{}{"symbol": symbol})
		}
		return 0
	}
	price, _ := closeOf(klines[len(klines)-1]).Float64()
	return price
}
