// Package pricestream maintains an in-memory table of live prices fed
// by Binance's !miniTicker@arr websocket stream (L7 support component
// in SPEC_FULL.md). Grounded on
// original_source/app/modules/price_stream.py for the reconnect/update
// semantics, with the connection lifecycle and logging idiom adapted
// from internal/realtime/market_data_service.go.
package pricestream

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tvsignal/engine/pkg/observability"
)

const (
	binanceWSURL   = "wss://fstream.binance.com/ws/!miniTicker@arr"
	reconnectDelay = 3 * time.Second
)

type miniTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// Stream holds the latest observed price per symbol, read by GET /price
// and polled by the /ws/prices snapshot loop.
type Stream struct {
	logger *observability.Logger

	mu     sync.RWMutex
	prices map[string]float64

	cancel context.CancelFunc
	done   chan struct{}
}

func New(logger *observability.Logger) *Stream {
	return &Stream{
		logger: logger,
		prices: make(map[string]float64),
	}
}

// GetPrice returns the latest observed price for symbol, or (0, false)
// if no update has arrived yet.
func (s *Stream) GetPrice(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// AllPrices returns a shallow snapshot of every known price.
func (s *Stream) AllPrices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

// Start connects to Binance and updates prices until ctx is cancelled,
// reconnecting on any disconnect after reconnectDelay. Start returns
// immediately; the loop runs in a background goroutine.
func (s *Stream) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
}

// Stop cancels the stream loop and waits for it to exit.
func (s *Stream) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Stream) loop(ctx context.Context) {
	defer close(s.done)
	s.logger.Info(ctx, "price stream started", nil)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "price stream stopped", nil)
			return
		default:
		}

		if err := s.connectAndRead(ctx); err != nil {
			s.logger.Warn(ctx, "price stream disconnected", map[string]interface{}{"error": err.Error()})
		}

		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "price stream stopped", nil)
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, binanceWSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.logger.Info(ctx, "price stream connected", nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var tickers []miniTicker
		if err := json.Unmarshal(raw, &tickers); err != nil {
			continue
		}

		s.mu.Lock()
		for _, t := range tickers {
			if t.Symbol == "" || t.Close == "" {
				continue
			}
			if price, err := strconv.ParseFloat(t.Close, 64); err == nil {
				s.prices[t.Symbol] = price
			}
		}
		s.mu.Unlock()
	}
}
