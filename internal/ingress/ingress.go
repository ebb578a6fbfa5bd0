// Package ingress implements the POST /tv-webhook handler state
// machine (L8 in SPEC_FULL.md), grounded on
// original_source/app/routers/webhook.py — with one deliberate
// deviation documented in SPEC_FULL.md §4: the fast rules layer is
// published synchronously before the handler responds, rather than
// only from the background goroutine, so GET /latest reflects an
// accepted event immediately instead of racing the background task.
package ingress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/tvsignal/engine/internal/aggregator"
	"github.com/tvsignal/engine/internal/ai"
	"github.com/tvsignal/engine/internal/aislock"
	"github.com/tvsignal/engine/internal/dedupe"
	"github.com/tvsignal/engine/internal/marketdata"
	"github.com/tvsignal/engine/internal/model"
	"github.com/tvsignal/engine/internal/normalizer"
	"github.com/tvsignal/engine/internal/publisher"
	"github.com/tvsignal/engine/internal/rules"
	"github.com/tvsignal/engine/internal/store"
	"github.com/tvsignal/engine/pkg/observability"
)

// Handler wires every L1-L7 component into the webhook ingestion
// pipeline: Receive -> ParseBody -> CheckSecret -> Normalize -> Dedupe
// -> RateLimit -> Persist -> AggregateEvaluate -> PublishFast ->
// Respond, then dispatches market+AI+slow-layer publish in the
// background.
type Handler struct {
	store      *store.Store
	dedupe     *dedupe.Checker
	aggregator *aggregator.Aggregator
	lock       *aislock.Lock
	publisher  *publisher.Publisher
	market     *marketdata.Fetcher
	aiProvider ai.Provider
	logger     *observability.Logger
	metrics    *observability.MetricsProvider

	webhookSecret  string
	rateWindowSec  int
	rateMaxEvents  int64
}

type Config struct {
	WebhookSecret string
	RateWindowSec int
	RateMaxEvents int64
}

func NewHandler(
	s *store.Store,
	d *dedupe.Checker,
	agg *aggregator.Aggregator,
	lock *aislock.Lock,
	pub *publisher.Publisher,
	market *marketdata.Fetcher,
	aiProvider ai.Provider,
	logger *observability.Logger,
	metrics *observability.MetricsProvider,
	cfg Config,
) *Handler {
	return &Handler{
		store:         s,
		dedupe:        d,
		aggregator:    agg,
		lock:          lock,
		publisher:     pub,
		market:        market,
		aiProvider:    aiProvider,
		logger:        logger,
		metrics:       metrics,
		webhookSecret: cfg.WebhookSecret,
		rateWindowSec: cfg.RateWindowSec,
		rateMaxEvents: cfg.RateMaxEvents,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// stringField reads a string-typed key from a decoded JSON body,
// returning "" if absent or of another type.
func stringField(body map[string]interface{}, key string) string {
	s, _ := body[key].(string)
	return s
}

// ServeHTTP implements the webhook pipeline. TradingView sends
// Content-Type: text/plain, so the body is read and parsed manually
// rather than relying on a content-type-gated decoder.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.metrics.WebhookRequestsTotal.Add(ctx, 1)

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Cannot read body")
		return
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	payload := model.RawPayload{
		Secret:    stringField(body, "secret"),
		Indicator: stringField(body, "indicator"),
		Symbol:    stringField(body, "symbol"),
		TF:        stringField(body, "tf"),
		Signal:    stringField(body, "signal"),
		Strength:  body["strength"],
		Price:     body["price"],
		EventID:   stringField(body, "event_id"),
		TS:        body["ts"],
	}
	delete(body, "secret")
	payload.Raw = body

	if payload.Secret != h.webhookSecret {
		h.logger.Warn(ctx, "invalid webhook secret", map[string]interface{}{"indicator": payload.Indicator, "symbol": payload.Symbol})
		writeError(w, http.StatusUnauthorized, "Invalid secret")
		return
	}

	fallbackPrice := 0.0
	if payload.Price == nil {
		fallbackPrice = h.market.GetLastPrice(ctx, normalizer.NormalizeSymbol(payload.Symbol))
	}

	event, normErr := normalizer.Normalize(payload, fallbackPrice)
	if normErr != nil {
		writeError(w, http.StatusBadRequest, normErr.Error())
		return
	}

	isDup, err := h.dedupe.IsDuplicate(ctx, event.EventID)
	if err != nil {
		h.logger.Error(ctx, "dedupe check failed", err, map[string]interface{}{"event_id": event.EventID})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if isDup {
		h.metrics.DedupeHitsTotal.Add(ctx, 1)
		writeJSON(w, http.StatusOK, model.WebhookResponse{Status: "duplicate", EventID: event.EventID, Message: "duplicate event"})
		return
	}

	exceeded, _, err := h.dedupe.RateLimitExceeded(ctx, event.Symbol, h.rateWindowSec, h.rateMaxEvents)
	if err != nil {
		h.logger.Error(ctx, "rate limit check failed", err, map[string]interface{}{"symbol": event.Symbol})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if exceeded {
		h.metrics.RateLimitedTotal.Add(ctx, 1)
		writeJSON(w, http.StatusOK, model.WebhookResponse{Status: "rate_limited", EventID: event.EventID, Message: "rate limit exceeded"})
		return
	}

	cfg := aggregator.LoadRuntimeConfig(ctx, h.store)

	eventJSON, err := json.Marshal(event)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	key := store.EventsKey(event.Symbol)
	if err := h.store.RPush(ctx, key, string(eventJSON)); err != nil {
		h.logger.Error(ctx, "event persist failed", err, map[string]interface{}{"event_id": event.EventID})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	_ = h.store.LTrim(ctx, key, -cfg.EventsMaxPerSymbol, -1)
	_ = h.store.Expire(ctx, key, time.Duration(store.EventTTL)*time.Second)
	h.metrics.EventsIngestedTotal.Add(ctx, 1)

	h.logger.Info(ctx, "event stored", map[string]interface{}{
		"event_id": event.EventID, "indicator": event.Indicator, "symbol": event.Symbol,
		"tf": event.TF, "signal": event.Signal,
	})

	evalStart := time.Now()
	agg, err := h.aggregator.Aggregate(ctx, event.Symbol, cfg, cfg.EventsMaxPerSymbol)
	if err != nil {
		h.logger.Error(ctx, "aggregation failed", err, map[string]interface{}{"symbol": event.Symbol})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	rulesResult := rules.Evaluate(*agg, cfg)
	h.metrics.EvaluationDuration.Record(ctx, time.Since(evalStart).Seconds())

	// Fast layer: publish the deterministic decision synchronously so a
	// GET /latest issued immediately after this response already
	// reflects it, before the slower market+AI background work runs.
	if err := h.publisher.StoreLatest(ctx, event.Symbol, rulesResult, *agg, nil, "", ""); err != nil {
		h.logger.Error(ctx, "fast publish failed", err, map[string]interface{}{"symbol": event.Symbol})
	}

	go h.backgroundEvaluation(context.Background(), event.Symbol, rulesResult, *agg)

	writeJSON(w, http.StatusOK, model.WebhookResponse{
		Status:     "accepted",
		EventID:    event.EventID,
		Decision:   rulesResult.Decision,
		Bias:       rulesResult.Bias,
		Confidence: rulesResult.Confidence,
		Score:      rulesResult.Score,
	})
}

// backgroundEvaluation fetches market data, runs AI explanation under
// the single-flight lock, and republishes the full (rules+AI+market)
// envelope. Errors here are logged, never surfaced to the webhook
// caller — the synchronous response has already been sent.
func (h *Handler) backgroundEvaluation(ctx context.Context, symbol string, rulesOut model.RulesOutput, agg model.AggregationResult) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(ctx, "background evaluation panicked", nil, map[string]interface{}{"symbol": symbol, "panic": r})
		}
	}()

	market := h.market.GetMarketSummaries(ctx, symbol)

	var aiText string
	token, ok, err := h.lock.Acquire(ctx, symbol)
	if err != nil {
		h.logger.Error(ctx, "ai lock acquire failed", err, map[string]interface{}{"symbol": symbol})
	} else if ok {
		h.metrics.AILockAcquiredTotal.Add(ctx, 1)
		aiStart := time.Now()
		text, err := h.aiProvider.Explain(ctx, rulesOut, agg, market)
		h.metrics.AICallDuration.Record(ctx, time.Since(aiStart).Seconds())
		if err != nil {
			h.logger.Error(ctx, "ai explain failed", err, map[string]interface{}{"symbol": symbol})
		} else {
			aiText = text
			h.metrics.AIExplanationsTotal.Add(ctx, 1)
		}
		if releaseErr := h.lock.Release(ctx, symbol, token); releaseErr != nil {
			h.logger.Error(ctx, "ai lock release failed", releaseErr, map[string]interface{}{"symbol": symbol})
		}
	} else {
		h.logger.Info(ctx, "ai lock busy, skipping", map[string]interface{}{"symbol": symbol})
	}

	if err := h.publisher.StoreLatest(ctx, symbol, rulesOut, agg, market, aiText, ""); err != nil {
		h.logger.Error(ctx, "background publish failed", err, map[string]interface{}{"symbol": symbol})
		return
	}
	h.logger.Info(ctx, "evaluation stored", map[string]interface{}{"symbol": symbol, "decision": rulesOut.Decision})
}
