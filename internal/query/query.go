// Package query implements the read-only GET /latest, /events, and
// /price surfaces (L11 in SPEC_FULL.md), grounded on
// original_source/app/routers/latest.py and events.py.
package query

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tvsignal/engine/internal/marketdata"
	"github.com/tvsignal/engine/internal/model"
	"github.com/tvsignal/engine/internal/pricestream"
	"github.com/tvsignal/engine/internal/store"
	"github.com/tvsignal/engine/pkg/observability"
)

// trLocation is Turkey's fixed UTC+3 offset, matching
// original_source's _enrich_event human-readable timestamps.
var trLocation = time.FixedZone("TR", 3*60*60)

type Handler struct {
	store  *store.Store
	stream *pricestream.Stream
	market *marketdata.Fetcher
	logger *observability.Logger
}

func NewHandler(s *store.Store, stream *pricestream.Stream, market *marketdata.Fetcher, logger *observability.Logger) *Handler {
	return &Handler{store: s, stream: stream, market: market, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// Latest handles GET /latest?symbol=. The evaluated_at and any
// signals_used timestamps are enriched with human-readable UTC
// renderings alongside their raw unix values.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	raw, err := h.store.Get(r.Context(), store.LatestKey(symbol))
	if err != nil {
		writeError(w, http.StatusNotFound, "No evaluation found for "+symbol)
		return
	}

	var ev model.LatestEvaluation
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		h.logger.Error(r.Context(), "corrupt latest evaluation", err, map[string]interface{}{"symbol": symbol})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	lr := ev.LatestRules
	signals := make([]map[string]interface{}, 0, len(lr.SignalsUsed))
	for _, sig := range lr.SignalsUsed {
		signals = append(signals, map[string]interface{}{
			"indicator": sig.Indicator, "tf": sig.TF, "signal": sig.Signal,
			"strength": sig.Strength, "ts": sig.TS, "ts_human": tsHumanUTC(sig.TS),
		})
	}
	latestRules := map[string]interface{}{
		"decision": lr.Decision, "bias": lr.Bias, "confidence": lr.Confidence, "score": lr.Score,
		"reasons": lr.Reasons, "signals_used": signals, "aggregated_counts": lr.AggregatedCounts,
	}

	out := map[string]interface{}{
		"evaluation_id":      ev.EvaluationID,
		"symbol":             ev.Symbol,
		"latest_rules":       latestRules,
		"market_summary":     ev.MarketSummary,
		"evaluated_at":       ev.EvaluatedAt,
		"evaluated_at_human": tsHumanUTC(ev.EvaluatedAt),
	}
	if ev.LatestAI != nil {
		out["latest_ai"] = map[string]interface{}{
			"lines":               ev.LatestAI.Lines,
			"generated_at":        ev.LatestAI.GeneratedAt,
			"generated_at_human":  tsHumanUTC(ev.LatestAI.GeneratedAt),
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func tsHumanUTC(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

func tsHumanTR(ts int64) string {
	return time.Unix(ts, 0).In(trLocation).Format("2006-01-02 15:04:05 TR")
}

// Events handles GET /events?symbol=&limit=&indicator=&tf=&signal=&after=&before=
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 500 {
			limit = n
		}
	}
	indicator := r.URL.Query().Get("indicator")
	tf := r.URL.Query().Get("tf")
	signal := r.URL.Query().Get("signal")

	var afterTS, beforeTS *int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		ts, ok := parseDateFilter(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid after format: '"+raw+"'. Use YYYY-MM-DD or YYYY-MM-DD HH:MM")
			return
		}
		afterTS = &ts
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		ts, ok := parseDateFilter(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid before format: '"+raw+"'. Use YYYY-MM-DD or YYYY-MM-DD HH:MM")
			return
		}
		beforeTS = &ts
	}

	ctx := r.Context()
	rawList, err := h.store.LRange(ctx, store.EventsKey(symbol), -int64(limit)*3, -1)
	if err != nil {
		h.logger.Error(ctx, "events read failed", err, map[string]interface{}{"symbol": symbol})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// newest first, matching original_source's reversed() iteration
	events := make([]map[string]interface{}, 0, len(rawList))
	for i := len(rawList) - 1; i >= 0; i-- {
		var ev model.NormalizedEvent
		if err := json.Unmarshal([]byte(rawList[i]), &ev); err != nil {
			continue
		}

		if afterTS != nil && ev.TS < *afterTS {
			continue
		}
		if beforeTS != nil && ev.TS > *beforeTS {
			continue
		}
		if indicator != "" && !strings.EqualFold(ev.Indicator, indicator) {
			continue
		}
		if tf != "" && !strings.EqualFold(string(ev.TF), tf) {
			continue
		}
		if signal != "" && !strings.EqualFold(string(ev.Signal), signal) {
			continue
		}

		entry := map[string]interface{}{
			"event_id":         ev.EventID,
			"received_at":      ev.ReceivedAt,
			"received_at_human": tsHumanTR(ev.ReceivedAt),
			"ts":               ev.TS,
			"ts_human":         tsHumanTR(ev.TS),
			"indicator":        ev.Indicator,
			"symbol":           ev.Symbol,
			"tf":               ev.TF,
			"signal":           ev.Signal,
			"strength":         ev.Strength,
			"price":            ev.Price,
		}
		events = append(events, entry)
		if len(events) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "count": len(events), "events": events})
}

func parseDateFilter(val string) (int64, bool) {
	val = strings.TrimSpace(val)
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, val); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// Price handles GET /price?symbol=, reporting the live WS-streamed
// price plus the per-timeframe market summary, or a 404 when no live
// price has been observed yet.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}
	price, ok := h.stream.GetPrice(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "No live price for "+symbol)
		return
	}
	market := h.market.GetMarketSummaries(r.Context(), symbol)
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "price": price, "market": market})
}
