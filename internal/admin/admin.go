// Package admin implements the runtime-config replacement and
// individual-event-deletion surface (L10 in SPEC_FULL.md), grounded on
// original_source/app/routers/admin.py.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tvsignal/engine/internal/model"
	"github.com/tvsignal/engine/internal/store"
	"github.com/tvsignal/engine/pkg/observability"
)

// Handler serves the admin-token-gated config and event-deletion
// endpoints.
type Handler struct {
	store      *store.Store
	logger     *observability.Logger
	audit      *observability.AuditLogger
	adminToken string
}

func NewHandler(s *store.Store, logger *observability.Logger, adminToken string) *Handler {
	return &Handler{store: s, logger: logger, audit: observability.NewAuditLogger(logger), adminToken: adminToken}
}

func (h *Handler) authorized(r *http.Request) bool {
	return r.Header.Get("X-Admin-Token") == h.adminToken
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// UpdateConfig handles POST /config: atomically replaces the persisted
// RuntimeConfig and echoes it back. A threshold of 0 or less is
// rejected — it would make the rules engine's confidence division
// degenerate and collapse bias into every score being "decisive".
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Invalid admin token")
		return
	}

	var cfg model.RuntimeConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config body")
		return
	}
	if cfg.Threshold <= 0 {
		writeError(w, http.StatusBadRequest, "threshold must be greater than 0")
		return
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := h.store.Set(r.Context(), store.ConfigKey, string(body), 0); err != nil {
		h.logger.Error(r.Context(), "config persist failed", err, nil)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.audit.LogSystemEvent(r.Context(), "config_updated", "admin", map[string]interface{}{"threshold": cfg.Threshold, "watchlist": cfg.WatchlistSymbols})
	writeJSON(w, http.StatusOK, cfg)
}

// DeleteEvent handles DELETE /events/{symbol}?event_id=: removes the
// matching event from the symbol's event log by value, since the log
// is a plain Redis list with no secondary index by id.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Invalid admin token")
		return
	}

	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event_id query parameter is required")
		return
	}

	ctx := r.Context()
	key := store.EventsKey(symbol)
	raw, err := h.store.LRange(ctx, key, 0, -1)
	if err != nil {
		h.logger.Error(ctx, "event list read failed", err, map[string]interface{}{"symbol": symbol})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var match string
	for _, entry := range raw {
		var ev model.NormalizedEvent
		if err := json.Unmarshal([]byte(entry), &ev); err != nil {
			continue
		}
		if ev.EventID == eventID {
			match = entry
			break
		}
	}

	if match == "" {
		writeError(w, http.StatusNotFound, fmt.Sprintf("event %s not found for %s", eventID, symbol))
		return
	}

	if _, err := h.store.LRem(ctx, key, 1, match); err != nil {
		h.logger.Error(ctx, "event delete failed", err, map[string]interface{}{"symbol": symbol, "event_id": eventID})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.audit.LogSystemEvent(ctx, "event_deleted", "admin", map[string]interface{}{"symbol": symbol, "event_id": eventID})
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "event_id": eventID})
}
