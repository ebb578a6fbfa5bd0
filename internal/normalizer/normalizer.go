// Package normalizer implements the pure RawPayload → NormalizedEvent
// transformation (L2 in SPEC_FULL.md), grounded on
// original_source/app/modules/normalizer.py.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tvsignal/engine/internal/model"
)

// Error carries a human-readable detail string back to the caller for a
// 400 response.
type Error struct {
	Detail string
}

func (e *Error) Error() string { return e.Detail }

var signalMap = map[string]model.Signal{
	"BUY":     model.SignalBuy,
	"SELL":    model.SignalSell,
	"CLOSE":   model.SignalClose,
	"NEUTRAL": model.SignalNeutral,
	"LONG":    model.SignalBuy,
	"SHORT":   model.SignalSell,
	"EXIT":    model.SignalClose,
	"FLAT":    model.SignalNeutral,
}

// strictSignals is the set accepted from the wire per spec.md §9's
// "signal semantics divergence": only BUY|SELL|LONG|SHORT are admitted
// from an indicator-alert webhook; CLOSE/NEUTRAL exist internally.
var strictSignals = map[string]bool{"BUY": true, "SELL": true, "LONG": true, "SHORT": true}

var tfMap = map[string]model.Timeframe{
	"5": model.TF5m, "5m": model.TF5m,
	"15": model.TF15m, "15m": model.TF15m,
	"60": model.TF1h, "1h": model.TF1h, "1H": model.TF1h,
	"240": model.TF4h, "4h": model.TF4h, "4H": model.TF4h,
}

var (
	exchangePrefixRe = regexp.MustCompile(`^[A-Z0-9]+:`)
	suffixRe         = regexp.MustCompile(`\.[A-Z]+$`)
)

// NormalizeSymbol strips an exchange prefix ("BINANCE:") and a trailing
// contract suffix (".P"), uppercasing the result. Idempotent.
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = exchangePrefixRe.ReplaceAllString(s, "")
	s = suffixRe.ReplaceAllString(s, "")
	return s
}

// NormalizeTF maps an alias to its canonical timeframe, or "" if the
// input isn't recognized.
func NormalizeTF(raw string) (model.Timeframe, bool) {
	cleaned := strings.TrimSpace(raw)
	if tf, ok := tfMap[cleaned]; ok {
		return tf, true
	}
	if tf, ok := tfMap[strings.ToLower(cleaned)]; ok {
		return tf, true
	}
	return "", false
}

func safeInt(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		for _, layout := range []string{"2006-01-02T15:04:05Z", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Unix(), true
			}
		}
	}
	return 0, false
}

func safeFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// deterministicHash derives a 16-hex-char id from the raw (pre-
// normalization) payload fields, matching
// original_source/app/modules/normalizer.py's _deterministic_hash.
func deterministicHash(p model.RawPayload) string {
	key := fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		p.Indicator, p.Symbol, p.TF, p.Signal, interfaceOrEmpty(p.TS), interfaceOrEmpty(p.Price))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

func interfaceOrEmpty(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Normalize transforms a RawPayload into a NormalizedEvent, or returns
// an *Error with a human-readable reason. Check order: signal whitelist
// → timeframe → symbol → ts → price → strength → derive event_id
// (spec.md §4.1).
func Normalize(p model.RawPayload, fallbackPrice float64) (*model.NormalizedEvent, error) {
	now := time.Now().Unix()

	rawSignal := strings.ToUpper(strings.TrimSpace(p.Signal))
	if !strictSignals[rawSignal] {
		return nil, &Error{Detail: fmt.Sprintf("Invalid signal: '%s'. Expected BUY or SELL.", p.Signal)}
	}
	signal, ok := signalMap[rawSignal]
	if !ok {
		return nil, &Error{Detail: fmt.Sprintf("Unknown signal: '%s'", p.Signal)}
	}

	tf, ok := NormalizeTF(p.TF)
	if !ok {
		return nil, &Error{Detail: fmt.Sprintf("Invalid timeframe: '%s'", p.TF)}
	}

	symbol := NormalizeSymbol(p.Symbol)
	if symbol == "" {
		return nil, &Error{Detail: "Empty symbol after normalization"}
	}

	var ts int64
	if p.TS != nil {
		parsedTS, ok := safeInt(p.TS)
		if !ok {
			return nil, &Error{Detail: fmt.Sprintf("Cannot parse ts as integer: '%v'", p.TS)}
		}
		ts = parsedTS
	} else {
		ts = now
	}

	var price float64
	if p.Price != nil {
		parsedPrice, ok := safeFloat(p.Price)
		if !ok {
			return nil, &Error{Detail: fmt.Sprintf("Cannot parse price as number: '%v'", p.Price)}
		}
		price = parsedPrice
	} else {
		price = fallbackPrice
	}

	strength := 0.5
	if p.Strength != nil {
		if parsed, ok := safeFloat(p.Strength); ok {
			strength = clamp(parsed, 0.0, 1.0)
		}
	}

	eventID := p.EventID
	if eventID == "" {
		eventID = deterministicHash(p)
	}

	// p.Raw is the full decoded webhook body (secret already stripped by
	// the caller), so any field a sender includes beyond the ones this
	// normalizer reads rides along untouched, matching
	// original_source/app/schemas/webhook.py's extra="allow" model.
	raw := p.Raw
	if raw == nil {
		raw = map[string]interface{}{}
	}

	return &model.NormalizedEvent{
		EventID:    eventID,
		ReceivedAt: now,
		TS:         ts,
		Indicator:  strings.TrimSpace(p.Indicator),
		Symbol:     symbol,
		TF:         tf,
		Signal:     signal,
		Strength:   strength,
		Price:      price,
		Raw:        raw,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
