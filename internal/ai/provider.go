// Package ai implements the explanation-generation providers (part of
// L7 in SPEC_FULL.md). The wire-format and HTTP-call shape is adapted
// from internal/ai/openai_provider.go's makeAPICall pattern, narrowed
// to a single domain-specific Explain call; the deterministic fallback
// template is grounded on
// original_source/app/modules/ai_client.py's _fallback_explanation and
// _build_prompt.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tvsignal/engine/internal/model"
	"github.com/tvsignal/engine/pkg/observability"
)

// Provider generates a short natural-language explanation of a rules
// decision. Implementations must never block longer than ~15s; the
// caller treats Explain as best-effort and falls back to a template on
// error.
type Provider interface {
	Explain(ctx context.Context, rules model.RulesOutput, agg model.AggregationResult, market map[model.Timeframe]model.MarketSummary) (string, error)
}

// DummyProvider produces the deterministic, template-based Turkish
// summary with no external call — the default when no AI credentials
// are configured, and the fallback every other provider degrades to.
type DummyProvider struct{}

func NewDummyProvider() *DummyProvider { return &DummyProvider{} }

func (p *DummyProvider) Explain(_ context.Context, rules model.RulesOutput, agg model.AggregationResult, market map[model.Timeframe]model.MarketSummary) (string, error) {
	return fallbackExplanation(rules, agg, market), nil
}

// fallbackExplanation reproduces original_source's exact six-line
// Turkish template, byte for byte in structure.
func fallbackExplanation(rules model.RulesOutput, agg model.AggregationResult, market map[model.Timeframe]model.MarketSummary) string {
	m4h, has4h := market[model.TF4h]
	m1h, has1h := market[model.TF1h]

	trend4h := "asagi"
	slope4h := 0.0
	if has4h {
		slope4h, _ = m4h.Slope.Float64()
		if slope4h > 0 {
			trend4h = "yukari"
		}
	}
	trend1h := "asagi"
	slope1h := 0.0
	if has1h {
		slope1h, _ = m1h.Slope.Float64()
		if slope1h > 0 {
			trend1h = "yukari"
		}
	}

	var tfSignals []string
	for _, tf := range model.AllTimeframes {
		summary, ok := agg.Timeframes[tf]
		if !ok {
			continue
		}
		inds := append([]model.IndicatorSignal(nil), summary.Indicators...)
		sort.Slice(inds, func(i, j int) bool { return inds[i].Indicator < inds[j].Indicator })
		for _, ind := range inds {
			tfSignals = append(tfSignals, fmt.Sprintf("%s@%s=%s", ind.Indicator, tf, ind.Signal))
		}
	}
	signalsText := "sinyal yok"
	if len(tfSignals) > 0 {
		signalsText = strings.Join(tfSignals, ", ")
	}

	vetoText := ""
	if rules.VetoApplied {
		vetoText = fmt.Sprintf(" (Veto: %s)", rules.VetoReason)
	}

	return fmt.Sprintf(
		"1) Genel Durum: %s (%d/100)%s\n"+
			"2) Trend: 4H %s (slope=%+.2f) | 1H %s (slope=%+.2f)\n"+
			"3) Sinyal Ozeti: %s\n"+
			"4) Senaryo A: Yukselis devam ederse mevcut bias (%s) yonunde hareket.\n"+
			"5) Senaryo B: Dusus olursa bias degisebilir, stop/hedge degerlendir.\n"+
			"6) Risk: Skor=%.3f, esik=%.2f. Kesin al/sat degil, kendi analizinle dogrula.",
		rules.Decision, rules.Confidence, vetoText,
		trend4h, slope4h, trend1h, slope1h,
		signalsText,
		rules.Bias,
		rules.Score, rules.Threshold,
	)
}

// buildPrompt constructs the chat-completion prompt sent to an
// OpenAI-compatible endpoint.
func buildPrompt(rules model.RulesOutput, agg model.AggregationResult, market map[model.Timeframe]model.MarketSummary) string {
	var tfLines []string
	for _, tf := range []model.Timeframe{model.TF4h, model.TF1h, model.TF15m} {
		ms, hasMS := market[tf]
		ts, hasTS := agg.Timeframes[tf]
		if !hasMS || !hasTS {
			continue
		}
		var parts []string
		for _, ind := range ts.Indicators {
			parts = append(parts, fmt.Sprintf("%s=%s", ind.Indicator, ind.Signal))
		}
		inds := "yok"
		if len(parts) > 0 {
			inds = strings.Join(parts, ", ")
		}
		slope, _ := ms.Slope.Float64()
		tfLines = append(tfLines, fmt.Sprintf("  %s: price=%s, slope=%+.2f, green/red=%d/%d, sinyaller=[%s]",
			tf, ms.LastPrice.String(), slope, ms.GreenCandles, ms.RedCandles, inds))
	}

	reasons := "yok"
	if len(rules.Reasons) > 0 {
		reasons = strings.Join(rules.Reasons, "; ")
	}
	vetoReason := rules.VetoReason
	if vetoReason == "" {
		vetoReason = "yok"
	}

	return fmt.Sprintf(`Sen bir kripto piyasa analisti asistansın. Kesin al/sat emri VERMEDEN aşağıdaki verilere göre
6 satırlık Türkçe özet üret. Şablon:

1) Genel Durum: {decision} ({confidence}/100)
2) Trend: 4H ... | 1H ...
3) Sinyal Özeti: hangi indikatör hangi tf'de ne dedi (kısa)
4) Senaryo A: yükseliş olursa ...
5) Senaryo B: düşüş olursa ...
6) Risk: volatilite/stop şart, "kesin al/sat" yok

Veriler:
- Symbol: %s
- Karar: %s | Eğilim: %s | Güven: %d/100 | Skor: %.4f
- Eşik: %.2f | Veto: %t (%s)
- Nedenler: %s
- Piyasa:
%s

6 satırlık özeti Türkçe yaz. "Kesin al/sat" ifadesi kullanma.`,
		rules.Symbol,
		rules.Decision, rules.Bias, rules.Confidence, rules.Score,
		rules.Threshold, rules.VetoApplied, vetoReason,
		reasons,
		strings.Join(tfLines, "\n"),
	)
}

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint,
// falling back to DummyProvider's template on any failure — the caller
// should never observe an explanation failure as an error.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *observability.Logger
	fallback   *DummyProvider
}

func NewOpenAIProvider(apiKey, modelName, baseURL string, logger *observability.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:   logger,
		fallback: NewDummyProvider(),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Explain(ctx context.Context, rules model.RulesOutput, agg model.AggregationResult, market map[model.Timeframe]model.MarketSummary) (string, error) {
	prompt := buildPrompt(rules, agg, market)
	text, err := p.makeAPICall(ctx, prompt)
	if err != nil {
		p.logger.Error(ctx, "ai call failed, using fallback template", err, map[string]interface{}{"symbol": rules.Symbol})
		return p.fallback.Explain(ctx, rules, agg, market)
	}
	return strings.TrimSpace(text), nil
}

func (p *OpenAIProvider) makeAPICall(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   500,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("ai provider error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return out.Choices[0].Message.Content, nil
}

// New selects a provider based on configuration: OpenAI-compatible when
// both a provider name of "openai" and an API key are configured,
// DummyProvider otherwise.
func New(providerName, apiKey, modelName, baseURL string, logger *observability.Logger) Provider {
	if providerName == "openai" && apiKey != "" {
		return NewOpenAIProvider(apiKey, modelName, baseURL, logger)
	}
	return NewDummyProvider()
}
