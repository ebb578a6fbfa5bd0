package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsProvider bridges OpenTelemetry instruments to a Prometheus
// registry, exposed through Handler() at "/metrics" on the main HTTP
// router; ServerConfig.MetricsAddr is not used to serve it.
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	registry      *prometheus.Registry

	WebhookRequestsTotal metric.Int64Counter
	EventsIngestedTotal  metric.Int64Counter
	DedupeHitsTotal      metric.Int64Counter
	RateLimitedTotal     metric.Int64Counter
	AILockAcquiredTotal  metric.Int64Counter
	AIExplanationsTotal  metric.Int64Counter
	SchedulerTicksTotal  metric.Int64Counter
	EvaluationDuration   metric.Float64Histogram
	AICallDuration       metric.Float64Histogram
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	ServiceName string
	Namespace   string
}

// NewMetricsProvider creates the metrics provider and registers all
// domain counters/histograms named in SPEC_FULL.md §11.
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter(cfg.ServiceName)

	mp := &MetricsProvider{
		meterProvider: meterProvider,
		meter:         meter,
		registry:      registry,
	}

	if err := mp.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return mp, nil
}

func (mp *MetricsProvider) initialize() error {
	var err error

	if mp.WebhookRequestsTotal, err = mp.meter.Int64Counter(
		"tv_webhook_requests_total",
		metric.WithDescription("Total webhook requests received"),
	); err != nil {
		return err
	}
	if mp.EventsIngestedTotal, err = mp.meter.Int64Counter(
		"tv_events_ingested_total",
		metric.WithDescription("Total normalized events appended to the event log"),
	); err != nil {
		return err
	}
	if mp.DedupeHitsTotal, err = mp.meter.Int64Counter(
		"tv_dedupe_hits_total",
		metric.WithDescription("Total webhook admissions rejected as duplicates"),
	); err != nil {
		return err
	}
	if mp.RateLimitedTotal, err = mp.meter.Int64Counter(
		"tv_rate_limited_total",
		metric.WithDescription("Total webhook admissions rejected by the per-symbol rate limiter"),
	); err != nil {
		return err
	}
	if mp.AILockAcquiredTotal, err = mp.meter.Int64Counter(
		"tv_ai_lock_acquired_total",
		metric.WithDescription("Total successful AI single-flight lock acquisitions"),
	); err != nil {
		return err
	}
	if mp.AIExplanationsTotal, err = mp.meter.Int64Counter(
		"tv_ai_explanations_total",
		metric.WithDescription("Total AI explanation calls that returned text"),
	); err != nil {
		return err
	}
	if mp.SchedulerTicksTotal, err = mp.meter.Int64Counter(
		"tv_scheduler_ticks_total",
		metric.WithDescription("Total published refresh-scheduler ticks across all symbols"),
	); err != nil {
		return err
	}
	if mp.EvaluationDuration, err = mp.meter.Float64Histogram(
		"tv_evaluation_duration_seconds",
		metric.WithDescription("Aggregate+evaluate latency"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if mp.AICallDuration, err = mp.meter.Float64Histogram(
		"tv_ai_call_duration_seconds",
		metric.WithDescription("AI provider explain() latency"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	return nil
}

// Handler returns the Prometheus scrape handler.
func (mp *MetricsProvider) Handler() http.Handler {
	return promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.meterProvider == nil {
		return nil
	}
	return mp.meterProvider.Shutdown(ctx)
}
