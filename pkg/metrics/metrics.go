// Package metrics exposes dispatch counters through OpenTelemetry and a
// Prometheus scrape endpoint.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"printcast/pkg/model"
)

const meterName = "printcast"

// Telemetry bundles the meter provider and its scrape handler.
type Telemetry struct {
	Provider *sdkmetric.MeterProvider
	Handler  http.Handler
}

// Setup creates a meter provider backed by a private Prometheus registry.
func Setup(ctx context.Context, serviceName string) (*Telemetry, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("metrics resource: %w", err)
	}

	reg := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	slog.Info("Metrics initialized", "exporter", "prometheus", "service", serviceName)
	return &Telemetry{
		Provider: provider,
		Handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}

// Meter returns the service meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.Provider.Meter(meterName)
}

// Shutdown flushes and stops the provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Provider.Shutdown(ctx)
}

// Gauges report live depths.
type Gauges struct {
	QueueDepth     func() int
	VoicePending   func() int
	ActivePlayback func() int
}

// Recorder counts dispatched jobs and collections.
type Recorder struct {
	jobs        metric.Int64Counter
	collections metric.Int64Counter
	utterances  metric.Int64Counter
}

// NewRecorder creates the instruments and registers the gauge callback.
func NewRecorder(meter metric.Meter, g Gauges) (*Recorder, error) {
	jobs, err := meter.Int64Counter("printcast.jobs", metric.WithDescription("Dispatched jobs by kind and outcome"))
	if err != nil {
		return nil, err
	}
	collections, err := meter.Int64Counter("printcast.collections", metric.WithDescription("Dispatched collections"))
	if err != nil {
		return nil, err
	}
	utterances, err := meter.Int64Counter("printcast.utterances", metric.WithDescription("Spoken utterances by outcome"))
	if err != nil {
		return nil, err
	}

	queueGauge, err := meter.Int64ObservableGauge("printcast.queue.depth", metric.WithDescription("Collections waiting for dispatch"))
	if err != nil {
		return nil, err
	}
	voiceGauge, err := meter.Int64ObservableGauge("printcast.voice.pending", metric.WithDescription("Utterances waiting for the voice worker"))
	if err != nil {
		return nil, err
	}
	playGauge, err := meter.Int64ObservableGauge("printcast.sound.active", metric.WithDescription("Sounds currently playing"))
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		if g.QueueDepth != nil {
			obs.ObserveInt64(queueGauge, int64(g.QueueDepth()))
		}
		if g.VoicePending != nil {
			obs.ObserveInt64(voiceGauge, int64(g.VoicePending()))
		}
		if g.ActivePlayback != nil {
			obs.ObserveInt64(playGauge, int64(g.ActivePlayback()))
		}
		return nil
	}, queueGauge, voiceGauge, playGauge)
	if err != nil {
		return nil, err
	}

	return &Recorder{jobs: jobs, collections: collections, utterances: utterances}, nil
}

// Dispatched counts the collection and each job outcome.
func (r *Recorder) Dispatched(c model.Collection, records []model.DispatchRecord) {
	ctx := context.Background()
	r.collections.Add(ctx, 1, metric.WithAttributes(attribute.String("source", c.Source)))
	for _, rec := range records {
		outcome := "ok"
		if !rec.OK() {
			outcome = "failed"
		}
		r.jobs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(rec.Kind)),
			attribute.String("outcome", outcome),
			attribute.String("error_kind", rec.ErrorKind),
		))
	}
}

// Spoken counts a finished utterance.
func (r *Recorder) Spoken(_ string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	r.utterances.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
