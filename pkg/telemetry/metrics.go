package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/lokutor-ai/esperanto-captions"

// Metrics holds every OpenTelemetry instrument the pipeline records against.
// Nil-safe: a *Metrics obtained via NewNoop() has live instruments wired to a
// provider that never exports, so components never need a nil check before
// recording.
type Metrics struct {
	FramesDropped       metric.Int64Counter
	CaptionPostsOK      metric.Int64Counter
	CaptionPostsFailed  metric.Int64Counter
	WebhookFlushes      metric.Int64Counter
	WebhookFailed       metric.Int64Counter
	ClientDrops         metric.Int64Counter
	ConnectedClients    metric.Int64UpDownCounter
	RecognizerLatency   metric.Float64Histogram
	TranslationLatency  metric.Float64Histogram
	EventQueueStalls    metric.Int64Counter
}

// NewMetrics builds a Metrics bound to the given MeterProvider's meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)

	framesDropped, err := m.Int64Counter("captioner.audio.frames_dropped",
		metric.WithDescription("audio frames dropped from the bounded capture queue on overflow"))
	if err != nil {
		return nil, err
	}
	captionOK, err := m.Int64Counter("captioner.caption.posts_ok",
		metric.WithDescription("successful (2xx) caption POSTs"))
	if err != nil {
		return nil, err
	}
	captionFailed, err := m.Int64Counter("captioner.caption.posts_failed",
		metric.WithDescription("non-2xx or transport-failed caption POSTs"))
	if err != nil {
		return nil, err
	}
	webhookFlushes, err := m.Int64Counter("captioner.discord.flushes",
		metric.WithDescription("discord batch flushes posted successfully"))
	if err != nil {
		return nil, err
	}
	webhookFailed, err := m.Int64Counter("captioner.discord.failed",
		metric.WithDescription("failed discord webhook post attempts, one per retry"))
	if err != nil {
		return nil, err
	}
	clientDrops, err := m.Int64Counter("captioner.webboard.client_drops",
		metric.WithDescription("messages dropped from a websocket client's outbound queue"))
	if err != nil {
		return nil, err
	}
	connectedClients, err := m.Int64UpDownCounter("captioner.webboard.connected_clients",
		metric.WithDescription("currently connected caption-board websocket clients"))
	if err != nil {
		return nil, err
	}
	recognizerLatency, err := m.Float64Histogram("captioner.recognizer.latency_seconds",
		metric.WithDescription("time from a Final event's emission by the recognizer to its dispatch by the pipeline"))
	if err != nil {
		return nil, err
	}
	translationLatency, err := m.Float64Histogram("captioner.translation.latency_seconds",
		metric.WithDescription("per-language translation call latency"))
	if err != nil {
		return nil, err
	}
	eventQueueStalls, err := m.Int64Counter("captioner.pipeline.event_queue_stalls",
		metric.WithDescription("times the C2->C8 event queue blocked the recognizer for >2s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		FramesDropped:      framesDropped,
		CaptionPostsOK:     captionOK,
		CaptionPostsFailed: captionFailed,
		WebhookFlushes:     webhookFlushes,
		WebhookFailed:      webhookFailed,
		ClientDrops:        clientDrops,
		ConnectedClients:   connectedClients,
		RecognizerLatency:  recognizerLatency,
		TranslationLatency: translationLatency,
		EventQueueStalls:   eventQueueStalls,
	}, nil
}

// NewNoop builds a Metrics bound to a fresh, never-exported MeterProvider —
// used when OTEL_METRICS_ENABLED is false so components can record
// unconditionally.
func NewNoop() *Metrics {
	mp := sdkmetric.NewMeterProvider()
	m, err := NewMetrics(mp)
	if err != nil {
		// Instrument construction with a valid name/description never fails;
		// a panic here would indicate a typo caught immediately in tests.
		panic(err)
	}
	return m
}

// InitPrometheus stands up an OTel MeterProvider backed by a Prometheus
// exporter and serves /metrics on addr. Returns a shutdown func to flush and
// stop the provider, and the *Metrics bound to it.
func InitPrometheus(ctx context.Context, serviceName, addr string) (*Metrics, func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, nil, err
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)

	metrics, err := NewMetrics(mp)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()

	shutdown := func(ctx context.Context) error {
		_ = srv.Shutdown(ctx)
		return mp.Shutdown(ctx)
	}
	return metrics, shutdown, nil
}
