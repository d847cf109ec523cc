package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetricsRegistersAllInstruments(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.FramesDropped == nil || m.CaptionPostsOK == nil || m.CaptionPostsFailed == nil {
		t.Fatal("expected caption/audio instruments to be non-nil")
	}
	if m.WebhookFlushes == nil || m.WebhookFailed == nil {
		t.Fatal("expected discord instruments to be non-nil")
	}
	if m.ClientDrops == nil || m.ConnectedClients == nil {
		t.Fatal("expected webboard instruments to be non-nil")
	}
	if m.RecognizerLatency == nil || m.TranslationLatency == nil {
		t.Fatal("expected latency histograms to be non-nil")
	}
}

func TestNewNoopIsUsableWithoutPanicking(t *testing.T) {
	m := NewNoop()
	m.FramesDropped.Add(context.Background(), 1)
	m.ConnectedClients.Add(context.Background(), 1)
}
