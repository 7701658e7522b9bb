package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitRegistersMetrics(t *testing.T) {
	Init()
	Init() // idempotent

	if ConnectsStarted == nil {
		t.Error("ConnectsStarted counter not initialized")
	}
	if HistoryFetchDuration == nil {
		t.Error("HistoryFetchDuration histogram not initialized")
	}
	if ConnectionStateGauge == nil {
		t.Error("ConnectionStateGauge not initialized")
	}
}

func TestGaugeHelpersDoNotPanicWithoutInit(t *testing.T) {
	// Helpers nil-check so unit tests that never call Init stay safe.
	saved := ConnectionStateGauge
	ConnectionStateGauge = nil
	defer func() { ConnectionStateGauge = saved }()

	SetConnectionState(3)
	Inc(nil)
	SetOnlineUsers(5)
	SetTimelineEntries(10)
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := WithCorrelation(context.Background(), "corr-123")
	if got := GetCorrelation(ctx); got != "corr-123" {
		t.Errorf("GetCorrelation = %q", got)
	}
	if got := GetCorrelation(context.Background()); got != "" {
		t.Errorf("GetCorrelation on bare context = %q, want empty", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
