// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    once sync.Once

    // Counters
    ConnectsStarted   prometheus.Counter
    Reconnects        prometheus.Counter
    FramesReceived    prometheus.Counter
    FramesDropped     prometheus.Counter
    MessagesSent      prometheus.Counter
    MessagesReceived  prometheus.Counter
    StatusUpdates     prometheus.Counter
    HistoryFetches    prometheus.Counter
    HistoryFetchFails prometheus.Counter

    // Histograms (seconds)
    HistoryFetchDuration prometheus.Observer

    // Gauges
    ConnectionStateGauge prometheus.Gauge
    OnlineUsersGauge     prometheus.Gauge
    TimelineEntriesGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
    once.Do(func() {
        ConnectsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_connects_started_total", Help: "Number of websocket connect attempts started"})
        Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reconnects_total", Help: "Number of reconnect attempts scheduled after a connection loss"})
        FramesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_frames_received_total", Help: "Number of websocket frames received"})
    FramesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_frames_dropped_total", Help: "Number of malformed or unknown frames dropped"})
    MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_sent_total", Help: "Number of chat messages sent"})
        MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_received_total", Help: "Number of chat messages received and appended"})
        StatusUpdates = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_status_updates_total", Help: "Number of user status updates applied"})
        HistoryFetches = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_history_fetches_total", Help: "Number of chat history API requests"})
        HistoryFetchFails = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_history_fetch_failures_total", Help: "Number of failed chat history API requests"})
        HistoryFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_history_fetch_duration_seconds", Help: "History fetch duration seconds", Buckets: prometheus.DefBuckets})
        ConnectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_connection_state", Help: "Connection state (0=disconnected 1=connecting 2=authenticating 3=open 4=reconnect_wait 5=closed)"})
        OnlineUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_online_users", Help: "Current number of online users"})
        TimelineEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_timeline_entries", Help: "Current number of timeline entries including date separators"})
    })
}

// SetConnectionState records the numeric connection state.
func SetConnectionState(s int) { if ConnectionStateGauge != nil { ConnectionStateGauge.Set(float64(s)) } }

// SetOnlineUsers records the current online user count.
func SetOnlineUsers(n int) { if OnlineUsersGauge != nil { OnlineUsersGauge.Set(float64(n)) } }

// SetTimelineEntries records the current timeline length.
func SetTimelineEntries(n int) { if TimelineEntriesGauge != nil { TimelineEntriesGauge.Set(float64(n)) } }

// Inc increments a counter when metrics are registered; tests may run without Init.
func Inc(c prometheus.Counter) { if c != nil { c.Inc() } }

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
    start := time.Now()
    fn()
    d := time.Since(start)
    if obs != nil { obs.Observe(d.Seconds()) }
    return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}
var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context { return context.WithValue(ctx, corrKey, id) }

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
    v := ctx.Value(corrKey)
    if s, ok := v.(string); ok { return s }
    return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
    if id := GetCorrelation(ctx); id != "" { return slog.Default().With(slog.String("corr", id)) }
    return slog.Default()
}
