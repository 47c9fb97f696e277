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
	EventsReceived  prometheus.Counter
	EventsDropped   prometheus.Counter
	EventsProcessed prometheus.Counter
	EventsFailed    prometheus.Counter
	CommandsHandled prometheus.Counter
	ItemsAppended   prometheus.Counter
	RPCCalls        prometheus.Counter
	RPCTimeouts     prometheus.Counter
	RPCFailures     prometheus.Counter
	Reconnects      prometheus.Counter

	// Histograms (seconds)
	RPCDuration   prometheus.Observer
	EventDuration prometheus.Observer

	// Gauges
	QueueDepthGauge prometheus.Gauge
	ConnectedGauge  *prometheus.GaugeVec // per bot, 1=connected 0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_events_received_total", Help: "Platform message events read from the connection"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_events_dropped_total", Help: "Events dropped because the ingestion queue was full"})
		EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_events_processed_total", Help: "Events drained by the ingestion pipeline"})
		EventsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_events_failed_total", Help: "Events whose handler returned an error"})
		CommandsHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_commands_handled_total", Help: "Recognized control commands executed"})
		ItemsAppended = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_items_appended_total", Help: "Captured items appended to logs"})
		RPCCalls = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_rpc_calls_total", Help: "Outbound API calls issued"})
		RPCTimeouts = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_rpc_timeouts_total", Help: "Outbound API calls that timed out"})
		RPCFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_rpc_failures_total", Help: "Outbound API calls that failed (non-timeout)"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "fwlog_reconnects_total", Help: "Websocket connection (re)establishments"})
		RPCDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "fwlog_rpc_duration_seconds", Help: "Outbound API call duration seconds", Buckets: prometheus.DefBuckets})
		EventDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "fwlog_event_duration_seconds", Help: "Per-event handling duration seconds", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "fwlog_event_queue_depth", Help: "Events waiting in the ingestion queue"})
		ConnectedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "fwlog_bot_connected", Help: "Per-bot connection state, 1=connected"}, []string{"bot"})
	})
}

// SetQueueDepth records the current ingestion queue length.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetConnected records a bot's connection state.
func SetConnected(bot string, up bool) {
	if ConnectedGauge != nil {
		v := 0.0
		if up {
			v = 1
		}
		ConnectedGauge.WithLabelValues(bot).Set(v)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
