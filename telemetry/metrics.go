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
	SweepsTotal         prometheus.Counter
	LookupFailures      *prometheus.CounterVec // label: class
	AnnouncementsSent   prometheus.Counter
	AnnouncementsFailed prometheus.Counter
	StateTransitions    *prometheus.CounterVec // label: transition
	PersistFailures     prometheus.Counter
	CommandsTotal       *prometheus.CounterVec // labels: command, result

	// Histograms (seconds)
	SweepDuration  prometheus.Observer
	LookupDuration prometheus.Observer

	// Gauges
	SubscriptionsGauge prometheus.Gauge
	LastSweepGauge     prometheus.Gauge // unix seconds of the last completed sweep
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "notifier_sweeps_total", Help: "Number of completed live-detection sweeps"})
		LookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "notifier_lookup_failures_total", Help: "Stream lookups that failed, by error class"}, []string{"class"})
		AnnouncementsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "notifier_announcements_sent_total", Help: "Go-live announcements delivered"})
		AnnouncementsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "notifier_announcements_failed_total", Help: "Go-live announcements that could not be delivered"})
		StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "notifier_state_transitions_total", Help: "Subscription state transitions"}, []string{"transition"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "notifier_persist_failures_total", Help: "Failed writes of the last stream marker"})
		CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "notifier_commands_total", Help: "Follow/unfollow/list commands handled"}, []string{"command", "result"})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "notifier_sweep_duration_seconds", Help: "Duration of one full sweep", Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60}})
		LookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "notifier_lookup_duration_seconds", Help: "Duration of a single stream lookup", Buckets: prometheus.DefBuckets})
		SubscriptionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "notifier_subscriptions", Help: "Subscriptions seen by the last sweep"})
		LastSweepGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "notifier_last_sweep_timestamp_seconds", Help: "Unix time of the last completed sweep"})
	})
}

// RecordLookupFailure counts a failed lookup under its error class.
func RecordLookupFailure(class string) {
	if LookupFailures != nil {
		LookupFailures.WithLabelValues(class).Inc()
	}
}

// RecordAnnouncement counts a delivery attempt.
func RecordAnnouncement(ok bool) {
	if ok {
		if AnnouncementsSent != nil {
			AnnouncementsSent.Inc()
		}
		return
	}
	if AnnouncementsFailed != nil {
		AnnouncementsFailed.Inc()
	}
}

// RecordTransition counts a state change ("live" or "offline").
func RecordTransition(kind string) {
	if StateTransitions != nil {
		StateTransitions.WithLabelValues(kind).Inc()
	}
}

// RecordPersistFailure counts a failed marker write.
func RecordPersistFailure() {
	if PersistFailures != nil {
		PersistFailures.Inc()
	}
}

// RecordCommand counts a handled command with its outcome.
func RecordCommand(command, result string) {
	if CommandsTotal != nil {
		CommandsTotal.WithLabelValues(command, result).Inc()
	}
}

// RecordSweep updates the sweep counters and gauges.
func RecordSweep(subscriptions int, at time.Time) {
	if SweepsTotal != nil {
		SweepsTotal.Inc()
	}
	if SubscriptionsGauge != nil {
		SubscriptionsGauge.Set(float64(subscriptions))
	}
	if LastSweepGauge != nil {
		LastSweepGauge.Set(float64(at.Unix()))
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

// WithCorrelation returns a new context embedding the correlation id.
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
