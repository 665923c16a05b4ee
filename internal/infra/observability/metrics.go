package observability

import (
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the marketplace API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	badgeFallbacks    prometheus.Counter
	reconciliations   *prometheus.CounterVec
	realtimeEvents    *prometheus.CounterVec
	notificationsSent *prometheus.CounterVec
	notifySuppressed  *prometheus.CounterVec
	badgeSubscribers  prometheus.Gauge
	retentionPurged   prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "market_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		badgeFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "market_badge_fallback_scans_total",
				Help: "Badge counts computed by the local scan because the RPC failed.",
			},
		),
		reconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_badge_reconciliations_total",
				Help: "Badge reconciliations by outcome.",
			},
			[]string{"result"},
		),
		realtimeEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_realtime_events_total",
				Help: "Realtime change events received.",
			},
			[]string{"table", "type"},
		),
		notificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_notifications_sent_total",
				Help: "Notifications created by type.",
			},
			[]string{"type"},
		),
		notifySuppressed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_notify_suppressed_total",
				Help: "Message notifications not created, by reason.",
			},
			[]string{"reason"},
		),
		badgeSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "market_badge_subscribers",
				Help: "Open badge streams.",
			},
		),
		retentionPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "market_notifications_purged_total",
				Help: "Read notifications deleted by the retention job.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

func (m *Metrics) IncrBadgeFallback() {
	m.badgeFallbacks.Inc()
}

// IncrReconciliation records a reconcile outcome: unchanged, corrected or error.
func (m *Metrics) IncrReconciliation(result string) {
	m.reconciliations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrRealtimeEvent(table, changeType string) {
	m.realtimeEvents.WithLabelValues(table, changeType).Inc()
}

func (m *Metrics) IncrNotificationSent(notifType string) {
	m.notificationsSent.WithLabelValues(notifType).Inc()
}

// IncrNotifySuppressed records a skipped message notification: collapsed or rate_limited.
func (m *Metrics) IncrNotifySuppressed(reason string) {
	m.notifySuppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetBadgeSubscribers(n int) {
	m.badgeSubscribers.Set(float64(n))
}

func (m *Metrics) AddRetentionPurged(n int) {
	m.retentionPurged.Add(float64(n))
}

// Snapshot returns the runtime section of GET /v1/admin/dashboard.
func (m *Metrics) Snapshot() domain.RuntimeMetrics {
	hits := getCounterValue(m.cacheHits, "badges")
	misses := getCounterValue(m.cacheMisses, "badges")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return domain.RuntimeMetrics{
		BadgeSubscribers:    int(gaugeValue(m.badgeSubscribers)),
		RealtimeEvents:      sumCounterVec(m.realtimeEvents),
		BadgeFallbacks:      counterValue(m.badgeFallbacks),
		Reconciliations:     sumCounterVec(m.reconciliations),
		NotificationsSent:   sumCounterVec(m.notificationsSent),
		NotifySuppressed:    sumCounterVec(m.notifySuppressed),
		BadgeCacheHitRate:   hitRate,
		ExternalErrorsTotal: sumCounterVec(m.externalErrors),
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return counterValue(cv.WithLabelValues(label))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	if m.Gauge != nil && m.Gauge.Value != nil {
		return *m.Gauge.Value
	}
	return 0
}

// sumCounterVec adds up every child series of a CounterVec.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	total := 0.0
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			continue
		}
		if m.Counter != nil && m.Counter.Value != nil {
			total += *m.Counter.Value
		}
	}
	return total
}
