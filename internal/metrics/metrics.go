package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	uploadsTotal       *prometheus.CounterVec
	uploadBytesTotal   prometheus.Counter
	duplicatesTotal    prometheus.Counter
	expirationsTotal   prometheus.Counter
	sessionsStarted    *prometheus.CounterVec
	sessionsEnded      *prometheus.CounterVec
	cleanupFailures    prometheus.Counter
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	activeSessions     prometheus.Gauge
	pendingTimers      prometheus.Gauge
	indexedHashes      prometheus.Gauge
	marketCacheResults *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_uploads_total",
			Help: "Uploads received, by result",
		}, []string{"result"}),
		uploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_upload_bytes_total",
			Help: "Bytes written to the content store by uploads",
		}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_duplicates_total",
			Help: "Uploads discarded because their content was already stored",
		}),
		expirationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_expirations_total",
			Help: "Assets deleted by the retention window without being streamed",
		}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_started_total",
			Help: "Stream sessions started, by platform",
		}, []string{"platform"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_ended_total",
			Help: "Stream sessions that reached a terminal status",
		}, []string{"status"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_cleanup_failures_total",
			Help: "Video deletions abandoned after every retry failed",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_http_errors_total",
			Help: "HTTP responses with status 4xx or 5xx",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Sessions in starting or live status",
		}),
		pendingTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_pending_timers",
			Help: "Retention and grace timers waiting to fire",
		}),
		indexedHashes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_indexed_hashes",
			Help: "Content hashes held by the dedup index",
		}),
		marketCacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_market_cache_total",
			Help: "Market data lookups, by cache result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.uploadsTotal,
		m.uploadBytesTotal,
		m.duplicatesTotal,
		m.expirationsTotal,
		m.sessionsStarted,
		m.sessionsEnded,
		m.cleanupFailures,
		m.requestsTotal,
		m.errorsTotal,
		m.activeSessions,
		m.pendingTimers,
		m.indexedHashes,
		m.marketCacheResults,
	)
	return m
}

func (m *Metrics) ObserveUpload(result string, bytes int64) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.uploadBytesTotal.Add(float64(bytes))
	}
}

func (m *Metrics) IncDuplicates() {
	if m == nil {
		return
	}
	m.duplicatesTotal.Inc()
}

func (m *Metrics) IncExpirations() {
	if m == nil {
		return
	}
	m.expirationsTotal.Inc()
}

func (m *Metrics) IncSessionsStarted(platform string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(platform).Inc()
}

func (m *Metrics) IncSessionsEnded(status string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(status).Inc()
}

func (m *Metrics) IncCleanupFailures() {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}

func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

func (m *Metrics) ObserveMarketCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.marketCacheResults.WithLabelValues("hit").Inc()
		return
	}
	m.marketCacheResults.WithLabelValues("miss").Inc()
}

// Gauges is the snapshot refreshed before every scrape.
type Gauges struct {
	ActiveSessions int
	PendingTimers  int
	IndexedHashes  int
}

// Handler serves the registry. snapshot, when set, refreshes the gauges on
// every scrape.
func (m *Metrics) Handler(snapshot func() Gauges) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if snapshot != nil {
			g := snapshot()
			m.activeSessions.Set(float64(g.ActiveSessions))
			m.pendingTimers.Set(float64(g.PendingTimers))
			m.indexedHashes.Set(float64(g.IndexedHashes))
		}
		inner.ServeHTTP(w, r)
	})
}
