package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Grant mutation metrics
	GrantMutationsTotal *prometheus.CounterVec
	CascadeRowsRemoved  *prometheus.CounterVec
	SessionCommitsTotal *prometheus.CounterVec

	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	PermissionSetsTotal prometheus.Gauge
	ProfilesTotal       prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessdesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessdesk_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		GrantMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessdesk_grant_mutations_total",
				Help: "Structural changes to the grant hierarchy",
			},
			[]string{"operation"},
		),
		CascadeRowsRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessdesk_cascade_rows_removed_total",
				Help: "Rows removed by cascading deletes, by kind",
			},
			[]string{"kind"},
		),
		SessionCommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessdesk_session_commits_total",
				Help: "Staged session commit attempts by outcome",
			},
			[]string{"outcome"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessdesk_resolutions_total",
				Help: "Effective-rights resolutions by kind",
			},
			[]string{"kind"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessdesk_resolution_duration_seconds",
				Help:    "Effective-rights resolution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessdesk_cache_hits_total",
				Help: "Effective-rights cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessdesk_cache_misses_total",
				Help: "Effective-rights cache misses",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessdesk_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessdesk_db_connections_idle",
				Help: "Idle database connections",
			},
		),
		PermissionSetsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessdesk_permission_sets_total",
				Help: "Number of permission sets defined",
			},
		),
		ProfilesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessdesk_profiles_total",
				Help: "Number of profiles defined",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GrantMutationsTotal,
		m.CascadeRowsRemoved,
		m.SessionCommitsTotal,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.PermissionSetsTotal,
		m.ProfilesTotal,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware records request counts and latency per route
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// RecordMutation counts one structural change to the grant hierarchy
func (m *Metrics) RecordMutation(operation string) {
	m.GrantMutationsTotal.WithLabelValues(operation).Inc()
}

// RecordCascade adds a cascade report's row counts to the counters
func (m *Metrics) RecordCascade(tables, fields, profiles, users int) {
	m.CascadeRowsRemoved.WithLabelValues("table_access").Add(float64(tables))
	m.CascadeRowsRemoved.WithLabelValues("field_access").Add(float64(fields))
	m.CascadeRowsRemoved.WithLabelValues("profile_edges").Add(float64(profiles))
	m.CascadeRowsRemoved.WithLabelValues("user_edges").Add(float64(users))
}

// RecordSessionCommit counts a staged-session commit attempt by outcome
func (m *Metrics) RecordSessionCommit(outcome string) {
	m.SessionCommitsTotal.WithLabelValues(outcome).Inc()
}

// RecordResolution counts an effective-rights resolution and its latency
func (m *Metrics) RecordResolution(kind string, duration time.Duration) {
	m.ResolutionsTotal.WithLabelValues(kind).Inc()
	m.ResolutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCacheHit counts an effective-rights cache hit
func (m *Metrics) RecordCacheHit() {
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss counts an effective-rights cache miss
func (m *Metrics) RecordCacheMiss() {
	m.CacheMissesTotal.Inc()
}

// UpdateDBStats copies connection pool stats onto the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}
