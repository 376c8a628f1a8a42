package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transaction outcomes recorded by the lifecycle manager
const (
	TxOutcomeCommit         = "commit"
	TxOutcomeRollback       = "rollback"
	TxOutcomeBeginFailed    = "begin_failed"
	TxOutcomeCommitFailed   = "commit_failed"
	TxOutcomeRollbackFailed = "rollback_failed"
)

// Metrics holds all Prometheus metrics. Every recording method is safe to
// call on a nil *Metrics so components can treat metrics as optional.
type Metrics struct {
	registry *prometheus.Registry

	// Transaction lifecycle
	TxTotal    *prometheus.CounterVec
	TxDuration *prometheus.HistogramVec
	TxActive   prometheus.Gauge

	// Authorization
	TenantBindingsTotal *prometheus.CounterVec
	AuthzDecisionsTotal *prometheus.CounterVec
	RoleChangesTotal    *prometheus.CounterVec
	RoleCacheTotal      *prometheus.CounterVec
	SideChannelFailures *prometheus.CounterVec

	// Database pool
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		TxTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlist_request_transactions_total",
				Help: "Request transactions by final outcome",
			},
			[]string{"outcome"},
		),
		TxDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "setlist_request_transaction_duration_seconds",
				Help:    "Time from BEGIN to COMMIT/ROLLBACK",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		TxActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "setlist_request_transactions_active",
			Help: "Request transactions currently holding a pooled connection",
		}),
		TenantBindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlist_tenant_bindings_total",
				Help: "Tenant binding attempts by result",
			},
			[]string{"result"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlist_authz_decisions_total",
				Help: "Authorization decisions by check and result",
			},
			[]string{"check", "result"},
		),
		RoleChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlist_role_changes_total",
				Help: "Global role change attempts by result",
			},
			[]string{"result"},
		),
		RoleCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlist_role_cache_lookups_total",
				Help: "Role cache lookups by result",
			},
			[]string{"result"},
		),
		SideChannelFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlist_side_channel_failures_total",
				Help: "Swallowed failures of best-effort side channels",
			},
			[]string{"channel"},
		),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "setlist_db_connections_open",
			Help: "Open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "setlist_db_connections_in_use",
			Help: "Database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "setlist_db_connections_idle",
			Help: "Idle database connections",
		}),
		DBWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "setlist_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
	}

	registry.MustRegister(
		m.TxTotal,
		m.TxDuration,
		m.TxActive,
		m.TenantBindingsTotal,
		m.AuthzDecisionsTotal,
		m.RoleChangesTotal,
		m.RoleCacheTotal,
		m.SideChannelFailures,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTxStarted marks a connection as held by a request transaction
func (m *Metrics) RecordTxStarted() {
	if m == nil {
		return
	}
	m.TxActive.Inc()
}

// RecordTxFinished records the outcome of a request transaction and releases
// the active gauge
func (m *Metrics) RecordTxFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TxActive.Dec()
	m.TxTotal.WithLabelValues(outcome).Inc()
	m.TxDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordTxBeginFailed records a BEGIN failure; no transaction was active
func (m *Metrics) RecordTxBeginFailed() {
	if m == nil {
		return
	}
	m.TxTotal.WithLabelValues(TxOutcomeBeginFailed).Inc()
}

// RecordTenantBinding records one tenant binder decision
func (m *Metrics) RecordTenantBinding(result string) {
	if m == nil {
		return
	}
	m.TenantBindingsTotal.WithLabelValues(result).Inc()
}

// RecordAuthzDecision records one allow/deny decision
func (m *Metrics) RecordAuthzDecision(check string, allowed bool) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(check, result).Inc()
}

// RecordRoleChange records a role change attempt
func (m *Metrics) RecordRoleChange(result string) {
	if m == nil {
		return
	}
	m.RoleChangesTotal.WithLabelValues(result).Inc()
}

// RecordRoleCache records a role cache lookup
func (m *Metrics) RecordRoleCache(result string) {
	if m == nil {
		return
	}
	m.RoleCacheTotal.WithLabelValues(result).Inc()
}

// RecordSideChannelFailure records a swallowed audit or mirror failure
func (m *Metrics) RecordSideChannelFailure(channel string) {
	if m == nil {
		return
	}
	m.SideChannelFailures.WithLabelValues(channel).Inc()
}

// UpdateDBStats copies pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}
