package observability

import (
	"database/sql"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_TxLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTxStarted()
	m.RecordTxStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TxActive))

	m.RecordTxFinished(TxOutcomeCommit, 10*time.Millisecond)
	m.RecordTxFinished(TxOutcomeRollback, 5*time.Millisecond)
	m.RecordTxBeginFailed()

	assert.Equal(t, float64(0), testutil.ToFloat64(m.TxActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TxTotal.WithLabelValues(TxOutcomeCommit)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TxTotal.WithLabelValues(TxOutcomeRollback)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TxTotal.WithLabelValues(TxOutcomeBeginFailed)))
}

func TestMetrics_Authz(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordAuthzDecision("project_permission", true)
	m.RecordAuthzDecision("project_permission", false)
	m.RecordAuthzDecision("project_permission", false)
	m.RecordTenantBinding("bound")
	m.RecordRoleChange("denied")
	m.RecordRoleCache("hit")
	m.RecordSideChannelFailure("audit")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("project_permission", "allow")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("project_permission", "deny")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TenantBindingsTotal.WithLabelValues("bound")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RoleChangesTotal.WithLabelValues("denied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RoleCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SideChannelFailures.WithLabelValues("audit")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTxStarted()
		m.RecordTxFinished(TxOutcomeCommit, time.Second)
		m.RecordTxBeginFailed()
		m.RecordTenantBinding("bound")
		m.RecordAuthzDecision("x", true)
		m.RecordRoleChange("ok")
		m.RecordRoleCache("miss")
		m.RecordSideChannelFailure("mirror")
		m.UpdateDBStats(sql.DBStats{})
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.UpdateDBStats(sql.DBStats{OpenConnections: 3, InUse: 1, Idle: 2})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "setlist_db_connections_open 3")
	assert.Contains(t, string(body), "setlist_db_connections_in_use 1")
}
