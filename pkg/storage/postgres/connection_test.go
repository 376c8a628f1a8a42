package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/setlist/pkg/observability"
)

func TestOpen_UnreachableDatabase(t *testing.T) {
	config := ConnectionConfig{
		URL:         "postgres://nonexistent:9999/testdb?connect_timeout=1",
		MaxConns:    10,
		MinConns:    2,
		Timeout:     2 * time.Second,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}

	db, err := Open(config)
	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestConfigurePool(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	configurePool(db, ConnectionConfig{MaxConns: 7, MinConns: 2})
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
}

func TestStartStatsRoutine(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	metrics := observability.NewMetrics(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartStatsRoutine(ctx, db, metrics, observability.NopLogger(), 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DBConnectionsOpen) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaDeclaresUniqueness(t *testing.T) {
	schema := Schema()
	for _, fragment := range []string{
		"external_id TEXT NOT NULL UNIQUE",
		"UNIQUE (account_id, user_id)",
		"UNIQUE (project_id, user_id)",
		"current_setting('app.current_account_id', true)",
	} {
		assert.True(t, strings.Contains(schema, fragment), fragment)
	}
}
