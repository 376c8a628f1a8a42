package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestDBSink_LogRoleChange(t *testing.T) {
	db, mock := setupMockDB(t)
	event := sampleEvent()

	mock.ExpectExec("INSERT INTO role_audit_events").
		WithArgs("ext_admin", "ext_target", "user", "support", "on-call rotation", event.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewDBSink(db).LogRoleChange(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBSink_LogRoleChangeError(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectExec("INSERT INTO role_audit_events").
		WillReturnError(errors.New("relation does not exist"))

	err := NewDBSink(db).LogRoleChange(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "failed to insert role audit event")
}

func TestDBSink_ListByTarget(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM role_audit_events WHERE target_id = \\$1").
		WithArgs("ext_target", 100).
		WillReturnRows(sqlmock.NewRows([]string{"actor_id", "target_id", "old_role", "new_role", "reason", "created_at"}).
			AddRow("ext_root", "ext_target", "support", "admin", "", now).
			AddRow("ext_admin", "ext_target", "user", "support", "on-call", now.Add(-time.Hour)))

	events, err := NewDBSink(db).ListByTarget(context.Background(), "ext_target", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "admin", events[0].NewRole)
	assert.NoError(t, mock.ExpectationsWereMet())
}
