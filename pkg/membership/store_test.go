package membership

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/setlist/pkg/apperrors"
)

var membershipCols = []string{"id", "account_id", "user_id", "role", "created_at", "updated_at"}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestStore_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs("acct-a", "user-u", RoleMember).
		WillReturnRows(sqlmock.NewRows(membershipCols).AddRow("m-1", "acct-a", "user-u", "member", now, now))

	m, err := NewStore(db).Create(context.Background(), "acct-a", "user-u", RoleMember)
	require.NoError(t, err)
	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, RoleMember, m.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateDuplicateIsConflict(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs("acct-a", "user-u", RoleOwner).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := NewStore(db).Create(context.Background(), "acct-a", "user-u", RoleOwner)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestStore_CreateUnknownUserOrAccountIsNotFound(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs("acct-a", "user-missing", RoleMember).
		WillReturnError(&pq.Error{Code: "23503", Message: "insert or update on table \"memberships\" violates foreign key constraint"})

	_, err := NewStore(db).Create(context.Background(), "acct-a", "user-missing", RoleMember)
	assert.True(t, apperrors.IsNotFound(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRejectsUnknownRole(t *testing.T) {
	db, _ := setupMockDB(t)
	_, err := NewStore(db).Create(context.Background(), "acct-a", "user-u", Role("guest"))
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestStore_FindByUserAndAccount(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Now()
	store := NewStore(db)

	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id = \\$1 AND account_id = \\$2").
		WithArgs("user-u", "acct-b").
		WillReturnRows(sqlmock.NewRows(membershipCols).AddRow("m-2", "acct-b", "user-u", "owner", now, now))
	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id = \\$1 AND account_id = \\$2").
		WithArgs("user-u", "acct-z").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id = \\$1 AND account_id = \\$2").
		WithArgs("user-u", "acct-x").
		WillReturnError(errors.New("connection reset"))

	m, err := store.FindByUserAndAccount(context.Background(), "user-u", "acct-b")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, m.Role)

	m, err = store.FindByUserAndAccount(context.Background(), "user-u", "acct-z")
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = store.FindByUserAndAccount(context.Background(), "user-u", "acct-x")
	assert.True(t, apperrors.IsKind(err, apperrors.KindInternal))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindByUserIDAndAccountID(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Now()
	store := NewStore(db)

	mock.ExpectQuery("FROM memberships WHERE user_id = \\$1 ORDER BY").
		WithArgs("user-u").
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow("m-1", "acct-a", "user-u", "member", now, now).
			AddRow("m-2", "acct-b", "user-u", "owner", now, now))
	mock.ExpectQuery("FROM memberships WHERE account_id = \\$1 ORDER BY").
		WithArgs("acct-b").
		WillReturnRows(sqlmock.NewRows(membershipCols))

	byUser, err := store.FindByUserID(context.Background(), "user-u")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byAccount, err := store.FindByAccountID(context.Background(), "acct-b")
	require.NoError(t, err)
	assert.Empty(t, byAccount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateRoleAndDelete(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectExec("UPDATE memberships SET role = \\$1").
		WithArgs(RoleAdmin, "acct-a", "user-u").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM memberships").
		WithArgs("acct-a", "user-u").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM memberships").
		WithArgs("acct-a", "user-u").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.UpdateRole(context.Background(), "acct-a", "user-u", RoleAdmin))
	require.NoError(t, store.Delete(context.Background(), "acct-a", "user-u"))
	assert.True(t, apperrors.IsNotFound(store.Delete(context.Background(), "acct-a", "user-u")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
