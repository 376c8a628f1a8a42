package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/setlist/pkg/txn"
	"github.com/platinummonkey/setlist/pkg/users"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCachedStore_ReadThrough(t *testing.T) {
	mr, client := setupRedis(t)
	inner := newMemStore("managed", map[string]users.GlobalRole{"ext_1": users.RoleAdmin})
	store := NewCachedStore(inner, client, time.Minute, nil, nil)
	ctx := context.Background()

	role, err := store.GetRole(ctx, "ext_1")
	require.NoError(t, err)
	assert.Equal(t, users.RoleAdmin, role)

	role, err = store.GetRole(ctx, "ext_1")
	require.NoError(t, err)
	assert.Equal(t, users.RoleAdmin, role)
	assert.Equal(t, 1, inner.gets)

	cached, err := mr.Get(roleCachePrefix + "ext_1")
	require.NoError(t, err)
	assert.Equal(t, "admin", cached)

	mr.FastForward(2 * time.Minute)
	_, err = store.GetRole(ctx, "ext_1")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.gets)
}

func TestCachedStore_SetRoleInvalidates(t *testing.T) {
	mr, client := setupRedis(t)
	inner := newMemStore("managed", map[string]users.GlobalRole{"ext_1": users.RoleAdmin})
	store := NewCachedStore(inner, client, time.Minute, nil, nil)
	ctx := context.Background()

	_, err := store.GetRole(ctx, "ext_1")
	require.NoError(t, err)

	require.NoError(t, store.SetRole(ctx, "ext_1", users.RoleUser))
	assert.False(t, mr.Exists(roleCachePrefix+"ext_1"))

	role, err := store.GetRole(ctx, "ext_1")
	require.NoError(t, err)
	assert.Equal(t, users.RoleUser, role)
}

func TestCachedStore_RedisDownFallsThrough(t *testing.T) {
	mr, client := setupRedis(t)
	inner := newMemStore("managed", map[string]users.GlobalRole{"ext_1": users.RoleSupport})
	store := NewCachedStore(inner, client, time.Minute, nil, nil)
	mr.Close()

	role, err := store.GetRole(context.Background(), "ext_1")
	require.NoError(t, err)
	assert.Equal(t, users.RoleSupport, role)
}

func TestCachedStore_IgnoresGarbageEntries(t *testing.T) {
	mr, client := setupRedis(t)
	inner := newMemStore("managed", map[string]users.GlobalRole{"ext_1": users.RoleSupport})
	store := NewCachedStore(inner, client, time.Minute, nil, nil)
	require.NoError(t, mr.Set(roleCachePrefix+"ext_1", "root"))

	role, err := store.GetRole(context.Background(), "ext_1")
	require.NoError(t, err)
	assert.Equal(t, users.RoleSupport, role)
	assert.Equal(t, 1, inner.gets)
}

func TestCachedStore_SetRoleInvalidatesAgainAfterCommit(t *testing.T) {
	mr, client := setupRedis(t)
	inner := newMemStore("local", map[string]users.GlobalRole{"ext_1": users.RoleAdmin})
	store := NewCachedStore(inner, client, time.Minute, nil, nil)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	err = txn.RunInTx(context.Background(), db, func(ctx context.Context) error {
		if err := store.SetRole(ctx, "ext_1", users.RoleUser); err != nil {
			return err
		}
		// A reader outside the transaction still sees the old row and caches it
		return mr.Set(roleCachePrefix+"ext_1", "admin")
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(roleCachePrefix+"ext_1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedStore_RollbackSkipsSecondInvalidation(t *testing.T) {
	mr, client := setupRedis(t)
	inner := newMemStore("local", map[string]users.GlobalRole{"ext_1": users.RoleAdmin})
	store := NewCachedStore(inner, client, time.Minute, nil, nil)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = txn.RunInTx(context.Background(), db, func(ctx context.Context) error {
		require.NoError(t, store.SetRole(ctx, "ext_1", users.RoleUser))
		require.NoError(t, mr.Set(roleCachePrefix+"ext_1", "admin"))
		return errors.New("handler failed")
	})
	require.Error(t, err)
	assert.True(t, mr.Exists(roleCachePrefix+"ext_1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
