package roles

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/setlist/pkg/observability"
	"github.com/platinummonkey/setlist/pkg/txn"
	"github.com/platinummonkey/setlist/pkg/users"
)

const roleCachePrefix = "setlist:role:"

// CachedStore fronts another store with a short-lived Redis cache. Redis
// failures fall through to the inner store; they never fail a lookup.
type CachedStore struct {
	inner   Store
	client  *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCachedStore wraps inner with a cache whose entries live for ttl
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl, logger: logger, metrics: metrics}
}

func (s *CachedStore) Name() string { return s.inner.Name() }

func (s *CachedStore) GetRole(ctx context.Context, externalID string) (users.GlobalRole, error) {
	key := roleCachePrefix + externalID

	cached, err := s.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if role := users.GlobalRole(cached); role.IsValid() {
			s.metrics.RecordRoleCache("hit")
			return role, nil
		}
		s.client.Del(ctx, key)
	case errors.Is(err, redis.Nil):
		s.metrics.RecordRoleCache("miss")
	default:
		s.metrics.RecordRoleCache("error")
		s.logger.WithError(err).Warn("role cache read failed")
	}

	role, err := s.inner.GetRole(ctx, externalID)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, key, string(role), s.ttl).Err(); err != nil {
		s.logger.WithError(err).Warn("role cache write failed")
	}
	return role, nil
}

// SetRole writes through to the inner store and drops the cached entry.
// When the write joined a request transaction the entry is dropped again
// after COMMIT, since a reader may have cached the old role in between.
func (s *CachedStore) SetRole(ctx context.Context, externalID string, role users.GlobalRole) error {
	if err := s.inner.SetRole(ctx, externalID, role); err != nil {
		return err
	}
	s.invalidate(ctx, externalID)
	if txn.FromContext(ctx) != nil {
		detached := txn.Detach(ctx)
		txn.AfterCommit(ctx, func() { s.invalidate(detached, externalID) })
	}
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, externalID string) {
	if err := s.client.Del(ctx, roleCachePrefix+externalID).Err(); err != nil {
		s.logger.WithError(err).Warn("role cache invalidation failed")
	}
}
