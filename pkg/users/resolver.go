package users

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Resolver maps external identities to internal user ids. The mapping never
// changes once a user exists, so it is cached; roles are not.
type Resolver struct {
	store *Store
	cache *expirable.LRU[string, string]
}

// NewResolver creates a resolver caching up to size ids for ttl
func NewResolver(store *Store, size int, ttl time.Duration) *Resolver {
	if size <= 0 {
		size = 10000
	}
	return &Resolver{
		store: store,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// UserID returns the internal id for externalID. A missing user is a
// not_found error and is not cached.
func (r *Resolver) UserID(ctx context.Context, externalID string) (string, error) {
	if id, ok := r.cache.Get(externalID); ok {
		return id, nil
	}

	u, err := r.store.GetByExternalID(ctx, externalID)
	if err != nil {
		return "", err
	}
	r.cache.Add(externalID, u.ID)
	return u.ID, nil
}

// Remember records a mapping learned elsewhere, e.g. from EnsureUser
func (r *Resolver) Remember(u *User) {
	if u != nil && u.ID != "" {
		r.cache.Add(u.ExternalID, u.ID)
	}
}

// Forget drops a cached mapping
func (r *Resolver) Forget(externalID string) {
	r.cache.Remove(externalID)
}
