package roles

import (
	"context"

	"github.com/platinummonkey/setlist/pkg/users"
)

// Store is one backing store for global roles, keyed by external identity
type Store interface {
	// Name identifies the store in logs and metrics
	Name() string
	GetRole(ctx context.Context, externalID string) (users.GlobalRole, error)
	SetRole(ctx context.Context, externalID string, role users.GlobalRole) error
}

// LocalStore keeps roles on the users table. Writes join the request
// transaction when one is bound to the context.
type LocalStore struct {
	users *users.Store
}

// NewLocalStore creates a role store over the users table
func NewLocalStore(store *users.Store) *LocalStore {
	return &LocalStore{users: store}
}

func (s *LocalStore) Name() string { return "local" }

func (s *LocalStore) GetRole(ctx context.Context, externalID string) (users.GlobalRole, error) {
	return s.users.GetRole(ctx, externalID)
}

func (s *LocalStore) SetRole(ctx context.Context, externalID string, role users.GlobalRole) error {
	return s.users.UpdateRole(ctx, externalID, role)
}
