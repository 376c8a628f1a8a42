package roles

import (
	"context"
	"sync"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/audit"
	"github.com/platinummonkey/setlist/pkg/users"
)

type memStore struct {
	mu     sync.Mutex
	name   string
	roles  map[string]users.GlobalRole
	getErr error
	setErr error
	sets   int
	gets   int
}

func newMemStore(name string, roles map[string]users.GlobalRole) *memStore {
	if roles == nil {
		roles = map[string]users.GlobalRole{}
	}
	return &memStore{name: name, roles: roles}
}

func (s *memStore) Name() string { return s.name }

func (s *memStore) GetRole(ctx context.Context, externalID string) (users.GlobalRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return "", s.getErr
	}
	role, ok := s.roles[externalID]
	if !ok {
		return "", apperrors.NotFound("memStore.GetRole", "user not found")
	}
	return role, nil
}

func (s *memStore) SetRole(ctx context.Context, externalID string, role users.GlobalRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.roles[externalID] = role
	return nil
}

func (s *memStore) role(externalID string) users.GlobalRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[externalID]
}

type recordingSink struct {
	events []*audit.RoleAuditEvent
	err    error
	ctxErr error
}

func (s *recordingSink) LogRoleChange(ctx context.Context, event *audit.RoleAuditEvent) error {
	s.ctxErr = ctx.Err()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}
