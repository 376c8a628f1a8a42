// Package permissions grants, revokes and evaluates per-project, per-user
// permission levels with optional expiry.
//
// The engine is the only writer of project_permissions. It does not check
// who is calling; the project service gates mutations on full_access before
// calling Grant or Revoke.
package permissions

import (
	"time"

	"github.com/platinummonkey/setlist/pkg/apperrors"
)

// Level is a per-project capability grade
type Level string

const (
	LevelRead       Level = "read"
	LevelReadNotes  Level = "read_notes"
	LevelReadWrite  Level = "read_write"
	LevelFullAccess Level = "full_access"
)

var levelRank = map[Level]int{
	LevelRead:       0,
	LevelReadNotes:  1,
	LevelReadWrite:  2,
	LevelFullAccess: 3,
}

// IsValid reports whether l is a known level
func (l Level) IsValid() bool {
	_, ok := levelRank[l]
	return ok
}

// CanWrite is true for read_write and full_access
func (l Level) CanWrite() bool {
	return l == LevelReadWrite || l == LevelFullAccess
}

// CanAdminister is true only for full_access: granting, revoking and
// deleting the project
func (l Level) CanAdminister() bool {
	return l == LevelFullAccess
}

// ParseLevel validates a level name
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.IsValid() {
		return "", apperrors.Validation("permissions.ParseLevel", "unknown permission level %q", s)
	}
	return l, nil
}

// ReadLevels allows any grant
func ReadLevels() []Level {
	return []Level{LevelRead, LevelReadNotes, LevelReadWrite, LevelFullAccess}
}

// WriteLevels allows grants that may modify the project
func WriteLevels() []Level {
	return []Level{LevelReadWrite, LevelFullAccess}
}

// AdminLevels allows grants that may manage access and delete the project
func AdminLevels() []Level {
	return []Level{LevelFullAccess}
}

// Permission is one grant of a level on a project to a user
type Permission struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	UserID    string     `json:"user_id"`
	Level     Level      `json:"level"`
	GrantedBy string     `json:"granted_by"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the grant is in force at now. A grant whose
// expiry has been reached counts as absent.
func (p *Permission) ActiveAt(now time.Time) bool {
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

// Allows reports whether the grant's level is one of allowed
func (p *Permission) Allows(allowed []Level) bool {
	for _, l := range allowed {
		if p.Level == l {
			return true
		}
	}
	return false
}
