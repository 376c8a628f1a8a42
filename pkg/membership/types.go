// Package membership records which users belong to which accounts and
// tracks each user's currently active account.
//
// A user can act within an account only if a membership row exists for the
// (account, user) pair. The context store enforces this on every switch.
package membership

import (
	"encoding/json"
	"time"
)

// Role is a user's role within one account
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// IsValid reports whether r is a known membership role
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// Membership authorizes a user to act within an account
type Membership struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserContext is the per-user record of the active account
type UserContext struct {
	UserID           string                 `json:"user_id"`
	CurrentAccountID *string                `json:"current_account_id"`
	LastSwitchedAt   time.Time              `json:"last_switched_at"`
	Data             map[string]interface{} `json:"context_data"`
}

func encodeData(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	return json.Marshal(data)
}

func decodeData(raw []byte) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
