package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/txn"
)

// MembershipFinder is the lookup the context store validates switches with
type MembershipFinder interface {
	FindByUserAndAccount(ctx context.Context, userID, accountID string) (*Membership, error)
}

// ContextStore owns the user_context table
type ContextStore struct {
	db          txn.Querier
	memberships MembershipFinder
}

// NewContextStore creates a context store that validates switches against
// memberships
func NewContextStore(db txn.Querier, memberships MembershipFinder) *ContextStore {
	return &ContextStore{db: db, memberships: memberships}
}

// Upsert switches the user's current account to accountID and shallow-merges
// extra into the stored context data: keys in extra overwrite keys of the
// same name, other keys are kept.
//
// The membership is checked first. Without one the call fails with
// forbidden and the stored context is left untouched.
func (s *ContextStore) Upsert(ctx context.Context, userID, accountID string, extra map[string]interface{}) (*UserContext, error) {
	parsed, err := uuid.Parse(accountID)
	if err != nil {
		return nil, apperrors.Validation("membership.ContextStore.Upsert", "invalid account id %q", accountID)
	}
	accountID = parsed.String()

	m, err := s.memberships.FindByUserAndAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperrors.Forbidden("membership.ContextStore.Upsert", "not a member of the target account")
	}

	payload, err := encodeData(extra)
	if err != nil {
		return nil, apperrors.Validation("membership.ContextStore.Upsert", "context data is not serializable: %v", err)
	}

	query := `
		INSERT INTO user_context (user_id, current_account_id, last_switched_at, context_data)
		VALUES ($1, $2, now(), $3::jsonb)
		ON CONFLICT (user_id) DO UPDATE
		SET current_account_id = EXCLUDED.current_account_id,
		    last_switched_at = now(),
		    context_data = user_context.context_data || EXCLUDED.context_data
		RETURNING user_id, current_account_id, last_switched_at, context_data
	`
	uc, err := scanContext(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, userID, accountID, string(payload)))
	if err != nil {
		return nil, apperrors.Internal("membership.ContextStore.Upsert", fmt.Errorf("failed to upsert user context: %w", err))
	}
	return uc, nil
}

// Get returns the user's context, not_found when the user never switched
func (s *ContextStore) Get(ctx context.Context, userID string) (*UserContext, error) {
	query := `SELECT user_id, current_account_id, last_switched_at, context_data FROM user_context WHERE user_id = $1`
	uc, err := scanContext(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("membership.ContextStore.Get", "no context for user")
	}
	if err != nil {
		return nil, apperrors.Internal("membership.ContextStore.Get", fmt.Errorf("failed to get user context: %w", err))
	}
	return uc, nil
}

// CurrentAccount returns the active account id, or "" when none is set
func (s *ContextStore) CurrentAccount(ctx context.Context, userID string) (string, error) {
	uc, err := s.Get(ctx, userID)
	if apperrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if uc.CurrentAccountID == nil {
		return "", nil
	}
	return *uc.CurrentAccountID, nil
}

func scanContext(row interface{ Scan(...interface{}) error }) (*UserContext, error) {
	uc := &UserContext{}
	var current sql.NullString
	var raw []byte
	if err := row.Scan(&uc.UserID, &current, &uc.LastSwitchedAt, &raw); err != nil {
		return nil, err
	}
	if current.Valid {
		uc.CurrentAccountID = &current.String
	}
	data, err := decodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode context data: %w", err)
	}
	uc.Data = data
	return uc, nil
}
