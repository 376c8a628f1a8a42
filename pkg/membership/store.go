package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/txn"
)

const membershipColumns = `id, account_id, user_id, role, created_at, updated_at`

// PostgreSQL SQLSTATE codes the store translates
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store reads and writes memberships
type Store struct {
	db txn.Querier
}

// NewStore creates a membership store over db
func NewStore(db txn.Querier) *Store {
	return &Store{db: db}
}

func scanMembership(row interface{ Scan(...interface{}) error }) (*Membership, error) {
	m := &Membership{}
	if err := row.Scan(&m.ID, &m.AccountID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// Create adds a user to an account. A second membership for the same pair
// is a conflict.
func (s *Store) Create(ctx context.Context, accountID, userID string, role Role) (*Membership, error) {
	if !role.IsValid() {
		return nil, apperrors.Validation("membership.Create", "unknown membership role %q", role)
	}
	query := `
		INSERT INTO memberships (account_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING ` + membershipColumns
	m, err := scanMembership(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, accountID, userID, role))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch string(pqErr.Code) {
			case uniqueViolation:
				return nil, apperrors.Conflict("membership.Create", "user is already a member of this account")
			case foreignKeyViolation:
				return nil, apperrors.NotFound("membership.Create", "user or account not found")
			}
		}
		return nil, apperrors.Internal("membership.Create", fmt.Errorf("failed to create membership: %w", err))
	}
	return m, nil
}

// FindByUserAndAccount returns the membership for the pair, or nil when the
// user is not a member
func (s *Store) FindByUserAndAccount(ctx context.Context, userID, accountID string) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE user_id = $1 AND account_id = $2`
	m, err := scanMembership(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, userID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("membership.FindByUserAndAccount", fmt.Errorf("failed to get membership: %w", err))
	}
	return m, nil
}

// FindByUserID lists every membership the user holds
func (s *Store) FindByUserID(ctx context.Context, userID string) ([]*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE user_id = $1 ORDER BY created_at ASC`
	return s.list(ctx, "membership.FindByUserID", query, userID)
}

// FindByAccountID lists every member of the account
func (s *Store) FindByAccountID(ctx context.Context, accountID string) ([]*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE account_id = $1 ORDER BY created_at ASC`
	return s.list(ctx, "membership.FindByAccountID", query, accountID)
}

func (s *Store) list(ctx context.Context, op, query string, arg string) ([]*Membership, error) {
	rows, err := txn.QuerierFrom(ctx, s.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, apperrors.Internal(op, fmt.Errorf("failed to list memberships: %w", err))
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, apperrors.Internal(op, fmt.Errorf("failed to scan membership: %w", err))
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(op, err)
	}
	return memberships, nil
}

// UpdateRole changes a member's role within the account
func (s *Store) UpdateRole(ctx context.Context, accountID, userID string, role Role) error {
	if !role.IsValid() {
		return apperrors.Validation("membership.UpdateRole", "unknown membership role %q", role)
	}
	query := `UPDATE memberships SET role = $1, updated_at = now() WHERE account_id = $2 AND user_id = $3`
	result, err := txn.QuerierFrom(ctx, s.db).ExecContext(ctx, query, role, accountID, userID)
	if err != nil {
		return apperrors.Internal("membership.UpdateRole", fmt.Errorf("failed to update membership role: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Internal("membership.UpdateRole", fmt.Errorf("failed to get rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return apperrors.NotFound("membership.UpdateRole", "membership not found")
	}
	return nil
}

// Delete removes a user from an account
func (s *Store) Delete(ctx context.Context, accountID, userID string) error {
	query := `DELETE FROM memberships WHERE account_id = $1 AND user_id = $2`
	result, err := txn.QuerierFrom(ctx, s.db).ExecContext(ctx, query, accountID, userID)
	if err != nil {
		return apperrors.Internal("membership.Delete", fmt.Errorf("failed to delete membership: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Internal("membership.Delete", fmt.Errorf("failed to get rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return apperrors.NotFound("membership.Delete", "membership not found")
	}
	return nil
}
