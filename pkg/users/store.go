package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/txn"
)

const userColumns = `id, external_id, email, role, created_at, updated_at`

// Store reads and writes users. Queries run inside the request transaction
// when one is bound to the context.
type Store struct {
	db txn.Querier
}

// NewStore creates a user store over db
func NewStore(db txn.Querier) *Store {
	return &Store{db: db}
}

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	u := &User{}
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// GetByID retrieves a user by internal id
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("users.GetByID", "user not found")
	}
	if err != nil {
		return nil, apperrors.Internal("users.GetByID", fmt.Errorf("failed to get user: %w", err))
	}
	return u, nil
}

// GetByExternalID retrieves a user by identity provider reference
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`
	u, err := scanUser(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("users.GetByExternalID", "user not found")
	}
	if err != nil {
		return nil, apperrors.Internal("users.GetByExternalID", fmt.Errorf("failed to get user: %w", err))
	}
	return u, nil
}

// EnsureUser creates the user on first sight of an external identity and
// refreshes the email on later sightings. The role of an existing user is
// never touched here.
func (s *Store) EnsureUser(ctx context.Context, externalID, email string) (*User, error) {
	if externalID == "" {
		return nil, apperrors.Validation("users.EnsureUser", "external id is required")
	}
	query := `
		INSERT INTO users (external_id, email, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id) DO UPDATE
		SET email = CASE WHEN EXCLUDED.email = '' THEN users.email ELSE EXCLUDED.email END,
		    updated_at = CASE WHEN EXCLUDED.email IN ('', users.email) THEN users.updated_at ELSE now() END
		RETURNING ` + userColumns
	u, err := scanUser(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, externalID, email, RoleUser))
	if err != nil {
		return nil, apperrors.Internal("users.EnsureUser", fmt.Errorf("failed to ensure user: %w", err))
	}
	return u, nil
}

// GetRole returns the stored role for an external identity
func (s *Store) GetRole(ctx context.Context, externalID string) (GlobalRole, error) {
	var role GlobalRole
	query := `SELECT role FROM users WHERE external_id = $1`
	err := txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, externalID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.NotFound("users.GetRole", "user not found")
	}
	if err != nil {
		return "", apperrors.Internal("users.GetRole", fmt.Errorf("failed to get role: %w", err))
	}
	return role, nil
}

// UpdateRole sets the global role of the user with the given external id
func (s *Store) UpdateRole(ctx context.Context, externalID string, role GlobalRole) error {
	if !role.IsValid() {
		return apperrors.Validation("users.UpdateRole", "unknown role %q", role)
	}
	query := `UPDATE users SET role = $1, updated_at = now() WHERE external_id = $2`
	result, err := txn.QuerierFrom(ctx, s.db).ExecContext(ctx, query, role, externalID)
	if err != nil {
		return apperrors.Internal("users.UpdateRole", fmt.Errorf("failed to update role: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Internal("users.UpdateRole", fmt.Errorf("failed to get rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return apperrors.NotFound("users.UpdateRole", "user not found")
	}
	return nil
}
