// Package accounts stores tenants. Every tenant-scoped row is reachable only
// through an account.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/txn"
)

// Plan is an account's billing plan
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Status is an account's lifecycle state
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Account is a tenant boundary
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Plan        Plan      `json:"plan"`
	Status      Status    `json:"status"`
	ParentOrgID *string   `json:"parent_org_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateAccountRequest holds the fields for a new account
type CreateAccountRequest struct {
	Name        string  `json:"name"`
	Plan        Plan    `json:"plan"`
	ParentOrgID *string `json:"parent_org_id,omitempty"`
}

// Validate checks the request and fills defaults
func (r *CreateAccountRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return apperrors.Validation("accounts.Create", "name is required")
	}
	if r.Plan == "" {
		r.Plan = PlanFree
	}
	switch r.Plan {
	case PlanFree, PlanPro, PlanEnterprise:
	default:
		return apperrors.Validation("accounts.Create", "unknown plan %q", r.Plan)
	}
	return nil
}

const accountColumns = `id, name, plan, status, parent_org_id, created_at, updated_at`

// Store reads and writes accounts
type Store struct {
	db txn.Querier
}

// NewStore creates an account store over db
func NewStore(db txn.Querier) *Store {
	return &Store{db: db}
}

func scanAccount(row interface{ Scan(...interface{}) error }) (*Account, error) {
	a := &Account{}
	var parent sql.NullString
	if err := row.Scan(&a.ID, &a.Name, &a.Plan, &a.Status, &parent, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if parent.Valid {
		a.ParentOrgID = &parent.String
	}
	return a, nil
}

// Create inserts a new active account
func (s *Store) Create(ctx context.Context, req *CreateAccountRequest) (*Account, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	query := `
		INSERT INTO accounts (name, plan, status, parent_org_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + accountColumns
	a, err := scanAccount(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, req.Name, req.Plan, StatusActive, req.ParentOrgID))
	if err != nil {
		return nil, apperrors.Internal("accounts.Create", fmt.Errorf("failed to create account: %w", err))
	}
	return a, nil
}

// Get retrieves an account by id
func (s *Store) Get(ctx context.Context, id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("accounts.Get", "account not found")
	}
	if err != nil {
		return nil, apperrors.Internal("accounts.Get", fmt.Errorf("failed to get account: %w", err))
	}
	return a, nil
}

// ListForUser returns the accounts the user holds a membership in
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Account, error) {
	query := `
		SELECT a.id, a.name, a.plan, a.status, a.parent_org_id, a.created_at, a.updated_at
		FROM accounts a
		JOIN memberships m ON m.account_id = a.id
		WHERE m.user_id = $1 AND a.status <> 'deleted'
		ORDER BY a.name ASC
	`
	rows, err := txn.QuerierFrom(ctx, s.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Internal("accounts.ListForUser", fmt.Errorf("failed to list accounts: %w", err))
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, apperrors.Internal("accounts.ListForUser", fmt.Errorf("failed to scan account: %w", err))
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("accounts.ListForUser", err)
	}
	return accounts, nil
}
