// Package projects is the project service. It owns project rows and asks the
// permission engine before every read or mutation.
//
// Every operation runs inside the bound tenant: projects are filtered by the
// bound account id and, in Postgres, by row level security as well.
// Creating a project grants its creator full_access in the same transaction
// so no project is ever left without an administrator.
package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/permissions"
	"github.com/platinummonkey/setlist/pkg/tenant"
	"github.com/platinummonkey/setlist/pkg/txn"
)

const projectColumns = `id, account_id, name, description, created_by, created_at, updated_at`

// Project is a tenant-scoped workspace
type Project struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateProjectRequest holds the fields for a new project
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpdateProjectRequest changes the non-nil fields
type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// GrantAccessRequest gives a user a level on a project
type GrantAccessRequest struct {
	UserID    string            `json:"user_id"`
	Level     permissions.Level `json:"level"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// Database is what the service needs from the pool: queries outside a
// request and transactions for multi-statement operations
type Database interface {
	txn.Querier
	txn.Beginner
}

// Service implements project operations
type Service struct {
	db          Database
	permissions *permissions.Engine
}

// NewService creates a project service
func NewService(db Database, engine *permissions.Engine) *Service {
	return &Service{db: db, permissions: engine}
}

func scanProject(row interface{ Scan(...interface{}) error }) (*Project, error) {
	p := &Project{}
	if err := row.Scan(&p.ID, &p.AccountID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts the project in the bound account and grants the creator
// full_access atomically
func (s *Service) Create(ctx context.Context, callerID string, req CreateProjectRequest) (*Project, error) {
	accountID, err := tenant.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("projects.Create", "name is required")
	}

	var project *Project
	err = txn.RunInTx(ctx, s.db, func(ctx context.Context) error {
		query := `
			INSERT INTO projects (account_id, name, description, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING ` + projectColumns
		p, err := scanProject(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, accountID, name, req.Description, callerID))
		if err != nil {
			return apperrors.Internal("projects.Create", fmt.Errorf("failed to create project: %w", err))
		}

		if _, err := s.permissions.Grant(ctx, p.ID, callerID, permissions.LevelFullAccess, callerID, nil); err != nil {
			return err
		}
		project = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// load returns the project if it exists in the bound account
func (s *Service) load(ctx context.Context, op, projectID string) (*Project, error) {
	accountID, err := tenant.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND account_id = $2`
	p, err := scanProject(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, projectID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(op, "project not found")
	}
	if err != nil {
		return nil, apperrors.Internal(op, fmt.Errorf("failed to get project: %w", err))
	}
	return p, nil
}

// authorize loads the project and requires one of levels for the caller
func (s *Service) authorize(ctx context.Context, op, callerID, projectID string, levels []permissions.Level) (*Project, error) {
	p, err := s.load(ctx, op, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.permissions.Require(ctx, projectID, callerID, levels); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a project the caller can read
func (s *Service) Get(ctx context.Context, callerID, projectID string) (*Project, error) {
	return s.authorize(ctx, "projects.Get", callerID, projectID, permissions.ReadLevels())
}

// List returns the projects in the bound account on which the caller holds
// an unexpired grant
func (s *Service) List(ctx context.Context, callerID string) ([]*Project, error) {
	accountID, err := tenant.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT p.id, p.account_id, p.name, p.description, p.created_by, p.created_at, p.updated_at
		FROM projects p
		JOIN project_permissions pp ON pp.project_id = p.id
		WHERE p.account_id = $1 AND pp.user_id = $2
		  AND (pp.expires_at IS NULL OR pp.expires_at > now())
		ORDER BY p.created_at DESC`
	rows, err := txn.QuerierFrom(ctx, s.db).QueryContext(ctx, query, accountID, callerID)
	if err != nil {
		return nil, apperrors.Internal("projects.List", fmt.Errorf("failed to list projects: %w", err))
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperrors.Internal("projects.List", fmt.Errorf("failed to scan project: %w", err))
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("projects.List", err)
	}
	return projects, nil
}

// Update changes a project; requires read_write or full_access
func (s *Service) Update(ctx context.Context, callerID, projectID string, req UpdateProjectRequest) (*Project, error) {
	p, err := s.authorize(ctx, "projects.Update", callerID, projectID, permissions.WriteLevels())
	if err != nil {
		return nil, err
	}

	name, description := p.Name, p.Description
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.Validation("projects.Update", "name must not be empty")
		}
	}
	if req.Description != nil {
		description = *req.Description
	}

	query := `
		UPDATE projects SET name = $1, description = $2, updated_at = now()
		WHERE id = $3 AND account_id = $4
		RETURNING ` + projectColumns
	updated, err := scanProject(txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, name, description, projectID, p.AccountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("projects.Update", "project not found")
	}
	if err != nil {
		return nil, apperrors.Internal("projects.Update", fmt.Errorf("failed to update project: %w", err))
	}
	return updated, nil
}

// Delete removes a project; requires full_access. Permissions go first,
// then sessions, then the project row.
func (s *Service) Delete(ctx context.Context, callerID, projectID string) error {
	p, err := s.authorize(ctx, "projects.Delete", callerID, projectID, permissions.AdminLevels())
	if err != nil {
		return err
	}

	return txn.RunInTx(ctx, s.db, func(ctx context.Context) error {
		if _, err := s.permissions.DeleteByProject(ctx, projectID); err != nil {
			return err
		}
		q := txn.QuerierFrom(ctx, s.db)
		if _, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE project_id = $1`, projectID); err != nil {
			return apperrors.Internal("projects.Delete", fmt.Errorf("failed to delete sessions: %w", err))
		}
		result, err := q.ExecContext(ctx, `DELETE FROM projects WHERE id = $1 AND account_id = $2`, projectID, p.AccountID)
		if err != nil {
			return apperrors.Internal("projects.Delete", fmt.Errorf("failed to delete project: %w", err))
		}
		n, err := result.RowsAffected()
		if err != nil {
			return apperrors.Internal("projects.Delete", fmt.Errorf("failed to get rows affected: %w", err))
		}
		if n == 0 {
			return apperrors.NotFound("projects.Delete", "project not found")
		}
		return nil
	})
}

// GrantAccess gives another user a level on the project; requires
// full_access
func (s *Service) GrantAccess(ctx context.Context, callerID, projectID string, req GrantAccessRequest) (*permissions.Permission, error) {
	if req.UserID == "" {
		return nil, apperrors.Validation("projects.GrantAccess", "user_id is required")
	}
	if !req.Level.IsValid() {
		return nil, apperrors.Validation("projects.GrantAccess", "unknown permission level %q", req.Level)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, apperrors.Validation("projects.GrantAccess", "expires_at must be in the future")
	}
	if _, err := s.authorize(ctx, "projects.GrantAccess", callerID, projectID, permissions.AdminLevels()); err != nil {
		return nil, err
	}
	return s.permissions.Grant(ctx, projectID, req.UserID, req.Level, callerID, req.ExpiresAt)
}

// RevokeAccess removes a user's grant; requires full_access
func (s *Service) RevokeAccess(ctx context.Context, callerID, projectID, userID string) error {
	if _, err := s.authorize(ctx, "projects.RevokeAccess", callerID, projectID, permissions.AdminLevels()); err != nil {
		return err
	}
	return s.permissions.Revoke(ctx, projectID, userID)
}

// ListAccess lists every grant on the project; requires full_access
func (s *Service) ListAccess(ctx context.Context, callerID, projectID string) ([]*permissions.Permission, error) {
	if _, err := s.authorize(ctx, "projects.ListAccess", callerID, projectID, permissions.AdminLevels()); err != nil {
		return nil, err
	}
	return s.permissions.ListByProject(ctx, projectID)
}
