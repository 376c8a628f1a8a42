package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/observability"
	"github.com/platinummonkey/setlist/pkg/txn"
)

const permissionColumns = `id, project_id, user_id, level, granted_by, granted_at, expires_at`

// foreignKeyViolation is the PostgreSQL SQLSTATE raised when the project or
// user of a grant does not exist
const foreignKeyViolation = "23503"

// Engine is the project permission store
type Engine struct {
	db      txn.Querier
	now     func() time.Time
	metrics *observability.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock expiry is evaluated against
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records check decisions
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// NewEngine creates a permission engine over db
func NewEngine(db txn.Querier, opts ...Option) *Engine {
	e := &Engine{db: db, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func scanPermission(row interface{ Scan(...interface{}) error }) (*Permission, error) {
	p := &Permission{}
	var expires sql.NullTime
	if err := row.Scan(&p.ID, &p.ProjectID, &p.UserID, &p.Level, &p.GrantedBy, &p.GrantedAt, &expires); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		p.ExpiresAt = &t
	}
	return p, nil
}

// Grant gives userID the level on projectID. An existing grant for the pair
// is overwritten with the new level, grantor, grant time and expiry.
func (e *Engine) Grant(ctx context.Context, projectID, userID string, level Level, grantedBy string, expiresAt *time.Time) (*Permission, error) {
	if !level.IsValid() {
		return nil, apperrors.Validation("permissions.Grant", "unknown permission level %q", level)
	}
	query := `
		INSERT INTO project_permissions (project_id, user_id, level, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, user_id) DO UPDATE
		SET level = EXCLUDED.level,
		    granted_by = EXCLUDED.granted_by,
		    granted_at = EXCLUDED.granted_at,
		    expires_at = EXCLUDED.expires_at
		RETURNING ` + permissionColumns
	p, err := scanPermission(txn.QuerierFrom(ctx, e.db).QueryRowContext(ctx, query,
		projectID, userID, level, grantedBy, e.now().UTC(), expiresAt))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == foreignKeyViolation {
			return nil, apperrors.NotFound("permissions.Grant", "project or user not found")
		}
		return nil, apperrors.Internal("permissions.Grant", fmt.Errorf("failed to grant permission: %w", err))
	}
	return p, nil
}

// Revoke removes the user's grant on the project. Revoking a grant that does
// not exist is not an error.
func (e *Engine) Revoke(ctx context.Context, projectID, userID string) error {
	query := `DELETE FROM project_permissions WHERE project_id = $1 AND user_id = $2`
	if _, err := txn.QuerierFrom(ctx, e.db).ExecContext(ctx, query, projectID, userID); err != nil {
		return apperrors.Internal("permissions.Revoke", fmt.Errorf("failed to revoke permission: %w", err))
	}
	return nil
}

// Get returns the user's grant on the project, or nil when there is none or
// it has expired
func (e *Engine) Get(ctx context.Context, projectID, userID string) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM project_permissions WHERE project_id = $1 AND user_id = $2`
	p, err := scanPermission(txn.QuerierFrom(ctx, e.db).QueryRowContext(ctx, query, projectID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("permissions.Get", fmt.Errorf("failed to get permission: %w", err))
	}
	if !p.ActiveAt(e.now()) {
		return nil, nil
	}
	return p, nil
}

// Check reports whether the user holds an unexpired grant whose level is in
// allowed
func (e *Engine) Check(ctx context.Context, projectID, userID string, allowed []Level) (bool, error) {
	p, err := e.Get(ctx, projectID, userID)
	if err != nil {
		return false, err
	}
	ok := p != nil && p.Allows(allowed)
	e.metrics.RecordAuthzDecision("project_permission", ok)
	return ok, nil
}

// Require is Check that fails with forbidden when the grant is missing,
// expired or too weak
func (e *Engine) Require(ctx context.Context, projectID, userID string, allowed []Level) error {
	ok, err := e.Check(ctx, projectID, userID, allowed)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Forbidden("permissions.Require", "insufficient project permission")
	}
	return nil
}

// ListByProject returns every stored grant on the project, expired ones
// included, so administrators can see and clean them up
func (e *Engine) ListByProject(ctx context.Context, projectID string) ([]*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM project_permissions WHERE project_id = $1 ORDER BY granted_at ASC`
	return e.list(ctx, "permissions.ListByProject", query, projectID)
}

// ListByUser returns every stored grant held by the user
func (e *Engine) ListByUser(ctx context.Context, userID string) ([]*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM project_permissions WHERE user_id = $1 ORDER BY granted_at ASC`
	return e.list(ctx, "permissions.ListByUser", query, userID)
}

func (e *Engine) list(ctx context.Context, op, query, arg string) ([]*Permission, error) {
	rows, err := txn.QuerierFrom(ctx, e.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, apperrors.Internal(op, fmt.Errorf("failed to list permissions: %w", err))
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, apperrors.Internal(op, fmt.Errorf("failed to scan permission: %w", err))
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(op, err)
	}
	return perms, nil
}

// DeleteByProject removes every grant on the project. Project deletion calls
// it before removing the project row.
func (e *Engine) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	query := `DELETE FROM project_permissions WHERE project_id = $1`
	result, err := txn.QuerierFrom(ctx, e.db).ExecContext(ctx, query, projectID)
	if err != nil {
		return 0, apperrors.Internal("permissions.DeleteByProject", fmt.Errorf("failed to delete permissions: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Internal("permissions.DeleteByProject", fmt.Errorf("failed to get rows affected: %w", err))
	}
	return n, nil
}

// PurgeExpired deletes grants whose expiry has passed. Reads never depend on
// it having run.
func (e *Engine) PurgeExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM project_permissions WHERE expires_at IS NOT NULL AND expires_at <= $1`
	result, err := txn.QuerierFrom(ctx, e.db).ExecContext(ctx, query, e.now().UTC())
	if err != nil {
		return 0, apperrors.Internal("permissions.PurgeExpired", fmt.Errorf("failed to purge expired permissions: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Internal("permissions.PurgeExpired", fmt.Errorf("failed to get rows affected: %w", err))
	}
	return n, nil
}
