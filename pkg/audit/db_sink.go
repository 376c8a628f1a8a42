package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBSink stores events in role_audit_events
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a sink that inserts through the pool
func NewDBSink(db *sql.DB) *DBSink {
	return &DBSink{db: db}
}

// LogRoleChange inserts the event outside any request transaction
func (s *DBSink) LogRoleChange(ctx context.Context, event *RoleAuditEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	query := `
		INSERT INTO role_audit_events (actor_id, target_id, old_role, new_role, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, event.ActorID, event.TargetID, event.OldRole, event.NewRole, event.Reason, ts.UTC()); err != nil {
		return fmt.Errorf("failed to insert role audit event: %w", err)
	}
	return nil
}

// ListByTarget returns the most recent role changes of one user, newest first
func (s *DBSink) ListByTarget(ctx context.Context, targetID string, limit int) ([]*RoleAuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT actor_id, target_id, old_role, new_role, reason, created_at
		FROM role_audit_events
		WHERE target_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list role audit events: %w", err)
	}
	defer rows.Close()

	var events []*RoleAuditEvent
	for rows.Next() {
		e := &RoleAuditEvent{}
		if err := rows.Scan(&e.ActorID, &e.TargetID, &e.OldRole, &e.NewRole, &e.Reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan role audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
