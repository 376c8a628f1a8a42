package audit

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/setlist/pkg/observability"
)

// RoleAuditEvent describes one global role mutation
type RoleAuditEvent struct {
	ActorID   string    `json:"actor_id"`
	TargetID  string    `json:"target_id"`
	OldRole   string    `json:"old_role"`
	NewRole   string    `json:"new_role"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives role audit events
type Sink interface {
	LogRoleChange(ctx context.Context, event *RoleAuditEvent) error
}

// NoopSink drops every event
type NoopSink struct{}

func (NoopSink) LogRoleChange(ctx context.Context, event *RoleAuditEvent) error {
	return nil
}

// LogSink writes events as structured log lines
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) LogRoleChange(ctx context.Context, event *RoleAuditEvent) error {
	s.logger.WithFields(map[string]interface{}{
		"audit":     "role_change",
		"actor_id":  event.ActorID,
		"target_id": event.TargetID,
		"old_role":  event.OldRole,
		"new_role":  event.NewRole,
		"reason":    event.Reason,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
	}).Info("global role changed")
	return nil
}

// MultiSink fans an event out to every sink. All sinks are attempted; the
// joined errors of the ones that failed are returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) LogRoleChange(ctx context.Context, event *RoleAuditEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.LogRoleChange(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
