// Package roles resolves and changes global roles.
//
// Where roles live depends on the deployment environment, resolved once at
// startup: in the local environment the users table is authoritative; in
// the managed environment the identity provider's private metadata is, and
// the users table is a mirror. The Authority is built with both stores and
// never branches on the environment again.
//
// Lookups never fail. Any error while reading a role degrades to the least
// privileged role, user.
package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/audit"
	"github.com/platinummonkey/setlist/pkg/config"
	"github.com/platinummonkey/setlist/pkg/observability"
	"github.com/platinummonkey/setlist/pkg/txn"
	"github.com/platinummonkey/setlist/pkg/users"
)

// ChangeRoleRequest describes one role mutation
type ChangeRoleRequest struct {
	TargetID  string           `json:"target_id"`
	NewRole   users.GlobalRole `json:"new_role"`
	ChangedBy string           `json:"changed_by"`
	Reason    string           `json:"reason,omitempty"`
}

// Authority is the single entry point for global role checks and changes
type Authority struct {
	env           config.Environment
	authoritative Store
	mirror        Store
	audit         audit.Sink
	logger        *observability.Logger
	metrics       *observability.Metrics
	tracer        trace.Tracer
	now           func() time.Time
}

// Option configures an Authority
type Option func(*Authority)

// WithAuditSink sets where role changes are recorded
func WithAuditSink(sink audit.Sink) Option {
	return func(a *Authority) { a.audit = sink }
}

// WithLogger sets the logger for degraded lookups and side channel failures
func WithLogger(logger *observability.Logger) Option {
	return func(a *Authority) { a.logger = logger }
}

// WithMetrics records decisions and side channel failures
func WithMetrics(metrics *observability.Metrics) Option {
	return func(a *Authority) { a.metrics = metrics }
}

// WithClock overrides the audit timestamp clock
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// NewAuthority picks the authoritative and mirror stores for env. local is
// required in the local environment and managed in the managed one; the
// other store is an optional mirror and may be nil.
func NewAuthority(env config.Environment, local, managed Store, opts ...Option) (*Authority, error) {
	a := &Authority{
		env:    env,
		audit:  audit.NoopSink{},
		logger: observability.NopLogger(),
		tracer: observability.Tracer("github.com/platinummonkey/setlist/pkg/roles"),
		now:    time.Now,
	}

	switch env {
	case config.EnvironmentLocal:
		if local == nil {
			return nil, fmt.Errorf("local role store is required in the local environment")
		}
		a.authoritative, a.mirror = local, managed
	case config.EnvironmentManaged:
		if managed == nil {
			return nil, fmt.Errorf("managed role store is required in the managed environment")
		}
		a.authoritative, a.mirror = managed, local
	default:
		return nil, fmt.Errorf("unknown environment %q", env)
	}

	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Environment returns the environment the authority was built for
func (a *Authority) Environment() config.Environment {
	return a.env
}

// GetRole returns the caller's global role from the authoritative store.
// Any failure, including an unknown user, yields users.RoleUser.
func (a *Authority) GetRole(ctx context.Context, externalID string) users.GlobalRole {
	if externalID == "" {
		return users.RoleUser
	}
	role, err := a.authoritative.GetRole(ctx, externalID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			a.logger.WithError(err).
				WithField("store", a.authoritative.Name()).
				WithField("external_id", externalID).
				Warn("role lookup failed, defaulting to user")
		}
		return users.RoleUser
	}
	if !role.IsValid() {
		a.logger.WithField("role", string(role)).
			WithField("external_id", externalID).
			Warn("stored role is unknown, defaulting to user")
		return users.RoleUser
	}
	return role
}

// HasPermission reports whether the caller's role grants permission
func (a *Authority) HasPermission(ctx context.Context, externalID, permission string) bool {
	allowed := RoleHasPermission(a.GetRole(ctx, externalID), permission)
	a.metrics.RecordAuthzDecision("role_permission", allowed)
	return allowed
}

// RequireRole returns the caller's role when it is at least min and an
// insufficient_role error otherwise
func (a *Authority) RequireRole(ctx context.Context, externalID string, min users.GlobalRole) (users.GlobalRole, error) {
	role := a.GetRole(ctx, externalID)
	ok := role.AtLeast(min)
	a.metrics.RecordAuthzDecision("require_role", ok)
	if !ok {
		return role, apperrors.InsufficientRole("roles.RequireRole", "role %s or higher required", min)
	}
	return role, nil
}

// ChangeRole sets the target's role after checking that the actor may
// assign it. The authoritative write is the operation; mirroring to the
// other store and auditing are best effort and only logged on failure.
func (a *Authority) ChangeRole(ctx context.Context, req ChangeRoleRequest) (err error) {
	ctx, span := a.tracer.Start(ctx, "roles.ChangeRole", trace.WithAttributes(
		attribute.String("role.target", req.TargetID),
		attribute.String("role.new", string(req.NewRole)),
		attribute.String("role.store", a.authoritative.Name()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(apperrors.KindOf(err)))
		}
		span.End()
	}()

	if req.TargetID == "" {
		return apperrors.Validation("roles.ChangeRole", "target is required")
	}
	if !req.NewRole.IsValid() {
		return apperrors.Validation("roles.ChangeRole", "unknown role %q", req.NewRole)
	}

	actorRole := a.GetRole(ctx, req.ChangedBy)
	if !CanAssign(actorRole, req.NewRole) {
		a.metrics.RecordRoleChange("denied")
		return apperrors.InsufficientRole("roles.ChangeRole", "role %s may not assign %s", actorRole, req.NewRole)
	}

	oldRole := a.GetRole(ctx, req.TargetID)

	if err := a.authoritative.SetRole(ctx, req.TargetID, req.NewRole); err != nil {
		a.metrics.RecordRoleChange("failed")
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Internal("roles.ChangeRole", err)
	}

	detached := txn.Detach(ctx)
	a.mirrorRole(detached, req)
	a.recordAudit(detached, req, oldRole)

	a.metrics.RecordRoleChange("success")
	return nil
}

func (a *Authority) mirrorRole(ctx context.Context, req ChangeRoleRequest) {
	if a.mirror == nil {
		return
	}
	if err := a.mirror.SetRole(ctx, req.TargetID, req.NewRole); err != nil {
		a.metrics.RecordSideChannelFailure("role_mirror")
		a.logger.WithError(err).
			WithField("store", a.mirror.Name()).
			WithField("target_id", req.TargetID).
			Warn("role mirror write failed")
	}
}

func (a *Authority) recordAudit(ctx context.Context, req ChangeRoleRequest, oldRole users.GlobalRole) {
	event := &audit.RoleAuditEvent{
		ActorID:   req.ChangedBy,
		TargetID:  req.TargetID,
		OldRole:   string(oldRole),
		NewRole:   string(req.NewRole),
		Reason:    req.Reason,
		Timestamp: a.now().UTC(),
	}
	if err := a.audit.LogRoleChange(ctx, event); err != nil {
		a.metrics.RecordSideChannelFailure("role_audit")
		a.logger.WithError(err).
			WithField("target_id", req.TargetID).
			Error("role audit write failed")
	}
}
