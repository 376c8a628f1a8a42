// Package tenant binds the caller's account to the request transaction.
//
// The Binder checks that the caller is a member of the requested account
// and then sets the configured session variable (app.current_account_id by
// default) with set_config(..., true), so the value lives exactly as long
// as the request transaction. Row level security policies read it back with
// current_setting and scope every later query in the transaction.
//
// Outcomes:
//
//	no tenant id supplied          proceed unscoped
//	malformed tenant id            validation
//	no caller                      unauthorized
//	unknown user or no membership  forbidden
//	infrastructure failure         warn and proceed unscoped (internal when strict)
package tenant

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/contextkeys"
	"github.com/platinummonkey/setlist/pkg/httputil"
	"github.com/platinummonkey/setlist/pkg/membership"
	"github.com/platinummonkey/setlist/pkg/middleware"
	"github.com/platinummonkey/setlist/pkg/observability"
	"github.com/platinummonkey/setlist/pkg/txn"
)

// Binding results recorded in metrics
const (
	ResultBound      = "bound"
	ResultUnscoped   = "unscoped"
	ResultDenied     = "denied"
	ResultInvalid    = "invalid"
	ResultDegraded   = "degraded"
	ResultFailClosed = "fail_closed"
)

// DefaultSetting is the session variable the isolation policies read
const DefaultSetting = "app.current_account_id"

// UserLookup maps an external identity to an internal user id
type UserLookup interface {
	UserID(ctx context.Context, externalID string) (string, error)
}

// MembershipFinder looks up one membership; nil, nil means none
type MembershipFinder interface {
	FindByUserAndAccount(ctx context.Context, userID, accountID string) (*membership.Membership, error)
}

// Config configures a Binder
type Config struct {
	// Header carries the requested account id
	Header string
	// Setting is the session variable to set
	Setting string
	// Strict fails requests when membership cannot be checked
	Strict bool
}

// Binder verifies membership and scopes the request transaction
type Binder struct {
	users       UserLookup
	memberships MembershipFinder
	config      Config
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewBinder creates a binder. logger and metrics may be nil.
func NewBinder(users UserLookup, memberships MembershipFinder, config Config, logger *observability.Logger, metrics *observability.Metrics) *Binder {
	if config.Header == "" {
		config.Header = "x-account-id"
	}
	if config.Setting == "" {
		config.Setting = DefaultSetting
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Binder{
		users:       users,
		memberships: memberships,
		config:      config,
		logger:      logger,
		metrics:     metrics,
	}
}

// Bind scopes the transaction in ctx to tenantID on behalf of caller and
// returns a context carrying the bound tenant. An empty tenantID is not an
// error: the request proceeds without tenant scoping.
func (b *Binder) Bind(ctx context.Context, caller *middleware.Caller, tenantID string) (context.Context, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		b.metrics.RecordTenantBinding(ResultUnscoped)
		return ctx, nil
	}

	parsed, err := uuid.Parse(tenantID)
	if err != nil {
		b.metrics.RecordTenantBinding(ResultInvalid)
		return ctx, apperrors.Validation("tenant.Bind", "invalid account id")
	}
	tenantID = parsed.String()

	if caller == nil || caller.ExternalID == "" {
		b.metrics.RecordTenantBinding(ResultDenied)
		return ctx, apperrors.Unauthorized("tenant.Bind", "authentication required")
	}

	tx := txn.FromContext(ctx)
	if tx == nil {
		return ctx, apperrors.Internal("tenant.Bind", fmt.Errorf("no request transaction bound"))
	}

	userID, err := b.users.UserID(ctx, caller.ExternalID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			b.metrics.RecordTenantBinding(ResultDenied)
			return ctx, apperrors.Forbidden("tenant.Bind", "not a member of this account")
		}
		return b.degrade(ctx, tenantID, err)
	}

	m, err := b.memberships.FindByUserAndAccount(ctx, userID, tenantID)
	if err != nil {
		return b.degrade(ctx, tenantID, err)
	}
	if m == nil {
		b.metrics.RecordTenantBinding(ResultDenied)
		return ctx, apperrors.Forbidden("tenant.Bind", "not a member of this account")
	}

	if _, err := tx.ExecContext(ctx, `SELECT set_config($1, $2, true)`, b.config.Setting, tenantID); err != nil {
		return b.degrade(ctx, tenantID, err)
	}

	b.metrics.RecordTenantBinding(ResultBound)
	return contextkeys.WithTenant(ctx, tenantID), nil
}

// degrade applies the infrastructure failure policy
func (b *Binder) degrade(ctx context.Context, tenantID string, cause error) (context.Context, error) {
	log := b.logger.WithError(cause).WithField("account_id", tenantID)
	if b.config.Strict {
		b.metrics.RecordTenantBinding(ResultFailClosed)
		log.Error("tenant binding failed")
		return ctx, apperrors.Internal("tenant.Bind", cause)
	}
	b.metrics.RecordTenantBinding(ResultDegraded)
	log.Warn("tenant binding failed, continuing without tenant scope")
	return ctx, nil
}

// Middleware binds the tenant named by the configured header. It must run
// after the transaction and identity middleware.
func (b *Binder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx, err := b.Bind(ctx, middleware.CallerFromContext(ctx), r.Header.Get(b.config.Header))
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTenant returns the bound account id or a validation error for
// handlers that only make sense inside an account
func RequireTenant(ctx context.Context) (string, error) {
	if id := contextkeys.GetTenant(ctx); id != "" {
		return id, nil
	}
	return "", apperrors.Validation("tenant.RequireTenant", "an account id is required for this request")
}
