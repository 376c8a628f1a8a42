// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/setlist/pkg/contextkeys"
//	ctx = contextkeys.WithIdentity(ctx, caller)
//	caller, _ := ctx.Value(contextkeys.IdentityKey).(*middleware.Caller)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *middleware.Caller
	// Set by: middleware.IdentityMiddleware (pkg/middleware/identity.go)
	// Required by: tenant binder, role checks, every authorized handler
	// Type: *middleware.Caller
	IdentityKey Key = "identity"

	// TxKey contains the request transaction scope
	// Set by: txn.Manager middleware (pkg/txn/middleware.go) and txn.RunInTx
	// Required by: every store that must run inside the request transaction
	// Type: *txn.scope (unexported, use txn.FromContext)
	TxKey Key = "tx"

	// TenantKey contains the bound account id string
	// Set by: tenant.Binder (pkg/tenant/binder.go) after set_config succeeded
	// Required by: tenant-scoped handlers (projects)
	// Type: string
	TenantKey Key = "tenant"

	// RequestIDKey contains request ID string (UUID)
	// Set by: api.requestIDMiddleware
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the internal user ID string
	// Set by: identity middleware after the user record was ensured
	// Used by: Logger, audit trail, user-scoped operations
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: api.requestIDMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithIdentity adds the resolved caller to the context
func WithIdentity(ctx context.Context, caller interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, caller)
}

// WithTenant adds the bound account id to the context
func WithTenant(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, TenantKey, accountID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetTenant retrieves the bound account id from context
func GetTenant(ctx context.Context) string {
	if accountID, ok := ctx.Value(TenantKey).(string); ok {
		return accountID
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
