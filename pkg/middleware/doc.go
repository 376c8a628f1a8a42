// Package middleware resolves the calling identity for every request and
// limits request rates per caller.
//
// # Identity
//
// An IdentityResolver turns a request into an Identity (external id and
// email) or reports that none was presented:
//
//	HeaderResolver: trusted upstream headers (X-User-Id, X-User-Email)
//	OIDCResolver:   verified bearer ID tokens (subject and email claims)
//
// IdentityMiddleware makes sure a users row exists for the identity, inside
// the request transaction, and stores a *Caller in the context:
//
//	router.Use(middleware.NewIdentityMiddleware(resolver, userStore, userResolver, false).Handler)
//	caller := middleware.CallerFromContext(r.Context())
//
// # Rate limiting
//
// RateLimitMiddleware counts requests per caller (or client IP when
// anonymous) in fixed Redis windows shared across instances. Redis failures
// fail open.
//
// # Related Packages
//
//   - pkg/users: user records and the external id cache
//   - pkg/tenant: binds the caller's account after identity is known
//   - pkg/roles: global role checks for the caller
package middleware
