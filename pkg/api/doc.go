// Package api exposes the authorization core over HTTP.
//
// Every route under /api/v1 runs through the same chain:
//
//	request id -> logging -> body limit -> transaction -> identity -> rate limit -> tenant
//
// so handlers always run inside one request transaction, with a resolved
// caller and, when the x-account-id header is present, a bound tenant.
// Handlers return apperrors values and the transaction rolls back whenever
// the response status is 400 or above.
//
// Route groups:
//
//	/api/v1/me                            caller, global role and permissions
//	/api/v1/accounts, /members, /context  accounts, memberships, account switching
//	/api/v1/projects/...                  projects and project permissions
//	/api/v1/users/{external_id}/role      global role lookup, change and history
//
// /healthz and /readyz are served outside the transaction chain.
package api
