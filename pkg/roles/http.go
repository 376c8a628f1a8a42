package roles

import (
	"net/http"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/httputil"
	"github.com/platinummonkey/setlist/pkg/middleware"
	"github.com/platinummonkey/setlist/pkg/users"
)

// RequireRoleMiddleware rejects callers whose global role is below min
func (a *Authority) RequireRoleMiddleware(min users.GlobalRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := middleware.CallerFromContext(r.Context())
			if caller == nil {
				httputil.WriteAppError(w, apperrors.Unauthorized("roles.RequireRole", "authentication required"))
				return
			}
			if _, err := a.RequireRole(r.Context(), caller.ExternalID, min); err != nil {
				httputil.WriteAppError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermissionMiddleware rejects callers whose role lacks permission
func (a *Authority) RequirePermissionMiddleware(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := middleware.CallerFromContext(r.Context())
			if caller == nil {
				httputil.WriteAppError(w, apperrors.Unauthorized("roles.RequirePermission", "authentication required"))
				return
			}
			if !a.HasPermission(r.Context(), caller.ExternalID, permission) {
				httputil.WriteAppError(w, apperrors.InsufficientRole("roles.RequirePermission", "permission %s required", permission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
