// Package httputil provides the JSON response helpers, request parsing and
// request-scoped middleware shared by the HTTP surface.
//
// Handlers return typed errors from pkg/apperrors and render them with
// WriteAppError, which picks the status code and hides internal causes:
//
//	project, err := svc.Get(r.Context(), id)
//	if err != nil {
//		httputil.WriteAppError(w, err)
//		return
//	}
//	httputil.WriteSuccess(w, project)
//
// Path parameters are parsed through gorilla/mux:
//
//	id, err := httputil.ParsePathUUID(r, "projectID")
package httputil
