package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/setlist/pkg/accounts"
	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/audit"
	"github.com/platinummonkey/setlist/pkg/httputil"
	"github.com/platinummonkey/setlist/pkg/membership"
	"github.com/platinummonkey/setlist/pkg/middleware"
	"github.com/platinummonkey/setlist/pkg/observability"
	"github.com/platinummonkey/setlist/pkg/projects"
	"github.com/platinummonkey/setlist/pkg/roles"
	"github.com/platinummonkey/setlist/pkg/tenant"
	"github.com/platinummonkey/setlist/pkg/txn"
	"github.com/platinummonkey/setlist/pkg/users"
)

// Deps are the components the API is built from. RateLimit, Health and
// AuditLog are optional.
type Deps struct {
	Transactions *txn.Manager
	Identity     *middleware.IdentityMiddleware
	RateLimit    *middleware.RateLimitMiddleware
	Tenant       *tenant.Binder
	Authority    *roles.Authority
	Projects     *projects.Service
	Accounts     *accounts.Store
	Memberships  *membership.Store
	Contexts     *membership.ContextStore
	AuditLog     *audit.DBSink
	Health       *observability.HealthChecker
	Logger       *observability.Logger
	MaxBodyBytes int64
}

// Server represents our API server
type Server struct {
	deps   Deps
	router *mux.Router
}

// NewServer creates the API server and registers its routes
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	s := &Server{deps: deps, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestContextMiddleware(s.deps.Logger),
		httputil.LoggingMiddleware,
	)
	if s.deps.MaxBodyBytes > 0 {
		s.router.Use(httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes))
	}

	if s.deps.Health != nil {
		s.deps.Health.RegisterRoutes(s.router)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.deps.Transactions.Middleware, s.deps.Identity.Handler)
	if s.deps.RateLimit != nil {
		v1.Use(s.deps.RateLimit.Handler)
	}
	v1.Use(s.deps.Tenant.Middleware)

	v1.HandleFunc("/me", s.getMe).Methods(http.MethodGet)

	// Accounts and memberships
	v1.HandleFunc("/accounts", s.listAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/accounts", s.createAccount).Methods(http.MethodPost)
	v1.HandleFunc("/members", s.listMembers).Methods(http.MethodGet)
	v1.HandleFunc("/members", s.addMember).Methods(http.MethodPost)
	v1.HandleFunc("/members/{user_id}", s.updateMember).Methods(http.MethodPatch)
	v1.HandleFunc("/members/{user_id}", s.removeMember).Methods(http.MethodDelete)

	// Current account context
	v1.HandleFunc("/context", s.getContext).Methods(http.MethodGet)
	v1.HandleFunc("/context", s.switchContext).Methods(http.MethodPut)

	// Projects
	v1.HandleFunc("/projects", s.listProjects).Methods(http.MethodGet)
	v1.HandleFunc("/projects", s.createProject).Methods(http.MethodPost)
	v1.HandleFunc("/projects/{id}", s.getProject).Methods(http.MethodGet)
	v1.HandleFunc("/projects/{id}", s.updateProject).Methods(http.MethodPatch)
	v1.HandleFunc("/projects/{id}", s.deleteProject).Methods(http.MethodDelete)
	v1.HandleFunc("/projects/{id}/permissions", s.listProjectPermissions).Methods(http.MethodGet)
	v1.HandleFunc("/projects/{id}/permissions", s.grantProjectPermission).Methods(http.MethodPost)
	v1.HandleFunc("/projects/{id}/permissions/{user_id}", s.revokeProjectPermission).Methods(http.MethodDelete)

	// Global roles
	v1.Handle("/users/{external_id}/role",
		s.deps.Authority.RequirePermissionMiddleware("view:users")(http.HandlerFunc(s.getUserRole))).
		Methods(http.MethodGet)
	v1.HandleFunc("/users/{external_id}/role", s.changeUserRole).Methods(http.MethodPut)
	v1.Handle("/users/{external_id}/role/history",
		s.deps.Authority.RequireRoleMiddleware(users.RoleAdmin)(http.HandlerFunc(s.getRoleHistory))).
		Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// fail logs internal errors with request context and writes err
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteAppError(w, err)
}
