package api

import (
	"net/http"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/audit"
	"github.com/platinummonkey/setlist/pkg/httputil"
	"github.com/platinummonkey/setlist/pkg/middleware"
	"github.com/platinummonkey/setlist/pkg/roles"
	"github.com/platinummonkey/setlist/pkg/users"
)

type meResponse struct {
	*middleware.Caller
	Role        users.GlobalRole `json:"role"`
	Permissions []string         `json:"permissions"`
	AccountID   string           `json:"account_id,omitempty"`
}

type roleResponse struct {
	ExternalID string           `json:"external_id"`
	Role       users.GlobalRole `json:"role"`
}

type changeRoleRequest struct {
	Role   users.GlobalRole `json:"role"`
	Reason string           `json:"reason,omitempty"`
}

// getMe handles GET /api/v1/me
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := middleware.RequireCaller(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	role := s.deps.Authority.GetRole(ctx, caller.ExternalID)
	accountID, err := s.deps.Contexts.CurrentAccount(ctx, caller.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	httputil.WriteSuccess(w, meResponse{
		Caller:      caller,
		Role:        role,
		Permissions: roles.Permissions(role),
		AccountID:   accountID,
	})
}

// getUserRole handles GET /api/v1/users/{external_id}/role
func (s *Server) getUserRole(w http.ResponseWriter, r *http.Request) {
	externalID, err := httputil.ParsePathString(r, "external_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roleResponse{
		ExternalID: externalID,
		Role:       s.deps.Authority.GetRole(r.Context(), externalID),
	})
}

// changeUserRole handles PUT /api/v1/users/{external_id}/role
func (s *Server) changeUserRole(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireCaller(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	externalID, err := httputil.ParsePathString(r, "external_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req changeRoleRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	err = s.deps.Authority.ChangeRole(r.Context(), roles.ChangeRoleRequest{
		TargetID:  externalID,
		NewRole:   req.Role,
		ChangedBy: caller.ExternalID,
		Reason:    req.Reason,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roleResponse{ExternalID: externalID, Role: req.Role})
}

// getRoleHistory handles GET /api/v1/users/{external_id}/role/history
func (s *Server) getRoleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.AuditLog == nil {
		s.fail(w, r, apperrors.NotFound("api.getRoleHistory", "role history is not recorded"))
		return
	}
	externalID, err := httputil.ParsePathString(r, "external_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	events, err := s.deps.AuditLog.ListByTarget(r.Context(), externalID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.RoleAuditEvent{}
	}
	httputil.WriteSuccess(w, events)
}
