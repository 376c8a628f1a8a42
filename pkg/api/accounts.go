package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/setlist/pkg/accounts"
	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/httputil"
	"github.com/platinummonkey/setlist/pkg/membership"
	"github.com/platinummonkey/setlist/pkg/middleware"
	"github.com/platinummonkey/setlist/pkg/tenant"
)

type addMemberRequest struct {
	UserID string          `json:"user_id"`
	Role   membership.Role `json:"role"`
}

type updateMemberRequest struct {
	Role membership.Role `json:"role"`
}

type switchContextRequest struct {
	AccountID string                 `json:"account_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// listAccounts handles GET /api/v1/accounts
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireCaller(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.deps.Accounts.ListForUser(r.Context(), caller.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*accounts.Account{}
	}
	httputil.WriteSuccess(w, list)
}

// createAccount handles POST /api/v1/accounts. The caller becomes the owner.
func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := middleware.RequireCaller(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req accounts.CreateAccountRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	account, err := s.deps.Accounts.Create(ctx, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.deps.Memberships.Create(ctx, account.ID, caller.UserID, membership.RoleOwner); err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, account)
}

// requireAccountAdmin returns the bound tenant and the caller's role in it
// when the caller is an owner or admin of it
func (s *Server) requireAccountAdmin(r *http.Request) (string, membership.Role, error) {
	ctx := r.Context()
	accountID, err := tenant.RequireTenant(ctx)
	if err != nil {
		return "", "", err
	}
	caller, err := middleware.RequireCaller(ctx)
	if err != nil {
		return "", "", err
	}
	m, err := s.deps.Memberships.FindByUserAndAccount(ctx, caller.UserID, accountID)
	if err != nil {
		return "", "", err
	}
	if m == nil || (m.Role != membership.RoleOwner && m.Role != membership.RoleAdmin) {
		return "", "", apperrors.Forbidden("api.members", "account owner or admin required")
	}
	return accountID, m.Role, nil
}

// requireOwnerForOwnerChange rejects a non-owner touching the owner role,
// either by granting it or by changing or removing a member who holds it
func (s *Server) requireOwnerForOwnerChange(r *http.Request, accountID string, callerRole membership.Role, userID string, newRole membership.Role) error {
	if callerRole == membership.RoleOwner {
		return nil
	}
	if newRole == membership.RoleOwner {
		return apperrors.Forbidden("api.members", "only an account owner can grant the owner role")
	}
	target, err := s.deps.Memberships.FindByUserAndAccount(r.Context(), userID, accountID)
	if err != nil {
		return err
	}
	if target != nil && target.Role == membership.RoleOwner {
		return apperrors.Forbidden("api.members", "only an account owner can change an owner")
	}
	return nil
}

// listMembers handles GET /api/v1/members for the bound account
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	accountID, err := tenant.RequireTenant(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	members, err := s.deps.Memberships.FindByAccountID(r.Context(), accountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if members == nil {
		members = []*membership.Membership{}
	}
	httputil.WriteSuccess(w, members)
}

// addMember handles POST /api/v1/members
func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	accountID, callerRole, err := s.requireAccountAdmin(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req addMemberRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		s.fail(w, r, apperrors.Validation("api.addMember", "user_id must be a user id"))
		return
	}
	if req.Role == "" {
		req.Role = membership.RoleMember
	}
	if req.Role == membership.RoleOwner && callerRole != membership.RoleOwner {
		s.fail(w, r, apperrors.Forbidden("api.addMember", "only an account owner can grant the owner role"))
		return
	}

	m, err := s.deps.Memberships.Create(r.Context(), accountID, req.UserID, req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, m)
}

// updateMember handles PATCH /api/v1/members/{user_id}
func (s *Server) updateMember(w http.ResponseWriter, r *http.Request) {
	accountID, callerRole, err := s.requireAccountAdmin(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := httputil.ParsePathUUID(r, "user_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req updateMemberRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireOwnerForOwnerChange(r, accountID, callerRole, userID, req.Role); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Memberships.UpdateRole(r.Context(), accountID, userID, req.Role); err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// removeMember handles DELETE /api/v1/members/{user_id}
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	accountID, callerRole, err := s.requireAccountAdmin(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := httputil.ParsePathUUID(r, "user_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireOwnerForOwnerChange(r, accountID, callerRole, userID, ""); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Memberships.Delete(r.Context(), accountID, userID); err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// getContext handles GET /api/v1/context
func (s *Server) getContext(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireCaller(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	uc, err := s.deps.Contexts.Get(r.Context(), caller.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, uc)
}

// switchContext handles PUT /api/v1/context. Switching to an account the
// caller is not a member of is forbidden and leaves the context unchanged.
func (s *Server) switchContext(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireCaller(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req switchContextRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.AccountID == "" {
		s.fail(w, r, apperrors.Validation("api.switchContext", "account_id is required"))
		return
	}
	if _, err := uuid.Parse(req.AccountID); err != nil {
		s.fail(w, r, apperrors.Validation("api.switchContext", "account_id must be an account id"))
		return
	}

	uc, err := s.deps.Contexts.Upsert(r.Context(), caller.UserID, req.AccountID, req.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, uc)
}
