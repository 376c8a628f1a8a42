package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/httputil"
	"github.com/platinummonkey/setlist/pkg/middleware"
	"github.com/platinummonkey/setlist/pkg/permissions"
	"github.com/platinummonkey/setlist/pkg/projects"
)

// projectRequest resolves the caller and the {id} path parameter shared by
// every project route
func projectRequest(r *http.Request) (*middleware.Caller, string, error) {
	caller, err := middleware.RequireCaller(r.Context())
	if err != nil {
		return nil, "", err
	}
	projectID, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		return nil, "", err
	}
	return caller, projectID, nil
}

// listProjects handles GET /api/v1/projects
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireCaller(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.deps.Projects.List(r.Context(), caller.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*projects.Project{}
	}
	httputil.WriteSuccess(w, list)
}

// createProject handles POST /api/v1/projects
func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireCaller(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req projects.CreateProjectRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Projects.Create(r.Context(), caller.UserID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, p)
}

// getProject handles GET /api/v1/projects/{id}
func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	caller, projectID, err := projectRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Projects.Get(r.Context(), caller.UserID, projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// updateProject handles PATCH /api/v1/projects/{id}
func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	caller, projectID, err := projectRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req projects.UpdateProjectRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Projects.Update(r.Context(), caller.UserID, projectID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// deleteProject handles DELETE /api/v1/projects/{id}
func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	caller, projectID, err := projectRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Projects.Delete(r.Context(), caller.UserID, projectID); err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listProjectPermissions handles GET /api/v1/projects/{id}/permissions
func (s *Server) listProjectPermissions(w http.ResponseWriter, r *http.Request) {
	caller, projectID, err := projectRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	grants, err := s.deps.Projects.ListAccess(r.Context(), caller.UserID, projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if grants == nil {
		grants = []*permissions.Permission{}
	}
	httputil.WriteSuccess(w, grants)
}

// grantProjectPermission handles POST /api/v1/projects/{id}/permissions
func (s *Server) grantProjectPermission(w http.ResponseWriter, r *http.Request) {
	caller, projectID, err := projectRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req projects.GrantAccessRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		s.fail(w, r, apperrors.Validation("api.grantProjectPermission", "user_id must be a user id"))
		return
	}
	grant, err := s.deps.Projects.GrantAccess(r.Context(), caller.UserID, projectID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// revokeProjectPermission handles DELETE /api/v1/projects/{id}/permissions/{user_id}
func (s *Server) revokeProjectPermission(w http.ResponseWriter, r *http.Request) {
	caller, projectID, err := projectRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	userID, err := httputil.ParsePathUUID(r, "user_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Projects.RevokeAccess(r.Context(), caller.UserID, projectID, userID); err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
