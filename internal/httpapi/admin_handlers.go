package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"campusgate/internal/iam"
)

const (
	permissionsCacheKey = "catalog:permissions"
	rolesCacheKey       = "catalog:roles"
	catalogCacheTTL     = 5 * time.Minute
)

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	user, err := a.svc.RegisterUser(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "users.create", "user", user.ID, map[string]string{
		"email": user.Email,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	opts := iam.ListUsersOptions{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		SortBy: iam.UserSortField(strings.TrimSpace(r.URL.Query().Get("sort"))),
	}
	users, err := a.svc.Store().Users(r.Context()).List(r.Context(), opts)
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleDisableUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if err := a.svc.Store().Users(r.Context()).SetStatus(r.Context(), userID, iam.UserStatusDisabled); err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "users.disable", "user", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	sessions, err := a.svc.Store().Sessions(r.Context()).ListByUser(r.Context(), userID)
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleListPermissions serves the permission catalog. The catalog is small
// and changes only on deploys, so it is served through the cache.
func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	var cached []iam.Permission
	if ok, err := a.cache.GetJSON(r.Context(), permissionsCacheKey, &cached); err == nil && ok {
		writeJSON(w, http.StatusOK, map[string]any{"permissions": cached})
		return
	}
	perms, err := a.svc.Store().Permissions(r.Context()).List(r.Context())
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	if err := a.cache.SetJSON(r.Context(), permissionsCacheKey, perms, catalogCacheTTL); err != nil {
		a.log.Debugw("cache write failed", "key", permissionsCacheKey, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type createRoleRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	role, err := a.svc.CreateRole(r.Context(), req.Code, req.Name, req.Description)
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.cache.Delete(r.Context(), rolesCacheKey)
	_ = a.audit.Event(r.Context(), "roles.create", "role", role.ID, map[string]string{
		"code": role.Code,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	var cached []*iam.Role
	if ok, err := a.cache.GetJSON(r.Context(), rolesCacheKey, &cached); err == nil && ok {
		writeJSON(w, http.StatusOK, map[string]any{"roles": cached})
		return
	}
	roles, err := a.svc.Store().Roles(r.Context()).List(r.Context())
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	if err := a.cache.SetJSON(r.Context(), rolesCacheKey, roles, catalogCacheTTL); err != nil {
		a.log.Debugw("cache write failed", "key", rolesCacheKey, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "id")
	if err := a.svc.DeleteRole(r.Context(), roleID); err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.cache.Delete(r.Context(), rolesCacheKey)
	_ = a.audit.Event(r.Context(), "roles.delete", "role", roleID, nil)
	w.WriteHeader(http.StatusNoContent)
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "id")
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := a.svc.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "roles.permissions.update", "role", roleID, map[string]string{
		"count": fmt.Sprintf("%d", len(req.Permissions)),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "id")
	if _, err := a.svc.Store().Roles(r.Context()).Find(r.Context(), roleID); err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	perms, err := a.svc.Store().Permissions(r.Context()).PermissionsForRole(r.Context(), roleID)
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type assignRoleRequest struct {
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	grantedBy := ""
	if principal, ok := iam.PrincipalFromContext(r.Context()); ok {
		grantedBy = principal.User.ID
	}
	if err := a.svc.AssignRole(r.Context(), userID, req.RoleID, grantedBy, req.ExpiresAt); err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "roles.assign", "user", userID, map[string]string{
		"role_id": req.RoleID,
	})
	w.WriteHeader(http.StatusCreated)
}

func (a *API) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	roleID := chi.URLParam(r, "roleID")
	if err := a.svc.RevokeRole(r.Context(), userID, roleID); err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "roles.revoke", "user", userID, map[string]string{
		"role_id": roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

type grantRequest struct {
	Permission string     `json:"permission"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	grantedBy := ""
	if principal, ok := iam.PrincipalFromContext(r.Context()); ok {
		grantedBy = principal.User.ID
	}
	if err := a.svc.GrantPermission(r.Context(), userID, req.Permission, grantedBy, req.ExpiresAt); err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "grants.create", "user", userID, map[string]string{
		"permission": req.Permission,
	})
	w.WriteHeader(http.StatusCreated)
}

func (a *API) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	code := chi.URLParam(r, "code")
	if err := a.svc.RevokePermission(r.Context(), userID, code); err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "grants.revoke", "user", userID, map[string]string{
		"permission": code,
	})
	w.WriteHeader(http.StatusNoContent)
}
