package httpapi

import (
	"errors"
	"net/http"

	"campusgate/internal/iam"
	"campusgate/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Device   string `json:"device,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	meta := iam.SessionMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Device:    req.Device,
	}
	pair, principal, err := a.svc.Login(r.Context(), req.Email, req.Password, meta)
	if err != nil {
		if errors.Is(err, iam.ErrInvalidCredentials) {
			obs.ObserveLogin("invalid_credentials")
			_ = a.audit.Event(r.Context(), "auth.login.denied", "user", "", map[string]string{
				"email": req.Email,
			})
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		obs.ObserveLogin("error")
		a.handleIAMError(w, r, err)
		return
	}
	obs.ObserveLogin("ok")
	_ = a.audit.Event(r.Context(), "auth.login", "user", principal.User.ID, map[string]string{
		"session_id": principal.SessionID,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := iam.TokenFromContext(r.Context())
	loggedOut, err := a.svc.Logout(r.Context(), token)
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	if loggedOut {
		_ = a.audit.Event(r.Context(), "auth.logout", "", "", nil)
	}
	writeJSON(w, http.StatusOK, logoutResponse{LoggedOut: loggedOut})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := iam.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
		return
	}
	assignments, err := a.svc.Store().Roles(r.Context()).AssignmentsForUser(r.Context(), principal.User.ID)
	if err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        principal.User,
		"session_id":  principal.SessionID,
		"assignments": assignments,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := iam.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), principal.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		a.handleIAMError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "auth.password.changed", "user", principal.User.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}
