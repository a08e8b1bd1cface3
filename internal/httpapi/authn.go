package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"campusgate/internal/iam"
	"campusgate/internal/obs"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "
)

// Gate is the single per-request authentication boundary: extract the bearer
// token, verify it, confirm the session is live, load the user and attach the
// principal. Every failure short-circuits to 401 with a reason code; nothing
// here raises into handler code.
func (a *API) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.ObserveTokenVerification("invalid")
			writeError(w, http.StatusUnauthorized, "missing_token", err.Error())
			return
		}
		principal, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, iam.ErrTokenExpired):
				obs.ObserveTokenVerification("expired")
				writeError(w, http.StatusUnauthorized, "token_expired", "token expired")
			case errors.Is(err, iam.ErrInvalidToken), errors.Is(err, iam.ErrSessionInactive):
				obs.ObserveTokenVerification("invalid")
				writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or inactive token")
			default:
				a.log.Errorw("authentication failed", "error", err)
				writeError(w, http.StatusInternalServerError, "internal", "authentication error")
			}
			return
		}
		obs.ObserveTokenVerification("ok")
		ctx := iam.ContextWithPrincipal(r.Context(), principal)
		ctx = iam.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission guards a route with one permission code.
func (a *API) RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := iam.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
				return
			}
			allowed, err := a.svc.Resolver().Resolve(r.Context(), principal.User.ID, perm)
			if err != nil {
				obs.ObservePermissionCheck("error")
				a.log.Errorw("permission check failed", "permission", perm, "error", err)
				writeError(w, http.StatusInternalServerError, "internal", "authorization error")
				return
			}
			if !allowed {
				obs.ObservePermissionCheck("deny")
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			obs.ObservePermissionCheck("allow")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission admits the request when at least one code resolves.
func (a *API) RequireAnyPermission(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := iam.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
				return
			}
			allowed, err := a.svc.Resolver().ResolveAny(r.Context(), principal.User.ID, perms...)
			if err != nil {
				obs.ObservePermissionCheck("error")
				a.log.Errorw("permission check failed", "error", err)
				writeError(w, http.StatusInternalServerError, "internal", "authorization error")
				return
			}
			if !allowed {
				obs.ObservePermissionCheck("deny")
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			obs.ObservePermissionCheck("allow")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole guards a route with a role code.
func (a *API) RequireRole(roleCode string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := iam.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
				return
			}
			allowed, err := a.svc.Resolver().HasRole(r.Context(), principal.User.ID, roleCode)
			if err != nil {
				a.log.Errorw("role check failed", "role", roleCode, "error", err)
				writeError(w, http.StatusInternalServerError, "internal", "authorization error")
				return
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
