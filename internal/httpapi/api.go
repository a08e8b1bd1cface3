package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"campusgate/internal/audit"
	"campusgate/internal/cache"
	"campusgate/internal/iam"
	"campusgate/internal/obs"
)

// ReadyProbe checks readiness, typically by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

// Check reports readiness. A nil DB (dev mode) is always ready.
func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options configures the API.
type Options struct {
	Service    *iam.Service
	Audit      *audit.Logger
	Cache      cache.Cache
	Log        *zap.SugaredLogger
	Ready      ReadyProbe
	Version    string
	RateBurst  int
	RatePerSec int
}

// API is the HTTP layer.
type API struct {
	r       chi.Router
	svc     *iam.Service
	audit   *audit.Logger
	cache   cache.Cache
	log     *zap.SugaredLogger
	ready   ReadyProbe
	version string
}

// New wires the router. All dependencies are passed in; the API owns no
// global state.
func New(opts Options) *API {
	a := &API{
		svc:     opts.Service,
		audit:   opts.Audit,
		cache:   opts.Cache,
		log:     opts.Log,
		ready:   opts.Ready,
		version: opts.Version,
	}
	if a.cache == nil {
		a.cache = cache.Nop{}
	}
	if a.log == nil {
		a.log = zap.NewNop().Sugar()
	}
	if a.audit == nil {
		a.audit = audit.New(a.log, nil)
	}
	burst, perSec := opts.RateBurst, opts.RatePerSec
	if burst <= 0 {
		burst = 20
	}
	if perSec <= 0 {
		perSec = 10
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(RequestLogger(a.log))
	r.Use(SecurityHeaders)
	r.Use(MaxBodyBytes(1 << 20))
	r.Use(RateLimit(burst, perSec))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Get("/v1/info", a.handleInfo)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Post("/v1/auth/login", a.handleLogin)
	r.Post("/v1/auth/refresh", a.handleRefresh)

	r.Group(func(pr chi.Router) {
		pr.Use(a.Gate)
		pr.Post("/v1/auth/logout", a.handleLogout)
		pr.Get("/v1/auth/me", a.handleMe)
		pr.Post("/v1/auth/password", a.handleChangePassword)
		pr.Get("/v1/permissions", a.handleListPermissions)

		pr.Group(func(admin chi.Router) {
			admin.Use(a.RequirePermission(iam.PermUsersRead))
			admin.Get("/v1/users", a.handleListUsers)
			admin.Get("/v1/users/{id}/sessions", a.handleListUserSessions)
		})
		pr.With(a.RequirePermission(iam.PermUsersWrite)).
			Post("/v1/users", a.handleCreateUser)
		pr.With(a.RequirePermission(iam.PermUsersDelete)).
			Post("/v1/users/{id}/disable", a.handleDisableUser)

		pr.Group(func(roles chi.Router) {
			roles.Use(a.RequirePermission(iam.PermRolesManage))
			roles.Get("/v1/roles", a.handleListRoles)
			roles.Post("/v1/roles", a.handleCreateRole)
			roles.Delete("/v1/roles/{id}", a.handleDeleteRole)
			roles.Put("/v1/roles/{id}/permissions", a.handleSetRolePermissions)
			roles.Get("/v1/roles/{id}/permissions", a.handleRolePermissions)
			roles.Post("/v1/users/{id}/roles", a.handleAssignRole)
			roles.Delete("/v1/users/{id}/roles/{roleID}", a.handleRevokeRole)
		})

		pr.Group(func(grants chi.Router) {
			grants.Use(a.RequirePermission(iam.PermGrantsManage))
			grants.Post("/v1/users/{id}/grants", a.handleGrantPermission)
			grants.Delete("/v1/users/{id}/grants/{code}", a.handleRevokeGrant)
		})
	})

	a.r = r
	return a
}

// Handler returns the http.Handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.r)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "campusgate-api",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "campusgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
