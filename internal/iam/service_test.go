package iam

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, "test-secret",
		WithIssuer("campusgate-test"),
		WithAccessTTL(15*time.Minute),
		WithRefreshTTL(24*time.Hour),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return svc, store
}

func TestEnsureBuiltinsIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("second EnsureBuiltins: %v", err)
	}

	perms, err := store.Permissions(ctx).List(ctx)
	if err != nil {
		t.Fatalf("list permissions: %v", err)
	}
	if len(perms) != len(BuiltinPermissions) {
		t.Fatalf("expected %d permissions, got %d", len(BuiltinPermissions), len(perms))
	}
	roles, err := store.Roles(ctx).List(ctx)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	if len(roles) != len(BuiltinRoles) {
		t.Fatalf("expected %d roles, got %d", len(BuiltinRoles), len(roles))
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, "  Alice@Campus.Test ", "s3cret-pass", "Alice Doe")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if user.Email != "alice@campus.test" {
		t.Fatalf("email not normalized: %s", user.Email)
	}

	pair, principal, err := svc.Login(ctx, "alice@campus.test", "s3cret-pass", SessionMeta{Device: "test"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("incomplete token pair")
	}
	if principal.User.ID != user.ID || principal.SessionID == "" {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	got, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.User.ID != user.ID {
		t.Fatalf("authenticated wrong user: %s", got.User.ID)
	}

	sessions, err := store.Sessions(ctx).ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
}

func TestLoginFailuresCreateNoSession(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, "bob@campus.test", "right-password", "")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "bob@campus.test", "wrong-password"},
		{"unknown email", "nobody@campus.test", "right-password"},
		{"empty password", "bob@campus.test", ""},
	}
	for _, tc := range cases {
		if _, _, err := svc.Login(ctx, tc.email, tc.password, SessionMeta{}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", tc.name, err)
		}
	}

	// A disabled account fails the same way.
	if err := store.Users(ctx).SetStatus(ctx, user.ID, UserStatusDisabled); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, _, err := svc.Login(ctx, "bob@campus.test", "right-password", SessionMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("disabled account: expected ErrInvalidCredentials, got %v", err)
	}

	sessions, err := store.Sessions(ctx).ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("failed logins must not create sessions, got %d", len(sessions))
	}
}

func TestChangePasswordRotatesOneCredential(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, "carol@campus.test", "old-password", "")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	if err := svc.ChangePassword(ctx, user.ID, "wrong", "new-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong current password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "old-password", "new-password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	total, active, err := store.Credentials(ctx).CountForUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("CountForUser: %v", err)
	}
	if total != 2 || active != 1 {
		t.Fatalf("expected 2 total / 1 active credentials, got %d/%d", total, active)
	}

	if _, _, err := svc.Login(ctx, "carol@campus.test", "old-password", SessionMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "carol@campus.test", "new-password", SessionMeta{}); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestChangePasswordKeepsSessionsAlive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, "dan@campus.test", "old-password", "")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	pair, _, err := svc.Login(ctx, "dan@campus.test", "old-password", SessionMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "old-password", "new-password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("existing session should survive a password change: %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterUser(ctx, "erin@campus.test", "password-1", ""); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	pair, _, err := svc.Login(ctx, "erin@campus.test", "password-1", SessionMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	ok, err := svc.Logout(ctx, pair.AccessToken)
	if err != nil || !ok {
		t.Fatalf("first Logout: ok=%v err=%v", ok, err)
	}
	ok, err = svc.Logout(ctx, pair.AccessToken)
	if err != nil || ok {
		t.Fatalf("second Logout must be a false no-op: ok=%v err=%v", ok, err)
	}

	if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive after logout, got %v", err)
	}
}

func TestRegisterUserValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterUser(ctx, "not-an-email", "password", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "ok@campus.test", "   ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank password, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "ok@campus.test", "password", ""); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "ok@campus.test", "password", ""); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for duplicate email, got %v", err)
	}
}

func TestDeleteRoleRefusesSystemRoles(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	admin, err := store.Roles(ctx).FindByCode(ctx, RoleAdmin)
	if err != nil {
		t.Fatalf("find admin role: %v", err)
	}
	if err := svc.DeleteRole(ctx, admin.ID); !errors.Is(err, ErrSystemRole) {
		t.Fatalf("expected ErrSystemRole, got %v", err)
	}

	custom, err := svc.CreateRole(ctx, "Lab-Assistant", "Lab Assistant", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if custom.Code != "lab-assistant" {
		t.Fatalf("role code not normalized: %s", custom.Code)
	}
	if err := svc.DeleteRole(ctx, custom.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if _, err := store.Roles(ctx).Find(ctx, custom.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected role gone, got %v", err)
	}
}

func TestSetRolePermissionsDedupes(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "registrar", "Registrar", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.SetRolePermissions(ctx, role.ID, []string{
		PermUsersRead, PermUsersRead, " ", PermCoursesRead,
	}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	perms, err := store.Permissions(ctx).PermissionsForRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("PermissionsForRole: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 permissions after dedupe, got %d", len(perms))
	}
}

func TestBootstrapCreatesSuperuserOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx, "root@campus.test", "root-password"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	user, err := store.Users(ctx).FindByEmail(ctx, "root@campus.test")
	if err != nil {
		t.Fatalf("find bootstrap user: %v", err)
	}
	if !user.Superuser || !user.Verified {
		t.Fatalf("bootstrap user flags wrong: %+v", user)
	}

	ok, err := svc.Resolver().HasRole(ctx, user.ID, RoleAdmin)
	if err != nil || !ok {
		t.Fatalf("bootstrap user should hold admin role: ok=%v err=%v", ok, err)
	}
	if _, _, err := svc.Login(ctx, "root@campus.test", "root-password", SessionMeta{}); err != nil {
		t.Fatalf("bootstrap login: %v", err)
	}

	// Rerun is a no-op, as is a blank configuration.
	if err := svc.Bootstrap(ctx, "root@campus.test", "other-password"); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if err := svc.Bootstrap(ctx, "", ""); err != nil {
		t.Fatalf("blank Bootstrap: %v", err)
	}
	users, err := store.Users(ctx).List(ctx, ListUsersOptions{})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected exactly one user, got %d", len(users))
	}
}

func TestGrantAndRevokePermission(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, "fay@campus.test", "password", "")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	if err := svc.GrantPermission(ctx, user.ID, "no.such.permission", "", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown permission, got %v", err)
	}
	if err := svc.GrantPermission(ctx, user.ID, PermReportsView, "", nil); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}

	ok, err := svc.Resolver().Resolve(ctx, user.ID, PermReportsView)
	if err != nil || !ok {
		t.Fatalf("grant should resolve: ok=%v err=%v", ok, err)
	}
	if err := svc.RevokePermission(ctx, user.ID, PermReportsView); err != nil {
		t.Fatalf("RevokePermission: %v", err)
	}
	ok, err = svc.Resolver().Resolve(ctx, user.ID, PermReportsView)
	if err != nil || ok {
		t.Fatalf("revoked grant should deny: ok=%v err=%v", ok, err)
	}
}
