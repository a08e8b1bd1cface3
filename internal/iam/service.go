package iam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
	defaultIssuer     = "campusgate"
)

// Service composes the token issuer, session registry and authorization
// resolver over one store. It is constructed once at process start and passed
// to request handlers; there are no package-level singletons.
type Service struct {
	store      Store
	tokens     *TokenIssuer
	sessions   *SessionRegistry
	resolver   *Resolver
	now        func() time.Time
	issuer     string
	secret     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token and session lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the identity service. The signing secret is required.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("iam: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		secret:     secret,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	tokens, err := NewTokenIssuer(svc.secret, svc.issuer)
	if err != nil {
		return nil, err
	}
	tokens.now = svc.now
	sessions, err := NewSessionRegistry(store, tokens, svc.accessTTL, svc.refreshTTL)
	if err != nil {
		return nil, err
	}
	sessions.now = svc.now
	resolver, err := NewResolver(store)
	if err != nil {
		return nil, err
	}
	resolver.now = svc.now
	svc.tokens = tokens
	svc.sessions = sessions
	svc.resolver = resolver
	return svc, nil
}

// Tokens exposes the token issuer.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Sessions exposes the session registry.
func (s *Service) Sessions() *SessionRegistry { return s.sessions }

// Resolver exposes the authorization resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Store exposes the backing store.
func (s *Service) Store() Store { return s.store }

// EnsureBuiltins seeds the permission catalog and system roles.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	if err := s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions); err != nil {
		return err
	}
	roles := s.store.Roles(ctx)
	for _, role := range BuiltinRoles {
		if _, err := roles.FindByCode(ctx, role.Code); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		r := role
		if err := roles.Create(ctx, &r); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	}
	return nil
}

// Login authenticates email/password and opens a session. Wrong email, wrong
// password or a disabled account all surface as ErrInvalidCredentials; no
// session is created on failure.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMeta) (TokenPair, Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Principal{}, ErrInvalidCredentials
		}
		return TokenPair{}, Principal{}, err
	}
	if user.Status != UserStatusActive {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	cred, err := s.store.Credentials(ctx).ActiveForUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Principal{}, ErrInvalidCredentials
		}
		return TokenPair{}, Principal{}, err
	}
	if err := VerifyPassword(cred.PasswordHash, password); err != nil {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	sess, pair, err := s.sessions.Create(ctx, user, meta)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, Principal{User: user, SessionID: sess.ID, TokenID: sess.AccessTokenID}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

// Logout invalidates the session bound to the access token.
func (s *Service) Logout(ctx context.Context, accessToken string) (bool, error) {
	return s.sessions.Invalidate(ctx, accessToken)
}

// Authenticate verifies an access token, confirms its session is live and
// loads the user. This is the one place per request where auth state is
// decided; every failure is a typed outcome, never a crash.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		return Principal{}, err
	}
	sess, err := s.sessions.Touch(ctx, claims.ID)
	if err != nil {
		return Principal{}, err
	}
	user, err := s.store.Users(ctx).Find(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if user.Status != UserStatusActive {
		return Principal{}, ErrSessionInactive
	}
	return Principal{User: user, SessionID: sess.ID, TokenID: claims.ID}, nil
}

// RegisterUser creates a user with an initial credential.
func (s *Service) RegisterUser(ctx context.Context, email, password, fullName string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:    email,
		FullName: strings.TrimSpace(fullName),
		Status:   UserStatusActive,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.store.Credentials(ctx).Rotate(ctx, user.ID, hash); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangePassword verifies the current password and rotates the credential:
// exactly one prior credential is deactivated and exactly one new credential
// becomes active. Existing sessions are left untouched.
func (s *Service) ChangePassword(ctx context.Context, userID, current, replacement string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(replacement) == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	cred, err := s.store.Credentials(ctx).ActiveForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if err := VerifyPassword(cred.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(replacement)
	if err != nil {
		return err
	}
	return s.store.Credentials(ctx).Rotate(ctx, userID, hash)
}

// AssignRole grants a role to a user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID, grantedBy string, expiresAt *time.Time) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return err
	}
	return s.store.Roles(ctx).Assign(ctx, RoleAssignment{
		UserID:    userID,
		RoleID:    roleID,
		GrantedBy: grantedBy,
		Active:    true,
		ExpiresAt: expiresAt,
	})
}

// RevokeRole deactivates a role assignment. The row is kept for audit.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).RevokeAssignment(ctx, userID, roleID)
}

// GrantPermission adds a direct grant bypassing roles.
func (s *Service) GrantPermission(ctx context.Context, userID, permCode, grantedBy string, expiresAt *time.Time) error {
	userID = strings.TrimSpace(userID)
	permCode = strings.TrimSpace(permCode)
	if userID == "" || permCode == "" {
		return fmt.Errorf("%w: user_id and permission code are required", ErrInvalidInput)
	}
	perm, err := s.store.Permissions(ctx).FindByCode(ctx, permCode)
	if err != nil {
		return err
	}
	return s.store.Grants(ctx).Grant(ctx, DirectGrant{
		UserID:       userID,
		PermissionID: perm.ID,
		GrantedBy:    grantedBy,
		Active:       true,
		ExpiresAt:    expiresAt,
	})
}

// RevokePermission deactivates a direct grant.
func (s *Service) RevokePermission(ctx context.Context, userID, permCode string) error {
	userID = strings.TrimSpace(userID)
	permCode = strings.TrimSpace(permCode)
	if userID == "" || permCode == "" {
		return fmt.Errorf("%w: user_id and permission code are required", ErrInvalidInput)
	}
	return s.store.Grants(ctx).Revoke(ctx, userID, permCode)
}

// CreateRole adds a non-system role.
func (s *Service) CreateRole(ctx context.Context, code, name, description string) (*Role, error) {
	code = strings.TrimSpace(strings.ToLower(code))
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return nil, fmt.Errorf("%w: role code and name are required", ErrInvalidInput)
	}
	role := &Role{Code: code, Name: name, Description: strings.TrimSpace(description)}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a role. System roles are refused.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.System {
		return ErrSystemRole
	}
	return s.store.Roles(ctx).Delete(ctx, roleID)
}

// SetRolePermissions replaces the permission set of a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, codes []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return err
	}
	return s.store.Permissions(ctx).SetForRole(ctx, roleID, dedupeStrings(codes))
}

// AppendAudit records an action in the append-only log.
func (s *Service) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	return s.store.Audit(ctx).Append(ctx, entry)
}

// Bootstrap ensures an initial superuser exists with the admin role. No-op
// when the email is already registered.
func (s *Service) Bootstrap(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil
	}
	if _, err := s.store.Users(ctx).FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user := &User{
		Email:     email,
		FullName:  "Platform Administrator",
		Status:    UserStatusActive,
		Verified:  true,
		Superuser: true,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return err
	}
	if err := s.store.Credentials(ctx).Rotate(ctx, user.ID, hash); err != nil {
		return err
	}
	admin, err := s.store.Roles(ctx).FindByCode(ctx, RoleAdmin)
	if err != nil {
		return err
	}
	return s.AssignRole(ctx, user.ID, admin.ID, user.ID, nil)
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
