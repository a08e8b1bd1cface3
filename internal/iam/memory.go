package iam

import (
	"context"
	"sort"
	"sync"
	"time"

	"campusgate/internal/ids"
)

// MemoryStore is an in-process Store used by tests and the dev mode of
// cmd/api. All methods are safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	usersByMail map[string]string
	credentials map[string][]*Credential // userID -> history, newest last
	sessions    map[string]*Session
	roles       map[string]*Role
	rolesByCode map[string]string
	permissions map[string]*Permission // code -> permission
	rolePerms   map[string]map[string]bool
	assignments []RoleAssignment
	grants      []DirectGrant
	audit       []*AuditEntry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		usersByMail: make(map[string]string),
		credentials: make(map[string][]*Credential),
		sessions:    make(map[string]*Session),
		roles:       make(map[string]*Role),
		rolesByCode: make(map[string]string),
		permissions: make(map[string]*Permission),
		rolePerms:   make(map[string]map[string]bool),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Users(context.Context) UserStore             { return (*memUsers)(m) }
func (m *MemoryStore) Credentials(context.Context) CredentialStore { return (*memCredentials)(m) }
func (m *MemoryStore) Sessions(context.Context) SessionStore       { return (*memSessions)(m) }
func (m *MemoryStore) Roles(context.Context) RoleStore             { return (*memRoles)(m) }
func (m *MemoryStore) Permissions(context.Context) PermissionStore { return (*memPermissions)(m) }
func (m *MemoryStore) Grants(context.Context) GrantStore           { return (*memGrants)(m) }
func (m *MemoryStore) Audit(context.Context) AuditStore            { return (*memAudit)(m) }

// Users ---------------------------------------------------------------------

type memUsers MemoryStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usersByMail[u.Email]; ok {
		return ErrAlreadyExists
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	m.usersByMail[u.Email] = u.ID
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByMail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *memUsers) List(_ context.Context, opts ListUsersOptions) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*User
	for _, u := range m.users {
		if opts.Status != "" && u.Status != opts.Status {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sortUsers(out, opts.SortBy)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memUsers) SetStatus(_ context.Context, userID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// sortUsers orders a listing by an allow-listed field. Unknown fields fall
// back to creation order.
func sortUsers(users []*User, field UserSortField) {
	less := map[UserSortField]func(a, b *User) bool{
		UserSortByEmail:  func(a, b *User) bool { return a.Email < b.Email },
		UserSortByStatus: func(a, b *User) bool { return a.Status < b.Status },
		UserSortByCreatedAt: func(a, b *User) bool {
			return a.CreatedAt.Before(b.CreatedAt)
		},
	}
	fn, ok := less[field]
	if !ok {
		fn = less[UserSortByCreatedAt]
	}
	sort.SliceStable(users, func(i, j int) bool { return fn(users[i], users[j]) })
}

// Credentials ---------------------------------------------------------------

type memCredentials MemoryStore

func (m *memCredentials) ActiveForUser(_ context.Context, userID string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.credentials[userID] {
		if c.Active {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memCredentials) Rotate(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.credentials[userID] {
		c.Active = false
	}
	m.credentials[userID] = append(m.credentials[userID], &Credential{
		ID:           ids.New(),
		UserID:       userID,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

func (m *memCredentials) CountForUser(_ context.Context, userID string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total, active := 0, 0
	for _, c := range m.credentials[userID] {
		total++
		if c.Active {
			active++
		}
	}
	return total, active, nil
}

// Sessions ------------------------------------------------------------------

type memSessions MemoryStore

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = ids.New()
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) Find(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) FindByRefreshHash(_ context.Context, hash string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.RefreshHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) Touch(_ context.Context, tokenID string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.AccessTokenID != tokenID {
			continue
		}
		if s.Status != SessionStatusActive || now.After(s.ExpiresAt) {
			return nil, ErrNotFound
		}
		s.LastSeenAt = now
		cp := *s
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memSessions) Rebind(_ context.Context, sessionID, tokenID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.AccessTokenID = tokenID
	s.LastSeenAt = now
	return nil
}

func (m *memSessions) MarkLoggedOut(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.AccessTokenID == tokenID && s.Status == SessionStatusActive {
			s.Status = SessionStatusLoggedOut
			return true, nil
		}
	}
	return false, nil
}

func (m *memSessions) ListByUser(_ context.Context, userID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Roles ---------------------------------------------------------------------

type memRoles MemoryStore

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rolesByCode[role.Code]; ok {
		return ErrAlreadyExists
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	cp := *role
	m.roles[role.ID] = &cp
	m.rolesByCode[role.Code] = role.ID
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) FindByCode(_ context.Context, code string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.rolesByCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.roles[id]
	return &cp, nil
}

func (m *memRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Role
	for _, r := range m.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memRoles) Delete(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	delete(m.roles, roleID)
	delete(m.rolesByCode, r.Code)
	delete(m.rolePerms, roleID)
	return nil
}

func (m *memRoles) Assign(_ context.Context, a RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assignments {
		ex := &m.assignments[i]
		if ex.UserID == a.UserID && ex.RoleID == a.RoleID {
			ex.Active = true
			ex.ExpiresAt = a.ExpiresAt
			ex.GrantedBy = a.GrantedBy
			return nil
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.assignments = append(m.assignments, a)
	return nil
}

func (m *memRoles) RevokeAssignment(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assignments {
		a := &m.assignments[i]
		if a.UserID == userID && a.RoleID == roleID {
			a.Active = false
			return nil
		}
	}
	return nil
}

func (m *memRoles) AssignmentsForUser(_ context.Context, userID string) ([]RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RoleAssignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRoles) HasActiveRole(_ context.Context, userID, roleCode string, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roleID, ok := m.rolesByCode[roleCode]
	if !ok {
		return false, nil
	}
	for _, a := range m.assignments {
		if a.UserID == userID && a.RoleID == roleID && assignmentLive(a.Active, a.ExpiresAt, now) {
			return true, nil
		}
	}
	return false, nil
}

// Permissions ---------------------------------------------------------------

type memPermissions MemoryStore

func (m *memPermissions) Ensure(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.permissions[p.Code]; ok {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		cp := p
		m.permissions[p.Code] = &cp
	}
	return nil
}

func (m *memPermissions) List(_ context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memPermissions) FindByCode(_ context.Context, code string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPermissions) SetForRole(_ context.Context, roleID string, codes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool, len(codes))
	for _, code := range codes {
		if _, ok := m.permissions[code]; ok {
			set[code] = true
		}
	}
	m.rolePerms[roleID] = set
	return nil
}

func (m *memPermissions) PermissionsForRole(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Permission
	for code, active := range m.rolePerms[roleID] {
		if !active {
			continue
		}
		if p, ok := m.permissions[code]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Grants --------------------------------------------------------------------

type memGrants MemoryStore

func (m *memGrants) Grant(_ context.Context, g DirectGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.grants {
		ex := &m.grants[i]
		if ex.UserID == g.UserID && ex.PermissionID == g.PermissionID {
			ex.Active = true
			ex.ExpiresAt = g.ExpiresAt
			ex.GrantedBy = g.GrantedBy
			return nil
		}
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	m.grants = append(m.grants, g)
	return nil
}

func (m *memGrants) Revoke(_ context.Context, userID, permCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.permissions[permCode]
	if !ok {
		return nil
	}
	for i := range m.grants {
		g := &m.grants[i]
		if g.UserID == userID && g.PermissionID == p.ID {
			g.Active = false
		}
	}
	return nil
}

func (m *memGrants) DirectGrantExists(_ context.Context, userID, permCode string, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[permCode]
	if !ok {
		return false, nil
	}
	for _, g := range m.grants {
		if g.UserID == userID && g.PermissionID == p.ID && assignmentLive(g.Active, g.ExpiresAt, now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memGrants) RoleGrantExists(_ context.Context, userID, permCode string, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.permissions[permCode]; !ok {
		return false, nil
	}
	for _, a := range m.assignments {
		if a.UserID != userID || !assignmentLive(a.Active, a.ExpiresAt, now) {
			continue
		}
		if m.rolePerms[a.RoleID][permCode] {
			return true, nil
		}
	}
	return false, nil
}

// Audit ---------------------------------------------------------------------

type memAudit MemoryStore

func (m *memAudit) Append(_ context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	cp := *entry
	m.audit = append(m.audit, &cp)
	return nil
}

// AuditEntries returns a snapshot of the audit log, newest last. Test helper.
func (m *MemoryStore) AuditEntries() []*AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

func assignmentLive(active bool, expiresAt *time.Time, now time.Time) bool {
	if !active {
		return false
	}
	return expiresAt == nil || now.Before(*expiresAt)
}
