package iam

import "time"

// User statuses.
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Session statuses. Transitions are one-way: active -> logged_out or
// active -> expired.
const (
	SessionStatusActive    = "active"
	SessionStatusExpired   = "expired"
	SessionStatusLoggedOut = "logged_out"
)

// User is a person or service account known to the campus platform.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	Status    string    `json:"status"`
	Verified  bool      `json:"verified"`
	Superuser bool      `json:"superuser"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credential is a password hash bound to one user. At most one credential per
// user is active at a time; superseded rows are kept for audit.
type Credential struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is a login session: one access token lineage plus one refresh
// token. Sessions are never hard-deleted.
type Session struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	AccessTokenID string    `json:"-"`
	RefreshHash   string    `json:"-"`
	Status        string    `json:"status"`
	IP            string    `json:"ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Device        string    `json:"device,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Role is a named bundle of permissions. System roles cannot be deleted.
type Role struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is an atomic capability identified by a unique code.
type Permission struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleAssignment links a user to a role with an activation flag and optional
// expiry. Only assignments that are active and unexpired at evaluation time
// count toward authorization.
type RoleAssignment struct {
	UserID    string     `json:"user_id"`
	RoleID    string     `json:"role_id"`
	GrantedBy string     `json:"granted_by,omitempty"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// DirectGrant gives a user a permission bypassing roles. Same
// activation/expiry shape as RoleAssignment.
type DirectGrant struct {
	UserID       string     `json:"user_id"`
	PermissionID string     `json:"permission_id"`
	GrantedBy    string     `json:"granted_by,omitempty"`
	Active       bool       `json:"active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
	Active       bool   `json:"active"`
}

// AuditEntry is an append-only record of a security-relevant action.
type AuditEntry struct {
	ID           string            `json:"id"`
	OccurredAt   time.Time         `json:"occurred_at"`
	ActorUserID  string            `json:"actor_user_id,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
}

// SessionMeta carries optional client attributes captured at login.
type SessionMeta struct {
	IP        string
	UserAgent string
	Device    string
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}
