package iam

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Credentials(ctx context.Context) CredentialStore
	Sessions(ctx context.Context) SessionStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Grants(ctx context.Context) GrantStore
	Audit(ctx context.Context) AuditStore
}

// UserSortField enumerates the fields list queries may sort by. Caller input
// is mapped onto this allow-list; unknown fields are rejected up front.
type UserSortField string

const (
	UserSortByCreatedAt UserSortField = "created_at"
	UserSortByEmail     UserSortField = "email"
	UserSortByStatus    UserSortField = "status"
)

// ListUsersOptions narrows and orders user listings.
type ListUsersOptions struct {
	Status string
	SortBy UserSortField
	Limit  int
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, opts ListUsersOptions) ([]*User, error)
	SetStatus(ctx context.Context, userID, status string) error
}

// CredentialStore manages password credentials. Rotate must atomically
// deactivate the current active credential and insert the replacement so the
// at-most-one-active invariant holds under concurrent calls.
type CredentialStore interface {
	ActiveForUser(ctx context.Context, userID string) (*Credential, error)
	Rotate(ctx context.Context, userID, passwordHash string) error
	CountForUser(ctx context.Context, userID string) (total, active int, err error)
}

// SessionStore manages login sessions. Status flips and last-seen bumps are
// single atomic updates; the active -> logged_out transition is guarded by a
// compare-and-set on the current status.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (*Session, error)
	// Touch confirms the session identified by the access token id is active
	// and unexpired, bumps last_seen and returns the fresh row. Returns
	// ErrNotFound when no such active session exists.
	Touch(ctx context.Context, tokenID string, now time.Time) (*Session, error)
	// Rebind records a newly minted access token id against the session and
	// bumps last_seen.
	Rebind(ctx context.Context, sessionID, tokenID string, now time.Time) error
	// MarkLoggedOut flips the active session bound to the access token id to
	// logged_out. Reports whether the transition happened; false means no
	// active session matched, so the call was a no-op.
	MarkLoggedOut(ctx context.Context, tokenID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
}

// RoleStore manages roles and role assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByCode(ctx context.Context, code string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Delete(ctx context.Context, roleID string) error
	Assign(ctx context.Context, a RoleAssignment) error
	// RevokeAssignment deactivates the assignment; the row is kept.
	RevokeAssignment(ctx context.Context, userID, roleID string) error
	AssignmentsForUser(ctx context.Context, userID string) ([]RoleAssignment, error)
	// HasActiveRole reports whether the user holds an active, unexpired
	// assignment of the role identified by code at the given instant.
	HasActiveRole(ctx context.Context, userID, roleCode string, now time.Time) (bool, error)
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	FindByCode(ctx context.Context, code string) (*Permission, error)
	SetForRole(ctx context.Context, roleID string, codes []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
}

// GrantStore manages direct grants and answers the two existence checks the
// resolver is built on.
type GrantStore interface {
	Grant(ctx context.Context, g DirectGrant) error
	// Revoke deactivates the direct grant for the permission code; no-op when
	// absent.
	Revoke(ctx context.Context, userID, permCode string) error
	// DirectGrantExists reports whether an active, unexpired direct grant for
	// the permission code exists at the given instant.
	DirectGrantExists(ctx context.Context, userID, permCode string, now time.Time) (bool, error)
	// RoleGrantExists reports whether any active, unexpired role assignment of
	// the user carries an active role permission for the code.
	RoleGrantExists(ctx context.Context, userID, permCode string, now time.Time) (bool, error)
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
