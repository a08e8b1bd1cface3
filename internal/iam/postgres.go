package iam

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"campusgate/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL through database/sql.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore             { return &pgUsers{db: s.db} }
func (s *PGStore) Credentials(context.Context) CredentialStore { return &pgCredentials{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore       { return &pgSessions{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore             { return &pgRoles{db: s.db} }
func (s *PGStore) Permissions(context.Context) PermissionStore { return &pgPermissions{db: s.db} }
func (s *PGStore) Grants(context.Context) GrantStore           { return &pgGrants{db: s.db} }
func (s *PGStore) Audit(context.Context) AuditStore            { return &pgAudit{db: s.db} }

// User store ----------------------------------------------------------------

type pgUsers struct{ db *sql.DB }

const userColumns = `id, email, full_name, status, verified, superuser, created_at, updated_at`

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, full_name, status, verified, superuser) values($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Email, u.FullName, u.Status, u.Verified, u.Superuser,
	)
	return err
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Status, &u.Verified, &u.Superuser, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

// userSortSQL maps allow-listed sort fields onto order-by clauses. Caller
// input never reaches the SQL string directly.
var userSortSQL = map[UserSortField]string{
	UserSortByCreatedAt: "created_at",
	UserSortByEmail:     "email",
	UserSortByStatus:    "status, created_at",
}

func (s *pgUsers) List(ctx context.Context, opts ListUsersOptions) ([]*User, error) {
	orderBy, ok := userSortSQL[opts.SortBy]
	if !ok {
		orderBy = "created_at"
	}
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query := `select ` + userColumns + ` from users`
	args := []any{}
	if opts.Status != "" {
		query += ` where status=$1`
		args = append(args, opts.Status)
	}
	query += ` order by ` + orderBy
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
		if len(users) == limit {
			break
		}
	}
	return users, rows.Err()
}

func (s *pgUsers) SetStatus(ctx context.Context, userID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`, userID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Credential store ----------------------------------------------------------

type pgCredentials struct{ db *sql.DB }

func (s *pgCredentials) ActiveForUser(ctx context.Context, userID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, password_hash, is_active, created_at from credentials where user_id=$1 and is_active`, userID)
	var c Credential
	if err := row.Scan(&c.ID, &c.UserID, &c.PasswordHash, &c.Active, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Rotate deactivates the current credential and inserts the replacement in
// one transaction so the at-most-one-active invariant holds.
func (s *pgCredentials) Rotate(ctx context.Context, userID, passwordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`update credentials set is_active=false where user_id=$1 and is_active`, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into credentials(id, user_id, password_hash, is_active) values($1,$2,$3,true)`,
		ids.New(), userID, passwordHash); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgCredentials) CountForUser(ctx context.Context, userID string) (int, int, error) {
	row := s.db.QueryRowContext(ctx,
		`select count(*), count(*) filter (where is_active) from credentials where user_id=$1`, userID)
	var total, active int
	if err := row.Scan(&total, &active); err != nil {
		return 0, 0, err
	}
	return total, active, nil
}

// Session store -------------------------------------------------------------

type pgSessions struct{ db *sql.DB }

const sessionColumns = `id, user_id, access_token_id, refresh_hash, status, ip, user_agent, device, expires_at, last_seen_at, created_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.UserID, &s.AccessTokenID, &s.RefreshHash, &s.Status,
		&s.IP, &s.UserAgent, &s.Device, &s.ExpiresAt, &s.LastSeenAt, &s.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (s *pgSessions) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, user_id, access_token_id, refresh_hash, status, ip, user_agent, device, expires_at, last_seen_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.ID, sess.UserID, sess.AccessTokenID, sess.RefreshHash, sess.Status,
		sess.IP, sess.UserAgent, sess.Device, sess.ExpiresAt, sess.LastSeenAt,
	)
	return err
}

func (s *pgSessions) Find(ctx context.Context, id string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id))
}

func (s *pgSessions) FindByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where refresh_hash=$1`, hash))
}

func (s *pgSessions) Touch(ctx context.Context, tokenID string, now time.Time) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`update sessions set last_seen_at=$2
		 where access_token_id=$1 and status='active' and expires_at > $2
		 returning `+sessionColumns, tokenID, now))
}

func (s *pgSessions) Rebind(ctx context.Context, sessionID, tokenID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set access_token_id=$2, last_seen_at=$3 where id=$1`,
		sessionID, tokenID, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgSessions) MarkLoggedOut(ctx context.Context, tokenID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set status='logged_out' where access_token_id=$1 and status='active'`, tokenID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *pgSessions) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where user_id=$1 order by created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Role store ----------------------------------------------------------------

type pgRoles struct{ db *sql.DB }

const roleColumns = `id, code, name, description, is_system, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Code, &r.Name, &r.Description, &r.System, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *pgRoles) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into roles(id, code, name, description, is_system) values($1,$2,$3,$4,$5)`,
		role.ID, role.Code, role.Name, role.Description, role.System,
	)
	return err
}

func (s *pgRoles) Find(ctx context.Context, id string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id=$1`, id))
}

func (s *pgRoles) FindByCode(ctx context.Context, code string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where code=$1`, code))
}

func (s *pgRoles) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *pgRoles) Delete(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id=$1 and not is_system`, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgRoles) Assign(ctx context.Context, a RoleAssignment) error {
	_, err := s.db.ExecContext(ctx,
		`insert into role_assignments(user_id, role_id, granted_by, is_active, expires_at)
		 values($1,$2,$3,true,$4)
		 on conflict (user_id, role_id) do update
		 set is_active=true, expires_at=excluded.expires_at, granted_by=excluded.granted_by`,
		a.UserID, a.RoleID, nullIfEmpty(a.GrantedBy), a.ExpiresAt,
	)
	return err
}

func (s *pgRoles) RevokeAssignment(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`update role_assignments set is_active=false where user_id=$1 and role_id=$2`,
		userID, roleID)
	return err
}

func (s *pgRoles) AssignmentsForUser(ctx context.Context, userID string) ([]RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select user_id, role_id, coalesce(granted_by, ''), is_active, expires_at, created_at
		 from role_assignments where user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.GrantedBy, &a.Active, &a.ExpiresAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *pgRoles) HasActiveRole(ctx context.Context, userID, roleCode string, now time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`select exists(
			select 1 from role_assignments ra
			join roles r on r.id = ra.role_id
			where ra.user_id=$1 and r.code=$2 and ra.is_active
			  and (ra.expires_at is null or ra.expires_at > $3))`,
		userID, roleCode, now)
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Permission store ----------------------------------------------------------

type pgPermissions struct{ db *sql.DB }

func (s *pgPermissions) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into permissions(id, code, resource, action, description)
			 values($1,$2,$3,$4,$5) on conflict (code) do nothing`,
			p.ID, p.Code, p.Resource, p.Action, p.Description,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *pgPermissions) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, code, resource, action, description, created_at from permissions order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *pgPermissions) FindByCode(ctx context.Context, code string) (*Permission, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, code, resource, action, description, created_at from permissions where code=$1`, code)
	var p Permission
	if err := row.Scan(&p.ID, &p.Code, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *pgPermissions) SetForRole(ctx context.Context, roleID string, codes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, code := range codes {
		_, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_id, is_active)
			 select $1, id, true from permissions where code=$2`, roleID, code,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *pgPermissions) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.code, p.resource, p.action, p.description, p.created_at
		 from permissions p
		 join role_permissions rp on rp.permission_id=p.id
		 where rp.role_id=$1 and rp.is_active order by p.code`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Grant store ---------------------------------------------------------------

type pgGrants struct{ db *sql.DB }

func (s *pgGrants) Grant(ctx context.Context, g DirectGrant) error {
	_, err := s.db.ExecContext(ctx,
		`insert into direct_grants(user_id, permission_id, granted_by, is_active, expires_at)
		 values($1,$2,$3,true,$4)
		 on conflict (user_id, permission_id) do update
		 set is_active=true, expires_at=excluded.expires_at, granted_by=excluded.granted_by`,
		g.UserID, g.PermissionID, nullIfEmpty(g.GrantedBy), g.ExpiresAt,
	)
	return err
}

func (s *pgGrants) Revoke(ctx context.Context, userID, permCode string) error {
	_, err := s.db.ExecContext(ctx,
		`update direct_grants set is_active=false
		 where user_id=$1 and permission_id=(select id from permissions where code=$2)`,
		userID, permCode)
	return err
}

func (s *pgGrants) DirectGrantExists(ctx context.Context, userID, permCode string, now time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`select exists(
			select 1 from direct_grants dg
			join permissions p on p.id = dg.permission_id
			where dg.user_id=$1 and p.code=$2 and dg.is_active
			  and (dg.expires_at is null or dg.expires_at > $3))`,
		userID, permCode, now)
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *pgGrants) RoleGrantExists(ctx context.Context, userID, permCode string, now time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`select exists(
			select 1 from role_assignments ra
			join role_permissions rp on rp.role_id = ra.role_id and rp.is_active
			join permissions p on p.id = rp.permission_id
			where ra.user_id=$1 and p.code=$2 and ra.is_active
			  and (ra.expires_at is null or ra.expires_at > $3))`,
		userID, permCode, now)
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Audit store ---------------------------------------------------------------

type pgAudit struct{ db *sql.DB }

func (s *pgAudit) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	meta, _ := json.Marshal(entry.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, actor_user_id, action, resource_type, resource_id, metadata, request_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.OccurredAt, nullIfEmpty(entry.ActorUserID), entry.Action,
		entry.ResourceType, entry.ResourceID, meta, entry.RequestID,
	)
	return err
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
