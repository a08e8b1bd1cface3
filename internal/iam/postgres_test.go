package iam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func sessionRows(sess *Session) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "access_token_id", "refresh_hash", "status",
		"ip", "user_agent", "device", "expires_at", "last_seen_at", "created_at",
	}).AddRow(sess.ID, sess.UserID, sess.AccessTokenID, sess.RefreshHash, sess.Status,
		sess.IP, sess.UserAgent, sess.Device, sess.ExpiresAt, sess.LastSeenAt, sess.CreatedAt)
}

func TestPGSessionsTouch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sess := &Session{
		ID: "sess-1", UserID: "user-1", AccessTokenID: "tok-1", RefreshHash: "hash-1",
		Status: SessionStatusActive, ExpiresAt: now.Add(time.Hour), LastSeenAt: now, CreatedAt: now,
	}
	mock.ExpectQuery(`update sessions set last_seen_at=\$2`).
		WithArgs("tok-1", now).
		WillReturnRows(sessionRows(sess))

	store := NewPGStore(db)
	got, err := store.Sessions(context.Background()).Touch(context.Background(), "tok-1", now)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if got.ID != "sess-1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsTouchMissIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`update sessions set last_seen_at=\$2`).
		WithArgs("tok-gone", now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "access_token_id", "refresh_hash", "status",
			"ip", "user_agent", "device", "expires_at", "last_seen_at", "created_at",
		}))

	store := NewPGStore(db)
	if _, err := store.Sessions(context.Background()).Touch(context.Background(), "tok-gone", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsMarkLoggedOut(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`update sessions set status='logged_out' where access_token_id=\$1 and status='active'`).
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update sessions set status='logged_out'`).
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	sessions := store.Sessions(context.Background())

	ok, err := sessions.MarkLoggedOut(context.Background(), "tok-1")
	if err != nil || !ok {
		t.Fatalf("first MarkLoggedOut: ok=%v err=%v", ok, err)
	}
	ok, err = sessions.MarkLoggedOut(context.Background(), "tok-1")
	if err != nil || ok {
		t.Fatalf("second MarkLoggedOut must be a false no-op: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGCredentialsRotateIsTransactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`update credentials set is_active=false where user_id=\$1 and is_active`).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into credentials`).
		WithArgs(sqlmock.AnyArg(), "user-1", "new-hash").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPGStore(db)
	if err := store.Credentials(context.Background()).Rotate(context.Background(), "user-1", "new-hash"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGGrantExistsQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`select exists\(\s*select 1 from direct_grants dg`).
		WithArgs("user-1", "courses.read", now).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`select exists\(\s*select 1 from role_assignments ra`).
		WithArgs("user-1", "courses.read", now).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	store := NewPGStore(db)
	grants := store.Grants(context.Background())

	ok, err := grants.DirectGrantExists(context.Background(), "user-1", "courses.read", now)
	if err != nil || !ok {
		t.Fatalf("DirectGrantExists: ok=%v err=%v", ok, err)
	}
	ok, err = grants.RoleGrantExists(context.Background(), "user-1", "courses.read", now)
	if err != nil || ok {
		t.Fatalf("RoleGrantExists: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUsersListSortAllowList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cols := []string{"id", "email", "full_name", "status", "verified", "superuser", "created_at", "updated_at"}
	now := time.Now().UTC()

	// An unknown sort field falls back to created_at; it never reaches SQL.
	mock.ExpectQuery(`select .* from users order by created_at`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", "a@x", "", "active", false, false, now, now))
	mock.ExpectQuery(`select .* from users where status=\$1 order by email`).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", "a@x", "", "active", false, false, now, now))

	store := NewPGStore(db)
	users := store.Users(context.Background())

	if _, err := users.List(context.Background(), ListUsersOptions{SortBy: "email; drop table users"}); err != nil {
		t.Fatalf("List with hostile sort: %v", err)
	}
	if _, err := users.List(context.Background(), ListUsersOptions{Status: "active", SortBy: UserSortByEmail}); err != nil {
		t.Fatalf("List by email: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRolesDeleteGuardsSystemRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`delete from roles where id=\$1 and not is_system`).
		WithArgs("role-sys").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	if err := store.Roles(context.Background()).Delete(context.Background(), "role-sys"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when nothing deleted, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
