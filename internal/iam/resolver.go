package iam

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Resolver answers allow/deny questions. A permission is held iff an active,
// unexpired direct grant exists OR an active, unexpired role assignment
// carries an active role permission for the code. This is a pure existence
// check; multiple matching roles are equivalent. It is the single
// authorization path for the whole service.
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("iam: store is required")
	}
	return &Resolver{store: store, now: time.Now}, nil
}

// Resolve reports whether the user holds the permission. A missing user or
// unknown permission code is a plain deny, never an error.
func (r *Resolver) Resolve(ctx context.Context, userID, permCode string) (bool, error) {
	userID = strings.TrimSpace(userID)
	permCode = strings.TrimSpace(permCode)
	if userID == "" || permCode == "" {
		return false, nil
	}
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.Status != UserStatusActive {
		return false, nil
	}
	if user.Superuser {
		return true, nil
	}
	now := r.now().UTC()
	grants := r.store.Grants(ctx)
	ok, err := grants.DirectGrantExists(ctx, userID, permCode, now)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return grants.RoleGrantExists(ctx, userID, permCode, now)
}

// ResolveAny reports whether the user holds at least one of the permissions.
func (r *Resolver) ResolveAny(ctx context.Context, userID string, permCodes ...string) (bool, error) {
	for _, code := range permCodes {
		ok, err := r.Resolve(ctx, userID, code)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ResolveAll reports whether the user holds every permission in the set. An
// empty set resolves to true.
func (r *Resolver) ResolveAll(ctx context.Context, userID string, permCodes ...string) (bool, error) {
	for _, code := range permCodes {
		ok, err := r.Resolve(ctx, userID, code)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// HasRole reports whether the user holds an active, unexpired assignment of
// the role code. Superusers pass every role check.
func (r *Resolver) HasRole(ctx context.Context, userID, roleCode string) (bool, error) {
	userID = strings.TrimSpace(userID)
	roleCode = strings.TrimSpace(roleCode)
	if userID == "" || roleCode == "" {
		return false, nil
	}
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.Status != UserStatusActive {
		return false, nil
	}
	if user.Superuser {
		return true, nil
	}
	return r.store.Roles(ctx).HasActiveRole(ctx, userID, roleCode, r.now().UTC())
}
