package iam

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SessionRegistry tracks login sessions: one access token lineage plus one
// refresh token per session.
type SessionRegistry struct {
	store      Store
	tokens     *TokenIssuer
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionRegistry constructs a SessionRegistry.
func NewSessionRegistry(store Store, tokens *TokenIssuer, accessTTL, refreshTTL time.Duration) (*SessionRegistry, error) {
	if store == nil || tokens == nil {
		return nil, errors.New("iam: store and token issuer are required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("%w: token lifetimes must be positive", ErrInvalidInput)
	}
	return &SessionRegistry{
		store:      store,
		tokens:     tokens,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// Create mints an access token and a refresh token for the user and persists
// an active session. The session's absolute expiry follows the refresh TTL.
func (r *SessionRegistry) Create(ctx context.Context, user *User, meta SessionMeta) (*Session, TokenPair, error) {
	if user == nil || user.ID == "" {
		return nil, TokenPair{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	now := r.now().UTC()
	access, tokenID, accessExp, err := r.tokens.Issue(user.ID, r.accessTTL)
	if err != nil {
		return nil, TokenPair{}, err
	}
	refresh, refreshHash, err := r.tokens.NewRefreshToken()
	if err != nil {
		return nil, TokenPair{}, err
	}
	sess := &Session{
		UserID:        user.ID,
		AccessTokenID: tokenID,
		RefreshHash:   refreshHash,
		Status:        SessionStatusActive,
		IP:            meta.IP,
		UserAgent:     meta.UserAgent,
		Device:        meta.Device,
		ExpiresAt:     now.Add(r.refreshTTL),
		LastSeenAt:    now,
		CreatedAt:     now,
	}
	if err := r.store.Sessions(ctx).Create(ctx, sess); err != nil {
		return nil, TokenPair{}, err
	}
	pair := TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.ExpiresAt,
	}
	return sess, pair, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// itself is left unchanged. Any miss — unknown token, logged-out session,
// expired session — is ErrInvalidToken, which the edge maps to 401.
func (r *SessionRegistry) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if refreshToken == "" {
		return TokenPair{}, ErrInvalidToken
	}
	sessions := r.store.Sessions(ctx)
	sess, err := sessions.FindByRefreshHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	now := r.now().UTC()
	if sess.Status != SessionStatusActive || now.After(sess.ExpiresAt) {
		return TokenPair{}, ErrInvalidToken
	}
	access, tokenID, accessExp, err := r.tokens.Issue(sess.UserID, r.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	if err := sessions.Rebind(ctx, sess.ID, tokenID, now); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// Invalidate marks the session bound to the access token as logged out.
// Idempotent: invalidating an already-inactive session returns false.
func (r *SessionRegistry) Invalidate(ctx context.Context, accessToken string) (bool, error) {
	claims, err := r.tokens.Verify(accessToken)
	if err != nil {
		return false, ErrInvalidToken
	}
	return r.store.Sessions(ctx).MarkLoggedOut(ctx, claims.ID)
}

// Touch confirms the session behind the token id is still live and bumps its
// last-activity timestamp. Concurrent touches may race on last_seen; nothing
// depends on that ordering.
func (r *SessionRegistry) Touch(ctx context.Context, tokenID string) (*Session, error) {
	if tokenID == "" {
		return nil, ErrSessionInactive
	}
	sess, err := r.store.Sessions(ctx).Touch(ctx, tokenID, r.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionInactive
		}
		return nil, err
	}
	return sess, nil
}
