package iam

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssueAndVerify(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", "campusgate-test")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, tokenID, expiresAt, err := issuer.Issue("user-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tokenID == "" {
		t.Fatalf("empty token id")
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %v", expiresAt)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.ID != tokenID {
		t.Fatalf("token id mismatch: %s vs %s", claims.ID, tokenID)
	}
	if claims.Issuer != "campusgate-test" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestTokenExpiredIsDistinctFromInvalid(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", "campusgate-test")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }

	token, _, _, err := issuer.Issue("user-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issuer.now = func() time.Time { return base.Add(11 * time.Minute) }
	if _, err := issuer.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	// A garbage token is invalid, never expired.
	if _, err := issuer.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := issuer.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty input, got %v", err)
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	a, err := NewTokenIssuer("secret-a", "campusgate")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	b, err := NewTokenIssuer("secret-b", "campusgate")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, _, _, err := a.Issue("user-1", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestTokenIssuerMismatchRejected(t *testing.T) {
	a, err := NewTokenIssuer("secret", "issuer-a")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	b, err := NewTokenIssuer("secret", "issuer-b")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, _, _, err := a.Issue("user-1", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for issuer mismatch, got %v", err)
	}
}

func TestTokenIssueValidation(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", "campusgate")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	if _, _, _, err := issuer.Issue("", time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty subject, got %v", err)
	}
	if _, _, _, err := issuer.Issue("user-1", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero ttl, got %v", err)
	}
	if _, err := NewTokenIssuer("", "campusgate"); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestRefreshTokenHashIsStable(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", "campusgate")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, hash, err := issuer.NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if token == "" || hash == "" {
		t.Fatalf("empty refresh token or hash")
	}
	if HashRefreshToken(token) != hash {
		t.Fatalf("hash does not match token")
	}
	other, _, err := issuer.NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if other == token {
		t.Fatalf("refresh tokens must be unique")
	}
}
