package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("ACCESS_TOKEN_TTL", "")
	t.Setenv("REFRESH_TOKEN_TTL", "")
	t.Setenv("RATE_BURST", "")
	t.Setenv("RATE_PER_SEC", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 14*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.RefreshTTL)
	}
	if cfg.Issuer != "campusgate" {
		t.Fatalf("unexpected issuer: %s", cfg.Issuer)
	}
	if cfg.RateBurst != 20 || cfg.RatePerSec != 10 {
		t.Fatalf("unexpected rate defaults: %d/%d", cfg.RateBurst, cfg.RatePerSec)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without AUTH_SECRET")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("REFRESH_TOKEN_TTL", "48h")
	t.Setenv("AUTH_ISSUER", "campus-test")
	t.Setenv("RATE_BURST", "50")
	t.Setenv("RATE_PER_SEC", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Issuer != "campus-test" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.AccessTTL != 5*time.Minute || cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("ttl overrides not applied: %v/%v", cfg.AccessTTL, cfg.RefreshTTL)
	}
	if cfg.RateBurst != 50 || cfg.RatePerSec != 25 {
		t.Fatalf("rate overrides not applied: %d/%d", cfg.RateBurst, cfg.RatePerSec)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")

	t.Setenv("ACCESS_TOKEN_TTL", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for bad duration")
	}
	t.Setenv("ACCESS_TOKEN_TTL", "-5m")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for negative duration")
	}
	t.Setenv("ACCESS_TOKEN_TTL", "")

	t.Setenv("RATE_BURST", "zero")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-numeric rate")
	}
	t.Setenv("RATE_BURST", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero rate")
	}
}
