package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config collects everything the service reads from the environment. It is
// loaded once at process start and passed down explicitly.
type Config struct {
	Addr        string
	DatabaseDSN string
	RedisURL    string

	AuthSecret string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	RateBurst  int
	RatePerSec int

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// Load reads configuration from the environment. A .env file is honored when
// present. The auth secret is the only hard requirement.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:                   envOr("HTTP_ADDR", ":8080"),
		DatabaseDSN:            os.Getenv("DATABASE_URL"),
		RedisURL:               os.Getenv("REDIS_URL"),
		AuthSecret:             os.Getenv("AUTH_SECRET"),
		Issuer:                 envOr("AUTH_ISSUER", "campusgate"),
		BootstrapAdminEmail:    os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
	}
	if cfg.AuthSecret == "" {
		return Config{}, errors.New("config: AUTH_SECRET is required")
	}

	var err error
	if cfg.AccessTTL, err = durationOr("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = durationOr("REFRESH_TOKEN_TTL", 14*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = intOr("RATE_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = intOr("RATE_PER_SEC", 10); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}

func intOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer", key)
	}
	return n, nil
}
