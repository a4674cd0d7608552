package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures the runtime configuration for the Hoodly sync client.
type Config struct {
	BackendURL   string
	AnonKey      string
	RealtimeURL  string
	LinkDomain   string
	DatabaseURL  string
	Email        string
	Password     string
	UserID       string
	SessionFile  string
	LogLevel     string
	FeedCacheTTL time.Duration
	RequestRate  int
	RequestBurst int
	ObjectStore  ObjectStoreConfig
}

// ObjectStoreConfig points media uploads at an S3-compatible bucket.
type ObjectStoreConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
}

// Load reads configuration from environment variables, applying sensible defaults
// for local development while allowing overrides through environment variables.
// A missing backend URL or key is not an error: connectivity-dependent paths
// degrade to a skipped state instead of crashing.
func Load() (Config, error) {
	cfg := Config{
		BackendURL:   getString("HOODLY_BACKEND_URL", ""),
		AnonKey:      getString("HOODLY_ANON_KEY", ""),
		RealtimeURL:  getString("HOODLY_REALTIME_URL", ""),
		LinkDomain:   getString("HOODLY_LINK_DOMAIN", "hoodly.app"),
		DatabaseURL:  getString("HOODLY_DATABASE_URL", ""),
		Email:        getString("HOODLY_EMAIL", ""),
		Password:     getString("HOODLY_PASSWORD", ""),
		UserID:       getString("HOODLY_USER_ID", ""),
		SessionFile:  getString("HOODLY_SESSION_FILE", defaultSessionFile()),
		LogLevel:     getString("HOODLY_LOG_LEVEL", "info"),
		FeedCacheTTL: getDuration("HOODLY_FEED_CACHE_TTL", time.Minute),
		RequestRate:  getInt("HOODLY_REQUEST_RATE", 20),
		RequestBurst: getInt("HOODLY_REQUEST_BURST", 10),
		ObjectStore: ObjectStoreConfig{
			Bucket:        getString("HOODLY_MEDIA_BUCKET", ""),
			Region:        getString("HOODLY_MEDIA_REGION", "us-east-1"),
			Endpoint:      getString("HOODLY_MEDIA_ENDPOINT", ""),
			PublicBaseURL: getString("HOODLY_MEDIA_PUBLIC_URL", ""),
		},
	}

	if cfg.RealtimeURL == "" && cfg.BackendURL != "" {
		cfg.RealtimeURL = deriveRealtimeURL(cfg.BackendURL)
	}

	return cfg, nil
}

// HasBackend reports whether the hosted backend is configured at all.
func (c Config) HasBackend() bool {
	return c.BackendURL != "" && c.AnonKey != ""
}

// HasDirectDatabase reports whether a direct PostgreSQL connection is configured.
func (c Config) HasDirectDatabase() bool {
	return c.DatabaseURL != ""
}

func deriveRealtimeURL(backendURL string) string {
	url := backendURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return strings.TrimSuffix(url, "/") + "/realtime/v1"
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hoodlysync", "session.json")
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
