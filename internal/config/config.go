package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr             string
	DatabaseURL      string
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTInviteSecret  string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	InviteTTL        time.Duration
	CORSOrigin       string
	LogVerbosity     int
	// HookMode is "sync" or "async" and controls how post-commit hooks run.
	HookMode string
	// Redis backs the cache, refresh sessions and the notification queue.
	// Empty disables all three.
	RedisURL string
	CacheTTL time.Duration
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// SMTP - email disabled if host is empty
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// NotifyWebhookURL receives every notification as JSON when set.
	NotifyWebhookURL string
	// DigestSchedule is a cron spec; empty disables the daily digest.
	DigestSchedule string
	// Attachment storage - disabled if endpoint is empty
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIOPublicURL string
	AppURL         string
}

// Load reads a .env file when present, then the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:             getenv("API_ADDR", ":5000"),
		DatabaseURL:      getenv("DATABASE_URL", "sqlite://./data/trello.db"),
		JWTAccessSecret:  getenv("JWT_ACCESS_SECRET", "trello-dev-access-secret"),
		JWTRefreshSecret: getenv("JWT_REFRESH_SECRET", "trello-dev-refresh-secret"),
		JWTInviteSecret:  getenv("JWT_INVITE_SECRET", "trello-dev-invite-secret"),
		AccessTTL:        getenvDuration("ACCESS_TTL_SECONDS", 15*time.Minute),
		RefreshTTL:       getenvDuration("REFRESH_TTL_SECONDS", 7*24*time.Hour),
		InviteTTL:        getenvDuration("INVITE_TTL_SECONDS", 7*24*time.Hour),
		CORSOrigin:       getenv("CORS_ORIGIN", "*"),
		LogVerbosity:     getenvInt("LOG_VERBOSITY", 0),
		HookMode:         strings.ToLower(getenv("HOOK_MODE", "sync")),
		RedisURL:         getenv("REDIS_URL", ""),
		CacheTTL:         getenvDuration("CACHE_TTL_SECONDS", 5*time.Minute),
		MeiliURL:         getenv("MEILI_URL", ""),
		MeiliMasterKey:   getenv("MEILI_MASTER_KEY", ""),
		SMTPHost:         getenv("SMTP_HOST", ""),
		SMTPPort:         getenvInt("SMTP_PORT", 587),
		SMTPUsername:     getenv("SMTP_USERNAME", ""),
		SMTPPassword:     getenv("SMTP_PASSWORD", ""),
		SMTPFrom:         getenv("SMTP_FROM", ""),
		SMTPFromName:     getenv("SMTP_FROM_NAME", "Trello Clone"),
		NotifyWebhookURL: getenv("NOTIFY_WEBHOOK_URL", ""),
		DigestSchedule:   getenv("DIGEST_SCHEDULE", "0 8 * * *"),
		MinIOEndpoint:    getenv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:   getenv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:   getenv("MINIO_SECRET_KEY", ""),
		MinIOBucket:      getenv("MINIO_BUCKET", "attachments"),
		MinIOUseSSL:      getenvBool("MINIO_USE_SSL", false),
		MinIOPublicURL:   getenv("MINIO_PUBLIC_URL", ""),
		AppURL:           getenv("APP_URL", "http://localhost:3000"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration reads a whole number of seconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	seconds := getenvInt(key, -1)
	if seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
