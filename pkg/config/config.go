// Package config loads server configuration from the environment with an
// optional YAML overlay.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tome-gg/negotiation-protocols/pkg/archive"
	"github.com/tome-gg/negotiation-protocols/pkg/policy"
)

// Config holds server configuration.
type Config struct {
	Port       string
	HealthPort string
	LogLevel   string
	LogFormat  string

	// DatabaseURL selects Postgres. Empty means lite mode (SQLite under DataDir).
	DatabaseURL string
	DataDir     string
	// StoreBackend overrides the choice above: sqlite, postgres or file.
	StoreBackend string
	// DataFile is the JSON snapshot used by the file backend.
	DataFile string

	// RedisAddr enables the distributed lock when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
	LockWait      time.Duration

	TokenMaxTTL    time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	IdempotencyTTL time.Duration

	Archive archive.Config
	Policy  []policy.Rule

	OTelEnabled    bool
	OTelEndpoint   string
	OTelInsecure   bool
	OTelSampleRate float64
	Environment    string

	// ConfigFile is the YAML overlay applied by Load, if any.
	ConfigFile string
}

// Load loads configuration from environment variables.
func Load() *Config {
	dataDir := envOr("DATA_DIR", "data")
	c := &Config{
		Port:       envOr("PORT", "8080"),
		HealthPort: envOr("HEALTH_PORT", "8081"),
		LogLevel:   envOr("LOG_LEVEL", "INFO"),
		LogFormat:  envOr("LOG_FORMAT", "json"),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DataDir:      dataDir,
		StoreBackend: strings.ToLower(os.Getenv("STORE_BACKEND")),
		DataFile:     envOr("DATA_FILE", filepath.Join(dataDir, "negotiations.json")),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		LockTTL:       envDuration("LOCK_TTL", 10*time.Second),
		LockWait:      envDuration("LOCK_WAIT", 5*time.Second),

		TokenMaxTTL:    envDuration("TOKEN_MAX_TTL", 15*time.Minute),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
		IdempotencyTTL: envDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		Archive: archive.Config{
			Type:     archive.Type(envOr("ARCHIVE_STORAGE_TYPE", string(archive.TypeFS))),
			Dir:      envOr("ARCHIVE_DIR", filepath.Join(dataDir, "settlements")),
			Bucket:   firstEnv("ARCHIVE_S3_BUCKET", "ARCHIVE_GCS_BUCKET"),
			Prefix:   firstEnv("ARCHIVE_S3_PREFIX", "ARCHIVE_GCS_PREFIX"),
			Region:   firstEnv("ARCHIVE_S3_REGION", "AWS_REGION"),
			Endpoint: os.Getenv("ARCHIVE_S3_ENDPOINT"),
		},

		OTelEnabled:    os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure:   os.Getenv("OTEL_INSECURE") == "true",
		OTelSampleRate: envFloat("OTEL_SAMPLE_RATE", 1.0),
		Environment:    envOr("ENVIRONMENT", "development"),

		ConfigFile: os.Getenv("CONFIG_FILE"),
	}
	return c
}

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// Backend returns the selected store backend.
func (c *Config) Backend() string {
	if c.StoreBackend != "" {
		return c.StoreBackend
	}
	if c.DatabaseURL != "" {
		return BackendPostgres
	}
	return BackendSQLite
}

// LiteMode reports whether the server runs on embedded SQLite.
func (c *Config) LiteMode() bool { return c.Backend() == BackendSQLite }

// SlogLevel parses LogLevel, defaulting to INFO.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}
