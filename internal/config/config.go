package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Storage      StorageConfig
	I18n         I18nConfig
	Events       EventsConfig
	Doubts       DoubtsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	BodyLimitMB           int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig holds notification delivery settings.
type NotificationConfig struct {
	EmailFrom      string
	WebhookURL     string
	TimeoutSeconds int
}

// StorageConfig locates attachment blobs and controls download links.
type StorageConfig struct {
	BaseDir          string
	UploadDir        string
	SigningSecret    string
	URLTTLMinutes    int
	PublicBaseURL    string
	MaxUploadSizeMB  int
	AllowedMimeTypes []string
}

// I18nConfig points at an optional label catalog overriding the embedded one.
type I18nConfig struct {
	CatalogPath string
	Language    string
}

// EventsConfig controls the redis relay for workflow events.
type EventsConfig struct {
	RedisChannel string
}

// DoubtsConfig holds workflow defaults.
type DoubtsConfig struct {
	DefaultPerPage int
	SiteURL        string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "doubt-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			BodyLimitMB:           getEnvAsInt("HTTP_BODY_LIMIT_MB", 32),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			EmailFrom:      getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
			TimeoutSeconds: getEnvAsInt("NOTIFY_WEBHOOK_TIMEOUT_SECONDS", 5),
		},
		Storage: StorageConfig{
			BaseDir:          getEnv("STORAGE_BASE_DIR", "./data/files"),
			UploadDir:        getEnv("STORAGE_UPLOAD_DIR", os.TempDir()),
			SigningSecret:    getEnv("STORAGE_SIGNING_SECRET", "dev-signing-secret"),
			URLTTLMinutes:    getEnvAsInt("STORAGE_URL_TTL_MINUTES", 60),
			PublicBaseURL:    getEnv("STORAGE_PUBLIC_BASE_URL", "/files"),
			MaxUploadSizeMB:  getEnvAsInt("STORAGE_MAX_UPLOAD_MB", 20),
			AllowedMimeTypes: getEnvAsList("STORAGE_ALLOWED_MIME_TYPES"),
		},
		I18n: I18nConfig{
			CatalogPath: os.Getenv("I18N_CATALOG_PATH"),
			Language:    getEnv("I18N_LANGUAGE", "en"),
		},
		Events: EventsConfig{
			RedisChannel: getEnv("EVENTS_REDIS_CHANNEL", "doubts.events"),
		},
		Doubts: DoubtsConfig{
			DefaultPerPage: getEnvAsInt("DOUBTS_DEFAULT_PER_PAGE", 20),
			SiteURL:        getEnv("DOUBTS_SITE_URL", "http://localhost:8080"),
		},
	}

	if cfg.Storage.URLTTLMinutes <= 0 {
		return nil, fmt.Errorf("invalid STORAGE_URL_TTL_MINUTES: %d", cfg.Storage.URLTTLMinutes)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// URLTTL returns how long signed download links stay valid.
func (s StorageConfig) URLTTL() time.Duration {
	return time.Duration(s.URLTTLMinutes) * time.Minute
}

// MaxUploadBytes returns the per-file upload ceiling.
func (s StorageConfig) MaxUploadBytes() int64 {
	if s.MaxUploadSizeMB <= 0 {
		return 0
	}
	return int64(s.MaxUploadSizeMB) << 20
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
