package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreBackendMongo    = "mongo"
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Login state backends.
const (
	StateBackendMemory = "memory"
	StateBackendRedis  = "redis"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	Mongo     MongoConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Keycloak  KeycloakConfig
	Bootstrap BootstrapConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	FrontendURL           string
	BackendURL            string
}

// StoreConfig selects the credential/profile backend.
type StoreConfig struct {
	Backend string
}

// MongoConfig holds document store connection values.
type MongoConfig struct {
	URI    string
	DBName string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
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

// AuthConfig defines session, password and login-state parameters.
type AuthConfig struct {
	JWTSecret          string
	SessionTTLSeconds  int
	CookieSecure       bool
	LocalLoginEnabled  bool
	BcryptCost         int
	MinPasswordLength  int
	StateBackend       string
	StateTTLSeconds    int
	StateSweepSeconds  int
	LoginRatePerMinute int
	LoginRateBurst     int
}

// KeycloakConfig holds the external identity provider settings.
type KeycloakConfig struct {
	URL            string
	Realm          string
	ClientID       string
	ClientSecret   string
	TimeoutSeconds int
}

// BootstrapConfig describes the admin account created on first start.
type BootstrapConfig struct {
	AdminID       string
	AdminName     string
	AdminEmail    string
	AdminPhone    string
	AdminUsername string
	AdminPassword string
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
			Name:                  getEnv("APP_NAME", "project-portal-api"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "5001"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:5173"),
			BackendURL:            getEnv("BACKEND_URL", "http://localhost:5001"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendMongo)),
		},
		Mongo: MongoConfig{
			URI:    os.Getenv("MONGODB_URI"),
			DBName: getEnv("MONGODB_DB_NAME", "muj_portal"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:          getEnv("JWT_SECRET", "change-this-in-production"),
			SessionTTLSeconds:  getEnvAsInt("SESSION_TTL_SECONDS", 8*60*60),
			CookieSecure:       getEnvAsBool("COOKIE_SECURE", false),
			LocalLoginEnabled:  getEnvAsBool("LOCAL_LOGIN_ENABLED", true),
			BcryptCost:         getEnvAsInt("AUTH_BCRYPT_COST", 12),
			MinPasswordLength:  getEnvAsInt("AUTH_MIN_PASSWORD_LENGTH", 8),
			StateBackend:       strings.ToLower(getEnv("LOGIN_STATE_BACKEND", StateBackendMemory)),
			StateTTLSeconds:    getEnvAsInt("LOGIN_STATE_TTL_SECONDS", 10*60),
			StateSweepSeconds:  getEnvAsInt("LOGIN_STATE_SWEEP_SECONDS", 5*60),
			LoginRatePerMinute: getEnvAsInt("LOGIN_RATE_PER_MINUTE", 20),
			LoginRateBurst:     getEnvAsInt("LOGIN_RATE_BURST", 5),
		},
		Keycloak: KeycloakConfig{
			URL:            os.Getenv("KEYCLOAK_URL"),
			Realm:          os.Getenv("KEYCLOAK_REALM"),
			ClientID:       os.Getenv("KEYCLOAK_CLIENT_ID"),
			ClientSecret:   os.Getenv("KEYCLOAK_CLIENT_SECRET"),
			TimeoutSeconds: getEnvAsInt("KEYCLOAK_TIMEOUT_SECONDS", 10),
		},
		Bootstrap: BootstrapConfig{
			AdminID:       os.Getenv("LOCAL_BOOTSTRAP_ADMIN_ID"),
			AdminName:     os.Getenv("LOCAL_BOOTSTRAP_ADMIN_NAME"),
			AdminEmail:    os.Getenv("LOCAL_BOOTSTRAP_ADMIN_EMAIL"),
			AdminPhone:    os.Getenv("LOCAL_BOOTSTRAP_ADMIN_PHONE"),
			AdminUsername: os.Getenv("LOCAL_BOOTSTRAP_ADMIN_USERNAME"),
			AdminPassword: os.Getenv("LOCAL_BOOTSTRAP_ADMIN_PASSWORD"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreBackendMongo, StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Auth.StateBackend {
	case StateBackendMemory, StateBackendRedis:
	default:
		return fmt.Errorf("invalid LOGIN_STATE_BACKEND %q", c.Auth.StateBackend)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	return nil
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

// SessionTTL returns the session token lifetime.
func (a AuthConfig) SessionTTL() time.Duration {
	return secondsOr(a.SessionTTLSeconds, 8*time.Hour)
}

// StateTTL returns the login state lifetime.
func (a AuthConfig) StateTTL() time.Duration {
	return secondsOr(a.StateTTLSeconds, 10*time.Minute)
}

// StateSweepInterval returns how often expired login states are purged.
func (a AuthConfig) StateSweepInterval() time.Duration {
	return secondsOr(a.StateSweepSeconds, 5*time.Minute)
}

// Timeout bounds a single call to the identity provider.
func (k KeycloakConfig) Timeout() time.Duration {
	return secondsOr(k.TimeoutSeconds, 10*time.Second)
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
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
