package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/realleaders/portal/pkg/observability"
)

// Storage backend names
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Identity host and backend API endpoints
	Identity IdentityConfig

	// Storage configuration
	Storage StorageConfig

	// Session lifecycle configuration
	Session SessionConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// SecureCookies sets the Secure attribute on client and session cookies
	SecureCookies bool

	// Sign-in throttling per client address; a limit of 0 disables it
	LoginRateLimit  int
	LoginRateBurst  int
	LoginRateWindow time.Duration
}

// IdentityConfig holds the external identity host and API settings
type IdentityConfig struct {
	// HostURL is the identity host base, e.g. https://real-leaders.com/wp-json/real-leaders/v1
	HostURL string
	// APIBaseURL is the backend REST API base used for user details and login
	APIBaseURL string
	// AppBaseURL is the public origin of this app, used to build return URLs
	AppBaseURL     string
	RequestTimeout time.Duration
	LogoutTimeout  time.Duration
}

// StorageConfig selects and configures the key/value backend
type StorageConfig struct {
	Type string

	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	RedisPrefix   string
	RedisChannel  string

	SQLitePath string

	// Session-scoped keys (wizard step, tours, flash) live in an expiring LRU
	SessionTTL      time.Duration
	SessionCapacity int
}

// SessionConfig holds token lifecycle and routing settings
type SessionConfig struct {
	RefreshInterval time.Duration
	ReloadDelay     time.Duration
	WizardSteps     int
	LoginPath       string
	DefaultRoute    string

	ProtectedPrefixes []string
	// RoutesFile optionally overrides the route table and is watched for changes
	RoutesFile string

	// UseCron runs refresh timers on a shared cron scheduler instead of per-tab timers
	UseCron bool

	MaxTabs int
	TabTTL  time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool

	// Audit trail; an empty directory keeps audit events in the application log only
	AuditDir      string
	AuditMaxSize  int64
	AuditMaxFiles int
}

// DefaultProtectedPrefixes are the authenticated shell routes
var DefaultProtectedPrefixes = []string{"/dashboard", "/profile", "/analytics", "/content", "/settings", "/onboarding"}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Identity:      loadIdentityConfig(),
		Storage:       loadStorageConfig(),
		Session:       loadSessionConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("RL_HOST", "0.0.0.0"),
		Port:            getEnv("RL_PORT", "8080"),
		ReadTimeout:     getEnvDuration("RL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("RL_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("RL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("RL_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("RL_HEALTH_PORT", "9090"),
		SecureCookies:   getEnvBool("RL_SECURE_COOKIES", true),
		LoginRateLimit:  getEnvInt("RL_LOGIN_RATE_LIMIT", 10),
		LoginRateBurst:  getEnvInt("RL_LOGIN_RATE_BURST", 5),
		LoginRateWindow: getEnvDuration("RL_LOGIN_RATE_WINDOW", time.Minute),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		HostURL:        strings.TrimRight(getEnv("RL_IDENTITY_HOST", "https://real-leaders.com/wp-json/real-leaders/v1"), "/"),
		APIBaseURL:     strings.TrimRight(getEnv("RL_API_BASE_URL", "https://api.real-leaders.com/api"), "/"),
		AppBaseURL:     strings.TrimRight(getEnv("RL_APP_BASE_URL", "https://app.real-leaders.com"), "/"),
		RequestTimeout: getEnvDuration("RL_IDENTITY_TIMEOUT", 10*time.Second),
		LogoutTimeout:  getEnvDuration("RL_LOGOUT_TIMEOUT", 3*time.Second),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:            strings.ToLower(getEnv("RL_STORAGE_TYPE", StorageMemory)),
		RedisURL:        getEnv("RL_REDIS_URL", "redis://localhost:6379"),
		RedisPassword:   getEnv("RL_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("RL_REDIS_DB", 0),
		RedisPoolSize:   getEnvInt("RL_REDIS_POOL_SIZE", 10),
		RedisPrefix:     getEnv("RL_REDIS_PREFIX", "rl:"),
		RedisChannel:    getEnv("RL_REDIS_CHANNEL", "rl:changes"),
		SQLitePath:      getEnv("RL_SQLITE_PATH", "portal.db"),
		SessionTTL:      getEnvDuration("RL_SESSION_TTL", 12*time.Hour),
		SessionCapacity: getEnvInt("RL_SESSION_CAPACITY", 10000),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		RefreshInterval:   getEnvDuration("RL_REFRESH_INTERVAL", 1380*time.Minute),
		ReloadDelay:       getEnvDuration("RL_RELOAD_DELAY", 100*time.Millisecond),
		WizardSteps:       getEnvInt("RL_WIZARD_STEPS", 6),
		LoginPath:         getEnv("RL_LOGIN_PATH", "/login"),
		DefaultRoute:      getEnv("RL_DEFAULT_ROUTE", "/dashboard"),
		ProtectedPrefixes: getEnvList("RL_PROTECTED_PREFIXES", DefaultProtectedPrefixes),
		RoutesFile:        getEnv("RL_ROUTES_FILE", ""),
		UseCron:           getEnvBool("RL_REFRESH_USE_CRON", false),
		MaxTabs:           getEnvInt("RL_MAX_TABS", 5000),
		TabTTL:            getEnvDuration("RL_TAB_TTL", 24*time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("RL_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("RL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("RL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("RL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("RL_OTEL_SERVICE_NAME", "rl-portal"),
		OTelServiceVersion: getEnv("RL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("RL_OTEL_INSECURE", true),
		AuditDir:           getEnv("RL_AUDIT_DIR", ""),
		AuditMaxSize:       int64(getEnvInt("RL_AUDIT_MAX_SIZE_MB", 100)) * 1024 * 1024,
		AuditMaxFiles:      getEnvInt("RL_AUDIT_MAX_FILES", 10),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	for name, raw := range map[string]string{
		"identity host": c.Identity.HostURL,
		"api base URL":  c.Identity.APIBaseURL,
		"app base URL":  c.Identity.AppBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL: %q", name, raw)
		}
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, redis, or sqlite)", c.Storage.Type)
	}

	if c.Server.LoginRateLimit > 0 && c.Server.LoginRateWindow <= 0 {
		return fmt.Errorf("login rate window must be positive")
	}

	if c.Session.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if c.Session.WizardSteps < 1 {
		return fmt.Errorf("wizard steps must be at least 1")
	}
	if !strings.HasPrefix(c.Session.LoginPath, "/") || !strings.HasPrefix(c.Session.DefaultRoute, "/") {
		return fmt.Errorf("login path and default route must be absolute paths")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.AuditDir != "" && c.Observability.AuditMaxFiles < 1 {
		return fmt.Errorf("audit max files must be at least 1")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
