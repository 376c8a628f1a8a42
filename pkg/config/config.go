package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/setlist/pkg/observability"
)

// Environment selects which store is authoritative for global roles
type Environment string

const (
	// EnvironmentLocal keeps roles on the users table
	EnvironmentLocal Environment = "local"
	// EnvironmentManaged keeps roles in the identity provider's private metadata
	EnvironmentManaged Environment = "managed"
)

// Auth modes
const (
	AuthModeHeader = "header"
	AuthModeOIDC   = "oidc"
)

// Config holds all application configuration
type Config struct {
	Server           ServerConfig           `yaml:"server"`
	Database         DatabaseConfig         `yaml:"database"`
	Environment      Environment            `yaml:"environment"`
	IdentityProvider IdentityProviderConfig `yaml:"identity_provider"`
	Auth             AuthConfig             `yaml:"auth"`
	Redis            RedisConfig            `yaml:"redis"`
	Tenant           TenantConfig           `yaml:"tenant"`
	Users            UsersConfig            `yaml:"users"`
	Permissions      PermissionsConfig      `yaml:"permissions"`
	Observability    ObservabilityConfig    `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health and metrics server (separate port for k8s probes)
	MetricsPort string `yaml:"metrics_port"`
}

// DatabaseConfig holds the connection pool settings
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConns       int           `yaml:"max_conns"`
	MinConns       int           `yaml:"min_conns"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	MaxIdleTime    time.Duration `yaml:"max_idle_time"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	TenantSetting  string        `yaml:"tenant_setting"`
	MigrateOnStart bool          `yaml:"migrate_on_start"`
}

// IdentityProviderConfig configures the managed role store
type IdentityProviderConfig struct {
	APIURL    string        `yaml:"api_url"`
	SecretKey string        `yaml:"secret_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AuthConfig configures how callers are identified
type AuthConfig struct {
	Mode         string `yaml:"mode"`
	OIDCIssuer   string `yaml:"oidc_issuer"`
	OIDCClientID string `yaml:"oidc_client_id"`
}

// RedisConfig configures the role cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	RoleCacheTTL time.Duration `yaml:"role_cache_ttl"`

	// RateLimitPerMinute caps requests per caller; 0 disables limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// TenantConfig configures the tenant binder
type TenantConfig struct {
	Header string `yaml:"header"`
	// StrictBinding fails requests when membership cannot be checked
	// instead of continuing without tenant scoping
	StrictBinding bool `yaml:"strict_binding"`
}

// UsersConfig sizes the external id resolver cache
type UsersConfig struct {
	ResolverCacheSize int           `yaml:"resolver_cache_size"`
	ResolverCacheTTL  time.Duration `yaml:"resolver_cache_ttl"`
}

// PermissionsConfig configures the expired grant sweeper
type PermissionsConfig struct {
	// SweepSchedule is a standard cron spec; empty disables the sweeper
	SweepSchedule string `yaml:"sweep_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			MetricsPort:     "9090",
		},
		Database: DatabaseConfig{
			MaxConns:      25,
			MinConns:      5,
			MaxLifetime:   time.Hour,
			MaxIdleTime:   10 * time.Minute,
			PingTimeout:   5 * time.Second,
			TenantSetting: "app.current_account_id",
		},
		IdentityProvider: IdentityProviderConfig{
			Timeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeHeader,
		},
		Redis: RedisConfig{
			RoleCacheTTL: 30 * time.Second,
		},
		Tenant: TenantConfig{
			Header: "x-account-id",
		},
		Users: UsersConfig{
			ResolverCacheSize: 10000,
			ResolverCacheTTL:  10 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "setlist",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads defaults, the optional YAML file and environment
// overrides, resolves the environment and validates the result
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SETLIST_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	env, err := ResolveEnvironment(string(cfg.Environment), cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	cfg.Environment = env

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SETLIST_HOST", c.Server.Host)
	c.Server.Port = getEnv("SETLIST_PORT", c.Server.Port)
	c.Server.MetricsPort = getEnv("SETLIST_METRICS_PORT", c.Server.MetricsPort)
	c.Server.ReadTimeout = getEnvDuration("SETLIST_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SETLIST_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SETLIST_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SETLIST_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxBodyBytes = getEnvInt64("SETLIST_MAX_BODY_BYTES", c.Server.MaxBodyBytes)

	c.Database.URL = getEnv("SETLIST_DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = getEnvInt("SETLIST_DATABASE_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("SETLIST_DATABASE_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxLifetime = getEnvDuration("SETLIST_DATABASE_MAX_LIFETIME", c.Database.MaxLifetime)
	c.Database.MaxIdleTime = getEnvDuration("SETLIST_DATABASE_MAX_IDLE_TIME", c.Database.MaxIdleTime)
	c.Database.PingTimeout = getEnvDuration("SETLIST_DATABASE_PING_TIMEOUT", c.Database.PingTimeout)
	c.Database.TenantSetting = getEnv("SETLIST_TENANT_SETTING", c.Database.TenantSetting)
	c.Database.MigrateOnStart = getEnvBool("SETLIST_MIGRATE_ON_START", c.Database.MigrateOnStart)

	c.Environment = Environment(getEnv("SETLIST_ENVIRONMENT", string(c.Environment)))

	c.IdentityProvider.APIURL = getEnv("SETLIST_IDP_API_URL", c.IdentityProvider.APIURL)
	c.IdentityProvider.SecretKey = getEnv("SETLIST_IDP_SECRET_KEY", c.IdentityProvider.SecretKey)
	c.IdentityProvider.Timeout = getEnvDuration("SETLIST_IDP_TIMEOUT", c.IdentityProvider.Timeout)

	c.Auth.Mode = strings.ToLower(getEnv("SETLIST_AUTH_MODE", c.Auth.Mode))
	c.Auth.OIDCIssuer = getEnv("SETLIST_OIDC_ISSUER", c.Auth.OIDCIssuer)
	c.Auth.OIDCClientID = getEnv("SETLIST_OIDC_CLIENT_ID", c.Auth.OIDCClientID)

	c.Redis.URL = getEnv("SETLIST_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("SETLIST_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("SETLIST_REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("SETLIST_REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.RoleCacheTTL = getEnvDuration("SETLIST_ROLE_CACHE_TTL", c.Redis.RoleCacheTTL)
	c.Redis.RateLimitPerMinute = getEnvInt("SETLIST_RATE_LIMIT_PER_MINUTE", c.Redis.RateLimitPerMinute)

	c.Tenant.Header = getEnv("SETLIST_TENANT_HEADER", c.Tenant.Header)
	c.Tenant.StrictBinding = getEnvBool("SETLIST_TENANT_STRICT_BINDING", c.Tenant.StrictBinding)

	c.Users.ResolverCacheSize = getEnvInt("SETLIST_USER_CACHE_SIZE", c.Users.ResolverCacheSize)
	c.Users.ResolverCacheTTL = getEnvDuration("SETLIST_USER_CACHE_TTL", c.Users.ResolverCacheTTL)

	c.Permissions.SweepSchedule = getEnv("SETLIST_PERMISSION_SWEEP_SCHEDULE", c.Permissions.SweepSchedule)

	c.Observability.LogLevel = getEnv("SETLIST_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("SETLIST_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("SETLIST_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("SETLIST_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("SETLIST_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("SETLIST_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("SETLIST_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// ResolveEnvironment returns the explicit environment when set, otherwise
// derives it from the database host: loopback and docker-internal hosts
// mean local development, anything else is managed
func ResolveEnvironment(explicit, databaseURL string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(explicit))) {
	case EnvironmentLocal:
		return EnvironmentLocal, nil
	case EnvironmentManaged:
		return EnvironmentManaged, nil
	case "":
	default:
		return "", fmt.Errorf("invalid environment %q (must be local or managed)", explicit)
	}

	if databaseURL == "" {
		return EnvironmentLocal, nil
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}
	switch host := u.Hostname(); {
	case host == "", host == "localhost", host == "127.0.0.1", host == "::1",
		host == "host.docker.internal", strings.HasSuffix(host, ".local"):
		return EnvironmentLocal, nil
	default:
		return EnvironmentManaged, nil
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MetricsPort == "" {
		return fmt.Errorf("metrics port is required")
	}
	if c.Server.Port == c.Server.MetricsPort {
		return fmt.Errorf("server port and metrics port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("database max conns must be positive")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min conns must be between 0 and max conns")
	}
	if c.Database.TenantSetting == "" || !strings.Contains(c.Database.TenantSetting, ".") {
		return fmt.Errorf("tenant setting must be a namespaced name like app.current_account_id")
	}

	switch c.Environment {
	case EnvironmentLocal:
	case EnvironmentManaged:
		if c.IdentityProvider.APIURL == "" || c.IdentityProvider.SecretKey == "" {
			return fmt.Errorf("identity provider URL and secret key are required in the managed environment")
		}
	default:
		return fmt.Errorf("invalid environment %q (must be local or managed)", c.Environment)
	}

	if c.Redis.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Redis.RateLimitPerMinute > 0 && c.Redis.URL == "" {
		return fmt.Errorf("rate limiting requires a redis URL")
	}

	switch c.Auth.Mode {
	case AuthModeHeader:
	case AuthModeOIDC:
		if c.Auth.OIDCIssuer == "" || c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer and client id are required for oidc auth")
		}
	default:
		return fmt.Errorf("invalid auth mode %q (must be header or oidc)", c.Auth.Mode)
	}

	if c.Permissions.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Permissions.SweepSchedule); err != nil {
			return fmt.Errorf("invalid permission sweep schedule: %w", err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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
