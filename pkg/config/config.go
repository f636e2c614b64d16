package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/accessdesk/accessdesk/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	IdP           IdPConfig           `yaml:"idp"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds connection settings for the primary and replicas
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	ReplicaURLs string        `yaml:"replica_urls"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`

	// Schema is the database schema introspected for field seeding
	Schema string `yaml:"schema"`
}

// CacheConfig holds the effective-rights cache settings
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	RedisURL string        `yaml:"redis_url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	L1Size   int           `yaml:"l1_size"`
}

// IdPConfig holds identity provider settings
type IdPConfig struct {
	Enabled      bool     `yaml:"enabled"`
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	GroupsClaim  string   `yaml:"groups_claim"`

	// GroupProfileMapping maps IdP group names onto profile names for
	// login-time provisioning.
	GroupProfileMapping map[string]string `yaml:"group_profile_mapping"`
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RetentionDays int    `yaml:"retention_days"`
	PurgeSchedule string `yaml:"purge_schedule"`
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
}

// LoadConfig loads configuration from environment variables, optionally
// overlaid with a YAML file named by ACCESSDESK_CONFIG_FILE. Environment
// values win over file values.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("ACCESSDESK_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()
	cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxConns:    25,
			MinConns:    5,
			Timeout:     10 * time.Second,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
			Schema:      "public",
		},
		Cache: CacheConfig{
			TTL:    5 * time.Minute,
			L1Size: 1024,
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 90,
			PurgeSchedule: "0 3 * * *",
		},
		Observability: ObservabilityConfig{
			LogLevelName:   "info",
			MetricsEnabled: true,
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	// Server
	c.Server.Host = getEnv("ACCESSDESK_HOST", c.Server.Host)
	c.Server.Port = getEnv("ACCESSDESK_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("ACCESSDESK_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("ACCESSDESK_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("ACCESSDESK_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("ACCESSDESK_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("ACCESSDESK_HEALTH_PORT", c.Server.HealthPort)

	// Database
	c.Database.URL = getEnv("ACCESSDESK_POSTGRES_URL", c.Database.URL)
	c.Database.ReplicaURLs = getEnv("ACCESSDESK_POSTGRES_REPLICA_URLS", c.Database.ReplicaURLs)
	c.Database.MaxConns = getEnvInt("ACCESSDESK_POSTGRES_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("ACCESSDESK_POSTGRES_MIN_CONNS", c.Database.MinConns)
	c.Database.Timeout = getEnvDuration("ACCESSDESK_POSTGRES_TIMEOUT", c.Database.Timeout)
	c.Database.Schema = getEnv("ACCESSDESK_POSTGRES_SCHEMA", c.Database.Schema)

	// Cache
	c.Cache.Enabled = getEnvBool("ACCESSDESK_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.RedisURL = getEnv("ACCESSDESK_REDIS_URL", c.Cache.RedisURL)
	c.Cache.Password = getEnv("ACCESSDESK_REDIS_PASSWORD", c.Cache.Password)
	c.Cache.DB = getEnvInt("ACCESSDESK_REDIS_DB", c.Cache.DB)
	c.Cache.TTL = getEnvDuration("ACCESSDESK_CACHE_TTL", c.Cache.TTL)
	c.Cache.L1Size = getEnvInt("ACCESSDESK_CACHE_L1_SIZE", c.Cache.L1Size)

	// IdP
	c.IdP.Enabled = getEnvBool("ACCESSDESK_IDP_ENABLED", c.IdP.Enabled)
	c.IdP.IssuerURL = getEnv("ACCESSDESK_IDP_ISSUER_URL", c.IdP.IssuerURL)
	c.IdP.ClientID = getEnv("ACCESSDESK_IDP_CLIENT_ID", c.IdP.ClientID)
	c.IdP.ClientSecret = getEnv("ACCESSDESK_IDP_CLIENT_SECRET", c.IdP.ClientSecret)
	c.IdP.RedirectURL = getEnv("ACCESSDESK_IDP_REDIRECT_URL", c.IdP.RedirectURL)
	c.IdP.GroupsClaim = getEnv("ACCESSDESK_IDP_GROUPS_CLAIM", c.IdP.GroupsClaim)

	// Audit
	c.Audit.Enabled = getEnvBool("ACCESSDESK_AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.RetentionDays = getEnvInt("ACCESSDESK_AUDIT_RETENTION_DAYS", c.Audit.RetentionDays)
	c.Audit.PurgeSchedule = getEnv("ACCESSDESK_AUDIT_PURGE_SCHEDULE", c.Audit.PurgeSchedule)

	// Observability
	c.Observability.LogLevelName = getEnv("ACCESSDESK_LOG_LEVEL", c.Observability.LogLevelName)
	c.Observability.MetricsEnabled = getEnvBool("ACCESSDESK_METRICS_ENABLED", c.Observability.MetricsEnabled)
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

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required when the cache is enabled")
	}

	if c.IdP.Enabled {
		if c.IdP.IssuerURL == "" {
			return fmt.Errorf("IdP issuer URL is required when IdP is enabled")
		}
		if c.IdP.ClientID == "" {
			return fmt.Errorf("IdP client ID is required when IdP is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
