package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Keys     KeysConfig     `mapstructure:"keys"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StoreConfig selects the key registry persistence backend
type StoreConfig struct {
	// Backend is one of "memory", "file", or "postgres"
	Backend string `mapstructure:"backend"`
	// FilePath is the JSON store location for the file backend
	FilePath string `mapstructure:"file_path"`
}

// DatabaseConfig holds PostgreSQL configuration (postgres store backend)
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration (rate limiting)
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// KeysConfig holds key lifecycle configuration
type KeysConfig struct {
	// DefaultTTL is the lifetime of a freshly issued key
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// ExtendStep is the delta applied by /extend when no "sec" is given
	ExtendStep time.Duration `mapstructure:"extend_step"`
	// ExtendMax caps how much a single /extend call may add
	ExtendMax time.Duration `mapstructure:"extend_max"`
	// MaxUses is the per-key verification ceiling (0 = unlimited)
	MaxUses int `mapstructure:"max_uses"`
	// SweepInterval controls how often expired records are purged
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// IdentityMode selects how requester identities are derived:
	// "explicit" (uid+place parameters) or "fingerprint" (client IP +
	// User-Agent hash, or a client-supplied device id)
	IdentityMode string `mapstructure:"identity_mode"`
	// Codec is the key string strategy: "opaque" or "stateless"
	Codec string `mapstructure:"codec"`
	// HMACSecret signs stateless keys. Required when codec is "stateless".
	HMACSecret string `mapstructure:"hmac_secret"`
	// AllowKeys are operator bypass tokens that always verify
	AllowKeys []string `mapstructure:"allow_keys"`
	// AdminToken guards the /admin/keys debug listing. Empty disables it.
	AdminToken string `mapstructure:"admin_token"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig holds per-IP rate limiting for the key endpoints
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ufokey")

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Bind environment variables
	v.SetEnvPrefix("UFOKEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that viper cannot express
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "file", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Keys.IdentityMode {
	case "explicit", "fingerprint":
	default:
		return fmt.Errorf("unknown identity mode %q", c.Keys.IdentityMode)
	}

	switch c.Keys.Codec {
	case "opaque":
	case "stateless":
		if c.Keys.HMACSecret == "" {
			return fmt.Errorf("keys.hmac_secret is required for the stateless codec")
		}
	default:
		return fmt.Errorf("unknown key codec %q", c.Keys.Codec)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)

	// Store defaults
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.file_path", "keys.json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "ufokey")
	v.SetDefault("database.user", "ufokey")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Key lifecycle defaults
	v.SetDefault("keys.default_ttl", "48h")
	v.SetDefault("keys.extend_step", "5h")
	v.SetDefault("keys.extend_max", "5h")
	v.SetDefault("keys.max_uses", 0)
	v.SetDefault("keys.sweep_interval", "10m")
	v.SetDefault("keys.identity_mode", "explicit")
	v.SetDefault("keys.codec", "opaque")
	v.SetDefault("keys.hmac_secret", "")
	v.SetDefault("keys.allow_keys", []string{})
	v.SetDefault("keys.admin_token", "")

	v.SetDefault("keys.rate_limit.enabled", true)
	v.SetDefault("keys.rate_limit.limit", 60)
	v.SetDefault("keys.rate_limit.window", "1m")
}
