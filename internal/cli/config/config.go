// Package config loads the service configuration from restful.yaml and
// RESTFUL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory
const FileName = "restful.yaml"

// EnvPrefix prefixes environment overrides, e.g. RESTFUL_SERVER_PORT
const EnvPrefix = "RESTFUL"

// Config is the service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Schema    SchemaConfig    `mapstructure:"schema" yaml:"schema"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	CORS      CORSConfig      `mapstructure:"cors" yaml:"cors"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	TLSCert         string        `mapstructure:"tls_cert" yaml:"tls_cert,omitempty"`
	TLSKey          string        `mapstructure:"tls_key" yaml:"tls_key,omitempty"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// APIConfig holds the JSON:API handler settings
type APIConfig struct {
	// Prefix is the mount path, e.g. "/api"
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	// Endpoint is the base URL of generated links; defaults to Prefix
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// PageSize caps page[limit]; negative disables paging
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
	// ModelNames exposes models under other type names
	ModelNames map[string]string `mapstructure:"model_names" yaml:"model_names,omitempty"`
	Validate   bool              `mapstructure:"validate" yaml:"validate"`
}

// LinkEndpoint returns the base URL of generated links
func (a APIConfig) LinkEndpoint() string {
	if a.Endpoint != "" {
		return a.Endpoint
	}
	return a.Prefix
}

// SchemaConfig locates the model schema
type SchemaConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DatabaseConfig selects the store. Driver "memory" keeps data in process.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	URL             string        `mapstructure:"url" yaml:"url,omitempty"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	// Migrate creates missing tables on startup
	Migrate bool `mapstructure:"migrate" yaml:"migrate"`
}

// CacheConfig configures the response cache
type CacheConfig struct {
	// Backend is "none", "memory" or "redis"
	Backend string        `mapstructure:"backend" yaml:"backend"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Prefix  string        `mapstructure:"prefix" yaml:"prefix"`
}

// RateLimitConfig configures client throttling
type RateLimitConfig struct {
	// Backend is "none", "memory" or "redis"
	Backend string        `mapstructure:"backend" yaml:"backend"`
	Limit   int           `mapstructure:"limit" yaml:"limit"`
	Window  time.Duration `mapstructure:"window" yaml:"window"`
}

// RedisConfig is shared by the Redis cache and rate limiter
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// LogConfig selects the logger
type LogConfig struct {
	Env   string `mapstructure:"env" yaml:"env"`
	Level string `mapstructure:"level" yaml:"level,omitempty"`
}

// MetricsConfig toggles the /metrics endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// CORSConfig toggles CORS headers
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

// DebugConfig enables the pprof listener. It must not be reachable from
// untrusted networks.
type DebugConfig struct {
	// Address is the listen address; empty disables profiling
	Address string `mapstructure:"address" yaml:"address,omitempty"`
}

var defaults = map[string]any{
	"server.host":                "0.0.0.0",
	"server.port":                8080,
	"server.read_timeout":        "15s",
	"server.write_timeout":       "15s",
	"server.idle_timeout":        "60s",
	"server.shutdown_timeout":    "30s",
	"server.request_timeout":     "10s",
	"server.tls_cert":            "",
	"server.tls_key":             "",
	"server.max_body_bytes":      10 << 20,
	"api.endpoint":               "",
	"api.prefix":                 "/api",
	"api.page_size":              100,
	"api.validate":               true,
	"schema.path":                "schema.yaml",
	"database.url":               "",
	"database.migrate":           false,
	"database.driver":            "memory",
	"database.max_open_conns":    25,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": "1h",
	"cache.backend":              "none",
	"cache.ttl":                  "5m",
	"cache.prefix":               "restful:",
	"rate_limit.backend":         "none",
	"rate_limit.limit":           100,
	"rate_limit.window":          "1m",
	"redis.password":             "",
	"redis.db":                   0,
	"redis.addr":                 "localhost:6379",
	"log.level":                  "",
	"log.env":                    "dev",
	"metrics.enabled":            true,
	"cors.enabled":               false,
	"cors.allowed_origins":       []string{"*"},
	"debug.address":              "",
}

// Default returns the configuration used when neither a file nor the
// environment overrides anything
func Default() *Config {
	var cfg Config
	if err := newViper().Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}
	return &cfg
}

// Load reads path, or restful.yaml in the working directory when path is
// empty, and applies RESTFUL_* environment overrides. A missing default
// file is not an error.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newViper returns a viper instance holding the defaults. Every key has a
// default so that AutomaticEnv can override it.
func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Validate checks the configuration for inconsistent settings
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if c.Debug.Address != "" && c.Debug.Address == c.Server.Address() {
		errs = append(errs, errors.New("debug.address must differ from the API address"))
	}
	if p := c.API.Prefix; p != "" && (!strings.HasPrefix(p, "/") || (len(p) > 1 && strings.HasSuffix(p, "/"))) {
		errs = append(errs, fmt.Errorf("api.prefix must start and not end with '/', got %q", p))
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres", "pgx", "sqlite3":
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database.url is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be memory, postgres, pgx or sqlite3, got %q", c.Database.Driver))
	}

	for name, backend := range map[string]string{"cache.backend": c.Cache.Backend, "rate_limit.backend": c.RateLimit.Backend} {
		switch backend {
		case "none", "memory", "redis":
		default:
			errs = append(errs, fmt.Errorf("%s must be none, memory or redis, got %q", name, backend))
		}
	}
	if c.RateLimit.Backend != "none" && (c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit.limit and rate_limit.window must be positive"))
	}
	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs the Redis connection
func (c *Config) UsesRedis() bool {
	return c.Cache.Backend == "redis" || c.RateLimit.Backend == "redis"
}

// Write saves cfg as YAML, refusing to replace an existing file
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
