// Package config loads the CMS configuration: a YAML file, an optional .env
// file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no explicit path is given.
const DefaultPath = "config/cms.yaml"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Modules   ModulesConfig   `yaml:"modules"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"CMS_HTTP_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"CMS_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"CMS_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CMS_HTTP_SHUTDOWN_TIMEOUT"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"CMS_LOG_LEVEL"`
	Format string `yaml:"format" env:"CMS_LOG_FORMAT"`
}

// DatabaseConfig selects the persistence backend. An empty DSN runs the CMS
// on in-memory stores.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"CMS_DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"CMS_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"CMS_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CMS_DATABASE_CONN_MAX_LIFETIME"`
}

// RedisConfig configures the session store. An empty Addr keeps sessions in
// process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"CMS_REDIS_ADDR"`
	Password string `yaml:"password" env:"CMS_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"CMS_REDIS_DB"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"CMS_JWT_SECRET"`
	Issuer    string        `yaml:"issuer" env:"CMS_JWT_ISSUER"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"CMS_JWT_TTL"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CMS_CORS_ALLOWED_ORIGINS"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"CMS_RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"CMS_RATE_LIMIT_BURST"`
}

// ModulesConfig controls which optional modules are installed at boot and
// the per-module settings overriding descriptor defaults.
type ModulesConfig struct {
	AutoInstall []string                          `yaml:"autoinstall" env:"CMS_MODULES_AUTOINSTALL"`
	Settings    map[string]map[string]interface{} `yaml:"settings"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:   "esport-cms",
			TokenTTL: 24 * time.Hour,
		},
		CORS:      CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Modules: ModulesConfig{
			Settings: map[string]map[string]interface{}{},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path, a .env
// file in the working directory and the process environment, in that order.
// A missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		problems = append(problems, "server.shutdown_timeout must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		problems = append(problems, "auth.token_ttl must be positive")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		problems = append(problems, "auth.jwt_secret must be at least 32 bytes")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		problems = append(problems, "rate_limit values must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// ModuleSettings returns the configured overrides for module id, never nil.
func (c *Config) ModuleSettings(id string) map[string]interface{} {
	if s, ok := c.Modules.Settings[id]; ok && s != nil {
		return s
	}
	return map[string]interface{}{}
}

// Memory reports whether the CMS runs without a database.
func (c *Config) Memory() bool {
	return strings.TrimSpace(c.Database.DSN) == ""
}
