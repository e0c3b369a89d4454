/*
Package config loads levyd settings.

PRECEDENCE (lowest to highest):
  1. Defaults below
  2. YAML file (--config, default ./levy.yaml; missing file is fine)
  3. Environment: LEVY_ prefix, dots become underscores
     (LEVY_SERVER_PORT, LEVY_DATABASE_PATH, LEVY_AUTH_SECRET, ...)
  4. Command-line flags bound by cmd/levyd
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "LEVY"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Levy     LevyConfig     `mapstructure:"levy" yaml:"levy"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" yaml:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AuthConfig controls bearer-token verification. With Enabled false the
// server trusts X-Actor-ID / X-Actor-Role headers; never do that in
// production.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Secret  string `mapstructure:"secret" yaml:"secret"`
	Issuer  string `mapstructure:"issuer" yaml:"issuer"`
}

type LevyConfig struct {
	// Timezone decides which calendar day "today" is for due-date checks.
	Timezone          string `mapstructure:"timezone" yaml:"timezone"`
	DashboardPageSize int    `mapstructure:"dashboard_page_size" yaml:"dashboard_page_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{
			Path: "./data/levy.db",
		},
		Auth: AuthConfig{
			Enabled: true,
			Issuer:  "levyd",
		},
		Levy: LevyConfig{
			Timezone:          "Africa/Lagos",
			DashboardPageSize: 10,
		},
	}
}

// New returns a viper instance carrying the defaults and environment
// binding. Callers may bind flags to it before Load.
func New() *viper.Viper {
	d := Default()
	v := viper.New()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("levy.timezone", d.Levy.Timezone)
	v.SetDefault("levy.dashboard_page_size", d.Levy.DashboardPageSize)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if it exists) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return errors.New("auth.secret is required when auth.enabled is true")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Levy.Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Levy.Timezone)
	if err != nil {
		return nil, fmt.Errorf("levy.timezone: %w", err)
	}
	return loc, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
