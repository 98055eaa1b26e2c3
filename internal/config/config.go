// Package config loads application configuration from a config file and
// environment variables, environment taking precedence. Every value has a
// default so the server starts with nothing but DATABASE_URL set.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SessionConfig configures the cookie session store.
type SessionConfig struct {
	// ExpirationHours is the idle lifetime of a session.
	ExpirationHours int `mapstructure:"expiration_hours"`

	// CookieSecure marks the session cookie HTTPS-only.
	CookieSecure bool `mapstructure:"cookie_secure"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Development switches to the human-readable console encoder.
	Development bool `mapstructure:"development"`
}

// Load reads config.yaml from the working directory (optional) and the
// environment. Environment keys are upper-case with underscores, e.g.
// DATABASE_URL, SERVER_PORT, LOG_LEVEL.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("session.expiration_hours", 24)
	v.SetDefault("session.cookie_secure", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is a real problem.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
