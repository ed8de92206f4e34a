// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package config loads the serving plane's configuration from layered
// sources: built-in defaults, an optional YAML file, then environment
// variables. Precedence: ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Security SecurityConfig `koanf:"security"`
	Engine   EngineConfig   `koanf:"engine"`
	Sessions SessionConfig  `koanf:"sessions"`
	Billing  BillingConfig  `koanf:"billing"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	// RequestTimeout is the default per-request deadline. Clients may
	// shorten it per request but never extend it.
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// Edition distinguishes cloud from self-hosted deployments.
	Edition string `koanf:"edition"`
}

// DatabaseConfig controls the SQLite entity store.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// CacheConfig controls the Badger counter/result store.
type CacheConfig struct {
	// Path of empty runs the cache in memory (tests, dev).
	Path string `koanf:"path"`
}

// SecurityConfig controls credentials.
type SecurityConfig struct {
	// JWTSecret signs session tokens. Minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`
	// SessionTokenTTL is how long a login's bearer token stays valid.
	SessionTokenTTL time.Duration `koanf:"session_token_ttl"`
	// AuthRateLimit bounds unauthenticated /auth requests per window per IP.
	AuthRateLimit  int           `koanf:"auth_rate_limit"`
	AuthRateWindow time.Duration `koanf:"auth_rate_window"`
}

// EngineConfig controls the recommendation engine boundary.
type EngineConfig struct {
	URL      string        `koanf:"url"`
	Timeout  time.Duration `koanf:"timeout"`
	FreshTTL time.Duration `koanf:"fresh_ttl"`
	StaleTTL time.Duration `koanf:"stale_ttl"`
	// MaxRPS smooths outbound engine calls.
	MaxRPS float64 `koanf:"max_rps"`
	// ImpressionBuffer bounds the in-process impression queue.
	ImpressionBuffer int           `koanf:"impression_buffer"`
	FlushInterval    time.Duration `koanf:"flush_interval"`
}

// SessionConfig controls listening-session lifecycle.
type SessionConfig struct {
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// BillingConfig controls upgrade messaging.
type BillingConfig struct {
	UpgradeURL string `koanf:"upgrade_url"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, overridden by file and env.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			Edition:         "self-hosted",
		},
		Database: DatabaseConfig{
			Path: "/data/tunetrail.db",
		},
		Cache: CacheConfig{
			Path: "/data/cache",
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			SessionTokenTTL: 24 * time.Hour,
			AuthRateLimit:   10,
			AuthRateWindow:  time.Minute,
		},
		Engine: EngineConfig{
			URL:              "http://localhost:9090",
			Timeout:          15 * time.Second,
			FreshTTL:         5 * time.Minute,
			StaleTTL:         time.Hour,
			MaxRPS:           50,
			ImpressionBuffer: 10_000,
			FlushInterval:    time.Second,
		},
		Sessions: SessionConfig{
			IdleTimeout:   15 * time.Minute,
			SweepInterval: 60 * time.Second,
		},
		Billing: BillingConfig{
			UpgradeURL: "https://tunetrail.io/upgrade",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate rejects configurations that cannot serve safely.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters (set JWT_SECRET)")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Engine.URL == "" {
		return fmt.Errorf("engine.url is required")
	}
	if !strings.HasPrefix(c.Engine.URL, "http://") && !strings.HasPrefix(c.Engine.URL, "https://") {
		return fmt.Errorf("engine.url must be an http(s) URL")
	}
	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// findConfigFile locates the optional YAML config file.
func findConfigFile() string {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range []string{
		"config.yaml",
		"config.yml",
		"/etc/tunetrail/config.yaml",
		"/etc/tunetrail/config.yml",
	} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
