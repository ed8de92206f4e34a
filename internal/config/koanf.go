// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// CORS origins may arrive as a comma-separated string from the env.
	if v, ok := k.Get("server.cors_origins").(string); ok && v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		if err := k.Set("server.cors_origins", origins); err != nil {
			return nil, fmt.Errorf("failed to set cors origins: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransform maps environment variable names to config paths. Unmapped
// variables are skipped so random environment noise never reaches the config.
func envTransform(key string) string {
	mappings := map[string]string{
		"HTTP_HOST":        "server.host",
		"HTTP_PORT":        "server.port",
		"READ_TIMEOUT":     "server.read_timeout",
		"WRITE_TIMEOUT":    "server.write_timeout",
		"REQUEST_TIMEOUT":  "server.request_timeout",
		"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
		"CORS_ORIGINS":     "server.cors_origins",
		"EDITION":          "server.edition",

		"DATABASE_PATH": "database.path",
		"CACHE_PATH":    "cache.path",

		"JWT_SECRET":        "security.jwt_secret",
		"SESSION_TOKEN_TTL": "security.session_token_ttl",
		"AUTH_RATE_LIMIT":   "security.auth_rate_limit",
		"AUTH_RATE_WINDOW":  "security.auth_rate_window",

		"ENGINE_URL":               "engine.url",
		"ENGINE_TIMEOUT":           "engine.timeout",
		"ENGINE_FRESH_TTL":         "engine.fresh_ttl",
		"ENGINE_STALE_TTL":         "engine.stale_ttl",
		"ENGINE_MAX_RPS":           "engine.max_rps",
		"ENGINE_IMPRESSION_BUFFER": "engine.impression_buffer",
		"ENGINE_FLUSH_INTERVAL":    "engine.flush_interval",

		"SESSION_IDLE_TIMEOUT":   "sessions.idle_timeout",
		"SESSION_SWEEP_INTERVAL": "sessions.sweep_interval",

		"UPGRADE_URL": "billing.upgrade_url",

		"LOG_LEVEL":  "logging.level",
		"LOG_FORMAT": "logging.format",
		"LOG_CALLER": "logging.caller",
	}
	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}
