// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSecret() string { return strings.Repeat("s", 32) }

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "self-hosted", cfg.Server.Edition)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Engine.FreshTTL)
	assert.Equal(t, time.Hour, cfg.Engine.StaleTTL)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, "https://tunetrail.io/upgrade", cfg.Billing.UpgradeURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret())
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("ENGINE_URL", "http://engine.internal:7000")
	t.Setenv("ENGINE_FRESH_TTL", "90s")
	t.Setenv("SESSION_IDLE_TIMEOUT", "30m")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://engine.internal:7000", cfg.Engine.URL)
	assert.Equal(t, 90*time.Second, cfg.Engine.FreshTTL)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
}

func TestLoadYAMLFileThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server:\n  port: 9001\nengine:\n  url: http://from-file:9090\n"), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("JWT_SECRET", validSecret())
	t.Setenv("ENGINE_URL", "http://from-env:9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port, "file overrides defaults")
	assert.Equal(t, "http://from-env:9090", cfg.Engine.URL, "env overrides file")
}

func TestLoadRejectsBadConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "too-short")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")

	t.Setenv("JWT_SECRET", validSecret())
	t.Setenv("HTTP_PORT", "70000")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")

	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("ENGINE_URL", "not-a-url")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.url")

	// Ignore-listed environment noise never reaches the config.
	t.Setenv("ENGINE_URL", "http://localhost:9090")
	t.Setenv("RANDOM_NOISE", "true")
	_, err = Load()
	assert.NoError(t, err)
}
