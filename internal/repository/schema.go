// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package repository

// schema is applied on startup. Statements are idempotent so repeated boots
// are safe without a migration tool.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS organizations (
    id                TEXT PRIMARY KEY,
    slug              TEXT NOT NULL UNIQUE,
    plan              TEXT NOT NULL DEFAULT 'free',
    max_users         INTEGER NOT NULL DEFAULT 0,
    max_tracks        INTEGER NOT NULL DEFAULT 0,
    feature_overrides TEXT NOT NULL DEFAULT '{}',
    created_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id             TEXT PRIMARY KEY,
    org_id         TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    email          TEXT NOT NULL UNIQUE,
    username       TEXT UNIQUE,
    password_hash  TEXT NOT NULL,
    role           TEXT NOT NULL DEFAULT 'user',
    is_active      INTEGER NOT NULL DEFAULT 1,
    email_verified INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_org ON users(org_id);

CREATE TABLE IF NOT EXISTS api_keys (
    id            TEXT PRIMARY KEY,
    owner_user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    org_id        TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    hash          TEXT NOT NULL,
    prefix        TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    scopes        TEXT NOT NULL DEFAULT '[]',
    environment   TEXT NOT NULL DEFAULT 'development',
    limits        TEXT NOT NULL DEFAULT '{}',
    expires_at    TIMESTAMP,
    revoked_at    TIMESTAMP,
    last_used_at  TIMESTAMP,
    ip_allowlist  TEXT NOT NULL DEFAULT '[]',
    is_active     INTEGER NOT NULL DEFAULT 1,
    created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(prefix);
CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(owner_user_id);

CREATE TABLE IF NOT EXISTS api_key_usage (
    id          TEXT PRIMARY KEY,
    key_id      TEXT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
    user_id     TEXT NOT NULL,
    endpoint    TEXT NOT NULL,
    method      TEXT NOT NULL,
    status_code INTEGER NOT NULL,
    ip_address  TEXT NOT NULL DEFAULT '',
    latency_ms  INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_key_usage_key ON api_key_usage(key_id, created_at);

CREATE TABLE IF NOT EXISTS sessions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    device_id         TEXT NOT NULL,
    device_type       TEXT NOT NULL DEFAULT 'other',
    state             TEXT NOT NULL DEFAULT 'active',
    started_at        TIMESTAMP NOT NULL,
    last_heartbeat_at TIMESTAMP NOT NULL,
    ended_at          TIMESTAMP,
    ended_by          TEXT NOT NULL DEFAULT '',
    current_track_id  TEXT NOT NULL DEFAULT '',
    position_ms       INTEGER NOT NULL DEFAULT 0,
    last_client_seq   INTEGER NOT NULL DEFAULT 0,
    client_context    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_device ON sessions(user_id, device_id, state);

CREATE TABLE IF NOT EXISTS session_summaries (
    session_id        TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
    user_id           TEXT NOT NULL,
    started_at        TIMESTAMP NOT NULL,
    ended_at          TIMESTAMP NOT NULL,
    ended_by          TEXT NOT NULL,
    total_duration_ms INTEGER NOT NULL,
    tracks_played     INTEGER NOT NULL,
    tracks_skipped    INTEGER NOT NULL,
    completion_rate   REAL NOT NULL,
    device_type       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tracks (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL DEFAULT '',
    artist_id   TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS interactions (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    track_id            TEXT NOT NULL,
    session_id          TEXT,
    client_seq          INTEGER NOT NULL DEFAULT 0,
    type                TEXT NOT NULL,
    created_at          TIMESTAMP NOT NULL,
    play_duration_ms    INTEGER,
    position_ms         INTEGER,
    source              TEXT NOT NULL DEFAULT 'unknown',
    source_id           TEXT NOT NULL DEFAULT '',
    recommendation_id   TEXT NOT NULL DEFAULT '',
    device_type         TEXT NOT NULL DEFAULT '',
    skip_reason         TEXT NOT NULL DEFAULT '',
    mood                TEXT NOT NULL DEFAULT '',
    activity            TEXT NOT NULL DEFAULT '',
    completion_override INTEGER,
    extensions          TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id);
CREATE INDEX IF NOT EXISTS idx_interactions_feedback ON interactions(user_id, recommendation_id, type);

CREATE TABLE IF NOT EXISTS impressions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    track_id          TEXT NOT NULL,
    recommendation_id TEXT NOT NULL,
    model_type        TEXT NOT NULL DEFAULT '',
    model_version     TEXT NOT NULL DEFAULT '',
    score             REAL NOT NULL DEFAULT 0,
    position          INTEGER NOT NULL DEFAULT 0,
    context           TEXT NOT NULL DEFAULT '',
    shown_at          TIMESTAMP NOT NULL,
    clicked           INTEGER NOT NULL DEFAULT 0,
    played            INTEGER NOT NULL DEFAULT 0,
    liked             INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_impressions_rec ON impressions(recommendation_id);

CREATE TABLE IF NOT EXISTS search_queries (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    query        TEXT NOT NULL,
    result_count INTEGER NOT NULL DEFAULT 0,
    clicked_id   TEXT NOT NULL DEFAULT '',
    session_id   TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS content_views (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    session_id  TEXT NOT NULL DEFAULT '',
    device_type TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS player_events (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    session_id  TEXT NOT NULL DEFAULT '',
    track_id    TEXT NOT NULL DEFAULT '',
    event       TEXT NOT NULL,
    position_ms INTEGER,
    extensions  TEXT NOT NULL DEFAULT '{}',
    created_at  TIMESTAMP NOT NULL
);
`
