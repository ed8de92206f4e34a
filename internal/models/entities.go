// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package models

import (
	"net"
	"strings"
	"time"
)

// Plan is a billing tier governing feature availability and quotas.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// planRank orders plans from least to most privileged.
var planRank = map[Plan]int{
	PlanFree:       0,
	PlanStarter:    1,
	PlanPro:        2,
	PlanEnterprise: 3,
}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	_, ok := planRank[p]
	return ok
}

// AtLeast reports whether p is the same tier as min or higher.
// Unknown plans rank below free (safe floor for downgrades in flight).
func (p Plan) AtLeast(min Plan) bool {
	pr, ok := planRank[p]
	if !ok {
		pr = -1
	}
	return pr >= planRank[min]
}

// ParsePlan normalizes a plan string, falling back to free for unknown
// values. A downgrade in flight must never grant elevated access.
func ParsePlan(s string) Plan {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return PlanFree
	}
	return p
}

// Role is a user's role within their organization.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// Environment identifies the deployment environment an API key is scoped to.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// Organization owns users and their API keys. Plan mutates on
// upgrade/downgrade; an organization is never destroyed while members exist.
type Organization struct {
	ID               string          `json:"id"`
	Slug             string          `json:"slug"`
	Plan             Plan            `json:"plan"`
	MaxUsers         int             `json:"max_users"`
	MaxTracks        int             `json:"max_tracks"`
	FeatureOverrides map[string]bool `json:"feature_overrides,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// User belongs to exactly one organization. Email is case-folded on storage
// and compare.
type User struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"org_id"`
	Email         string    `json:"email"`
	Username      string    `json:"username,omitempty"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	IsActive      bool      `json:"is_active"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// NormalizeEmail case-folds an email address for storage and comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RateWindows holds per-window request limits for an API key. A zero value
// means the plan default applies.
type RateWindows struct {
	PerMinute int `json:"per_minute,omitempty"`
	PerHour   int `json:"per_hour,omitempty"`
	PerDay    int `json:"per_day,omitempty"`
}

// APIKey is a long-lived credential. Hash is a one-way argon2id digest of the
// full secret; the secret itself is returned exactly once at creation and
// stored nowhere. Prefix is the first characters of the presented key and is
// not unique: multiple rows may share a prefix and the verifier must try the
// hash of each candidate.
type APIKey struct {
	ID          string      `json:"id"`
	OwnerUserID string      `json:"owner_user_id"`
	OrgID       string      `json:"org_id"`
	Hash        string      `json:"-"`
	Prefix      string      `json:"prefix"`
	Name        string      `json:"name,omitempty"`
	Scopes      []string    `json:"scopes"`
	Environment Environment `json:"environment"`
	Limits      RateWindows `json:"limits"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	RevokedAt   *time.Time  `json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time  `json:"last_used_at,omitempty"`
	IPAllowlist []string    `json:"ip_allowlist,omitempty"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
}

// IsRevoked reports whether the key has been revoked as of now. A revocation
// scheduled in the future (rotation grace) does not count yet.
func (k *APIKey) IsRevoked(now time.Time) bool {
	return k.RevokedAt != nil && !k.RevokedAt.After(now)
}

// IsExpired reports whether the key has passed its expiry.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// HasScope reports whether the key grants the named scope. The wildcard
// scope "*" grants everything.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == ScopeWildcard {
			return true
		}
	}
	return false
}

// IPAllowed reports whether clientIP passes the key's allowlist. An empty
// allowlist permits all addresses. Entries may be single IPs or CIDR ranges.
func (k *APIKey) IPAllowed(clientIP string) bool {
	if len(k.IPAllowlist) == 0 {
		return true
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	for _, entry := range k.IPAllowlist {
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}
	return false
}

// Redacted returns the display form of a key: its prefix followed by a
// masked tail. All reads after creation use this form.
func (k *APIKey) Redacted() string {
	return k.Prefix + strings.Repeat("•", 6)
}

// APIKeyUsageRecord is one row of the append-only API usage log backing the
// usage analytics endpoint.
type APIKeyUsageRecord struct {
	ID         string    `json:"id"`
	KeyID      string    `json:"key_id"`
	UserID     string    `json:"user_id"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"`
	IPAddress  string    `json:"ip_address,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// APIKeyUsageSummary aggregates the usage log for one key.
type APIKeyUsageSummary struct {
	KeyID         string         `json:"key_id"`
	TotalRequests int64          `json:"total_requests"`
	ErrorRequests int64          `json:"error_requests"`
	ByEndpoint    map[string]int `json:"by_endpoint"`
	LastUsedAt    *time.Time     `json:"last_used_at,omitempty"`
	WindowStart   time.Time      `json:"window_start"`
	WindowEnd     time.Time      `json:"window_end"`
}

// DeviceType classifies the client device driving a listening session.
type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceMobile  DeviceType = "mobile"
	DeviceDesktop DeviceType = "desktop"
	DeviceSpeaker DeviceType = "speaker"
	DeviceTV      DeviceType = "tv"
	DeviceOther   DeviceType = "other"
)

// Valid reports whether d is a known device type.
func (d DeviceType) Valid() bool {
	switch d {
	case DeviceWeb, DeviceMobile, DeviceDesktop, DeviceSpeaker, DeviceTV, DeviceOther:
		return true
	}
	return false
}

// SessionState is the lifecycle state of a listening session.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionEnded   SessionState = "ended"
	SessionExpired SessionState = "expired"
)

// Session is a time-bounded listening context grouping related interactions.
// While EndedAt is nil and the heartbeat is fresh, the session is active.
// At most one active session exists per (user, device) pair.
type Session struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	DeviceID        string            `json:"device_id"`
	DeviceType      DeviceType        `json:"device_type"`
	State           SessionState      `json:"state"`
	StartedAt       time.Time         `json:"started_at"`
	LastHeartbeatAt time.Time         `json:"last_heartbeat_at"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	EndedBy         string            `json:"ended_by,omitempty"`
	CurrentTrackID  string            `json:"current_track_id,omitempty"`
	PositionMS      int64             `json:"position_ms,omitempty"`
	LastClientSeq   int64             `json:"last_client_seq,omitempty"`
	ClientContext   map[string]string `json:"client_context,omitempty"`
}

// SessionSummary is emitted exactly once when a session reaches a terminal
// state, computed from the interactions joined to the session.
type SessionSummary struct {
	SessionID       string     `json:"session_id"`
	UserID          string     `json:"user_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         time.Time  `json:"ended_at"`
	EndedBy         string     `json:"ended_by"`
	TotalDurationMS int64      `json:"total_duration_ms"`
	TracksPlayed    int        `json:"tracks_played"`
	TracksSkipped   int        `json:"tracks_skipped"`
	CompletionRate  float64    `json:"completion_rate"`
	DeviceType      DeviceType `json:"device_type"`
}

// Track is the subset of catalog metadata the serving plane needs for
// interaction validation and ranking tie-breaks.
type Track struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ArtistID   string    `json:"artist_id"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
