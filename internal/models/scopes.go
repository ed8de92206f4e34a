// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package models

// Scope strings name capabilities required by operations. API keys carry an
// explicit scope set; session tokens inherit the scope set of the user's role.
const (
	ScopeWildcard = "*"

	ScopeReadTracks          = "read:tracks"
	ScopeReadRecommendations = "read:recommendations"
	ScopeWriteInteractions   = "write:interactions"
	ScopeWriteSessions       = "write:sessions"
	ScopeReadAnalytics       = "read:analytics"
	ScopeManageKeys          = "manage:keys"
	ScopeManageOrg           = "manage:org"
)

// allScopes is the canonical scope registry used for validation.
var allScopes = map[string]bool{
	ScopeWildcard:            true,
	ScopeReadTracks:          true,
	ScopeReadRecommendations: true,
	ScopeWriteInteractions:   true,
	ScopeWriteSessions:       true,
	ScopeReadAnalytics:       true,
	ScopeManageKeys:          true,
	ScopeManageOrg:           true,
}

// IsValidScope reports whether s names a registered scope.
func IsValidScope(s string) bool {
	return allScopes[s]
}

// roleScopes maps user roles to the implicit scope set a session token grants.
var roleScopes = map[Role][]string{
	RoleUser: {
		ScopeReadTracks,
		ScopeReadRecommendations,
		ScopeWriteInteractions,
		ScopeWriteSessions,
	},
	RoleAdmin: {
		ScopeReadTracks,
		ScopeReadRecommendations,
		ScopeWriteInteractions,
		ScopeWriteSessions,
		ScopeReadAnalytics,
		ScopeManageKeys,
	},
	RoleOwner: {ScopeWildcard},
}

// ScopesForRole returns a copy of the implicit scope set for a role.
func ScopesForRole(r Role) []string {
	src := roleScopes[r]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// AuthMethod identifies how a principal was verified.
type AuthMethod string

const (
	AuthSessionToken AuthMethod = "session_token"
	AuthAPIKey       AuthMethod = "api_key"
)

// Principal is the verified identity backing a request.
type Principal struct {
	UserID     string     `json:"user_id"`
	OrgID      string     `json:"org_id"`
	Plan       Plan       `json:"plan"`
	Scopes     []string   `json:"scopes"`
	AuthMethod AuthMethod `json:"auth_method"`
	// KeyID is set only when AuthMethod is api_key.
	KeyID string `json:"key_id,omitempty"`
	// FeatureOverrides carries the organization's feature overrides so gate
	// checks need no extra repository round trip.
	FeatureOverrides map[string]bool `json:"-"`
}

// HasScope reports whether the principal's scope set contains scope or the
// wildcard.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope || s == ScopeWildcard {
			return true
		}
	}
	return false
}
