// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package auth implements credential verification for the serving plane.
//
// Two credential carriers are accepted in the Authorization header using the
// Bearer scheme: short-lived signed session tokens and long-lived API keys.
//
// API key format: tt_<base64url-secret>
//
// Security:
//   - Key secrets are hashed with argon2id before storage; the plaintext is
//     returned exactly once at creation and stored nowhere
//   - Only the key prefix (first 10 chars) is stored for lookup; prefix
//     collisions are tolerated and resolved by hash comparison
//   - Keys support scoped permissions, expiration, rotation with a grace
//     window, and IP allowlisting
package auth

import "fmt"

// Credential failure kinds. Clients branch on these strings, not messages.
const (
	KindMalformedCredential = "MALFORMED_CREDENTIAL"
	KindUnknownCredential   = "UNKNOWN_CREDENTIAL"
	KindRevokedCredential   = "REVOKED_CREDENTIAL"
	KindExpiredCredential   = "EXPIRED_CREDENTIAL"
	KindIPNotAllowed        = "IP_NOT_ALLOWED"
	KindScopeInsufficient   = "SCOPE_INSUFFICIENT"
)

// Error is a credential verification failure with a stable kind string.
type Error struct {
	Kind    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Kind, e.Message)
}

func errMalformed(msg string) *Error {
	return &Error{Kind: KindMalformedCredential, Message: msg}
}

func errUnknown() *Error {
	return &Error{Kind: KindUnknownCredential, Message: "credential not recognized"}
}
