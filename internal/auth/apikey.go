// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"

	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

const (
	// keyPrefix is the literal prefix of every TuneTrail API key.
	keyPrefix = "tt_"

	// keySecretBytes is the entropy of the secret portion. 32 bytes encode
	// to 43 url-safe characters, 46 total with the prefix.
	keySecretBytes = 32

	// keyPrefixLength is how much of the presented key is stored for lookup.
	// Prefixes are not unique.
	keyPrefixLength = 10

	// RotationGrace is how long a rotated key keeps authenticating after its
	// replacement is issued.
	RotationGrace = 24 * time.Hour
)

// argon2id parameters. Tuned for interactive verification on the serving
// path: 64 MiB, one pass, four lanes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// ErrKeyNotFound is returned by lifecycle operations on a missing key.
var ErrKeyNotFound = errors.New("auth: api key not found")

// ErrKeyForbidden is returned when a caller operates on a key they do not own.
var ErrKeyForbidden = errors.New("auth: api key belongs to another user")

// CreateKeyRequest carries caller-supplied attributes of a new API key.
type CreateKeyRequest struct {
	Name        string             `json:"name" validate:"required,max=128"`
	Scopes      []string           `json:"scopes" validate:"required,min=1"`
	Environment models.Environment `json:"environment,omitempty"`
	// ExpiresInDays of zero means the key never expires.
	ExpiresInDays int                `json:"expires_in_days,omitempty" validate:"omitempty,min=1,max=3650"`
	IPAllowlist   []string           `json:"ip_allowlist,omitempty"`
	Limits        models.RateWindows `json:"limits,omitempty"`
}

// KeyManager handles the API key lifecycle: issue, verify, rotate, revoke.
type KeyManager struct {
	repo   repository.Repository
	clk    clock.Clock
	ids    clock.IDGen
	logger zerolog.Logger
}

// NewKeyManager creates a key manager.
func NewKeyManager(repo repository.Repository, clk clock.Clock, ids clock.IDGen, logger *zerolog.Logger) *KeyManager {
	return &KeyManager{
		repo:   repo,
		clk:    clk,
		ids:    ids,
		logger: logger.With().Str("component", "key_manager").Logger(),
	}
}

// Issue mints a new API key for a user. Returns the key record and the
// plaintext secret. The plaintext is shown exactly once; only its argon2id
// hash is stored.
func (m *KeyManager) Issue(ctx context.Context, user *models.User, req *CreateKeyRequest) (*models.APIKey, string, error) {
	for _, scope := range req.Scopes {
		if !models.IsValidScope(scope) {
			return nil, "", fmt.Errorf("invalid scope: %s", scope)
		}
	}
	env := req.Environment
	if env == "" {
		env = models.EnvDevelopment
	}
	if !env.Valid() {
		return nil, "", fmt.Errorf("invalid environment: %s", env)
	}

	secretBytes := make([]byte, keySecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate key secret: %w", err)
	}
	plaintext := keyPrefix + base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := hashSecret(plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash key: %w", err)
	}

	now := m.clk.Now()
	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		exp := now.Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &exp
	}

	key := &models.APIKey{
		ID:          m.ids.NewID(),
		OwnerUserID: user.ID,
		OrgID:       user.OrgID,
		Hash:        hash,
		Prefix:      plaintext[:keyPrefixLength],
		Name:        req.Name,
		Scopes:      req.Scopes,
		Environment: env,
		Limits:      req.Limits,
		ExpiresAt:   expiresAt,
		IPAllowlist: req.IPAllowlist,
		IsActive:    true,
		CreatedAt:   now,
	}
	if err := m.repo.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to store key: %w", err)
	}

	m.logger.Info().
		Str("key_id", key.ID).
		Str("user_id", user.ID).
		Str("name", key.Name).
		Int("scopes_count", len(key.Scopes)).
		Msg("api key issued")

	return key, plaintext, nil
}

// Rotate issues a replacement for an existing key, copying its attributes.
// The old key keeps authenticating for RotationGrace and is then revoked.
// Both the new record and its plaintext secret are returned.
func (m *KeyManager) Rotate(ctx context.Context, keyID, callerUserID string) (*models.APIKey, string, error) {
	old, err := m.getOwned(ctx, keyID, callerUserID)
	if err != nil {
		return nil, "", err
	}
	now := m.clk.Now()
	if old.IsRevoked(now) || !old.IsActive {
		return nil, "", fmt.Errorf("cannot rotate a revoked key")
	}

	user, err := m.repo.GetUser(ctx, old.OwnerUserID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load key owner: %w", err)
	}

	req := &CreateKeyRequest{
		Name:        old.Name,
		Scopes:      old.Scopes,
		Environment: old.Environment,
		IPAllowlist: old.IPAllowlist,
		Limits:      old.Limits,
	}
	if old.ExpiresAt != nil && old.ExpiresAt.After(now) {
		days := int(old.ExpiresAt.Sub(now).Hours()/24) + 1
		req.ExpiresInDays = days
	}

	replacement, plaintext, err := m.Issue(ctx, user, req)
	if err != nil {
		return nil, "", err
	}

	// Schedule the old key's revocation at the end of the grace window.
	// IsRevoked treats a future revoked_at as still valid.
	if err := m.repo.RevokeAPIKey(ctx, old.ID, now.Add(RotationGrace)); err != nil {
		return nil, "", fmt.Errorf("failed to schedule old key revocation: %w", err)
	}

	m.logger.Info().
		Str("old_key_id", old.ID).
		Str("new_key_id", replacement.ID).
		Time("grace_until", now.Add(RotationGrace)).
		Msg("api key rotated")

	return replacement, plaintext, nil
}

// Revoke immediately revokes a key. Revoking an already-revoked key is a
// no-op.
func (m *KeyManager) Revoke(ctx context.Context, keyID, callerUserID string) error {
	key, err := m.getOwned(ctx, keyID, callerUserID)
	if err != nil {
		return err
	}
	now := m.clk.Now()
	if key.IsRevoked(now) {
		return nil
	}
	if err := m.repo.RevokeAPIKey(ctx, keyID, now); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	m.logger.Info().Str("key_id", keyID).Msg("api key revoked")
	return nil
}

// List returns the caller's keys in redacted form (the secret is never
// reconstructable after creation).
func (m *KeyManager) List(ctx context.Context, userID string) ([]*models.APIKey, error) {
	return m.repo.GetAPIKeysByUser(ctx, userID)
}

// Get returns one key owned by the caller.
func (m *KeyManager) Get(ctx context.Context, keyID, callerUserID string) (*models.APIKey, error) {
	return m.getOwned(ctx, keyID, callerUserID)
}

// Usage aggregates the usage log of one key over [from, to).
func (m *KeyManager) Usage(ctx context.Context, keyID, callerUserID string, from, to time.Time) (*models.APIKeyUsageSummary, error) {
	if _, err := m.getOwned(ctx, keyID, callerUserID); err != nil {
		return nil, err
	}
	return m.repo.SummarizeAPIKeyUsage(ctx, keyID, from, to)
}

// Verify checks a presented plaintext key against the stored candidates
// sharing its prefix. The matching row must be active, unrevoked, unexpired,
// and pass the IP allowlist.
func (m *KeyManager) Verify(ctx context.Context, plaintext, clientIP string) (*models.APIKey, *Error) {
	if len(plaintext) < keyPrefixLength || !strings.HasPrefix(plaintext, keyPrefix) {
		return nil, errMalformed("invalid api key format")
	}

	candidates, err := m.repo.GetAPIKeysByPrefix(ctx, plaintext[:keyPrefixLength])
	if err != nil {
		m.logger.Error().Err(err).Msg("api key prefix lookup failed")
		return nil, errUnknown()
	}

	var key *models.APIKey
	for _, cand := range candidates {
		if verifySecret(cand.Hash, plaintext) {
			key = cand
			break
		}
	}
	if key == nil {
		return nil, errUnknown()
	}

	now := m.clk.Now()
	switch {
	case !key.IsActive || key.IsRevoked(now):
		return nil, &Error{Kind: KindRevokedCredential, Message: "api key revoked"}
	case key.IsExpired(now):
		return nil, &Error{Kind: KindExpiredCredential, Message: "api key expired"}
	case !key.IPAllowed(clientIP):
		return nil, &Error{Kind: KindIPNotAllowed, Message: "client address not in key allowlist"}
	}

	m.touchAsync(key.ID, now)
	return key, nil
}

// touchAsync updates last_used_at without blocking the request path.
func (m *KeyManager) touchAsync(keyID string, usedAt time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.repo.TouchAPIKey(ctx, keyID, usedAt); err != nil {
			m.logger.Warn().Err(err).Str("key_id", keyID).Msg("failed to update key last_used_at")
		}
	}()
}

func (m *KeyManager) getOwned(ctx context.Context, keyID, callerUserID string) (*models.APIKey, error) {
	key, err := m.repo.GetAPIKey(ctx, keyID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	if key.OwnerUserID != callerUserID {
		// Not revealed as a foreign key's existence.
		return nil, ErrKeyForbidden
	}
	return key, nil
}

// hashSecret derives an argon2id digest of the full plaintext key, encoded in
// PHC string format.
func hashSecret(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	digest := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest)), nil
}

// verifySecret re-derives the digest with the stored parameters and compares
// in constant time.
func verifySecret(encoded, plaintext string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory uint32
	var iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(plaintext), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
