// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

// apiKeyPattern discriminates API keys from session tokens: the literal
// prefix followed by at least 32 characters of url-safe entropy. Anything
// else presented as a bearer token is treated as a session token.
var apiKeyPattern = regexp.MustCompile(`^tt_[A-Za-z0-9_-]{32,}$`)

// Verifier resolves an Authorization header to a Principal.
type Verifier struct {
	jwt    *JWTManager
	keys   *KeyManager
	repo   repository.Repository
	logger zerolog.Logger
}

// NewVerifier creates a credential verifier.
func NewVerifier(jwt *JWTManager, keys *KeyManager, repo repository.Repository, logger *zerolog.Logger) *Verifier {
	return &Verifier{
		jwt:    jwt,
		keys:   keys,
		repo:   repo,
		logger: logger.With().Str("component", "verifier").Logger(),
	}
}

// Verify authenticates the Authorization header value and returns the
// request's principal. clientIP is used for API-key allowlist checks.
func (v *Verifier) Verify(ctx context.Context, authorization, clientIP string) (*models.Principal, *Error) {
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		return nil, errMalformed("missing or malformed Authorization header")
	}
	token = strings.TrimSpace(token)

	if apiKeyPattern.MatchString(token) {
		return v.verifyAPIKey(ctx, token, clientIP)
	}
	return v.verifySessionToken(ctx, token)
}

func (v *Verifier) verifySessionToken(ctx context.Context, token string) (*models.Principal, *Error) {
	claims, aerr := v.jwt.ValidateToken(token)
	if aerr != nil {
		return nil, aerr
	}

	user, err := v.repo.GetUser(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errUnknown()
	}
	if err != nil {
		v.logger.Error().Err(err).Msg("user lookup failed during verification")
		return nil, errUnknown()
	}
	if !user.IsActive {
		return nil, &Error{Kind: KindRevokedCredential, Message: "user deactivated"}
	}

	plan, overrides := v.orgPlan(ctx, user.OrgID)
	return &models.Principal{
		UserID:           user.ID,
		OrgID:            user.OrgID,
		Plan:             plan,
		Scopes:           models.ScopesForRole(user.Role),
		AuthMethod:       models.AuthSessionToken,
		FeatureOverrides: overrides,
	}, nil
}

func (v *Verifier) verifyAPIKey(ctx context.Context, token, clientIP string) (*models.Principal, *Error) {
	key, aerr := v.keys.Verify(ctx, token, clientIP)
	if aerr != nil {
		return nil, aerr
	}

	user, err := v.repo.GetUser(ctx, key.OwnerUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errUnknown()
	}
	if err != nil {
		v.logger.Error().Err(err).Msg("key owner lookup failed during verification")
		return nil, errUnknown()
	}
	if !user.IsActive {
		return nil, &Error{Kind: KindRevokedCredential, Message: "user deactivated"}
	}

	plan, overrides := v.orgPlan(ctx, key.OrgID)
	scopes := make([]string, len(key.Scopes))
	copy(scopes, key.Scopes)

	return &models.Principal{
		UserID:           user.ID,
		OrgID:            key.OrgID,
		Plan:             plan,
		Scopes:           scopes,
		AuthMethod:       models.AuthAPIKey,
		KeyID:            key.ID,
		FeatureOverrides: overrides,
	}, nil
}

// orgPlan resolves the organization's plan with free as the safe floor: a
// deleted org or a downgrade in flight must never grant elevated access.
func (v *Verifier) orgPlan(ctx context.Context, orgID string) (models.Plan, map[string]bool) {
	org, err := v.repo.GetOrganization(ctx, orgID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			v.logger.Warn().Err(err).Str("org_id", orgID).Msg("org lookup failed, defaulting plan to free")
		}
		return models.PlanFree, nil
	}
	if !org.Plan.Valid() {
		return models.PlanFree, org.FeatureOverrides
	}
	return org.Plan, org.FeatureOverrides
}
