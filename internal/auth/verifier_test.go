// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package auth

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

func newTestVerifier(t *testing.T) (*Verifier, *JWTManager, *KeyManager, *repository.Memory, *clock.Fake) {
	t.Helper()
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	logger := logging.NewTestLogger(io.Discard)

	jwtMgr, err := NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour, clk)
	require.NoError(t, err)
	keyMgr := NewKeyManager(repo, clk, clk, &logger)

	ctx := context.Background()
	require.NoError(t, repo.CreateOrganization(ctx, &models.Organization{
		ID: "org-1", Slug: "acme", Plan: models.PlanStarter, CreatedAt: clk.Now(),
	}))
	require.NoError(t, repo.CreateUser(ctx, &models.User{
		ID: "user-1", OrgID: "org-1", Email: "alice@example.com",
		Role: models.RoleAdmin, IsActive: true, CreatedAt: clk.Now(),
	}))

	return NewVerifier(jwtMgr, keyMgr, repo, &logger), jwtMgr, keyMgr, repo, clk
}

func TestVerifySessionToken(t *testing.T) {
	v, jwtMgr, _, repo, _ := newTestVerifier(t)
	ctx := context.Background()

	user, err := repo.GetUser(ctx, "user-1")
	require.NoError(t, err)
	token, err := jwtMgr.GenerateToken(user)
	require.NoError(t, err)

	p, aerr := v.Verify(ctx, "Bearer "+token, "")
	require.Nil(t, aerr)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "org-1", p.OrgID)
	assert.Equal(t, models.PlanStarter, p.Plan)
	assert.Equal(t, models.AuthSessionToken, p.AuthMethod)
	assert.Empty(t, p.KeyID)
	assert.True(t, p.HasScope(models.ScopeManageKeys), "admin role grants manage:keys")
	assert.False(t, p.HasScope(models.ScopeManageOrg))
}

func TestVerifyExpiredSessionToken(t *testing.T) {
	v, jwtMgr, _, repo, clk := newTestVerifier(t)
	ctx := context.Background()

	user, err := repo.GetUser(ctx, "user-1")
	require.NoError(t, err)
	token, err := jwtMgr.GenerateToken(user)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, aerr := v.Verify(ctx, "Bearer "+token, "")
	require.NotNil(t, aerr)
	assert.Equal(t, KindExpiredCredential, aerr.Kind)
}

func TestVerifyAPIKeyPrincipal(t *testing.T) {
	v, _, keyMgr, repo, _ := newTestVerifier(t)
	ctx := context.Background()

	user, err := repo.GetUser(ctx, "user-1")
	require.NoError(t, err)
	key, plaintext, err := keyMgr.Issue(ctx, user, &CreateKeyRequest{
		Name:   "ci",
		Scopes: []string{models.ScopeReadRecommendations, models.ScopeWriteInteractions},
	})
	require.NoError(t, err)

	p, aerr := v.Verify(ctx, "Bearer "+plaintext, "203.0.113.7")
	require.Nil(t, aerr)
	assert.Equal(t, models.AuthAPIKey, p.AuthMethod)
	assert.Equal(t, key.ID, p.KeyID)
	assert.True(t, p.HasScope(models.ScopeReadRecommendations))
	assert.False(t, p.HasScope(models.ScopeManageKeys), "key scopes do not inherit the role")
}

func TestVerifyMalformedHeader(t *testing.T) {
	v, _, _, _, _ := newTestVerifier(t)
	ctx := context.Background()

	for _, header := range []string{"", "Bearer ", "Basic dXNlcjpwYXNz", "tt_raw-key-without-scheme"} {
		_, aerr := v.Verify(ctx, header, "")
		require.NotNil(t, aerr, "header %q", header)
		assert.Equal(t, KindMalformedCredential, aerr.Kind, "header %q", header)
	}
}

func TestVerifyUnknownPlanFloorsToFree(t *testing.T) {
	v, jwtMgr, _, repo, _ := newTestVerifier(t)
	ctx := context.Background()

	// Simulate a downgrade in flight: the org row carries a plan this build
	// does not know.
	require.NoError(t, repo.CreateOrganization(ctx, &models.Organization{
		ID: "org-2", Slug: "beta", Plan: models.Plan("platinum"), CreatedAt: time.Now(),
	}))
	require.NoError(t, repo.CreateUser(ctx, &models.User{
		ID: "user-2", OrgID: "org-2", Email: "carol@example.com",
		Role: models.RoleUser, IsActive: true, CreatedAt: time.Now(),
	}))

	user, err := repo.GetUser(ctx, "user-2")
	require.NoError(t, err)
	token, err := jwtMgr.GenerateToken(user)
	require.NoError(t, err)

	p, aerr := v.Verify(ctx, "Bearer "+token, "")
	require.Nil(t, aerr)
	assert.Equal(t, models.PlanFree, p.Plan)
}

func TestVerifyDeactivatedUser(t *testing.T) {
	v, jwtMgr, _, repo, _ := newTestVerifier(t)
	ctx := context.Background()

	user, err := repo.GetUser(ctx, "user-1")
	require.NoError(t, err)
	token, err := jwtMgr.GenerateToken(user)
	require.NoError(t, err)

	repo.SetUserActive("user-1", false)

	_, aerr := v.Verify(ctx, "Bearer "+token, "")
	require.NotNil(t, aerr)
	assert.Equal(t, KindRevokedCredential, aerr.Kind)
}
