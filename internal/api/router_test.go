// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/cache"
	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/dispatch"
	"github.com/tunetrail/tunetrail/internal/engine"
	"github.com/tunetrail/tunetrail/internal/gate"
	"github.com/tunetrail/tunetrail/internal/ingest"
	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
	"github.com/tunetrail/tunetrail/internal/session"
)

const testUpgradeURL = "https://tunetrail.io/upgrade"

type apiFixture struct {
	handler  http.Handler
	repo     *repository.Memory
	store    *cache.Memory
	clk      *clock.Fake
	eng      *engine.Fake
	buffer   *dispatch.ImpressionBuffer
	flusher  *dispatch.Flusher
	jwt      *auth.JWTManager
	keys     *auth.KeyManager
	sessions *session.Manager
}

// newAPIFixture wires the full route tree against the in-memory adapters and
// a fake clock pinned to noon UTC so daily windows reset twelve hours out.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := cache.NewMemory(clk)
	t.Cleanup(store.Close)
	logger := logging.NewTestLogger(io.Discard)

	jwt, err := auth.NewJWTManager(strings.Repeat("secret--", 4), 72*time.Hour, clk)
	require.NoError(t, err)
	keys := auth.NewKeyManager(repo, clk, clk, &logger)
	verifier := auth.NewVerifier(jwt, keys, repo, &logger)
	g := gate.New(store, clk, testUpgradeURL, &logger)

	eng := &engine.Fake{}
	eng.Script(&engine.Response{
		Tracks: []engine.ScoredTrack{
			{TrackID: "track-a", Score: 0.9},
			{TrackID: "track-b", Score: 0.8},
			{TrackID: "track-c", Score: 0.7},
		},
		ModelType:    "collaborative",
		ModelVersion: "v42",
	})
	buffer := dispatch.NewImpressionBuffer(0)
	dispatcher := dispatch.New(eng, repo, store, clk, clk, buffer, dispatch.DefaultConfig(), &logger)
	flusher := dispatch.NewFlusher(buffer, repo, time.Second, 0, &logger)

	sessions := session.NewManager(repo, store, clk, clk, 0, &logger)
	ingestor := ingest.New(repo, clk, clk, &logger)

	ctx := context.Background()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"track-a", "track-b", "track-c"} {
		require.NoError(t, repo.UpsertTrack(ctx, &models.Track{
			ID: id, Title: id, ArtistID: "artist-1",
			DurationMS: 180_000, CreatedAt: base.AddDate(0, 0, i),
		}))
	}

	rt := NewRouter(Config{}, verifier, jwt, keys, g, dispatcher, ingestor,
		sessions, buffer, repo, store, clk, clk, &logger)

	return &apiFixture{
		handler:  rt.Setup(),
		repo:     repo,
		store:    store,
		clk:      clk,
		eng:      eng,
		buffer:   buffer,
		flusher:  flusher,
		jwt:      jwt,
		keys:     keys,
		sessions: sessions,
	}
}

// seedAccount creates an organization on the given plan with one active owner
// and returns the user plus a session token.
func (f *apiFixture) seedAccount(t *testing.T, slug string, plan models.Plan) (*models.User, string) {
	t.Helper()
	ctx := context.Background()
	now := f.clk.Now()

	org := &models.Organization{ID: "org-" + slug, Slug: slug, Plan: plan, CreatedAt: now}
	require.NoError(t, f.repo.CreateOrganization(ctx, org))

	user := &models.User{
		ID:        "user-" + slug,
		OrgID:     org.ID,
		Email:     slug + "@example.com",
		Role:      models.RoleOwner,
		IsActive:  true,
		CreatedAt: now,
	}
	require.NoError(t, f.repo.CreateUser(ctx, user))

	token, err := f.jwt.GenerateToken(user)
	require.NoError(t, err)
	return user, token
}

// do runs one request through the full middleware stack.
func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(blob)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

// newRequest builds a request without sending it, for tests that need to set
// extra headers first.
func newRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var rd io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(blob)
	}
	return httptest.NewRequest(method, path, rd)
}

func record(f *apiFixture, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeAs(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), "body: %s", rr.Body.String())
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) *Envelope {
	t.Helper()
	var env Envelope
	decodeAs(t, rr, &env)
	return &env
}

func TestRegisterAndLogin(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    "owner@example.com",
		"password": "correct-horse-battery",
		"org_slug": "acme",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct {
		Token string       `json:"token"`
		User  *models.User `json:"user"`
	}
	decodeAs(t, rr, &created)
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, models.RoleOwner, created.User.Role)
	assert.Empty(t, created.User.PasswordHash, "hash must never serialize")

	// The slug is taken now, even for a different email.
	rr = f.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    "second@example.com",
		"password": "correct-horse-battery",
		"org_slug": "ACME",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, KindConflict, decodeEnvelope(t, rr).Error)

	rr = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "Owner@Example.com",
		"password": "correct-horse-battery",
	})
	assert.Equal(t, http.StatusOK, rr.Code, "email compare is case-folded")

	// Wrong password and unknown email are indistinguishable.
	wrong := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "owner@example.com", "password": "nope-nope-nope",
	})
	unknown := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "ghost@example.com", "password": "nope-nope-nope",
	})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, decodeEnvelope(t, wrong).Message, decodeEnvelope(t, unknown).Message)
}

func TestAuthenticationRequired(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/recommendations", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, auth.KindMalformedCredential, decodeEnvelope(t, rr).Error)

	rr = f.do(t, http.MethodGet, "/api/v1/recommendations", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestScopeEnforcement(t *testing.T) {
	f := newAPIFixture(t)
	user, _ := f.seedAccount(t, "scoped", models.PlanFree)

	_, secret, err := f.keys.Issue(context.Background(), user, &auth.CreateKeyRequest{
		Name:   "read-only",
		Scopes: []string{models.ScopeReadRecommendations},
	})
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/api/v1/recommendations", secret, nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/api/v1/interactions", secret, map[string]string{
		"track_id": "track-a", "type": "play",
	})
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, auth.KindScopeInsufficient, decodeEnvelope(t, rr).Error)
}

func TestKeyLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAccount(t, "keys", models.PlanFree)

	rr := f.do(t, http.MethodPost, "/api/v1/api-keys", token, map[string]interface{}{
		"name":   "ci",
		"scopes": []string{models.ScopeReadRecommendations},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var issued struct {
		Key    *models.APIKey `json:"key"`
		Secret string         `json:"secret"`
	}
	decodeAs(t, rr, &issued)
	assert.True(t, strings.HasPrefix(issued.Secret, "tt_"))
	assert.Equal(t, issued.Secret[:10], issued.Key.Prefix)

	rr = f.do(t, http.MethodGet, "/api/v1/api-keys", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var listed struct {
		Keys []struct {
			models.APIKey
			Display string `json:"display"`
		} `json:"keys"`
	}
	decodeAs(t, rr, &listed)
	require.Len(t, listed.Keys, 1)
	assert.Empty(t, listed.Keys[0].Hash, "hash must never serialize")
	// Reads carry the masked display form: prefix plus a blotted tail, never
	// the secret.
	assert.True(t, strings.HasPrefix(listed.Keys[0].Display, issued.Key.Prefix))
	assert.NotContains(t, listed.Keys[0].Display, issued.Secret[10:])

	// A foreign key reads as not found, not forbidden.
	_, otherToken := f.seedAccount(t, "other", models.PlanFree)
	rr = f.do(t, http.MethodGet, "/api/v1/api-keys/"+issued.Key.ID, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/api-keys/"+issued.Key.ID+"/revoke", token, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/recommendations", issued.Secret, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, auth.KindRevokedCredential, decodeEnvelope(t, rr).Error)
}

func TestKeyRotationGraceWindow(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAccount(t, "rotate", models.PlanFree)

	rr := f.do(t, http.MethodPost, "/api/v1/api-keys", token, map[string]interface{}{
		"name":   "rotating",
		"scopes": []string{models.ScopeManageKeys},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var old struct {
		Key    *models.APIKey `json:"key"`
		Secret string         `json:"secret"`
	}
	decodeAs(t, rr, &old)

	rr = f.do(t, http.MethodPost, "/api/v1/api-keys/"+old.Key.ID+"/rotate", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var next struct {
		Key    *models.APIKey `json:"key"`
		Secret string         `json:"secret"`
	}
	decodeAs(t, rr, &next)
	require.NotEqual(t, old.Secret, next.Secret)
	assert.Equal(t, old.Key.Scopes, next.Key.Scopes)

	// Inside the grace window both secrets authenticate.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/api-keys", old.Secret, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/api-keys", next.Secret, nil).Code)

	f.clk.Advance(auth.RotationGrace + time.Second)

	rr = f.do(t, http.MethodGet, "/api/v1/api-keys", old.Secret, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, auth.KindRevokedCredential, decodeEnvelope(t, rr).Error)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/api-keys", next.Secret, nil).Code)
}

func TestKeyUsageRequiresProPlan(t *testing.T) {
	f := newAPIFixture(t)
	freeUser, freeToken := f.seedAccount(t, "freeusage", models.PlanFree)

	key, _, err := f.keys.Issue(context.Background(), freeUser, &auth.CreateKeyRequest{
		Name: "k", Scopes: []string{models.ScopeReadRecommendations},
	})
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/api-keys/%s/usage", key.ID), freeToken, nil)
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.Equal(t, gate.KindPlanUpgradeRequired, env.Error)
	assert.Equal(t, models.PlanFree, env.CurrentPlan)

	proUser, proToken := f.seedAccount(t, "prousage", models.PlanPro)
	proKey, _, err := f.keys.Issue(context.Background(), proUser, &auth.CreateKeyRequest{
		Name: "k", Scopes: []string{models.ScopeReadRecommendations},
	})
	require.NoError(t, err)

	rr = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/api-keys/%s/usage", proKey.ID), proToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var sum models.APIKeyUsageSummary
	decodeAs(t, rr, &sum)
	assert.Equal(t, proKey.ID, sum.KeyID)
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}
