// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package gate

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunetrail/tunetrail/internal/cache"
	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/models"
)

// brokenStore fails every operation, simulating a counter-store outage.
type brokenStore struct{}

var errDown = errors.New("store down")

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (brokenStore) AtomicIncr(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errDown
}
func (brokenStore) CompareAndSwap(context.Context, string, []byte, []byte) (bool, error) {
	return false, errDown
}
func (brokenStore) Delete(context.Context, string) error            { return errDown }
func (brokenStore) KeysByPrefix(context.Context, string) ([]string, error) {
	return nil, errDown
}

func newTestGate(t *testing.T, store cache.Store) (*Gate, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 30, 0, time.UTC))
	if store == nil {
		store = cache.NewMemory(clk)
	}
	logger := logging.NewTestLogger(io.Discard)
	return New(store, clk, "https://tunetrail.example/upgrade", &logger), clk
}

func principal(plan models.Plan) *models.Principal {
	return &models.Principal{UserID: "user-1", OrgID: "org-1", Plan: plan}
}

func TestPlanGateDenies(t *testing.T) {
	g, _ := newTestGate(t, nil)

	d := g.Check(context.Background(), principal(models.PlanFree), Resource{
		Operation: "recommendations.taste_profile",
		MinPlan:   models.PlanPro,
		Feature:   models.FeatureTasteProfile,
	})
	require.False(t, d.Allowed)
	assert.Equal(t, KindPlanUpgradeRequired, d.Kind)
	assert.Equal(t, models.PlanFree, d.CurrentPlan)
	assert.Equal(t, []models.Plan{models.PlanPro, models.PlanEnterprise}, d.RequiredPlans)
	assert.Equal(t, "https://tunetrail.example/upgrade", d.UpgradeURL)
	assert.NotEmpty(t, d.FeatureDescription)
}

func TestFeatureGateHonorsOverrides(t *testing.T) {
	g, _ := newTestGate(t, nil)
	res := Resource{
		Operation: "recommendations.daily_mix",
		Feature:   models.FeatureDailyMix,
	}

	d := g.Check(context.Background(), principal(models.PlanFree), res)
	require.False(t, d.Allowed)
	assert.Equal(t, KindFeatureNotInPlan, d.Kind)
	assert.Equal(t, []models.Plan{models.PlanStarter, models.PlanPro, models.PlanEnterprise}, d.RequiredPlans)

	// A per-org override grants the feature below its usual tier.
	p := principal(models.PlanFree)
	p.FeatureOverrides = map[string]bool{string(models.FeatureDailyMix): true}
	d = g.Check(context.Background(), p, res)
	assert.True(t, d.Allowed)
}

func TestQuotaExactlyOneDenialAtLimit(t *testing.T) {
	g, _ := newTestGate(t, nil)
	res := Resource{
		Operation: "keys.create",
		Buckets:   []models.QuotaBucket{models.BucketKeyCreatesPerDay},
	}
	p := principal(models.PlanFree) // limit 5/day

	var denials int
	for i := 0; i < 6; i++ {
		d := g.Check(context.Background(), p, res)
		if !d.Allowed {
			denials++
			assert.Equal(t, KindQuotaExceeded, d.Kind)
			assert.Greater(t, d.RetryAfter, time.Duration(0))
		}
	}
	assert.Equal(t, 1, denials)
}

func TestQuotaWindowResets(t *testing.T) {
	g, clk := newTestGate(t, nil)
	res := Resource{
		Operation: "api.call",
		Buckets:   []models.QuotaBucket{models.BucketAPICallsPerMinute},
	}
	p := principal(models.PlanFree) // 60/min

	for i := 0; i < 60; i++ {
		require.True(t, g.Check(context.Background(), p, res).Allowed)
	}
	require.False(t, g.Check(context.Background(), p, res).Allowed)

	// Cross the minute boundary; counting starts over.
	clk.Advance(time.Minute)
	d := g.Check(context.Background(), p, res)
	assert.True(t, d.Allowed)
	require.NotNil(t, d.RateLimit)
	assert.Equal(t, int64(59), d.RateLimit.Remaining)
}

func TestQuotaRateLimitHeadersReportTightestWindow(t *testing.T) {
	g, _ := newTestGate(t, nil)
	res := Resource{
		Operation: "api.call",
		Buckets: []models.QuotaBucket{
			models.BucketAPICallsPerMinute,
			models.BucketAPICallsPerHour,
			models.BucketAPICallsPerDay,
		},
	}
	p := principal(models.PlanFree)

	d := g.Check(context.Background(), p, res)
	require.True(t, d.Allowed)
	require.NotNil(t, d.RateLimit)
	// The minute window (60) is tighter than hour (1000) and day (10000).
	assert.Equal(t, int64(60), d.RateLimit.Limit)
	assert.Equal(t, int64(59), d.RateLimit.Remaining)
}

func TestQuotaUnlimitedBucketPasses(t *testing.T) {
	g, _ := newTestGate(t, nil)
	res := Resource{
		Operation: "recommendations.get",
		Buckets:   []models.QuotaBucket{models.BucketRecommendationsPerDay},
	}

	for i := 0; i < 100; i++ {
		d := g.Check(context.Background(), principal(models.PlanEnterprise), res)
		require.True(t, d.Allowed)
		assert.Nil(t, d.RateLimit, "unbounded bucket produces no headers")
	}
}

func TestOutageFailsOpenForFreeTier(t *testing.T) {
	g, _ := newTestGate(t, brokenStore{})
	res := Resource{
		Operation: "api.call",
		Buckets:   []models.QuotaBucket{models.BucketAPICallsPerMinute},
		Sensitive: true,
	}

	d := g.Check(context.Background(), principal(models.PlanFree), res)
	assert.True(t, d.Allowed)
	d = g.Check(context.Background(), principal(models.PlanStarter), res)
	assert.True(t, d.Allowed)
}

func TestOutageFailsClosedForPremiumSensitiveOps(t *testing.T) {
	g, _ := newTestGate(t, brokenStore{})
	sensitive := Resource{
		Operation: "audio.analyze",
		Buckets:   []models.QuotaBucket{models.BucketAudioAnalysisPerDay},
		Sensitive: true,
	}
	ordinary := Resource{
		Operation: "api.call",
		Buckets:   []models.QuotaBucket{models.BucketAPICallsPerMinute},
	}

	d := g.Check(context.Background(), principal(models.PlanPro), sensitive)
	require.False(t, d.Allowed)
	assert.Equal(t, KindUpstreamUnavailable, d.Kind)

	// Enterprise audio analysis is unlimited, so no counter is consulted and
	// there is nothing to fail closed on.
	d = g.Check(context.Background(), principal(models.PlanEnterprise), sensitive)
	assert.True(t, d.Allowed)

	// Its bounded per-minute bucket still fails closed.
	metered := Resource{
		Operation: "audio.analyze",
		Buckets: []models.QuotaBucket{
			models.BucketAudioAnalysisPerDay,
			models.BucketAPICallsPerMinute,
		},
		Sensitive: true,
	}
	d = g.Check(context.Background(), principal(models.PlanEnterprise), metered)
	require.False(t, d.Allowed)
	assert.Equal(t, KindUpstreamUnavailable, d.Kind)

	// Non-sensitive premium traffic still fails open.
	d = g.Check(context.Background(), principal(models.PlanPro), ordinary)
	assert.True(t, d.Allowed)
}

func TestQuotaKeysAreOrgScoped(t *testing.T) {
	g, _ := newTestGate(t, nil)
	res := Resource{
		Operation: "keys.create",
		Buckets:   []models.QuotaBucket{models.BucketKeyCreatesPerDay},
	}

	a := &models.Principal{UserID: "u1", OrgID: "org-a", Plan: models.PlanFree}
	b := &models.Principal{UserID: "u2", OrgID: "org-b", Plan: models.PlanFree}

	for i := 0; i < 5; i++ {
		require.True(t, g.Check(context.Background(), a, res).Allowed)
	}
	require.False(t, g.Check(context.Background(), a, res).Allowed)

	// Another org is unaffected.
	assert.True(t, g.Check(context.Background(), b, res).Allowed)
}
