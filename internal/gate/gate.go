// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package gate enforces plan, feature, and quota limits in front of every
// metered operation. Three layers run in order: plan gate, feature gate,
// quota gate. The first denial wins.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunetrail/tunetrail/internal/cache"
	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/models"
)

// Denial kinds.
const (
	KindPlanUpgradeRequired = "PLAN_UPGRADE_REQUIRED"
	KindFeatureNotInPlan    = "FEATURE_NOT_IN_PLAN"
	KindQuotaExceeded       = "QUOTA_EXCEEDED"
	KindUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// Resource describes the gated operation a request is about to perform.
type Resource struct {
	Operation string
	// MinPlan of empty means no plan gate.
	MinPlan models.Plan
	// Feature of empty means no feature gate.
	Feature models.FeatureFlag
	// Buckets are the quota buckets the operation charges. All must pass.
	Buckets []models.QuotaBucket
	// Cost charged against each bucket. Zero means one.
	Cost int64
	// Sensitive marks premium-path operations that fail closed when the
	// counter store is unreachable. Non-sensitive operations fail open.
	Sensitive bool
}

// RateLimitInfo describes the most-constrained active quota window, surfaced
// to clients as X-RateLimit-* headers.
type RateLimitInfo struct {
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool
	Kind    string
	Message string
	// RetryAfter is set on quota denials: time until the window resets.
	RetryAfter time.Duration
	// Upgrade-denial payload.
	CurrentPlan        models.Plan
	RequiredPlans      []models.Plan
	UpgradeURL         string
	FeatureDescription string
	// RateLimit is set whenever at least one bounded bucket was evaluated.
	RateLimit *RateLimitInfo
}

// allow is the zero denial.
func allow() Decision { return Decision{Allowed: true} }

// featureDescriptions explain what an upgrade unlocks, in client-facing terms.
var featureDescriptions = map[models.FeatureFlag]string{
	models.FeatureAdvancedAnalytics: "Advanced listening analytics and cohort breakdowns",
	models.FeatureTasteProfile:      "Taste profile insights built from your listening history",
	models.FeatureDailyMix:          "Personalized daily mixes refreshed every morning",
	models.FeatureRadio:             "Endless radio stations seeded from any track",
	models.FeatureKeyUsageAnalytics: "Per-key API usage analytics",
}

// Gate checks requests against the plan table using the cache as its atomic
// counter store.
type Gate struct {
	store      cache.Store
	clk        clock.Clock
	upgradeURL string
	logger     zerolog.Logger
}

// New creates a gate. upgradeURL is included verbatim in upgrade-required
// denials.
func New(store cache.Store, clk clock.Clock, upgradeURL string, logger *zerolog.Logger) *Gate {
	return &Gate{
		store:      store,
		clk:        clk,
		upgradeURL: upgradeURL,
		logger:     logger.With().Str("component", "gate").Logger(),
	}
}

// Check evaluates the three gate layers for a principal. A nil principal is a
// programming error upstream and denies unconditionally.
func (g *Gate) Check(ctx context.Context, p *models.Principal, res Resource) Decision {
	if p == nil {
		return Decision{Kind: KindUpstreamUnavailable, Message: "no principal"}
	}

	if res.MinPlan != "" && !p.Plan.AtLeast(res.MinPlan) {
		return Decision{
			Kind:               KindPlanUpgradeRequired,
			Message:            fmt.Sprintf("operation %s requires the %s plan or higher", res.Operation, res.MinPlan),
			CurrentPlan:        p.Plan,
			RequiredPlans:      models.PlansAtLeast(res.MinPlan),
			UpgradeURL:         g.upgradeURL,
			FeatureDescription: featureDescriptions[res.Feature],
		}
	}

	if res.Feature != "" && !models.PlanHasFeature(p.Plan, res.Feature, p.FeatureOverrides) {
		return Decision{
			Kind:               KindFeatureNotInPlan,
			Message:            fmt.Sprintf("feature %s is not included in the %s plan", res.Feature, p.Plan),
			CurrentPlan:        p.Plan,
			RequiredPlans:      models.PlansWithFeature(res.Feature),
			UpgradeURL:         g.upgradeURL,
			FeatureDescription: featureDescriptions[res.Feature],
		}
	}

	return g.checkQuotas(ctx, p, res)
}

func (g *Gate) checkQuotas(ctx context.Context, p *models.Principal, res Resource) Decision {
	cost := res.Cost
	if cost <= 0 {
		cost = 1
	}
	now := g.clk.Now()

	var tightest *RateLimitInfo
	for _, bucket := range res.Buckets {
		limit, bounded := models.QuotaLimit(p.Plan, bucket)
		if !bounded {
			continue
		}

		window := bucket.Window()
		windowStart := window.Truncate(now)
		windowEnd := windowStart.Add(window.Duration())
		key := fmt.Sprintf("quota:%s:%s:%d", bucket, p.OrgID, windowStart.Unix())

		count, err := g.store.AtomicIncr(ctx, key, cost, windowEnd.Sub(now))
		if err != nil {
			if d, failed := g.failPolicy(p, res, err); failed {
				return d
			}
			continue
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		info := &RateLimitInfo{Limit: limit, Remaining: remaining, Reset: windowEnd}
		if tightest == nil || info.Remaining < tightest.Remaining {
			tightest = info
		}

		if count > limit {
			return Decision{
				Kind:       KindQuotaExceeded,
				Message:    fmt.Sprintf("quota %s exhausted for the current %s window", bucket, window),
				RetryAfter: windowEnd.Sub(now),
				RateLimit:  info,
			}
		}
	}

	d := allow()
	d.RateLimit = tightest
	return d
}

// failPolicy decides what a counter-store outage means for this request.
// Free and starter tenants fail open so a cache outage never takes down the
// bulk of traffic. Pro and enterprise sensitive operations fail closed to
// keep the premium path from being abused while counters are blind.
func (g *Gate) failPolicy(p *models.Principal, res Resource, err error) (Decision, bool) {
	failClosed := res.Sensitive && p.Plan.AtLeast(models.PlanPro)
	g.logger.Warn().
		Err(err).
		Str("operation", res.Operation).
		Str("org_id", p.OrgID).
		Bool("fail_closed", failClosed).
		Msg("quota counter store unavailable")
	if failClosed {
		return Decision{
			Kind:    KindUpstreamUnavailable,
			Message: "quota accounting unavailable, please retry",
		}, true
	}
	return Decision{}, false
}
