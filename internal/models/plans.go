// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package models

import "time"

// Window is a fixed quota window length.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Duration returns the wall-clock length of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return time.Minute
}

// Truncate aligns t to the start of the window containing it. Day windows
// align to UTC midnight so daily quotas reset at a predictable boundary.
func (w Window) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(w.Duration())
}

// QuotaBucket names a metered resource. Limits are looked up per plan.
type QuotaBucket string

const (
	BucketAPICallsPerMinute    QuotaBucket = "api_calls_per_minute"
	BucketAPICallsPerHour      QuotaBucket = "api_calls_per_hour"
	BucketAPICallsPerDay       QuotaBucket = "api_calls_per_day"
	BucketRecommendationsPerDay QuotaBucket = "recommendations_per_day"
	BucketAudioAnalysisPerDay  QuotaBucket = "audio_analysis_per_day"
	BucketKeyCreatesPerDay     QuotaBucket = "key_creates_per_day"
)

// Window returns the window the bucket is metered over.
func (b QuotaBucket) Window() Window {
	switch b {
	case BucketAPICallsPerMinute:
		return WindowMinute
	case BucketAPICallsPerHour:
		return WindowHour
	}
	return WindowDay
}

// FeatureFlag names a plan-gated feature.
type FeatureFlag string

const (
	FeatureAdvancedAnalytics FeatureFlag = "advanced_analytics"
	FeatureTasteProfile      FeatureFlag = "taste_profile"
	FeatureDailyMix          FeatureFlag = "daily_mix"
	FeatureRadio             FeatureFlag = "radio"
	FeatureKeyUsageAnalytics FeatureFlag = "key_usage_analytics"
)

// PlanLimits is one row of the plan table: quota limits (nil = unlimited)
// and the feature set granted to the tier.
type PlanLimits struct {
	Quotas   map[QuotaBucket]*int64
	Features map[FeatureFlag]bool
}

func limit(n int64) *int64 { return &n }

// PlanTable maps each plan to its limits. Organizations may carry
// FeatureOverrides that take precedence over the table.
var PlanTable = map[Plan]PlanLimits{
	PlanFree: {
		Quotas: map[QuotaBucket]*int64{
			BucketAPICallsPerMinute:     limit(60),
			BucketAPICallsPerHour:       limit(1_000),
			BucketAPICallsPerDay:        limit(10_000),
			BucketRecommendationsPerDay: limit(200),
			BucketAudioAnalysisPerDay:   limit(10),
			BucketKeyCreatesPerDay:      limit(5),
		},
		Features: map[FeatureFlag]bool{},
	},
	PlanStarter: {
		Quotas: map[QuotaBucket]*int64{
			BucketAPICallsPerMinute:     limit(300),
			BucketAPICallsPerHour:       limit(10_000),
			BucketAPICallsPerDay:        limit(100_000),
			BucketRecommendationsPerDay: limit(2_000),
			BucketAudioAnalysisPerDay:   limit(100),
			BucketKeyCreatesPerDay:      limit(20),
		},
		Features: map[FeatureFlag]bool{
			FeatureDailyMix: true,
			FeatureRadio:    true,
		},
	},
	PlanPro: {
		Quotas: map[QuotaBucket]*int64{
			BucketAPICallsPerMinute:     limit(1_000),
			BucketAPICallsPerHour:       limit(50_000),
			BucketAPICallsPerDay:        limit(1_000_000),
			BucketRecommendationsPerDay: limit(50_000),
			BucketAudioAnalysisPerDay:   limit(2_000),
			BucketKeyCreatesPerDay:      limit(100),
		},
		Features: map[FeatureFlag]bool{
			FeatureDailyMix:          true,
			FeatureRadio:             true,
			FeatureTasteProfile:      true,
			FeatureAdvancedAnalytics: true,
			FeatureKeyUsageAnalytics: true,
		},
	},
	PlanEnterprise: {
		Quotas: map[QuotaBucket]*int64{
			// nil limits: unlimited
			BucketAPICallsPerMinute:     limit(5_000),
			BucketAPICallsPerHour:       nil,
			BucketAPICallsPerDay:        nil,
			BucketRecommendationsPerDay: nil,
			BucketAudioAnalysisPerDay:   nil,
			BucketKeyCreatesPerDay:      nil,
		},
		Features: map[FeatureFlag]bool{
			FeatureDailyMix:          true,
			FeatureRadio:             true,
			FeatureTasteProfile:      true,
			FeatureAdvancedAnalytics: true,
			FeatureKeyUsageAnalytics: true,
		},
	},
}

// QuotaLimit returns the limit for a bucket under a plan. The second return
// is false when the bucket is unlimited for the plan.
func QuotaLimit(p Plan, b QuotaBucket) (int64, bool) {
	row, ok := PlanTable[p]
	if !ok {
		row = PlanTable[PlanFree]
	}
	l, ok := row.Quotas[b]
	if !ok || l == nil {
		return 0, false
	}
	return *l, true
}

// PlanHasFeature reports whether a plan grants a feature, honoring
// per-organization overrides.
func PlanHasFeature(p Plan, f FeatureFlag, overrides map[string]bool) bool {
	if overrides != nil {
		if v, ok := overrides[string(f)]; ok {
			return v
		}
	}
	row, ok := PlanTable[p]
	if !ok {
		row = PlanTable[PlanFree]
	}
	return row.Features[f]
}

// PlansWithFeature returns every plan granting f, in ascending tier order.
// Used to populate the required_plans field of upgrade-required errors.
func PlansWithFeature(f FeatureFlag) []Plan {
	ordered := []Plan{PlanFree, PlanStarter, PlanPro, PlanEnterprise}
	var out []Plan
	for _, p := range ordered {
		if PlanTable[p].Features[f] {
			out = append(out, p)
		}
	}
	return out
}

// PlansAtLeast returns min and every higher tier, in ascending order.
func PlansAtLeast(min Plan) []Plan {
	ordered := []Plan{PlanFree, PlanStarter, PlanPro, PlanEnterprise}
	var out []Plan
	for _, p := range ordered {
		if p.AtLeast(min) {
			out = append(out, p)
		}
	}
	return out
}

// RecommendationKind is the type of recommendation request.
type RecommendationKind string

const (
	KindUserPersonal   RecommendationKind = "user_personal"
	KindSimilarToTrack RecommendationKind = "similar_to_track"
	KindDailyMix       RecommendationKind = "daily_mix"
	KindRadioSeed      RecommendationKind = "radio_seed"
	KindTasteProfile   RecommendationKind = "taste_profile"
)

// Valid reports whether k is a known recommendation kind.
func (k RecommendationKind) Valid() bool {
	switch k {
	case KindUserPersonal, KindSimilarToTrack, KindDailyMix, KindRadioSeed, KindTasteProfile:
		return true
	}
	return false
}

// MinPlan returns the minimum plan tier required for the kind. The stricter
// gating from the tier-enforcement matrix applies.
func (k RecommendationKind) MinPlan() Plan {
	switch k {
	case KindDailyMix, KindRadioSeed:
		return PlanStarter
	case KindTasteProfile:
		return PlanPro
	}
	return PlanFree
}

// ModelTier selects the model family the dispatcher routes to, derived from
// the caller's plan.
type ModelTier string

const (
	TierBaseline ModelTier = "baseline"
	TierStandard ModelTier = "standard"
	TierPremium  ModelTier = "premium"
)

// ModelTierForPlan maps a plan to the model tier it is served by.
func ModelTierForPlan(p Plan) ModelTier {
	switch p {
	case PlanPro, PlanEnterprise:
		return TierPremium
	case PlanStarter:
		return TierStandard
	}
	return TierBaseline
}
