// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package dispatch serves recommendation requests: fingerprinted caching,
// single-flight deduplication, circuit-broken engine calls with a stale
// fallback, and buffered impression writes.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/tunetrail/tunetrail/internal/cache"
	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/engine"
	"github.com/tunetrail/tunetrail/internal/metrics"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

// Failure kinds.
const (
	KindValidationFailed    = "VALIDATION_FAILED"
	KindNotFound            = "NOT_FOUND"
	KindUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// Error is a dispatch failure with a stable kind string.
type Error struct {
	Kind    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("dispatch: %s: %s", e.Kind, e.Message)
}

// Cache freshness windows.
const (
	DefaultFreshTTL = 5 * time.Minute
	// DefaultStaleTTL bounds how old a cached result may be and still serve
	// as a fallback when the engine is down.
	DefaultStaleTTL = time.Hour

	defaultLimit = 20
	maxLimit     = 100
)

// Result provenance labels.
const (
	SourceEngine = "engine"
	SourceCache  = "cache"
	SourceStale  = "stale"
)

// Request asks for ranked tracks.
type Request struct {
	Kind          models.RecommendationKind `json:"kind"`
	SeedTrackID   string                    `json:"seed,omitempty"`
	Limit         int                       `json:"limit,omitempty"`
	ModelTierHint models.ModelTier          `json:"model_tier_hint,omitempty"`
}

// RankedTrack is one recommendation slot.
type RankedTrack struct {
	TrackID  string  `json:"track_id"`
	Score    float64 `json:"score"`
	Position int     `json:"position"`
	Reason   string  `json:"reason,omitempty"`
}

// Recommendation is a served, ranked track list. ID keys the impressions and
// the feedback loop.
type Recommendation struct {
	ID           string                    `json:"recommendation_id"`
	Kind         models.RecommendationKind `json:"kind"`
	Tracks       []RankedTrack             `json:"tracks"`
	ModelType    string                    `json:"model_type"`
	ModelVersion string                    `json:"model_version"`
	ModelTier    models.ModelTier          `json:"model_tier"`
	GeneratedAt  time.Time                 `json:"generated_at"`
	// Source reports how this response was produced: engine, cache, stale.
	Source string `json:"source"`
}

// Config tunes the dispatcher.
type Config struct {
	FreshTTL time.Duration
	StaleTTL time.Duration
	// Deadlines per kind; unset kinds use 2s.
	Deadlines map[models.RecommendationKind]time.Duration
}

func (c *Config) deadline(kind models.RecommendationKind) time.Duration {
	if d, ok := c.Deadlines[kind]; ok && d > 0 {
		return d
	}
	return 2 * time.Second
}

// DefaultConfig returns the stock deadlines: 2s interactive kinds, 10s for
// the heavyweight taste profile.
func DefaultConfig() Config {
	return Config{
		FreshTTL: DefaultFreshTTL,
		StaleTTL: DefaultStaleTTL,
		Deadlines: map[models.RecommendationKind]time.Duration{
			models.KindTasteProfile: 10 * time.Second,
			models.KindDailyMix:     5 * time.Second,
		},
	}
}

// Dispatcher coordinates cache, engine, and impression writes.
type Dispatcher struct {
	eng     engine.Engine
	repo    repository.Repository
	store   cache.Store
	clk     clock.Clock
	ids     clock.IDGen
	buffer  *ImpressionBuffer
	cfg     Config
	breaker *gobreaker.CircuitBreaker[*engine.Response]
	flight  singleflight.Group
	logger  zerolog.Logger
}

// New creates a dispatcher.
func New(eng engine.Engine, repo repository.Repository, store cache.Store, clk clock.Clock, ids clock.IDGen, buffer *ImpressionBuffer, cfg Config, logger *zerolog.Logger) *Dispatcher {
	if cfg.FreshTTL <= 0 {
		cfg.FreshTTL = DefaultFreshTTL
	}
	if cfg.StaleTTL <= 0 {
		cfg.StaleTTL = DefaultStaleTTL
	}

	settings := gobreaker.Settings{
		Name:    "recommendation-engine",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.EngineBreakerState.Set(1)
			} else {
				metrics.EngineBreakerState.Set(0)
			}
		},
	}

	return &Dispatcher{
		eng:     eng,
		repo:    repo,
		store:   store,
		clk:     clk,
		ids:     ids,
		buffer:  buffer,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker[*engine.Response](settings),
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Recommend serves a recommendation request for the principal. Plan and
// quota gating happen upstream; the dispatcher only derives the model tier
// from the plan.
func (d *Dispatcher) Recommend(ctx context.Context, p *models.Principal, req *Request) (*Recommendation, *Error) {
	if derr := d.normalize(ctx, req); derr != nil {
		return nil, derr
	}
	tier := effectiveTier(p.Plan, req.ModelTierHint)
	fp := fingerprint(req.Kind, p.UserID, req.SeedTrackID, req.Limit, tier)

	if rec, ok := d.cached(ctx, freshKey(fp)); ok {
		metrics.RecommendationRequests.WithLabelValues(string(req.Kind), "cache_hit").Inc()
		rec.Source = SourceCache
		return rec, nil
	}

	v, err, _ := d.flight.Do(fp, func() (interface{}, error) {
		// Re-check under the flight lock: a concurrent caller may have
		// populated the cache while we waited.
		if rec, ok := d.cached(ctx, freshKey(fp)); ok {
			rec.Source = SourceCache
			return rec, nil
		}
		return d.generate(ctx, p, req, tier, fp)
	})
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) {
			return nil, derr
		}
		return nil, &Error{Kind: KindUpstreamUnavailable, Message: "recommendation failed"}
	}

	rec := v.(*Recommendation)
	metrics.RecommendationRequests.WithLabelValues(string(req.Kind), rec.Source).Inc()
	return rec, nil
}

func (d *Dispatcher) normalize(ctx context.Context, req *Request) *Error {
	if !req.Kind.Valid() {
		return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf("unknown recommendation kind %q", req.Kind)}
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf("limit must be at most %d", maxLimit)}
	}

	needsSeed := req.Kind == models.KindSimilarToTrack || req.Kind == models.KindRadioSeed
	if needsSeed && req.SeedTrackID == "" {
		return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf("kind %s requires a seed track", req.Kind)}
	}
	if req.SeedTrackID != "" {
		if _, err := d.repo.GetTrack(ctx, req.SeedTrackID); errors.Is(err, repository.ErrNotFound) {
			return &Error{Kind: KindNotFound, Message: fmt.Sprintf("seed track %s not found", req.SeedTrackID)}
		} else if err != nil {
			d.logger.Error().Err(err).Str("track_id", req.SeedTrackID).Msg("seed lookup failed")
			return &Error{Kind: KindUpstreamUnavailable, Message: "catalog unavailable"}
		}
	}
	return nil
}

// generate runs the engine path for one fingerprint: breaker-guarded call,
// one jittered retry, stale fallback, ranking, caching, impression write.
func (d *Dispatcher) generate(ctx context.Context, p *models.Principal, req *Request, tier models.ModelTier, fp string) (*Recommendation, error) {
	engReq := &engine.Request{
		Kind:        req.Kind,
		UserID:      p.UserID,
		SeedTrackID: req.SeedTrackID,
		Limit:       req.Limit,
		ModelTier:   tier,
	}

	resp, err := d.callEngine(ctx, engReq)
	if err != nil {
		if rec, ok := d.cached(ctx, staleKey(fp)); ok {
			d.logger.Warn().Err(err).Str("kind", string(req.Kind)).Msg("engine unavailable, serving stale result")
			rec.Source = SourceStale
			return rec, nil
		}
		metrics.RecommendationRequests.WithLabelValues(string(req.Kind), "error").Inc()
		return nil, &Error{Kind: KindUpstreamUnavailable, Message: "recommendation engine unavailable"}
	}

	now := d.clk.Now()
	rec := &Recommendation{
		ID:           d.ids.NewID(),
		Kind:         req.Kind,
		Tracks:       d.rank(ctx, resp.Tracks, req.Limit),
		ModelType:    resp.ModelType,
		ModelVersion: resp.ModelVersion,
		ModelTier:    tier,
		GeneratedAt:  now,
		Source:       SourceEngine,
	}

	d.cacheResult(ctx, fp, rec)
	d.bufferImpressions(p, rec, now)
	return rec, nil
}

// callEngine runs one breaker-guarded engine call with the per-kind deadline,
// retrying once with jittered backoff on transient failure.
func (d *Dispatcher) callEngine(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	call := func() (*engine.Response, error) {
		cctx, cancel := context.WithTimeout(ctx, d.cfg.deadline(req.Kind))
		defer cancel()
		start := time.Now()
		resp, err := d.breaker.Execute(func() (*engine.Response, error) {
			return d.eng.Recommend(cctx, req)
		})
		metrics.EngineRequestDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())
		return resp, err
	}

	resp, err := call()
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || ctx.Err() != nil {
		return nil, err
	}

	// One retry with jitter; enough to ride out a blip without piling on.
	time.Sleep(50*time.Millisecond + time.Duration(rand.Int63n(int64(100*time.Millisecond))))
	return call()
}

// rank joins engine scores to the catalog and orders deterministically:
// score descending, then older track first, then track_id.
func (d *Dispatcher) rank(ctx context.Context, scored []engine.ScoredTrack, limit int) []RankedTrack {
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.TrackID
	}
	tracks, err := d.repo.GetTracks(ctx, ids)
	if err != nil {
		d.logger.Warn().Err(err).Msg("catalog join failed, tie-breaking on track_id only")
		tracks = map[string]*models.Track{}
	}

	createdAt := func(id string) time.Time {
		if t, ok := tracks[id]; ok {
			return t.CreatedAt
		}
		return time.Time{}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		ci, cj := createdAt(scored[i].TrackID), createdAt(scored[j].TrackID)
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return scored[i].TrackID < scored[j].TrackID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]RankedTrack, len(scored))
	for i, s := range scored {
		out[i] = RankedTrack{TrackID: s.TrackID, Score: s.Score, Position: i, Reason: s.Reason}
	}
	return out
}

func (d *Dispatcher) cacheResult(ctx context.Context, fp string, rec *Recommendation) {
	blob, err := json.Marshal(rec)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to encode recommendation for cache")
		return
	}
	if err := d.store.Set(ctx, freshKey(fp), blob, d.cfg.FreshTTL); err != nil {
		d.logger.Warn().Err(err).Msg("fresh cache write failed")
	}
	if err := d.store.Set(ctx, staleKey(fp), blob, d.cfg.StaleTTL); err != nil {
		d.logger.Warn().Err(err).Msg("stale cache write failed")
	}
}

func (d *Dispatcher) cached(ctx context.Context, key string) (*Recommendation, bool) {
	blob, err := d.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			d.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}
	var rec Recommendation
	if err := json.Unmarshal(blob, &rec); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("cache entry corrupt")
		return nil, false
	}
	return &rec, true
}

// bufferImpressions queues one impression per served slot. Never blocks the
// response.
func (d *Dispatcher) bufferImpressions(p *models.Principal, rec *Recommendation, shownAt time.Time) {
	imps := make([]*models.Impression, len(rec.Tracks))
	for i, t := range rec.Tracks {
		imps[i] = &models.Impression{
			ID:               d.ids.NewID(),
			UserID:           p.UserID,
			TrackID:          t.TrackID,
			RecommendationID: rec.ID,
			ModelType:        rec.ModelType,
			ModelVersion:     rec.ModelVersion,
			Score:            t.Score,
			Position:         t.Position,
			Context:          string(rec.Kind),
			ShownAt:          shownAt,
		}
	}
	d.buffer.Add(imps...)
}

// effectiveTier derives the served model tier from the plan, letting a hint
// request a cheaper tier but never a better one.
func effectiveTier(plan models.Plan, hint models.ModelTier) models.ModelTier {
	tier := models.ModelTierForPlan(plan)
	if hint == "" {
		return tier
	}
	if tierRank(hint) < tierRank(tier) {
		return hint
	}
	return tier
}

func tierRank(t models.ModelTier) int {
	switch t {
	case models.TierStandard:
		return 1
	case models.TierPremium:
		return 2
	}
	return 0
}

func fingerprint(kind models.RecommendationKind, userID, seed string, limit int, tier models.ModelTier) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		string(kind), userID, seed, strconv.Itoa(limit), string(tier),
	}, "\x1f")))
	return hex.EncodeToString(h[:])
}

func freshKey(fp string) string { return "rec:fresh:" + fp }
func staleKey(fp string) string { return "rec:stale:" + fp }
