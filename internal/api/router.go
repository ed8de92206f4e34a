// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/cache"
	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/dispatch"
	"github.com/tunetrail/tunetrail/internal/gate"
	"github.com/tunetrail/tunetrail/internal/ingest"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
	"github.com/tunetrail/tunetrail/internal/session"
)

// Config tunes the HTTP surface.
type Config struct {
	CORSOrigins []string
	// AuthRateLimit bounds unauthenticated /auth requests per IP per window.
	AuthRateLimit  int
	AuthRateWindow time.Duration
	// RequestTimeout is the default per-request deadline; clients may only
	// shorten it.
	RequestTimeout time.Duration
}

// Router bundles the handlers with their dependencies.
type Router struct {
	cfg        Config
	verifier   *auth.Verifier
	jwt        *auth.JWTManager
	keys       *auth.KeyManager
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	ingestor   *ingest.Ingestor
	sessions   *session.Manager
	buffer     *dispatch.ImpressionBuffer
	repo       repository.Repository
	store      cache.Store
	clk        clock.Clock
	ids        clock.IDGen
	logger     zerolog.Logger
}

// NewRouter creates the HTTP router.
func NewRouter(
	cfg Config,
	verifier *auth.Verifier,
	jwt *auth.JWTManager,
	keys *auth.KeyManager,
	g *gate.Gate,
	dispatcher *dispatch.Dispatcher,
	ingestor *ingest.Ingestor,
	sessions *session.Manager,
	buffer *dispatch.ImpressionBuffer,
	repo repository.Repository,
	store cache.Store,
	clk clock.Clock,
	ids clock.IDGen,
	logger *zerolog.Logger,
) *Router {
	if cfg.AuthRateLimit <= 0 {
		cfg.AuthRateLimit = 10
	}
	if cfg.AuthRateWindow <= 0 {
		cfg.AuthRateWindow = time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Router{
		cfg:        cfg,
		verifier:   verifier,
		jwt:        jwt,
		keys:       keys,
		gate:       g,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		sessions:   sessions,
		buffer:     buffer,
		repo:       repo,
		store:      store,
		clk:        clk,
		ids:        ids,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// apiBuckets are charged by every authenticated call.
var apiBuckets = []models.QuotaBucket{
	models.BucketAPICallsPerMinute,
	models.BucketAPICallsPerHour,
	models.BucketAPICallsPerDay,
}

// apiResource is the baseline gate resource for an authenticated operation.
func apiResource(op string) gate.Resource {
	return gate.Resource{Operation: op, Buckets: apiBuckets}
}

// recResource is the gate resource for a recommendation kind: the api-call
// buckets plus the daily recommendation quota, with the kind's plan floor.
func recResource(kind models.RecommendationKind, feature models.FeatureFlag, sensitive bool) gate.Resource {
	return gate.Resource{
		Operation: "recommendations." + string(kind),
		MinPlan:   kind.MinPlan(),
		Feature:   feature,
		Buckets:   append([]models.QuotaBucket{models.BucketRecommendationsPerDay}, apiBuckets...),
		Sensitive: sensitive,
	}
}

// Setup builds the full route tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         86400,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", rt.HealthLive)
		r.Get("/ready", rt.HealthReady)
	})

	// Unauthenticated credential endpoints, IP rate limited against brute
	// force.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(httprate.LimitByRealIP(rt.cfg.AuthRateLimit, rt.cfg.AuthRateWindow))
		r.Post("/register", rt.Register)
		r.Post("/login", rt.Login)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Metrics())
		r.Use(Deadline(rt.cfg.RequestTimeout))
		r.Use(rt.Authenticate)
		r.Use(rt.UsageLog)

		r.Route("/api-keys", func(r chi.Router) {
			r.Use(RequireScope(models.ScopeManageKeys))
			r.With(rt.Gated(gate.Resource{
				Operation: "api-keys.create",
				Buckets:   append([]models.QuotaBucket{models.BucketKeyCreatesPerDay}, apiBuckets...),
			})).Post("/", rt.CreateKey)
			r.With(rt.Gated(apiResource("api-keys.list"))).Get("/", rt.ListKeys)
			r.With(rt.Gated(apiResource("api-keys.get"))).Get("/{id}", rt.GetKey)
			r.With(rt.Gated(apiResource("api-keys.rotate"))).Post("/{id}/rotate", rt.RotateKey)
			r.With(rt.Gated(apiResource("api-keys.revoke"))).Post("/{id}/revoke", rt.RevokeKey)
			r.With(rt.Gated(gate.Resource{
				Operation: "api-keys.usage",
				MinPlan:   models.PlanPro,
				Feature:   models.FeatureKeyUsageAnalytics,
				Buckets:   apiBuckets,
			})).Get("/{id}/usage", rt.KeyUsage)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireScope(models.ScopeReadRecommendations))
			r.With(rt.Gated(recResource(models.KindUserPersonal, "", false))).
				Get("/recommendations", rt.Recommendations)
			r.With(rt.Gated(recResource(models.KindSimilarToTrack, "", false))).
				Get("/recommendations/similar/{track_id}", rt.SimilarTracks)
			r.With(rt.Gated(recResource(models.KindDailyMix, models.FeatureDailyMix, false))).
				Get("/ml/daily-mix", rt.DailyMix)
			r.With(rt.Gated(recResource(models.KindRadioSeed, models.FeatureRadio, false))).
				Post("/ml/radio", rt.Radio)
			r.With(rt.Gated(recResource(models.KindTasteProfile, models.FeatureTasteProfile, true))).
				Get("/ml/taste-profile", rt.TasteProfile)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireScope(models.ScopeWriteInteractions))
			r.With(rt.Gated(apiResource("feedback"))).
				Post("/ml/recommendations/feedback", rt.Feedback)
			r.With(rt.Gated(apiResource("interactions.create"))).
				Post("/interactions", rt.Interaction)
			r.With(rt.Gated(apiResource("interactions.batch"))).
				Post("/interactions/batch", rt.InteractionBatch)
			r.With(rt.Gated(apiResource("interactions.player_events"))).
				Post("/interactions/player-events", rt.PlayerEvents)
			r.With(rt.Gated(apiResource("impressions.log"))).
				Post("/impressions/recommendations", rt.LogImpressions)
			r.With(rt.Gated(apiResource("telemetry.search"))).
				Post("/telemetry/search", rt.SearchTelemetry)
			r.With(rt.Gated(apiResource("telemetry.views"))).
				Post("/telemetry/views", rt.ViewTelemetry)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(RequireScope(models.ScopeWriteSessions))
			r.With(rt.Gated(apiResource("sessions.start"))).Post("/start", rt.StartSession)
			r.With(rt.Gated(apiResource("sessions.heartbeat"))).Put("/{id}/heartbeat", rt.Heartbeat)
			r.With(rt.Gated(apiResource("sessions.end"))).Post("/{id}/end", rt.EndSession)
			r.With(rt.Gated(apiResource("sessions.get"))).Get("/{id}", rt.GetSession)
			r.With(rt.Gated(apiResource("sessions.summary"))).Get("/{id}/summary", rt.SessionSummary)
		})

		r.With(
			RequireScope(models.ScopeReadTracks),
			rt.Gated(gate.Resource{
				Operation: "audio.analyze",
				Buckets:   append([]models.QuotaBucket{models.BucketAudioAnalysisPerDay}, apiBuckets...),
				Sensitive: true,
			}),
		).Post("/audio/analyze", rt.AnalyzeAudio)
	})

	return r
}
