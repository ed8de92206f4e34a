// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package metrics provides Prometheus instrumentation for the serving plane:
// API latency and throughput, gate decisions, recommendation cache
// efficiency, engine health, and session lifecycle counts.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunetrail_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunetrail_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Gate metrics
	GateDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunetrail_gate_denials_total",
			Help: "Total gate denials by kind and plan",
		},
		[]string{"kind", "plan"},
	)

	QuotaFailOpen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunetrail_quota_fail_open_total",
			Help: "Requests allowed because the quota counter store was unavailable",
		},
	)

	// Recommendation dispatch metrics
	RecommendationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunetrail_recommendations_total",
			Help: "Recommendation requests by kind and cache outcome",
		},
		[]string{"kind", "outcome"}, // fresh, cache_hit, stale, error
	)

	EngineRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunetrail_engine_request_duration_seconds",
			Help:    "Recommendation engine round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	EngineBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunetrail_engine_breaker_open",
			Help: "1 when the engine circuit breaker is open",
		},
	)

	ImpressionsBuffered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunetrail_impressions_buffered",
			Help: "Impressions currently waiting in the write buffer",
		},
	)

	ImpressionsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunetrail_impressions_dropped_total",
			Help: "Impressions dropped because the write buffer was full",
		},
	)

	ImpressionsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunetrail_impressions_flushed_total",
			Help: "Impressions persisted by the buffer flusher",
		},
	)

	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunetrail_sessions_started_total",
			Help: "Sessions started",
		},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunetrail_sessions_expired_total",
			Help: "Sessions expired by the idle sweep",
		},
	)

	// Interaction metrics
	InteractionsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunetrail_interactions_ingested_total",
			Help: "Interactions accepted by type",
		},
		[]string{"type", "downgraded"},
	)

	// Credential metrics
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunetrail_auth_failures_total",
			Help: "Credential verification failures by kind",
		},
		[]string{"kind"},
	)
)

// RecordAPIRequest records one served request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
