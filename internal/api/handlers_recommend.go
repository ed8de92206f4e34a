// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/dispatch"
	"github.com/tunetrail/tunetrail/internal/models"
)

// recommend runs the dispatcher for a kind and writes the result.
func (rt *Router) recommend(w http.ResponseWriter, r *http.Request, req *dispatch.Request) {
	p := auth.PrincipalFromContext(r.Context())

	if v := r.URL.Query().Get("limit"); v != "" && req.Limit == 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, KindValidationFailed, "limit must be an integer")
			return
		}
		req.Limit = n
	}
	if v := r.URL.Query().Get("model_tier"); v != "" && req.ModelTierHint == "" {
		req.ModelTierHint = models.ModelTier(v)
	}

	rec, derr := rt.dispatcher.Recommend(r.Context(), p, req)
	if derr != nil {
		writeDispatchError(w, r, derr)
		return
	}
	writeData(w, r, http.StatusOK, rec)
}

// Recommendations serves GET /recommendations: personal recommendations.
func (rt *Router) Recommendations(w http.ResponseWriter, r *http.Request) {
	rt.recommend(w, r, &dispatch.Request{Kind: models.KindUserPersonal})
}

// SimilarTracks serves GET /recommendations/similar/{track_id}.
func (rt *Router) SimilarTracks(w http.ResponseWriter, r *http.Request) {
	rt.recommend(w, r, &dispatch.Request{
		Kind:        models.KindSimilarToTrack,
		SeedTrackID: chi.URLParam(r, "track_id"),
	})
}

// DailyMix serves GET /ml/daily-mix.
func (rt *Router) DailyMix(w http.ResponseWriter, r *http.Request) {
	rt.recommend(w, r, &dispatch.Request{Kind: models.KindDailyMix})
}

type radioRequest struct {
	SeedTrackID string `json:"seed_track_id"`
	Limit       int    `json:"limit,omitempty"`
}

// Radio serves POST /ml/radio: an endless station seeded from a track.
func (rt *Router) Radio(w http.ResponseWriter, r *http.Request) {
	var req radioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rt.recommend(w, r, &dispatch.Request{
		Kind:        models.KindRadioSeed,
		SeedTrackID: req.SeedTrackID,
		Limit:       req.Limit,
	})
}

// TasteProfile serves GET /ml/taste-profile.
func (rt *Router) TasteProfile(w http.ResponseWriter, r *http.Request) {
	rt.recommend(w, r, &dispatch.Request{Kind: models.KindTasteProfile})
}

type feedbackRequest struct {
	RecommendationID string                `json:"recommendation_id"`
	Signal           models.FeedbackSignal `json:"signal"`
}

// Feedback serves POST /ml/recommendations/feedback: an explicit verdict on a
// served recommendation. Idempotent per (recommendation, signal).
func (rt *Router) Feedback(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, ierr := rt.ingestor.Feedback(r.Context(), p, req.RecommendationID, req.Signal)
	if ierr != nil {
		writeIngestError(w, r, ierr)
		return
	}
	writeData(w, r, http.StatusOK, res)
}
