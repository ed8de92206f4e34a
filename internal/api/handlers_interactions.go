// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"fmt"
	"net/http"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/ingest"
	"github.com/tunetrail/tunetrail/internal/models"
)

// maxBatchEvents bounds one interaction batch.
const maxBatchEvents = 100

// Interaction serves POST /interactions: one telemetry event.
func (rt *Router) Interaction(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var ev ingest.Event
	if !decodeBody(w, r, &ev) {
		return
	}
	res, ierr := rt.ingestor.Ingest(r.Context(), p, &ev)
	if ierr != nil {
		writeIngestError(w, r, ierr)
		return
	}
	writeData(w, r, http.StatusCreated, res)
}

type batchRequest struct {
	Events []*ingest.Event `json:"events"`
}

type batchResponse struct {
	Accepted int               `json:"accepted"`
	Results  []*ingest.Result  `json:"results"`
	Failed   *Envelope         `json:"failed,omitempty"`
}

// InteractionBatch serves POST /interactions/batch. Events are processed in
// order; the first hard error stops the batch and is reported alongside the
// count of events already persisted.
func (rt *Router) InteractionBatch(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		writeError(w, r, KindValidationFailed, "events must not be empty")
		return
	}
	if len(req.Events) > maxBatchEvents {
		writeError(w, r, KindValidationFailed, fmt.Sprintf("at most %d events per batch", maxBatchEvents))
		return
	}

	out := rt.ingestor.IngestBatch(r.Context(), p, req.Events)
	resp := &batchResponse{Accepted: out.Accepted, Results: out.Results}
	if out.Err != nil {
		resp.Failed = &Envelope{Error: out.Err.Kind, Message: out.Err.Message, Details: out.Err.Details}
		// The batch is reported at the status of its first failure so clients
		// retry from the failed index.
		writeJSON(w, r, statusForKind(out.Err.Kind), resp)
		return
	}
	writeData(w, r, http.StatusCreated, resp)
}

// impressionLogRequest is a client-side report of recommendation slots that
// were actually rendered. Used when the client assembles its own track list
// rather than serving a dispatcher response verbatim.
type impressionLogRequest struct {
	TrackIDs     []string  `json:"track_ids"`
	ModelType    string    `json:"model_type"`
	ModelVersion string    `json:"model_version"`
	Scores       []float64 `json:"scores,omitempty"`
	Context      string    `json:"context,omitempty"`
}

type impressionLogResponse struct {
	RecommendationID string   `json:"recommendation_id"`
	ImpressionIDs    []string `json:"impression_ids"`
}

// LogImpressions serves POST /impressions/recommendations. The rows go
// through the same bounded buffer as dispatcher-served impressions.
func (rt *Router) LogImpressions(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var req impressionLogRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.TrackIDs) == 0 {
		writeError(w, r, KindValidationFailed, "track_ids must not be empty")
		return
	}
	if len(req.Scores) > 0 && len(req.Scores) != len(req.TrackIDs) {
		writeError(w, r, KindValidationFailed, "scores must match track_ids in length")
		return
	}

	now := rt.clk.Now()
	recID := rt.ids.NewID()
	imps := make([]*models.Impression, len(req.TrackIDs))
	ids := make([]string, len(req.TrackIDs))
	for i, trackID := range req.TrackIDs {
		var score float64
		if i < len(req.Scores) {
			score = req.Scores[i]
		}
		imps[i] = &models.Impression{
			ID:               rt.ids.NewID(),
			UserID:           p.UserID,
			TrackID:          trackID,
			RecommendationID: recID,
			ModelType:        req.ModelType,
			ModelVersion:     req.ModelVersion,
			Score:            score,
			Position:         i,
			Context:          req.Context,
			ShownAt:          now,
		}
		ids[i] = imps[i].ID
	}
	rt.buffer.Add(imps...)

	writeData(w, r, http.StatusCreated, &impressionLogResponse{
		RecommendationID: recID,
		ImpressionIDs:    ids,
	})
}
