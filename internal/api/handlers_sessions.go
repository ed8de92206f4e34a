// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/models"
)

type startSessionRequest struct {
	DeviceID      string            `json:"device_id"`
	DeviceType    models.DeviceType `json:"device_type,omitempty"`
	ClientContext map[string]string `json:"client_context,omitempty"`
}

// StartSession serves POST /sessions/start. A prior active session on the
// same device is superseded.
func (rt *Router) StartSession(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var req startSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := rt.sessions.Start(r.Context(), p.UserID, req.DeviceID, req.DeviceType, req.ClientContext)
	if err != nil {
		writeError(w, r, KindValidationFailed, err.Error())
		return
	}
	writeData(w, r, http.StatusCreated, s)
}

type heartbeatRequest struct {
	PositionMS     *int64 `json:"position_ms,omitempty"`
	CurrentTrackID string `json:"current_track_id,omitempty"`
}

// Heartbeat serves PUT /sessions/{id}/heartbeat.
func (rt *Router) Heartbeat(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var req heartbeatRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	err := rt.sessions.Heartbeat(r.Context(), chi.URLParam(r, "id"), p.UserID, req.PositionMS, req.CurrentTrackID)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EndSession serves POST /sessions/{id}/end. Ending an already-ended session
// succeeds and returns the existing summary.
func (rt *Router) EndSession(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	sum, err := rt.sessions.End(r.Context(), chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, sum)
}

// GetSession serves GET /sessions/{id}.
func (rt *Router) GetSession(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	s, err := rt.sessions.Get(r.Context(), chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, s)
}

// SessionSummary serves GET /sessions/{id}/summary.
func (rt *Router) SessionSummary(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	sum, err := rt.sessions.Summary(r.Context(), chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, sum)
}
