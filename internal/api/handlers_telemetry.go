// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"net/http"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/ingest"
)

// SearchTelemetry serves POST /telemetry/search.
func (rt *Router) SearchTelemetry(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var ev ingest.SearchEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	id, ierr := rt.ingestor.RecordSearch(r.Context(), p, &ev)
	if ierr != nil {
		writeIngestError(w, r, ierr)
		return
	}
	writeData(w, r, http.StatusCreated, map[string]string{"id": id})
}

// ViewTelemetry serves POST /telemetry/views.
func (rt *Router) ViewTelemetry(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var ev ingest.ViewEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	id, ierr := rt.ingestor.RecordView(r.Context(), p, &ev)
	if ierr != nil {
		writeIngestError(w, r, ierr)
		return
	}
	writeData(w, r, http.StatusCreated, map[string]string{"id": id})
}

// PlayerEvents serves POST /interactions/player-events.
func (rt *Router) PlayerEvents(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var ev ingest.PlayerEventInput
	if !decodeBody(w, r, &ev) {
		return
	}
	id, ierr := rt.ingestor.RecordPlayerEvent(r.Context(), p, &ev)
	if ierr != nil {
		writeIngestError(w, r, ierr)
		return
	}
	writeData(w, r, http.StatusCreated, map[string]string{"id": id})
}
