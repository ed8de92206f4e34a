// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package api provides the HTTP surface of the serving plane: chi routing,
// the error envelope, and the middleware stack (request IDs, authentication,
// gate checks, metrics, api-key usage logging).
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/models"
)

// Envelope is the body of every failed response. Error carries the stable
// kind string clients branch on; Message is advisory.
type Envelope struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`

	// RetryAfter is set on QUOTA_EXCEEDED: seconds until the window resets.
	RetryAfter *int64 `json:"retry_after,omitempty"`

	// Upgrade-denial payload.
	UpgradeURL    string        `json:"upgrade_url,omitempty"`
	CurrentPlan   models.Plan   `json:"current_plan,omitempty"`
	RequiredPlans []models.Plan `json:"required_plans,omitempty"`
	Feature       string        `json:"feature,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes v with the canonical content type. Encode failures are
// logged; by then the status line is already on the wire.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

// writeData writes a success payload as-is.
func writeData(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	writeJSON(w, r, status, v)
}

// writeError writes the error envelope for a kind, with the HTTP status
// mapped from the kind.
func writeError(w http.ResponseWriter, r *http.Request, kind, message string) {
	writeEnvelope(w, r, &Envelope{Error: kind, Message: message})
}

// writeErrorDetails writes the error envelope with a details payload.
func writeErrorDetails(w http.ResponseWriter, r *http.Request, kind, message string, details interface{}) {
	writeEnvelope(w, r, &Envelope{Error: kind, Message: message, Details: details})
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, env *Envelope) {
	env.RequestID = logging.RequestIDFromContext(r.Context())
	writeJSON(w, r, statusForKind(env.Error), env)
}

// decodeBody decodes a JSON request body into dst. A failure is reported to
// the client as VALIDATION_FAILED and false is returned.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, KindValidationFailed, "request body is not valid JSON")
		return false
	}
	return true
}
