// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/dispatch"
	"github.com/tunetrail/tunetrail/internal/gate"
	"github.com/tunetrail/tunetrail/internal/ingest"
	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/session"
)

// Error kinds owned by the HTTP layer. Domain packages define their own
// kinds; the union is what clients see in the error field.
const (
	KindValidationFailed = "VALIDATION_FAILED"
	KindNotFound         = "NOT_FOUND"
	KindConflict         = "CONFLICT"
	KindStaleEvent       = "STALE_EVENT"
	KindInternal         = "INTERNAL"
)

// kindStatus maps every error kind to its HTTP status.
var kindStatus = map[string]int{
	KindValidationFailed:          http.StatusBadRequest,
	auth.KindMalformedCredential:  http.StatusUnauthorized,
	auth.KindUnknownCredential:    http.StatusUnauthorized,
	auth.KindRevokedCredential:    http.StatusUnauthorized,
	auth.KindExpiredCredential:    http.StatusUnauthorized,
	auth.KindScopeInsufficient:    http.StatusForbidden,
	auth.KindIPNotAllowed:         http.StatusForbidden,
	KindNotFound:                  http.StatusNotFound,
	KindConflict:                  http.StatusConflict,
	gate.KindPlanUpgradeRequired:  http.StatusPaymentRequired,
	gate.KindFeatureNotInPlan:     http.StatusPaymentRequired,
	gate.KindQuotaExceeded:        http.StatusTooManyRequests,
	KindStaleEvent:                http.StatusConflict,
	gate.KindUpstreamUnavailable:  http.StatusServiceUnavailable,
	KindInternal:                  http.StatusInternalServerError,
}

// statusForKind maps a kind to its HTTP status. Unknown kinds are an internal
// error by definition.
func statusForKind(kind string) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeInternal logs the cause with the request id and surfaces an opaque 500.
func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	writeError(w, r, KindInternal, "an internal error occurred")
}

// writeAuthError maps a credential failure to the envelope.
func writeAuthError(w http.ResponseWriter, r *http.Request, aerr *auth.Error) {
	writeError(w, r, aerr.Kind, aerr.Message)
}

// writeDispatchError maps a dispatch failure to the envelope.
func writeDispatchError(w http.ResponseWriter, r *http.Request, derr *dispatch.Error) {
	writeError(w, r, derr.Kind, derr.Message)
}

// writeIngestError maps an ingest failure to the envelope.
func writeIngestError(w http.ResponseWriter, r *http.Request, ierr *ingest.Error) {
	writeErrorDetails(w, r, ierr.Kind, ierr.Message, ierr.Details)
}

// writeSessionError maps a session manager failure to the envelope.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, r, KindNotFound, "session not found")
	case errors.Is(err, session.ErrEnded):
		writeError(w, r, KindConflict, "session already ended")
	default:
		writeInternal(w, r, err)
	}
}

// writeGateDenial converts a gate denial into the envelope, including the
// upgrade payload or retry_after depending on the layer that denied.
func writeGateDenial(w http.ResponseWriter, r *http.Request, d gate.Decision) {
	env := &Envelope{Error: d.Kind, Message: d.Message}
	switch d.Kind {
	case gate.KindPlanUpgradeRequired, gate.KindFeatureNotInPlan:
		env.CurrentPlan = d.CurrentPlan
		env.RequiredPlans = d.RequiredPlans
		env.UpgradeURL = d.UpgradeURL
		env.Feature = d.FeatureDescription
	case gate.KindQuotaExceeded:
		secs := int64(d.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		env.RetryAfter = &secs
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeEnvelope(w, r, env)
}
