// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/validation"
)

// issuedKeyResponse is the only response shape that ever carries a plaintext
// key secret.
type issuedKeyResponse struct {
	Key *models.APIKey `json:"key"`
	// Secret is shown exactly once. There is no way to retrieve it again.
	Secret string `json:"secret"`
}

// keyView is the read form of a key: the stored fields plus the masked
// display string. The secret is long gone by the time a key is read back.
type keyView struct {
	*models.APIKey
	Display string `json:"display"`
}

func viewKey(k *models.APIKey) keyView {
	return keyView{APIKey: k, Display: k.Redacted()}
}

// CreateKey issues a new API key for the caller.
func (rt *Router) CreateKey(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var req auth.CreateKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if verr := validation.Struct(&req); verr != nil {
		writeErrorDetails(w, r, KindValidationFailed, verr.Error(), verr.Details())
		return
	}

	user, err := rt.repo.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	key, secret, err := rt.keys.Issue(r.Context(), user, &req)
	if err != nil {
		writeError(w, r, KindValidationFailed, err.Error())
		return
	}
	writeData(w, r, http.StatusCreated, &issuedKeyResponse{Key: key, Secret: secret})
}

// ListKeys returns the caller's keys in redacted form.
func (rt *Router) ListKeys(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	keys, err := rt.keys.List(r.Context(), p.UserID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, viewKey(k))
	}
	writeData(w, r, http.StatusOK, map[string]interface{}{"keys": views})
}

// GetKey returns one key owned by the caller, redacted.
func (rt *Router) GetKey(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	key, err := rt.keys.Get(r.Context(), chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		writeKeyError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, viewKey(key))
}

// RotateKey issues a replacement key; the old key keeps working through the
// grace window.
func (rt *Router) RotateKey(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	key, secret, err := rt.keys.Rotate(r.Context(), chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		writeKeyError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, &issuedKeyResponse{Key: key, Secret: secret})
}

// RevokeKey revokes a key immediately. Idempotent.
func (rt *Router) RevokeKey(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	if err := rt.keys.Revoke(r.Context(), chi.URLParam(r, "id"), p.UserID); err != nil {
		writeKeyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KeyUsage aggregates the usage log of one key over a [from, to) window.
// Defaults to the trailing 30 days.
func (rt *Router) KeyUsage(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	to := rt.clk.Now()
	from := to.Add(-30 * 24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, KindValidationFailed, "from must be RFC3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, KindValidationFailed, "to must be RFC3339")
			return
		}
		to = t
	}

	sum, err := rt.keys.Usage(r.Context(), chi.URLParam(r, "id"), p.UserID, from, to)
	if err != nil {
		writeKeyError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, sum)
}

// writeKeyError maps key lifecycle errors. A foreign key is reported as not
// found rather than forbidden so key ids are not probeable.
func writeKeyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrKeyNotFound), errors.Is(err, auth.ErrKeyForbidden):
		writeError(w, r, KindNotFound, "api key not found")
	default:
		writeError(w, r, KindValidationFailed, err.Error())
	}
}
