// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tunetrail/tunetrail/internal/cache"
	"github.com/tunetrail/tunetrail/internal/repository"
)

// HealthLive serves GET /health/live: process is up.
func (rt *Router) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady serves GET /health/ready: dependencies are reachable. The
// repository and counter store are probed with a short deadline; the engine
// is deliberately excluded since stale serving covers engine outages.
func (rt *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"repository": "ok", "cache": "ok"}
	healthy := true

	if _, err := rt.repo.GetTrack(ctx, "readiness-probe"); err != nil && !errors.Is(err, repository.ErrNotFound) {
		checks["repository"] = err.Error()
		healthy = false
	}
	if _, err := rt.store.Get(ctx, "readiness-probe"); err != nil && !errors.Is(err, cache.ErrNotFound) {
		checks["cache"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeData(w, r, status, map[string]interface{}{"status": state, "checks": checks})
}
