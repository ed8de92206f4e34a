// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadlineUsesEndpointDefault(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := Deadline(5*time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))

	start := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/recommendations", nil))

	require.True(t, ok, "request context must carry a deadline")
	assert.InDelta(t, 5*time.Second, deadline.Sub(start), float64(time.Second))
}

func TestDeadlineHonorsShorterClientTimeout(t *testing.T) {
	var deadline time.Time
	h := Deadline(30*time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}))

	req := httptest.NewRequest(http.MethodGet, "/recommendations", nil)
	req.Header.Set("X-Request-Timeout", "2s")
	start := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.InDelta(t, 2*time.Second, deadline.Sub(start), float64(time.Second))

	// The query form works too, as bare seconds.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/recommendations?timeout=3", nil))
	assert.InDelta(t, 3*time.Second, deadline.Sub(start), float64(2*time.Second))
}

func TestDeadlineClientCannotExtend(t *testing.T) {
	var deadline time.Time
	h := Deadline(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}))

	req := httptest.NewRequest(http.MethodGet, "/recommendations", nil)
	req.Header.Set("X-Request-Timeout", "10m")
	start := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.LessOrEqual(t, deadline.Sub(start), time.Second+100*time.Millisecond)
}

// A downstream call blocking past the client timeout observes cancellation
// through the request context.
func TestDeadlineCancelsDownstreamWork(t *testing.T) {
	var downstreamErr error
	h := Deadline(30*time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			downstreamErr = r.Context().Err()
		case <-time.After(2 * time.Second):
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/recommendations", nil)
	req.Header.Set("X-Request-Timeout", "50ms")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.ErrorIs(t, downstreamErr, context.DeadlineExceeded)
}
