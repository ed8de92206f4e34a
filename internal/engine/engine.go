// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package engine defines the boundary to the recommendation engine, the
// stateless model-serving backend the dispatcher calls. The serving plane
// never trains or scores models itself.
package engine

import (
	"context"
	"errors"

	"github.com/tunetrail/tunetrail/internal/models"
)

// ErrUnavailable wraps transport failures, timeouts, and 5xx responses from
// the engine. The dispatcher treats it as retryable.
var ErrUnavailable = errors.New("engine: unavailable")

// Request asks the engine for ranked tracks.
type Request struct {
	Kind        models.RecommendationKind `json:"kind"`
	UserID      string                    `json:"user_id"`
	SeedTrackID string                    `json:"seed_track_id,omitempty"`
	Limit       int                       `json:"limit"`
	ModelTier   models.ModelTier          `json:"model_tier"`
}

// ScoredTrack is one engine result before catalog join and tie-breaking.
type ScoredTrack struct {
	TrackID string  `json:"track_id"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
}

// Response is the engine's ranked answer plus model provenance.
type Response struct {
	Tracks       []ScoredTrack `json:"tracks"`
	ModelType    string        `json:"model_type"`
	ModelVersion string        `json:"model_version"`
}

// Engine is the dispatcher's view of the model-serving backend. Calls honor
// the context deadline and are cancellable.
type Engine interface {
	Recommend(ctx context.Context, req *Request) (*Response, error)
}
