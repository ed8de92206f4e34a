// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package ingest validates and persists interaction telemetry. Writes are
// append-only; the only mutation is the set-true-once flag update on
// impressions referenced by recommendation_id.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
	"github.com/tunetrail/tunetrail/internal/validation"
)

// Hard failure kinds. A hard failure rejects the event (and stops a batch).
const (
	KindValidationFailed = "VALIDATION_FAILED"
	KindStaleEvent       = "STALE_EVENT"
	KindNotFound         = "NOT_FOUND"
)

// Error is a hard ingest failure with a stable kind string.
type Error struct {
	Kind    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ingest: %s: %s", e.Kind, e.Message)
}

func errValidation(msg string, details map[string]interface{}) *Error {
	return &Error{Kind: KindValidationFailed, Message: msg, Details: details}
}

// Completion thresholds, as fractions of track duration.
const (
	completeMinFraction = 0.8
	skipMaxFraction     = 0.5
	// durationSlack bounds play_duration against clock skew.
	durationSlack = 2.0
)

// Event is one client-reported interaction.
type Event struct {
	TrackID          string                 `json:"track_id" validate:"required"`
	Type             models.InteractionType `json:"type" validate:"required"`
	SessionID        string                 `json:"session_id,omitempty"`
	ClientSeq        int64                  `json:"client_seq,omitempty" validate:"omitempty,min=1"`
	PlayDurationMS   *int64                 `json:"play_duration_ms,omitempty"`
	PositionMS       *int64                 `json:"position_ms,omitempty"`
	Source           models.InteractionSource `json:"source,omitempty"`
	SourceID         string                 `json:"source_id,omitempty"`
	RecommendationID string                 `json:"recommendation_id,omitempty"`
	DeviceType       models.DeviceType      `json:"device_type,omitempty"`
	SkipReason       string                 `json:"skip_reason,omitempty"`
	Mood             string                 `json:"mood,omitempty"`
	Activity         string                 `json:"activity,omitempty"`
	Extensions       map[string]string      `json:"extensions,omitempty"`
}

// Result is the outcome of one accepted event.
type Result struct {
	Interaction *models.Interaction `json:"interaction"`
	// Downgraded is true when a claimed complete or skip did not meet its
	// duration bound and was recorded as a play instead. Soft, not an error.
	Downgraded bool `json:"downgraded,omitempty"`
}

// BatchResult reports how far a batch got. Accepted counts events persisted
// before the first hard error (all of them when Err is nil).
type BatchResult struct {
	Accepted int       `json:"accepted"`
	Results  []*Result `json:"results"`
	Err      *Error    `json:"-"`
}

// Ingestor validates and persists interaction events.
type Ingestor struct {
	repo   repository.Repository
	clk    clock.Clock
	ids    clock.IDGen
	logger zerolog.Logger
}

// New creates an ingestor.
func New(repo repository.Repository, clk clock.Clock, ids clock.IDGen, logger *zerolog.Logger) *Ingestor {
	return &Ingestor{
		repo:   repo,
		clk:    clk,
		ids:    ids,
		logger: logger.With().Str("component", "ingestor").Logger(),
	}
}

// Ingest validates one event against the catalog and the caller's sessions
// and impressions, then appends it.
func (ing *Ingestor) Ingest(ctx context.Context, p *models.Principal, ev *Event) (*Result, *Error) {
	if verr := validation.Struct(ev); verr != nil {
		return nil, errValidation(verr.Error(), verr.Details())
	}
	if !ev.Type.Valid() {
		return nil, errValidation(fmt.Sprintf("unknown interaction type %q", ev.Type), nil)
	}
	if ev.Source == "" {
		ev.Source = models.SourceUnknown
	}
	if !ev.Source.Valid() {
		return nil, errValidation(fmt.Sprintf("unknown source %q", ev.Source), nil)
	}
	if ev.DeviceType != "" && !ev.DeviceType.Valid() {
		return nil, errValidation(fmt.Sprintf("unknown device_type %q", ev.DeviceType), nil)
	}

	track, err := ing.repo.GetTrack(ctx, ev.TrackID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("track %s not found", ev.TrackID)}
	}
	if err != nil {
		ing.logger.Error().Err(err).Str("track_id", ev.TrackID).Msg("track lookup failed")
		return nil, errValidation("track lookup failed", nil)
	}

	typ, override, downgraded, ierr := ing.applyDurationRules(ev, track)
	if ierr != nil {
		return nil, ierr
	}

	if ev.SessionID != "" {
		if ierr := ing.checkSession(ctx, p, ev); ierr != nil {
			return nil, ierr
		}
	}

	if ev.RecommendationID != "" {
		if ierr := ing.markImpressions(ctx, p, ev, typ); ierr != nil {
			return nil, ierr
		}
	}

	in := &models.Interaction{
		ID:                 ing.ids.NewID(),
		UserID:             p.UserID,
		TrackID:            ev.TrackID,
		SessionID:          ev.SessionID,
		ClientSeq:          ev.ClientSeq,
		Type:               typ,
		CreatedAt:          ing.clk.Now(),
		PlayDurationMS:     ev.PlayDurationMS,
		PositionMS:         ev.PositionMS,
		Source:             ev.Source,
		SourceID:           ev.SourceID,
		RecommendationID:   ev.RecommendationID,
		DeviceType:         ev.DeviceType,
		SkipReason:         ev.SkipReason,
		Mood:               ev.Mood,
		Activity:           ev.Activity,
		CompletionOverride: override,
		Extensions:         ev.Extensions,
	}
	if err := ing.repo.InsertInteraction(ctx, in); err != nil {
		ing.logger.Error().Err(err).Msg("interaction insert failed")
		return nil, errValidation("failed to persist interaction", nil)
	}

	return &Result{Interaction: in, Downgraded: downgraded}, nil
}

// IngestBatch processes events in order, stopping at the first hard error.
// Soft downgrades do not stop the batch.
func (ing *Ingestor) IngestBatch(ctx context.Context, p *models.Principal, events []*Event) *BatchResult {
	out := &BatchResult{}
	for _, ev := range events {
		res, ierr := ing.Ingest(ctx, p, ev)
		if ierr != nil {
			out.Err = ierr
			return out
		}
		out.Accepted++
		out.Results = append(out.Results, res)
	}
	return out
}

// applyDurationRules validates play_duration_ms against the track and
// downgrades complete/skip claims that miss their thresholds.
func (ing *Ingestor) applyDurationRules(ev *Event, track *models.Track) (models.InteractionType, *bool, bool, *Error) {
	var pd int64
	if ev.PlayDurationMS != nil {
		pd = *ev.PlayDurationMS
		if pd < 0 {
			return "", nil, false, errValidation("play_duration_ms must be non-negative", nil)
		}
		if track.DurationMS > 0 && float64(pd) > durationSlack*float64(track.DurationMS) {
			return "", nil, false, errValidation(
				"play_duration_ms exceeds twice the track duration",
				map[string]interface{}{"track_duration_ms": track.DurationMS},
			)
		}
	}

	typ := ev.Type
	switch typ {
	case models.InteractionComplete:
		if float64(pd) < completeMinFraction*float64(track.DurationMS) {
			f := false
			return models.InteractionPlay, &f, true, nil
		}
	case models.InteractionSkip:
		if track.DurationMS > 0 && float64(pd) >= skipMaxFraction*float64(track.DurationMS) {
			return models.InteractionPlay, nil, true, nil
		}
	}
	return typ, nil, false, nil
}

// checkSession enforces session ownership and client_seq ordering. An
// out-of-order sequence number is a stale replay and is rejected.
func (ing *Ingestor) checkSession(ctx context.Context, p *models.Principal, ev *Event) *Error {
	s, err := ing.repo.GetSession(ctx, ev.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: fmt.Sprintf("session %s not found", ev.SessionID)}
	}
	if err != nil {
		ing.logger.Error().Err(err).Str("session_id", ev.SessionID).Msg("session lookup failed")
		return errValidation("session lookup failed", nil)
	}
	if s.UserID != p.UserID {
		return &Error{Kind: KindNotFound, Message: fmt.Sprintf("session %s not found", ev.SessionID)}
	}

	if ev.ClientSeq > 0 {
		if ev.ClientSeq <= s.LastClientSeq {
			return &Error{
				Kind:    KindStaleEvent,
				Message: fmt.Sprintf("client_seq %d is not newer than %d", ev.ClientSeq, s.LastClientSeq),
				Details: map[string]interface{}{"last_client_seq": s.LastClientSeq},
			}
		}
		s.LastClientSeq = ev.ClientSeq
		if err := ing.repo.UpdateSession(ctx, s); err != nil {
			ing.logger.Warn().Err(err).Str("session_id", s.ID).Msg("failed to advance client_seq")
		}
	}
	return nil
}

// markImpressions verifies the referenced recommendation belongs to the
// caller and flips the matching impression flags. The update is set-true-once
// so replays are harmless.
func (ing *Ingestor) markImpressions(ctx context.Context, p *models.Principal, ev *Event, typ models.InteractionType) *Error {
	imps, err := ing.repo.ImpressionsByRecommendation(ctx, ev.RecommendationID)
	if err != nil {
		ing.logger.Error().Err(err).Str("recommendation_id", ev.RecommendationID).Msg("impression lookup failed")
		return errValidation("impression lookup failed", nil)
	}
	if len(imps) == 0 || imps[0].UserID != p.UserID {
		return &Error{Kind: KindNotFound, Message: fmt.Sprintf("recommendation %s not found", ev.RecommendationID)}
	}

	clicked, played, liked := impressionFlags(typ)
	if err := ing.repo.MarkImpression(ctx, ev.RecommendationID, ev.TrackID, clicked, played, liked); err != nil {
		ing.logger.Error().Err(err).Str("recommendation_id", ev.RecommendationID).Msg("impression update failed")
		return errValidation("impression update failed", nil)
	}
	return nil
}

// impressionFlags maps an interaction type to the impression flags it flips.
// Any interaction on a recommended track counts as a click.
func impressionFlags(typ models.InteractionType) (clicked, played, liked bool) {
	clicked = true
	switch typ {
	case models.InteractionPlay, models.InteractionComplete:
		played = true
	case models.InteractionLike, models.InteractionSave:
		liked = true
	}
	return clicked, played, liked
}
