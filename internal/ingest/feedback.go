// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package ingest

import (
	"context"
	"fmt"

	"github.com/tunetrail/tunetrail/internal/models"
)

// feedbackInteraction maps a feedback signal to the interaction type it is
// recorded as.
var feedbackInteraction = map[models.FeedbackSignal]models.InteractionType{
	models.FeedbackAccept:    models.InteractionLike,
	models.FeedbackReject:    models.InteractionDislike,
	models.FeedbackPlayed:    models.InteractionPlay,
	models.FeedbackSaved:     models.InteractionSave,
	models.FeedbackDismissed: models.InteractionSkip,
}

// FeedbackResult reports whether the signal was newly recorded or had been
// seen before.
type FeedbackResult struct {
	InteractionID   string `json:"interaction_id,omitempty"`
	AlreadyRecorded bool   `json:"already_recorded"`
}

// Feedback records an explicit verdict on a recommendation: it flips the
// impression flags and appends a matching interaction. Repeating the same
// signal for the same recommendation changes nothing.
func (ing *Ingestor) Feedback(ctx context.Context, p *models.Principal, recommendationID string, signal models.FeedbackSignal) (*FeedbackResult, *Error) {
	if recommendationID == "" {
		return nil, errValidation("recommendation_id is required", nil)
	}
	if !signal.Valid() {
		return nil, errValidation(fmt.Sprintf("unknown feedback signal %q", signal), nil)
	}
	typ := feedbackInteraction[signal]

	imps, err := ing.repo.ImpressionsByRecommendation(ctx, recommendationID)
	if err != nil {
		ing.logger.Error().Err(err).Str("recommendation_id", recommendationID).Msg("impression lookup failed")
		return nil, errValidation("impression lookup failed", nil)
	}
	if len(imps) == 0 || imps[0].UserID != p.UserID {
		return nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("recommendation %s not found", recommendationID)}
	}

	exists, err := ing.repo.FeedbackInteractionExists(ctx, p.UserID, recommendationID, typ)
	if err != nil {
		ing.logger.Error().Err(err).Msg("feedback dedup check failed")
		return nil, errValidation("feedback check failed", nil)
	}
	if exists {
		return &FeedbackResult{AlreadyRecorded: true}, nil
	}

	clicked, played, liked := impressionFlags(typ)
	if err := ing.repo.MarkImpression(ctx, recommendationID, "", clicked, played, liked); err != nil {
		ing.logger.Error().Err(err).Str("recommendation_id", recommendationID).Msg("impression update failed")
		return nil, errValidation("impression update failed", nil)
	}

	in := &models.Interaction{
		ID:               ing.ids.NewID(),
		UserID:           p.UserID,
		TrackID:          imps[0].TrackID,
		Type:             typ,
		CreatedAt:        ing.clk.Now(),
		Source:           models.SourceRecommendation,
		RecommendationID: recommendationID,
	}
	if err := ing.repo.InsertInteraction(ctx, in); err != nil {
		ing.logger.Error().Err(err).Msg("feedback interaction insert failed")
		return nil, errValidation("failed to persist feedback", nil)
	}

	return &FeedbackResult{InteractionID: in.ID}, nil
}
