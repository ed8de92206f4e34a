// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package ingest

import (
	"context"

	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/validation"
)

// SearchEvent is one reported catalog search.
type SearchEvent struct {
	Query       string `json:"query" validate:"required,max=512"`
	ResultCount int    `json:"result_count" validate:"min=0"`
	ClickedID   string `json:"clicked_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// RecordSearch appends a search telemetry row.
func (ing *Ingestor) RecordSearch(ctx context.Context, p *models.Principal, ev *SearchEvent) (string, *Error) {
	if verr := validation.Struct(ev); verr != nil {
		return "", errValidation(verr.Error(), verr.Details())
	}
	q := &models.SearchQuery{
		ID:          ing.ids.NewID(),
		UserID:      p.UserID,
		Query:       ev.Query,
		ResultCount: ev.ResultCount,
		ClickedID:   ev.ClickedID,
		SessionID:   ev.SessionID,
		CreatedAt:   ing.clk.Now(),
	}
	if err := ing.repo.InsertSearchQuery(ctx, q); err != nil {
		ing.logger.Error().Err(err).Msg("search telemetry insert failed")
		return "", errValidation("failed to persist search", nil)
	}
	return q.ID, nil
}

// ViewEvent is one reported entity view.
type ViewEvent struct {
	EntityType string            `json:"entity_type" validate:"required,oneof=track album artist playlist profile"`
	EntityID   string            `json:"entity_id" validate:"required"`
	SessionID  string            `json:"session_id,omitempty"`
	DeviceType models.DeviceType `json:"device_type,omitempty"`
}

// RecordView appends a content view telemetry row.
func (ing *Ingestor) RecordView(ctx context.Context, p *models.Principal, ev *ViewEvent) (string, *Error) {
	if verr := validation.Struct(ev); verr != nil {
		return "", errValidation(verr.Error(), verr.Details())
	}
	if ev.DeviceType != "" && !ev.DeviceType.Valid() {
		return "", errValidation("unknown device_type", nil)
	}
	v := &models.ContentView{
		ID:         ing.ids.NewID(),
		UserID:     p.UserID,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		SessionID:  ev.SessionID,
		DeviceType: ev.DeviceType,
		CreatedAt:  ing.clk.Now(),
	}
	if err := ing.repo.InsertContentView(ctx, v); err != nil {
		ing.logger.Error().Err(err).Msg("view telemetry insert failed")
		return "", errValidation("failed to persist view", nil)
	}
	return v.ID, nil
}

// PlayerEventInput is one reported low-level player state change.
type PlayerEventInput struct {
	Event      string            `json:"event" validate:"required,oneof=buffer_start buffer_end seek volume quality_switch pause resume"`
	SessionID  string            `json:"session_id,omitempty"`
	TrackID    string            `json:"track_id,omitempty"`
	PositionMS *int64            `json:"position_ms,omitempty"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

// RecordPlayerEvent appends a player event telemetry row.
func (ing *Ingestor) RecordPlayerEvent(ctx context.Context, p *models.Principal, ev *PlayerEventInput) (string, *Error) {
	if verr := validation.Struct(ev); verr != nil {
		return "", errValidation(verr.Error(), verr.Details())
	}
	e := &models.PlayerEvent{
		ID:         ing.ids.NewID(),
		UserID:     p.UserID,
		SessionID:  ev.SessionID,
		TrackID:    ev.TrackID,
		Event:      ev.Event,
		PositionMS: ev.PositionMS,
		Extensions: ev.Extensions,
		CreatedAt:  ing.clk.Now(),
	}
	if err := ing.repo.InsertPlayerEvent(ctx, e); err != nil {
		ing.logger.Error().Err(err).Msg("player event insert failed")
		return "", errValidation("failed to persist player event", nil)
	}
	return e.ID, nil
}
