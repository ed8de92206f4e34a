// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package models

import "time"

// InteractionType is the tagged discriminator of an interaction event.
type InteractionType string

const (
	InteractionPlay          InteractionType = "play"
	InteractionSkip          InteractionType = "skip"
	InteractionLike          InteractionType = "like"
	InteractionDislike       InteractionType = "dislike"
	InteractionSave          InteractionType = "save"
	InteractionAddToPlaylist InteractionType = "add_to_playlist"
	InteractionShare         InteractionType = "share"
	InteractionComplete      InteractionType = "complete"
)

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionPlay, InteractionSkip, InteractionLike, InteractionDislike,
		InteractionSave, InteractionAddToPlaylist, InteractionShare, InteractionComplete:
		return true
	}
	return false
}

// InteractionSource identifies where the interacted track surfaced.
type InteractionSource string

const (
	SourceRecommendation InteractionSource = "recommendation"
	SourceSearch         InteractionSource = "search"
	SourcePlaylist       InteractionSource = "playlist"
	SourceLibrary        InteractionSource = "library"
	SourceRadio          InteractionSource = "radio"
	SourceDailyMix       InteractionSource = "daily_mix"
	SourceShareLink      InteractionSource = "share_link"
	SourceUnknown        InteractionSource = "unknown"
)

// Valid reports whether s is a known interaction source.
func (s InteractionSource) Valid() bool {
	switch s {
	case SourceRecommendation, SourceSearch, SourcePlaylist, SourceLibrary,
		SourceRadio, SourceDailyMix, SourceShareLink, SourceUnknown:
		return true
	}
	return false
}

// Interaction is an immutable telemetry record of a user acting on a track.
// Genuinely open-ended attributes live in Extensions; everything the offline
// learner consumes is a typed field.
type Interaction struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	TrackID          string            `json:"track_id"`
	SessionID        string            `json:"session_id,omitempty"`
	ClientSeq        int64             `json:"client_seq,omitempty"`
	Type             InteractionType   `json:"type"`
	CreatedAt        time.Time         `json:"created_at"`
	PlayDurationMS   *int64            `json:"play_duration_ms,omitempty"`
	PositionMS       *int64            `json:"position_ms,omitempty"`
	Source           InteractionSource `json:"source"`
	SourceID         string            `json:"source_id,omitempty"`
	RecommendationID string            `json:"recommendation_id,omitempty"`
	DeviceType       DeviceType        `json:"device_type,omitempty"`
	SkipReason       string            `json:"skip_reason,omitempty"`
	Mood             string            `json:"mood,omitempty"`
	Activity         string            `json:"activity,omitempty"`
	// CompletionOverride is false when a claimed "complete" was downgraded to
	// "play" because the played duration fell short of the completion bound.
	CompletionOverride *bool             `json:"completion_override,omitempty"`
	Extensions         map[string]string `json:"extensions,omitempty"`
}

// Impression records that a track was shown to a user as part of a
// recommendation. Append-only; the clicked/played/liked flags are flipped
// (set-true-once) by the interaction ingestor when matching events arrive.
type Impression struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	TrackID          string    `json:"track_id"`
	RecommendationID string    `json:"recommendation_id"`
	ModelType        string    `json:"model_type"`
	ModelVersion     string    `json:"model_version"`
	Score            float64   `json:"score"`
	Position         int       `json:"position"`
	Context          string    `json:"context,omitempty"`
	ShownAt          time.Time `json:"shown_at"`
	Clicked          bool      `json:"clicked"`
	Played           bool      `json:"played"`
	Liked            bool      `json:"liked"`
}

// FeedbackSignal is a client's explicit verdict on a recommendation.
type FeedbackSignal string

const (
	FeedbackAccept    FeedbackSignal = "accept"
	FeedbackReject    FeedbackSignal = "reject"
	FeedbackPlayed    FeedbackSignal = "played"
	FeedbackSaved     FeedbackSignal = "saved"
	FeedbackDismissed FeedbackSignal = "dismissed"
)

// Valid reports whether f is a known feedback signal.
func (f FeedbackSignal) Valid() bool {
	switch f {
	case FeedbackAccept, FeedbackReject, FeedbackPlayed, FeedbackSaved, FeedbackDismissed:
		return true
	}
	return false
}

// SearchQuery is an append-only telemetry record of a catalog search.
type SearchQuery struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Query       string    `json:"query"`
	ResultCount int       `json:"result_count"`
	ClickedID   string    `json:"clicked_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ContentView is an append-only telemetry record of a page/entity view.
type ContentView struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	SessionID  string     `json:"session_id,omitempty"`
	DeviceType DeviceType `json:"device_type,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// PlayerEvent is an append-only telemetry record of a low-level player
// state change (buffer, seek, volume, quality switch).
type PlayerEvent struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	SessionID  string            `json:"session_id,omitempty"`
	TrackID    string            `json:"track_id,omitempty"`
	Event      string            `json:"event"`
	PositionMS *int64            `json:"position_ms,omitempty"`
	Extensions map[string]string `json:"extensions,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
