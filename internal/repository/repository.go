// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package repository defines the persistence boundary of the serving plane
// and provides two adapters: a SQLite adapter for production single-node
// deployments and an in-memory adapter for tests.
//
// All write paths for interactions, impressions, and telemetry are
// append-only. Cascade deletes are honored by the adapters: removing an
// organization removes its users, keys, sessions, and telemetry.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tunetrail/tunetrail/internal/models"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict is returned on unique-constraint violations (duplicate email,
// slug, or username).
var ErrConflict = errors.New("repository: conflict")

// Repository is the transactional entity store boundary.
type Repository interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error)
	UpdateOrganizationPlan(ctx context.Context, id string, plan models.Plan) error
	// DeleteOrganization cascades to users, keys, sessions, interactions,
	// impressions, and telemetry.
	DeleteOrganization(ctx context.Context, id string) error

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// API keys
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*models.APIKey, error)
	// GetAPIKeysByPrefix returns every key sharing the presented prefix.
	// Prefix collisions are possible; the verifier disambiguates by hash.
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	GetAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
	AppendAPIKeyUsage(ctx context.Context, rec *models.APIKeyUsageRecord) error
	SummarizeAPIKeyUsage(ctx context.Context, keyID string, from, to time.Time) (*models.APIKeyUsageSummary, error)

	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	GetActiveSession(ctx context.Context, userID, deviceID string) (*models.Session, error)
	SaveSessionSummary(ctx context.Context, sum *models.SessionSummary) error
	GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)

	// Interactions (append-only)
	InsertInteraction(ctx context.Context, in *models.Interaction) error
	InteractionsBySession(ctx context.Context, sessionID string) ([]*models.Interaction, error)
	FeedbackInteractionExists(ctx context.Context, userID, recommendationID string, t models.InteractionType) (bool, error)

	// Impressions (append-only plus set-true-once flag updates)
	InsertImpressions(ctx context.Context, imps []*models.Impression) error
	ImpressionsByRecommendation(ctx context.Context, recommendationID string) ([]*models.Impression, error)
	// MarkImpression flips the named flags to true for the impressions of
	// the recommendation (optionally narrowed to one track). Flags already
	// true stay true; the update is idempotent.
	MarkImpression(ctx context.Context, recommendationID, trackID string, clicked, played, liked bool) error

	// Tracks (read-only from the serving plane)
	GetTrack(ctx context.Context, id string) (*models.Track, error)
	GetTracks(ctx context.Context, ids []string) (map[string]*models.Track, error)
	UpsertTrack(ctx context.Context, t *models.Track) error

	// Telemetry (append-only)
	InsertSearchQuery(ctx context.Context, q *models.SearchQuery) error
	InsertContentView(ctx context.Context, v *models.ContentView) error
	InsertPlayerEvent(ctx context.Context, e *models.PlayerEvent) error

	// Close releases the underlying store.
	Close() error
}
