// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package ingest

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

const trackDuration = int64(200_000) // 200s

func newTestIngestor(t *testing.T) (*Ingestor, *repository.Memory, *clock.Fake) {
	t.Helper()
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	logger := logging.NewTestLogger(io.Discard)

	ctx := context.Background()
	require.NoError(t, repo.CreateOrganization(ctx, &models.Organization{
		ID: "org-1", Slug: "acme", Plan: models.PlanFree, CreatedAt: clk.Now(),
	}))
	require.NoError(t, repo.CreateUser(ctx, &models.User{
		ID: "user-1", OrgID: "org-1", Email: "alice@example.com",
		Role: models.RoleUser, IsActive: true, CreatedAt: clk.Now(),
	}))
	require.NoError(t, repo.UpsertTrack(ctx, &models.Track{
		ID: "track-1", Title: "Song", ArtistID: "artist-1",
		DurationMS: trackDuration, CreatedAt: clk.Now(),
	}))

	return New(repo, clk, clk, &logger), repo, clk
}

func testPrincipal() *models.Principal {
	return &models.Principal{UserID: "user-1", OrgID: "org-1", Plan: models.PlanFree}
}

func ms(v int64) *int64 { return &v }

func TestIngestPlay(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	res, ierr := ing.Ingest(context.Background(), testPrincipal(), &Event{
		TrackID:        "track-1",
		Type:           models.InteractionPlay,
		PlayDurationMS: ms(120_000),
		Source:         models.SourceLibrary,
	})
	require.Nil(t, ierr)
	assert.False(t, res.Downgraded)
	assert.Equal(t, models.InteractionPlay, res.Interaction.Type)
	assert.NotEmpty(t, res.Interaction.ID)
}

func TestIngestRejectsImplausibleDuration(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	for _, dur := range []int64{-1, 2*trackDuration + 1} {
		_, ierr := ing.Ingest(context.Background(), testPrincipal(), &Event{
			TrackID:        "track-1",
			Type:           models.InteractionPlay,
			PlayDurationMS: ms(dur),
		})
		require.NotNil(t, ierr, "duration %d", dur)
		assert.Equal(t, KindValidationFailed, ierr.Kind)
	}
}

func TestIngestUnknownTrack(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	_, ierr := ing.Ingest(context.Background(), testPrincipal(), &Event{
		TrackID: "no-such-track",
		Type:    models.InteractionPlay,
	})
	require.NotNil(t, ierr)
	assert.Equal(t, KindNotFound, ierr.Kind)
}

func TestCompleteDowngradedBelowThreshold(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	// 79.9% of the track: below the 80% completion bound.
	res, ierr := ing.Ingest(context.Background(), testPrincipal(), &Event{
		TrackID:        "track-1",
		Type:           models.InteractionComplete,
		PlayDurationMS: ms(159_800),
	})
	require.Nil(t, ierr)
	assert.True(t, res.Downgraded)
	assert.Equal(t, models.InteractionPlay, res.Interaction.Type)
	require.NotNil(t, res.Interaction.CompletionOverride)
	assert.False(t, *res.Interaction.CompletionOverride)

	// At the bound it stays a complete.
	res, ierr = ing.Ingest(context.Background(), testPrincipal(), &Event{
		TrackID:        "track-1",
		Type:           models.InteractionComplete,
		PlayDurationMS: ms(160_000),
	})
	require.Nil(t, ierr)
	assert.False(t, res.Downgraded)
	assert.Equal(t, models.InteractionComplete, res.Interaction.Type)
	assert.Nil(t, res.Interaction.CompletionOverride)
}

func TestSkipDowngradedAboveThreshold(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	// Half the track or more is a listen, not a skip.
	res, ierr := ing.Ingest(context.Background(), testPrincipal(), &Event{
		TrackID:        "track-1",
		Type:           models.InteractionSkip,
		PlayDurationMS: ms(100_000),
	})
	require.Nil(t, ierr)
	assert.True(t, res.Downgraded)
	assert.Equal(t, models.InteractionPlay, res.Interaction.Type)

	res, ierr = ing.Ingest(context.Background(), testPrincipal(), &Event{
		TrackID:        "track-1",
		Type:           models.InteractionSkip,
		PlayDurationMS: ms(30_000),
	})
	require.Nil(t, ierr)
	assert.False(t, res.Downgraded)
	assert.Equal(t, models.InteractionSkip, res.Interaction.Type)
}

func TestSessionOwnershipAndStaleSeq(t *testing.T) {
	ing, repo, clk := newTestIngestor(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateSession(ctx, &models.Session{
		ID: "sess-1", UserID: "user-1", DeviceID: "dev-1",
		DeviceType: models.DeviceWeb, State: models.SessionActive,
		StartedAt: clk.Now(), LastHeartbeatAt: clk.Now(),
	}))
	require.NoError(t, repo.CreateUser(ctx, &models.User{
		ID: "user-2", OrgID: "org-1", Email: "bob@example.com",
		Role: models.RoleUser, IsActive: true, CreatedAt: clk.Now(),
	}))

	// A foreign session is indistinguishable from a missing one.
	_, ierr := ing.Ingest(ctx, &models.Principal{UserID: "user-2", OrgID: "org-1", Plan: models.PlanFree}, &Event{
		TrackID: "track-1", Type: models.InteractionPlay, SessionID: "sess-1",
	})
	require.NotNil(t, ierr)
	assert.Equal(t, KindNotFound, ierr.Kind)

	// In-order sequence numbers pass.
	_, ierr = ing.Ingest(ctx, testPrincipal(), &Event{
		TrackID: "track-1", Type: models.InteractionPlay, SessionID: "sess-1", ClientSeq: 5,
	})
	require.Nil(t, ierr)

	// Replaying an old sequence number is stale.
	_, ierr = ing.Ingest(ctx, testPrincipal(), &Event{
		TrackID: "track-1", Type: models.InteractionPlay, SessionID: "sess-1", ClientSeq: 5,
	})
	require.NotNil(t, ierr)
	assert.Equal(t, KindStaleEvent, ierr.Kind)
	assert.Equal(t, int64(5), ierr.Details["last_client_seq"])

	_, ierr = ing.Ingest(ctx, testPrincipal(), &Event{
		TrackID: "track-1", Type: models.InteractionPlay, SessionID: "sess-1", ClientSeq: 6,
	})
	assert.Nil(t, ierr)
}

func TestRecommendationFlagsSetTrueOnce(t *testing.T) {
	ing, repo, clk := newTestIngestor(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertImpressions(ctx, []*models.Impression{
		{ID: "imp-1", UserID: "user-1", TrackID: "track-1", RecommendationID: "rec-1", Position: 0, ShownAt: clk.Now()},
	}))

	_, ierr := ing.Ingest(ctx, testPrincipal(), &Event{
		TrackID: "track-1", Type: models.InteractionPlay,
		RecommendationID: "rec-1", Source: models.SourceRecommendation,
		PlayDurationMS: ms(60_000),
	})
	require.Nil(t, ierr)

	imps, err := repo.ImpressionsByRecommendation(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, imps[0].Clicked)
	assert.True(t, imps[0].Played)
	assert.False(t, imps[0].Liked)

	// A like on the same recommendation adds the liked flag; played stays.
	_, ierr = ing.Ingest(ctx, testPrincipal(), &Event{
		TrackID: "track-1", Type: models.InteractionLike,
		RecommendationID: "rec-1", Source: models.SourceRecommendation,
	})
	require.Nil(t, ierr)

	imps, err = repo.ImpressionsByRecommendation(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, imps[0].Played)
	assert.True(t, imps[0].Liked)
}

func TestRecommendationForeignImpressionHidden(t *testing.T) {
	ing, repo, clk := newTestIngestor(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, &models.User{
		ID: "user-2", OrgID: "org-1", Email: "bob@example.com",
		Role: models.RoleUser, IsActive: true, CreatedAt: clk.Now(),
	}))
	require.NoError(t, repo.InsertImpressions(ctx, []*models.Impression{
		{ID: "imp-1", UserID: "user-2", TrackID: "track-1", RecommendationID: "rec-1", ShownAt: clk.Now()},
	}))

	_, ierr := ing.Ingest(ctx, testPrincipal(), &Event{
		TrackID: "track-1", Type: models.InteractionPlay, RecommendationID: "rec-1",
	})
	require.NotNil(t, ierr)
	assert.Equal(t, KindNotFound, ierr.Kind)
}

func TestIngestBatchStopsOnFirstHardError(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	batch := ing.IngestBatch(context.Background(), testPrincipal(), []*Event{
		{TrackID: "track-1", Type: models.InteractionPlay, PlayDurationMS: ms(10_000)},
		// Soft downgrade: does not stop the batch.
		{TrackID: "track-1", Type: models.InteractionComplete, PlayDurationMS: ms(10_000)},
		// Hard error: unknown track.
		{TrackID: "missing", Type: models.InteractionPlay},
		{TrackID: "track-1", Type: models.InteractionPlay},
	})

	assert.Equal(t, 2, batch.Accepted)
	require.NotNil(t, batch.Err)
	assert.Equal(t, KindNotFound, batch.Err.Kind)
	assert.True(t, batch.Results[1].Downgraded)
}

func TestFeedbackClosesTheLoopIdempotently(t *testing.T) {
	ing, repo, clk := newTestIngestor(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertImpressions(ctx, []*models.Impression{
		{ID: "imp-1", UserID: "user-1", TrackID: "track-1", RecommendationID: "rec-1", ShownAt: clk.Now()},
	}))

	res, ierr := ing.Feedback(ctx, testPrincipal(), "rec-1", models.FeedbackPlayed)
	require.Nil(t, ierr)
	assert.False(t, res.AlreadyRecorded)
	assert.NotEmpty(t, res.InteractionID)

	imps, err := repo.ImpressionsByRecommendation(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, imps[0].Played)

	before := len(repo.Interactions())
	res, ierr = ing.Feedback(ctx, testPrincipal(), "rec-1", models.FeedbackPlayed)
	require.Nil(t, ierr)
	assert.True(t, res.AlreadyRecorded)
	assert.Len(t, repo.Interactions(), before, "replay writes nothing")
}

func TestTelemetryWrites(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	ctx := context.Background()

	id, ierr := ing.RecordSearch(ctx, testPrincipal(), &SearchEvent{Query: "jazz", ResultCount: 12})
	require.Nil(t, ierr)
	assert.NotEmpty(t, id)

	id, ierr = ing.RecordView(ctx, testPrincipal(), &ViewEvent{EntityType: "album", EntityID: "alb-1"})
	require.Nil(t, ierr)
	assert.NotEmpty(t, id)

	id, ierr = ing.RecordPlayerEvent(ctx, testPrincipal(), &PlayerEventInput{Event: "seek", PositionMS: ms(4_000)})
	require.Nil(t, ierr)
	assert.NotEmpty(t, id)

	_, ierr = ing.RecordView(ctx, testPrincipal(), &ViewEvent{EntityType: "blog", EntityID: "x"})
	require.NotNil(t, ierr)
	assert.Equal(t, KindValidationFailed, ierr.Kind)
}
