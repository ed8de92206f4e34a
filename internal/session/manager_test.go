// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunetrail/tunetrail/internal/cache"
	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

func newTestManager(t *testing.T) (*Manager, *repository.Memory, *clock.Fake) {
	t.Helper()
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := cache.NewMemory(clk)
	logger := logging.NewTestLogger(io.Discard)

	ctx := context.Background()
	require.NoError(t, repo.CreateOrganization(ctx, &models.Organization{
		ID: "org-1", Slug: "acme", Plan: models.PlanFree, CreatedAt: clk.Now(),
	}))
	require.NoError(t, repo.CreateUser(ctx, &models.User{
		ID: "user-1", OrgID: "org-1", Email: "alice@example.com",
		Role: models.RoleUser, IsActive: true, CreatedAt: clk.Now(),
	}))

	return NewManager(repo, store, clk, clk, 0, &logger), repo, clk
}

func TestStartHeartbeatEnd(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "user-1", "dev-1", models.DeviceMobile, map[string]string{"app": "ios"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, s.State)

	clk.Advance(5 * time.Minute)
	pos := int64(42_000)
	require.NoError(t, m.Heartbeat(ctx, s.ID, "user-1", &pos, "track-9"))

	got, err := m.Get(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42_000), got.PositionMS)
	assert.Equal(t, "track-9", got.CurrentTrackID)
	assert.Equal(t, clk.Now(), got.LastHeartbeatAt)

	clk.Advance(3 * time.Minute)
	sum, err := m.End(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, EndedByClient, sum.EndedBy)
	assert.Equal(t, (8 * time.Minute).Milliseconds(), sum.TotalDurationMS)

	got, err = m.Get(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, got.State)
}

func TestEndIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "user-1", "dev-1", models.DeviceWeb, nil)
	require.NoError(t, err)

	first, err := m.End(ctx, s.ID, "user-1")
	require.NoError(t, err)
	second, err := m.End(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSummaryCountsFromInteractions(t *testing.T) {
	m, repo, clk := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "user-1", "dev-1", models.DeviceWeb, nil)
	require.NoError(t, err)

	for i, typ := range []models.InteractionType{
		models.InteractionPlay,
		models.InteractionComplete,
		models.InteractionSkip,
		models.InteractionPlay,
		models.InteractionLike, // does not count toward plays or skips
	} {
		require.NoError(t, repo.InsertInteraction(ctx, &models.Interaction{
			ID: clk.NewID(), UserID: "user-1", TrackID: "track-1",
			SessionID: s.ID, ClientSeq: int64(i + 1), Type: typ,
			Source: models.SourceLibrary, CreatedAt: clk.Now(),
		}))
	}

	sum, err := m.End(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TracksPlayed)
	assert.Equal(t, 1, sum.TracksSkipped)
	assert.InDelta(t, 1.0/3.0, sum.CompletionRate, 1e-9)
}

func TestStartSupersedesActiveSessionOnSameDevice(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Start(ctx, "user-1", "dev-1", models.DeviceWeb, nil)
	require.NoError(t, err)
	second, err := m.Start(ctx, "user-1", "dev-1", models.DeviceWeb, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	got, err := m.Get(ctx, first.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, got.State)

	sum, err := m.Summary(ctx, first.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, EndedBySuperseded, sum.EndedBy)

	// A different device keeps its own session.
	third, err := m.Start(ctx, "user-1", "dev-2", models.DeviceMobile, nil)
	require.NoError(t, err)
	got, err = m.Get(ctx, second.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, got.State)
	_ = third
}

func TestIdleTimeoutBoundaryIsExclusive(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "user-1", "dev-1", models.DeviceWeb, nil)
	require.NoError(t, err)

	// A heartbeat landing exactly at the idle timeout keeps the session alive.
	clk.Advance(DefaultIdleTimeout)
	require.NoError(t, m.Heartbeat(ctx, s.ID, "user-1", nil, ""))

	// The sweep honors the same boundary: exactly idle is not yet stale.
	clk.Advance(DefaultIdleTimeout)
	expired, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	got, err := m.Get(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, got.State)

	// One tick past the boundary expires it.
	clk.Advance(time.Second)
	expired, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	sum, err := m.Summary(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, EndedByTimeout, sum.EndedBy)
}

func TestHeartbeatAfterIdleTimeoutExpires(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "user-1", "dev-1", models.DeviceWeb, nil)
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)
	err = m.Heartbeat(ctx, s.ID, "user-1", nil, "")
	assert.ErrorIs(t, err, ErrEnded)

	sum, err := m.Summary(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, EndedByTimeout, sum.EndedBy)
}

func TestEndAfterIdleTimeoutRecordsTimeout(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "user-1", "dev-1", models.DeviceWeb, nil)
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)
	sum, err := m.End(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, EndedByTimeout, sum.EndedBy)

	// Idempotent after the timeout path too.
	again, err := m.End(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, sum, again)
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	idle, err := m.Start(ctx, "user-1", "dev-1", models.DeviceWeb, nil)
	require.NoError(t, err)
	clk.Advance(10 * time.Minute)
	fresh, err := m.Start(ctx, "user-1", "dev-2", models.DeviceMobile, nil)
	require.NoError(t, err)

	clk.Advance(6 * time.Minute) // idle is now 16m stale, fresh only 6m

	expired, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := m.Get(ctx, idle.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, got.State)
	sum, err := m.Summary(ctx, idle.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, EndedByTimeout, sum.EndedBy)

	got, err = m.Get(ctx, fresh.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, got.State)

	// A second sweep finds nothing new.
	expired, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}

func TestSessionOwnershipHidden(t *testing.T) {
	m, repo, clk := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, &models.User{
		ID: "user-2", OrgID: "org-1", Email: "bob@example.com",
		Role: models.RoleUser, IsActive: true, CreatedAt: clk.Now(),
	}))

	s, err := m.Start(ctx, "user-1", "dev-1", models.DeviceWeb, nil)
	require.NoError(t, err)

	_, err = m.Get(ctx, s.ID, "user-2")
	assert.ErrorIs(t, err, ErrNotFound)
	err = m.Heartbeat(ctx, s.ID, "user-2", nil, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.End(ctx, s.ID, "user-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
