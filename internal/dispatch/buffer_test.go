// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package dispatch

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

func imp(i int) *models.Impression {
	return &models.Impression{
		ID:               fmt.Sprintf("imp-%d", i),
		UserID:           "user-1",
		TrackID:          fmt.Sprintf("track-%d", i),
		RecommendationID: "rec-1",
		Position:         i,
		ShownAt:          time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBufferDropsOldestOnOverflow(t *testing.T) {
	b := NewImpressionBuffer(3)

	for i := 0; i < 5; i++ {
		b.Add(imp(i))
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.Dropped())

	out := b.Drain(0)
	require.Len(t, out, 3)
	// The two oldest were dropped.
	assert.Equal(t, "imp-2", out[0].ID)
	assert.Equal(t, "imp-4", out[2].ID)
}

func TestBufferDrainBounded(t *testing.T) {
	b := NewImpressionBuffer(10)
	for i := 0; i < 5; i++ {
		b.Add(imp(i))
	}

	first := b.Drain(2)
	require.Len(t, first, 2)
	assert.Equal(t, "imp-0", first[0].ID)
	assert.Equal(t, 3, b.Len())
}

func TestFlusherPersistsBatches(t *testing.T) {
	repo := repository.NewMemory()
	logger := logging.NewTestLogger(io.Discard)
	b := NewImpressionBuffer(100)
	fl := NewFlusher(b, repo, time.Second, 2, &logger)

	for i := 0; i < 5; i++ {
		b.Add(imp(i))
	}
	fl.Flush(context.Background())

	assert.Equal(t, 0, b.Len())
	imps, err := repo.ImpressionsByRecommendation(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Len(t, imps, 5)
}
