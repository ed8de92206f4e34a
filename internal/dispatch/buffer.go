// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunetrail/tunetrail/internal/metrics"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

// DefaultBufferCapacity bounds the in-process impression queue.
const DefaultBufferCapacity = 10_000

// ImpressionBuffer is a bounded in-process queue decoupling impression
// persistence from the recommendation response path. When full, the oldest
// entries are dropped and counted; responses are never delayed.
type ImpressionBuffer struct {
	mu       sync.Mutex
	items    []*models.Impression
	capacity int
	dropped  uint64
}

// NewImpressionBuffer creates a buffer. capacity of zero uses
// DefaultBufferCapacity.
func NewImpressionBuffer(capacity int) *ImpressionBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &ImpressionBuffer{capacity: capacity}
}

// Add enqueues impressions, dropping the oldest entries on overflow.
func (b *ImpressionBuffer) Add(imps ...*models.Impression) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, imps...)
	if over := len(b.items) - b.capacity; over > 0 {
		b.items = b.items[over:]
		b.dropped += uint64(over)
		metrics.ImpressionsDropped.Add(float64(over))
	}
	metrics.ImpressionsBuffered.Set(float64(len(b.items)))
}

// Drain removes and returns up to max entries, oldest first.
func (b *ImpressionBuffer) Drain(max int) []*models.Impression {
	b.mu.Lock()
	defer b.mu.Unlock()

	if max <= 0 || max > len(b.items) {
		max = len(b.items)
	}
	out := make([]*models.Impression, max)
	copy(out, b.items[:max])
	b.items = b.items[max:]
	metrics.ImpressionsBuffered.Set(float64(len(b.items)))
	return out
}

// Requeue puts failed entries back at the front, respecting capacity.
func (b *ImpressionBuffer) Requeue(imps []*models.Impression) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(imps, b.items...)
	if over := len(b.items) - b.capacity; over > 0 {
		b.items = b.items[:b.capacity]
		b.dropped += uint64(over)
		metrics.ImpressionsDropped.Add(float64(over))
	}
	metrics.ImpressionsBuffered.Set(float64(len(b.items)))
}

// Len returns the number of queued impressions.
func (b *ImpressionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns how many impressions have been discarded on overflow.
func (b *ImpressionBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Flusher persists buffered impressions in the background. Supervised; a
// crash loses at most one in-flight batch.
type Flusher struct {
	buffer   *ImpressionBuffer
	repo     repository.Repository
	interval time.Duration
	batch    int
	logger   zerolog.Logger
}

// NewFlusher creates a flusher. interval of zero uses one second, batch of
// zero uses 500.
func NewFlusher(buffer *ImpressionBuffer, repo repository.Repository, interval time.Duration, batch int, logger *zerolog.Logger) *Flusher {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 500
	}
	return &Flusher{
		buffer:   buffer,
		repo:     repo,
		interval: interval,
		batch:    batch,
		logger:   logger.With().Str("component", "impression_flusher").Logger(),
	}
}

// Serve implements suture.Service. On shutdown it drains what remains.
func (f *Flusher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			f.flush(ctx)
		}
	}
}

// Flush drains and persists one batch. Exposed for tests and shutdown.
func (f *Flusher) Flush(ctx context.Context) { f.flush(ctx) }

func (f *Flusher) flush(ctx context.Context) {
	for {
		batch := f.buffer.Drain(f.batch)
		if len(batch) == 0 {
			return
		}
		if err := f.repo.InsertImpressions(ctx, batch); err != nil {
			f.logger.Warn().Err(err).Int("batch", len(batch)).Msg("impression flush failed, requeueing")
			f.buffer.Requeue(batch)
			return
		}
		metrics.ImpressionsFlushed.Add(float64(len(batch)))
		if len(batch) < f.batch {
			return
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (f *Flusher) String() string { return "impression-flusher" }
