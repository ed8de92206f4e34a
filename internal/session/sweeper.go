// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = 60 * time.Second

// Sweeper runs the session expiry sweep on a fixed interval. It is wired
// into the supervision tree; a crash is restarted by the supervisor.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper. interval of zero uses DefaultSweepInterval.
func NewSweeper(manager *Manager, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
		logger:   logger.With().Str("component", "session_sweeper").Logger(),
	}
}

// Serve implements suture.Service. It runs until the context is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.manager.Sweep(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Sweeper) String() string { return "session-sweeper" }
