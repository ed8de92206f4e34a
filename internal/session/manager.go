// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package session manages listening session lifecycle: start, heartbeat,
// explicit end, and idle expiry. A session summary is finalized exactly once
// per session regardless of which path ends it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunetrail/tunetrail/internal/cache"
	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/metrics"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
)

const (
	// DefaultIdleTimeout is how long a session survives without a heartbeat.
	DefaultIdleTimeout = 15 * time.Minute

	// activeTagPrefix namespaces the cache tags the expiry sweep scans.
	activeTagPrefix = "session:active:"
)

// Terminal actor labels recorded in ended_by.
const (
	EndedByClient     = "client"
	EndedByTimeout    = "timeout"
	EndedBySuperseded = "superseded"
)

// ErrNotFound is returned for sessions that do not exist or belong to
// another user.
var ErrNotFound = errors.New("session: not found")

// ErrEnded is returned when an operation requires an active session.
var ErrEnded = errors.New("session: already ended")

// Manager drives the session state machine.
type Manager struct {
	repo   repository.Repository
	store  cache.Store
	clk    clock.Clock
	ids    clock.IDGen
	idle   time.Duration
	logger zerolog.Logger
}

// NewManager creates a session manager. idle of zero uses
// DefaultIdleTimeout.
func NewManager(repo repository.Repository, store cache.Store, clk clock.Clock, ids clock.IDGen, idle time.Duration, logger *zerolog.Logger) *Manager {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Manager{
		repo:   repo,
		store:  store,
		clk:    clk,
		ids:    ids,
		idle:   idle,
		logger: logger.With().Str("component", "session_manager").Logger(),
	}
}

// Start opens a new session for (user, device). An existing active session
// on the same pair is expired first and its summary emitted.
func (m *Manager) Start(ctx context.Context, userID, deviceID string, deviceType models.DeviceType, clientContext map[string]string) (*models.Session, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if deviceType == "" {
		deviceType = models.DeviceOther
	}
	if !deviceType.Valid() {
		return nil, fmt.Errorf("unknown device_type %q", deviceType)
	}

	now := m.clk.Now()
	if prior, err := m.repo.GetActiveSession(ctx, userID, deviceID); err == nil {
		if _, err := m.finalize(ctx, prior, EndedBySuperseded, now); err != nil {
			return nil, fmt.Errorf("failed to supersede session %s: %w", prior.ID, err)
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("active session lookup failed: %w", err)
	}

	s := &models.Session{
		ID:              m.ids.NewID(),
		UserID:          userID,
		DeviceID:        deviceID,
		DeviceType:      deviceType,
		State:           models.SessionActive,
		StartedAt:       now,
		LastHeartbeatAt: now,
		ClientContext:   clientContext,
	}
	if err := m.repo.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.tag(ctx, s.ID)

	m.logger.Info().
		Str("session_id", s.ID).
		Str("user_id", userID).
		Str("device_type", string(deviceType)).
		Msg("session started")
	return s, nil
}

// Heartbeat refreshes a session's liveness and opportunistically persists the
// last known playback position.
func (m *Manager) Heartbeat(ctx context.Context, sessionID, userID string, positionMS *int64, currentTrackID string) error {
	s, err := m.owned(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	now := m.clk.Now()

	if s.State != models.SessionActive {
		return ErrEnded
	}
	// Strictly past the idle window: a heartbeat landing exactly on the
	// boundary still counts.
	if now.Sub(s.LastHeartbeatAt) > m.idle {
		// The sweep has not caught this one yet; expire it now.
		if _, err := m.finalize(ctx, s, EndedByTimeout, now); err != nil {
			return err
		}
		return ErrEnded
	}

	s.LastHeartbeatAt = now
	if positionMS != nil {
		s.PositionMS = *positionMS
	}
	if currentTrackID != "" {
		s.CurrentTrackID = currentTrackID
	}
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("failed to persist heartbeat: %w", err)
	}
	return nil
}

// End finalizes a session on behalf of its owner. Ending an already-ended
// session succeeds without state change and returns the existing summary.
func (m *Manager) End(ctx context.Context, sessionID, userID string) (*models.SessionSummary, error) {
	s, err := m.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	now := m.clk.Now()

	endedBy := EndedByClient
	if s.State == models.SessionActive && now.Sub(s.LastHeartbeatAt) > m.idle {
		endedBy = EndedByTimeout
	}
	return m.finalize(ctx, s, endedBy, now)
}

// Get returns a session owned by the caller.
func (m *Manager) Get(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	return m.owned(ctx, sessionID, userID)
}

// Summary returns the finalized summary of a session owned by the caller.
func (m *Manager) Summary(ctx context.Context, sessionID, userID string) (*models.SessionSummary, error) {
	if _, err := m.owned(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	sum, err := m.repo.GetSessionSummary(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return sum, err
}

// Sweep scans the active-session tags and expires every session past the
// idle timeout. Returns the number of sessions expired.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	keys, err := m.store.KeysByPrefix(ctx, activeTagPrefix)
	if err != nil {
		return 0, fmt.Errorf("active tag scan failed: %w", err)
	}
	now := m.clk.Now()

	var expired int
	for _, key := range keys {
		id := strings.TrimPrefix(key, activeTagPrefix)
		s, err := m.repo.GetSession(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			m.untag(ctx, id)
			continue
		}
		if err != nil {
			m.logger.Warn().Err(err).Str("session_id", id).Msg("sweep lookup failed")
			continue
		}
		if s.State != models.SessionActive {
			m.untag(ctx, id)
			continue
		}
		if now.Sub(s.LastHeartbeatAt) <= m.idle {
			continue
		}
		if _, err := m.finalize(ctx, s, EndedByTimeout, now); err != nil {
			m.logger.Warn().Err(err).Str("session_id", id).Msg("sweep finalize failed")
			continue
		}
		metrics.SessionsExpired.Inc()
		expired++
	}
	if expired > 0 {
		m.logger.Info().Int("expired", expired).Msg("expiry sweep finished")
	}
	return expired, nil
}

// finalize transitions a session to its terminal state and emits its summary
// exactly once. The conditional transition guards against double
// finalization: an already-terminal session only re-reads its summary, and
// the summary write itself is first-write-wins.
func (m *Manager) finalize(ctx context.Context, s *models.Session, endedBy string, now time.Time) (*models.SessionSummary, error) {
	if s.State != models.SessionActive {
		sum, err := m.repo.GetSessionSummary(ctx, s.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return sum, err
	}

	terminal := models.SessionEnded
	if endedBy == EndedByTimeout || endedBy == EndedBySuperseded {
		terminal = models.SessionExpired
	}
	endedAt := now
	s.State = terminal
	s.EndedAt = &endedAt
	s.EndedBy = endedBy
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to transition session: %w", err)
	}

	sum, err := m.summarize(ctx, s, endedBy, endedAt)
	if err != nil {
		return nil, err
	}
	if err := m.repo.SaveSessionSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("failed to save summary: %w", err)
	}
	m.untag(ctx, s.ID)

	m.logger.Info().
		Str("session_id", s.ID).
		Str("ended_by", endedBy).
		Int("tracks_played", sum.TracksPlayed).
		Msg("session finalized")

	// Re-read so concurrent finalizers all return the winning summary.
	saved, err := m.repo.GetSessionSummary(ctx, s.ID)
	if err != nil {
		return sum, nil
	}
	return saved, nil
}

// summarize computes the session summary from its interactions.
func (m *Manager) summarize(ctx context.Context, s *models.Session, endedBy string, endedAt time.Time) (*models.SessionSummary, error) {
	ins, err := m.repo.InteractionsBySession(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session interactions: %w", err)
	}

	var played, skipped, completed int
	for _, in := range ins {
		switch in.Type {
		case models.InteractionPlay:
			played++
		case models.InteractionComplete:
			played++
			completed++
		case models.InteractionSkip:
			skipped++
		}
	}
	var completionRate float64
	if played > 0 {
		completionRate = float64(completed) / float64(played)
	}

	return &models.SessionSummary{
		SessionID:       s.ID,
		UserID:          s.UserID,
		StartedAt:       s.StartedAt,
		EndedAt:         endedAt,
		EndedBy:         endedBy,
		TotalDurationMS: endedAt.Sub(s.StartedAt).Milliseconds(),
		TracksPlayed:    played,
		TracksSkipped:   skipped,
		CompletionRate:  completionRate,
		DeviceType:      s.DeviceType,
	}, nil
}

func (m *Manager) owned(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	s, err := m.repo.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if s.UserID != userID {
		// A foreign session's existence is not revealed.
		return nil, ErrNotFound
	}
	return s, nil
}

// tag records the active-session marker the sweep scans. Tag loss is
// tolerable: heartbeat and End still expire lazily.
func (m *Manager) tag(ctx context.Context, sessionID string) {
	if err := m.store.Set(ctx, activeTagPrefix+sessionID, []byte("1"), 0); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to tag active session")
	}
}

func (m *Manager) untag(ctx context.Context, sessionID string) {
	if err := m.store.Delete(ctx, activeTagPrefix+sessionID); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to clear session tag")
	}
}
