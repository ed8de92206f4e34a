// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tunetrail/tunetrail/internal/models"
)

// Memory is an in-memory Repository used by tests and local development.
// It mirrors the SQLite adapter's semantics, including unique constraints
// and cascade deletes.
type Memory struct {
	mu            sync.Mutex
	organizations map[string]*models.Organization
	users         map[string]*models.User
	apiKeys       map[string]*models.APIKey
	keyUsage      []*models.APIKeyUsageRecord
	sessions      map[string]*models.Session
	summaries     map[string]*models.SessionSummary
	interactions  []*models.Interaction
	impressions   []*models.Impression
	tracks        map[string]*models.Track
	searches      []*models.SearchQuery
	views         []*models.ContentView
	playerEvents  []*models.PlayerEvent
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		organizations: make(map[string]*models.Organization),
		users:         make(map[string]*models.User),
		apiKeys:       make(map[string]*models.APIKey),
		sessions:      make(map[string]*models.Session),
		summaries:     make(map[string]*models.SessionSummary),
		tracks:        make(map[string]*models.Track),
	}
}

// Close is a no-op for the in-memory adapter.
func (m *Memory) Close() error { return nil }

func cloneOrg(o *models.Organization) *models.Organization  { c := *o; return &c }
func cloneUser(u *models.User) *models.User                 { c := *u; return &c }
func cloneKey(k *models.APIKey) *models.APIKey              { c := *k; return &c }
func cloneSession(s *models.Session) *models.Session        { c := *s; return &c }
func cloneInteraction(i *models.Interaction) *models.Interaction {
	c := *i
	return &c
}
func cloneImpression(i *models.Impression) *models.Impression { c := *i; return &c }

// --- Organizations ---

func (m *Memory) CreateOrganization(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.organizations {
		if existing.Slug == org.Slug {
			return ErrConflict
		}
	}
	m.organizations[org.ID] = cloneOrg(org)
	return nil
}

func (m *Memory) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.organizations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrg(org), nil
}

func (m *Memory) GetOrganizationBySlug(_ context.Context, slug string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, org := range m.organizations {
		if org.Slug == slug {
			return cloneOrg(org), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateOrganizationPlan(_ context.Context, id string, plan models.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.organizations[id]
	if !ok {
		return ErrNotFound
	}
	org.Plan = plan
	return nil
}

func (m *Memory) DeleteOrganization(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.organizations[id]; !ok {
		return ErrNotFound
	}
	delete(m.organizations, id)

	userIDs := make(map[string]bool)
	for uid, u := range m.users {
		if u.OrgID == id {
			userIDs[uid] = true
			delete(m.users, uid)
		}
	}
	for kid, k := range m.apiKeys {
		if k.OrgID == id || userIDs[k.OwnerUserID] {
			delete(m.apiKeys, kid)
		}
	}
	for sid, s := range m.sessions {
		if userIDs[s.UserID] {
			delete(m.sessions, sid)
			delete(m.summaries, sid)
		}
	}
	m.interactions = filterInteractions(m.interactions, func(i *models.Interaction) bool {
		return !userIDs[i.UserID]
	})
	var imps []*models.Impression
	for _, imp := range m.impressions {
		if !userIDs[imp.UserID] {
			imps = append(imps, imp)
		}
	}
	m.impressions = imps
	return nil
}

func filterInteractions(in []*models.Interaction, keep func(*models.Interaction) bool) []*models.Interaction {
	var out []*models.Interaction
	for _, i := range in {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}

// --- Users ---

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := models.NormalizeEmail(user.Email)
	for _, existing := range m.users {
		if existing.Email == email {
			return ErrConflict
		}
		if user.Username != "" && existing.Username == user.Username {
			return ErrConflict
		}
	}
	u := cloneUser(user)
	u.Email = email
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

// SetUserActive toggles a user's active flag. Test helper.
func (m *Memory) SetUserActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsActive = active
	}
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = models.NormalizeEmail(email)
	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

// --- API keys ---

func (m *Memory) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys[key.ID] = cloneKey(key)
	return nil
}

func (m *Memory) GetAPIKey(_ context.Context, id string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneKey(k), nil
}

func (m *Memory) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.Prefix == prefix {
			out = append(out, cloneKey(k))
		}
	}
	return out, nil
}

func (m *Memory) GetAPIKeysByUser(_ context.Context, userID string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.OwnerUserID == userID {
			out = append(out, cloneKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) RevokeAPIKey(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	k.RevokedAt = &at
	return nil
}

func (m *Memory) TouchAPIKey(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.apiKeys[id]; ok {
		k.LastUsedAt = &usedAt
	}
	return nil
}

func (m *Memory) AppendAPIKeyUsage(_ context.Context, rec *models.APIKeyUsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rec
	m.keyUsage = append(m.keyUsage, &c)
	return nil
}

func (m *Memory) SummarizeAPIKeyUsage(_ context.Context, keyID string, from, to time.Time) (*models.APIKeyUsageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := &models.APIKeyUsageSummary{
		KeyID:       keyID,
		ByEndpoint:  make(map[string]int),
		WindowStart: from,
		WindowEnd:   to,
	}
	for _, rec := range m.keyUsage {
		if rec.KeyID != keyID {
			continue
		}
		if sum.LastUsedAt == nil || rec.CreatedAt.After(*sum.LastUsedAt) {
			t := rec.CreatedAt
			sum.LastUsedAt = &t
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		sum.TotalRequests++
		if rec.StatusCode >= 400 {
			sum.ErrorRequests++
		}
		sum.ByEndpoint[rec.Endpoint]++
	}
	return sum, nil
}

// --- Sessions ---

func (m *Memory) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *Memory) UpdateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *Memory) GetActiveSession(_ context.Context, userID, deviceID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.DeviceID == deviceID && s.State == models.SessionActive {
			if latest == nil || s.StartedAt.After(latest.StartedAt) {
				latest = s
			}
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneSession(latest), nil
}

func (m *Memory) SaveSessionSummary(_ context.Context, sum *models.SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// First write wins, mirroring INSERT OR IGNORE.
	if _, ok := m.summaries[sum.SessionID]; ok {
		return nil
	}
	c := *sum
	m.summaries[sum.SessionID] = &c
	return nil
}

func (m *Memory) GetSessionSummary(_ context.Context, sessionID string) (*models.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, ok := m.summaries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sum
	return &c, nil
}

// --- Interactions ---

func (m *Memory) InsertInteraction(_ context.Context, in *models.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions = append(m.interactions, cloneInteraction(in))
	return nil
}

func (m *Memory) InteractionsBySession(_ context.Context, sessionID string) ([]*models.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Interaction
	for _, i := range m.interactions {
		if i.SessionID == sessionID {
			out = append(out, cloneInteraction(i))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ClientSeq != out[b].ClientSeq {
			return out[a].ClientSeq < out[b].ClientSeq
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func (m *Memory) FeedbackInteractionExists(_ context.Context, userID, recommendationID string, t models.InteractionType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.interactions {
		if i.UserID == userID && i.RecommendationID == recommendationID && i.Type == t {
			return true, nil
		}
	}
	return false, nil
}

// Interactions returns a snapshot of every stored interaction. Test helper.
func (m *Memory) Interactions() []*models.Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Interaction, 0, len(m.interactions))
	for _, i := range m.interactions {
		out = append(out, cloneInteraction(i))
	}
	return out
}

// --- Impressions ---

func (m *Memory) InsertImpressions(_ context.Context, imps []*models.Impression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, imp := range imps {
		m.impressions = append(m.impressions, cloneImpression(imp))
	}
	return nil
}

func (m *Memory) ImpressionsByRecommendation(_ context.Context, recommendationID string) ([]*models.Impression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Impression
	for _, imp := range m.impressions {
		if imp.RecommendationID == recommendationID {
			out = append(out, cloneImpression(imp))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Position < out[b].Position })
	return out, nil
}

func (m *Memory) MarkImpression(_ context.Context, recommendationID, trackID string, clicked, played, liked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, imp := range m.impressions {
		if imp.RecommendationID != recommendationID {
			continue
		}
		if trackID != "" && imp.TrackID != trackID {
			continue
		}
		imp.Clicked = imp.Clicked || clicked
		imp.Played = imp.Played || played
		imp.Liked = imp.Liked || liked
	}
	return nil
}

// --- Tracks ---

func (m *Memory) GetTrack(_ context.Context, id string) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *Memory) GetTracks(_ context.Context, ids []string) (map[string]*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*models.Track, len(ids))
	for _, id := range ids {
		if t, ok := m.tracks[id]; ok {
			c := *t
			out[id] = &c
		}
	}
	return out, nil
}

func (m *Memory) UpsertTrack(_ context.Context, t *models.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	m.tracks[t.ID] = &c
	return nil
}

// --- Telemetry ---

func (m *Memory) InsertSearchQuery(_ context.Context, q *models.SearchQuery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *q
	m.searches = append(m.searches, &c)
	return nil
}

func (m *Memory) InsertContentView(_ context.Context, v *models.ContentView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *v
	m.views = append(m.views, &c)
	return nil
}

func (m *Memory) InsertPlayerEvent(_ context.Context, e *models.PlayerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	m.playerEvents = append(m.playerEvents, &c)
	return nil
}
