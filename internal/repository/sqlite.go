// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/tunetrail/tunetrail/internal/models"
)

// SQLite is the production Repository adapter over a single SQLite file.
// Foreign keys with ON DELETE CASCADE implement the ownership cascade.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the entity store at dsn and applies the
// schema. Use ":memory:" for throwaway stores.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

// --- Organizations ---

func (s *SQLite) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, slug, plan, max_users, max_tracks, feature_overrides, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		org.ID, org.Slug, string(org.Plan), org.MaxUsers, org.MaxTracks,
		marshalJSON(org.FeatureOverrides), org.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("organization %s: %w", org.Slug, ErrConflict)
	}
	return err
}

func (s *SQLite) scanOrganization(row *sql.Row) (*models.Organization, error) {
	var org models.Organization
	var plan, overrides string
	err := row.Scan(&org.ID, &org.Slug, &plan, &org.MaxUsers, &org.MaxTracks, &overrides, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	org.Plan = models.Plan(plan)
	if err := json.Unmarshal([]byte(overrides), &org.FeatureOverrides); err != nil {
		org.FeatureOverrides = nil
	}
	return &org, nil
}

func (s *SQLite) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	return s.scanOrganization(s.db.QueryRowContext(ctx,
		`SELECT id, slug, plan, max_users, max_tracks, feature_overrides, created_at
		 FROM organizations WHERE id = ?`, id))
}

func (s *SQLite) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	return s.scanOrganization(s.db.QueryRowContext(ctx,
		`SELECT id, slug, plan, max_users, max_tracks, feature_overrides, created_at
		 FROM organizations WHERE slug = ?`, slug))
}

func (s *SQLite) UpdateOrganizationPlan(ctx context.Context, id string, plan models.Plan) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET plan = ? WHERE id = ?`, string(plan), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteOrganization(ctx context.Context, id string) error {
	// ON DELETE CASCADE removes users; users cascade to keys, sessions,
	// interactions, impressions, and telemetry.
	res, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Users ---

func (s *SQLite) CreateUser(ctx context.Context, user *models.User) error {
	var username any
	if user.Username != "" {
		username = user.Username
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, org_id, email, username, password_hash, role, is_active, email_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.OrgID, models.NormalizeEmail(user.Email), username,
		user.PasswordHash, string(user.Role), user.IsActive, user.EmailVerified, user.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", user.Email, ErrConflict)
	}
	return err
}

func (s *SQLite) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var username sql.NullString
	var role string
	err := row.Scan(&u.ID, &u.OrgID, &u.Email, &username, &u.PasswordHash,
		&role, &u.IsActive, &u.EmailVerified, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Username = username.String
	u.Role = models.Role(role)
	return &u, nil
}

func (s *SQLite) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, org_id, email, username, password_hash, role, is_active, email_verified, created_at
		 FROM users WHERE id = ?`, id))
}

func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, org_id, email, username, password_hash, role, is_active, email_verified, created_at
		 FROM users WHERE email = ?`, models.NormalizeEmail(email)))
}

// --- API keys ---

const apiKeyColumns = `id, owner_user_id, org_id, hash, prefix, name, scopes, environment,
	limits, expires_at, revoked_at, last_used_at, ip_allowlist, is_active, created_at`

func (s *SQLite) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.OwnerUserID, key.OrgID, key.Hash, key.Prefix, key.Name,
		marshalJSON(key.Scopes), string(key.Environment), marshalJSON(key.Limits),
		nullTime(key.ExpiresAt), nullTime(key.RevokedAt), nullTime(key.LastUsedAt),
		marshalJSON(key.IPAllowlist), key.IsActive, key.CreatedAt)
	return err
}

func scanAPIKey(scan func(dest ...any) error) (*models.APIKey, error) {
	var k models.APIKey
	var scopes, env, limits, allowlist string
	var expiresAt, revokedAt, lastUsedAt sql.NullTime
	err := scan(&k.ID, &k.OwnerUserID, &k.OrgID, &k.Hash, &k.Prefix, &k.Name,
		&scopes, &env, &limits, &expiresAt, &revokedAt, &lastUsedAt,
		&allowlist, &k.IsActive, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	k.Environment = models.Environment(env)
	_ = json.Unmarshal([]byte(scopes), &k.Scopes)
	_ = json.Unmarshal([]byte(limits), &k.Limits)
	_ = json.Unmarshal([]byte(allowlist), &k.IPAllowlist)
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}
	return &k, nil
}

func (s *SQLite) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	return scanAPIKey(row.Scan)
}

func (s *SQLite) queryAPIKeys(ctx context.Context, query string, args ...any) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	return s.queryAPIKeys(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE prefix = ?`, prefix)
}

func (s *SQLite) GetAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	return s.queryAPIKeys(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_user_id = ? ORDER BY created_at`, userID)
}

func (s *SQLite) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, usedAt, id)
	return err
}

func (s *SQLite) AppendAPIKeyUsage(ctx context.Context, rec *models.APIKeyUsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_key_usage (id, key_id, user_id, endpoint, method, status_code, ip_address, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.KeyID, rec.UserID, rec.Endpoint, rec.Method, rec.StatusCode,
		rec.IPAddress, rec.LatencyMS, rec.CreatedAt)
	return err
}

func (s *SQLite) SummarizeAPIKeyUsage(ctx context.Context, keyID string, from, to time.Time) (*models.APIKeyUsageSummary, error) {
	sum := &models.APIKeyUsageSummary{
		KeyID:       keyID,
		ByEndpoint:  make(map[string]int),
		WindowStart: from,
		WindowEnd:   to,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, COUNT(*), SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END)
		 FROM api_key_usage WHERE key_id = ? AND created_at >= ? AND created_at < ?
		 GROUP BY endpoint`, keyID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var endpoint string
		var count, errCount int64
		if err := rows.Scan(&endpoint, &count, &errCount); err != nil {
			return nil, err
		}
		sum.ByEndpoint[endpoint] = int(count)
		sum.TotalRequests += count
		sum.ErrorRequests += errCount
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var lastUsed sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM api_key_usage WHERE key_id = ?`, keyID).Scan(&lastUsed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if lastUsed.Valid {
		sum.LastUsedAt = &lastUsed.Time
	}
	return sum, nil
}

// --- Sessions ---

const sessionColumns = `id, user_id, device_id, device_type, state, started_at, last_heartbeat_at,
	ended_at, ended_by, current_track_id, position_ms, last_client_seq, client_context`

func (s *SQLite) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.DeviceID, string(sess.DeviceType), string(sess.State),
		sess.StartedAt, sess.LastHeartbeatAt, nullTime(sess.EndedAt), sess.EndedBy,
		sess.CurrentTrackID, sess.PositionMS, sess.LastClientSeq, marshalJSON(sess.ClientContext))
	return err
}

func scanSession(scan func(dest ...any) error) (*models.Session, error) {
	var sess models.Session
	var deviceType, state, clientCtx string
	var endedAt sql.NullTime
	err := scan(&sess.ID, &sess.UserID, &sess.DeviceID, &deviceType, &state,
		&sess.StartedAt, &sess.LastHeartbeatAt, &endedAt, &sess.EndedBy,
		&sess.CurrentTrackID, &sess.PositionMS, &sess.LastClientSeq, &clientCtx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.DeviceType = models.DeviceType(deviceType)
	sess.State = models.SessionState(state)
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	_ = json.Unmarshal([]byte(clientCtx), &sess.ClientContext)
	return &sess, nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row.Scan)
}

func (s *SQLite) UpdateSession(ctx context.Context, sess *models.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET device_type = ?, state = ?, last_heartbeat_at = ?, ended_at = ?,
		 ended_by = ?, current_track_id = ?, position_ms = ?, last_client_seq = ?, client_context = ?
		 WHERE id = ?`,
		string(sess.DeviceType), string(sess.State), sess.LastHeartbeatAt,
		nullTime(sess.EndedAt), sess.EndedBy, sess.CurrentTrackID, sess.PositionMS,
		sess.LastClientSeq, marshalJSON(sess.ClientContext), sess.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) GetActiveSession(ctx context.Context, userID, deviceID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND device_id = ? AND state = 'active'
		 ORDER BY started_at DESC LIMIT 1`, userID, deviceID)
	return scanSession(row.Scan)
}

func (s *SQLite) SaveSessionSummary(ctx context.Context, sum *models.SessionSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_summaries
		 (session_id, user_id, started_at, ended_at, ended_by, total_duration_ms,
		  tracks_played, tracks_skipped, completion_rate, device_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, sum.UserID, sum.StartedAt, sum.EndedAt, sum.EndedBy,
		sum.TotalDurationMS, sum.TracksPlayed, sum.TracksSkipped, sum.CompletionRate,
		string(sum.DeviceType))
	return err
}

func (s *SQLite) GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	var sum models.SessionSummary
	var deviceType string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, started_at, ended_at, ended_by, total_duration_ms,
		 tracks_played, tracks_skipped, completion_rate, device_type
		 FROM session_summaries WHERE session_id = ?`, sessionID).
		Scan(&sum.SessionID, &sum.UserID, &sum.StartedAt, &sum.EndedAt, &sum.EndedBy,
			&sum.TotalDurationMS, &sum.TracksPlayed, &sum.TracksSkipped,
			&sum.CompletionRate, &deviceType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sum.DeviceType = models.DeviceType(deviceType)
	return &sum, nil
}

// --- Interactions ---

func (s *SQLite) InsertInteraction(ctx context.Context, in *models.Interaction) error {
	var sessionID any
	if in.SessionID != "" {
		sessionID = in.SessionID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, user_id, track_id, session_id, client_seq, type, created_at,
		 play_duration_ms, position_ms, source, source_id, recommendation_id, device_type,
		 skip_reason, mood, activity, completion_override, extensions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.UserID, in.TrackID, sessionID, in.ClientSeq, string(in.Type), in.CreatedAt,
		nullInt(in.PlayDurationMS), nullInt(in.PositionMS), string(in.Source), in.SourceID,
		in.RecommendationID, string(in.DeviceType), in.SkipReason, in.Mood, in.Activity,
		nullBool(in.CompletionOverride), marshalJSON(in.Extensions))
	return err
}

func (s *SQLite) InteractionsBySession(ctx context.Context, sessionID string) ([]*models.Interaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, track_id, session_id, client_seq, type, created_at,
		 play_duration_ms, position_ms, source, source_id, recommendation_id, device_type,
		 skip_reason, mood, activity, completion_override, extensions
		 FROM interactions WHERE session_id = ? ORDER BY client_seq, created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Interaction
	for rows.Next() {
		var in models.Interaction
		var sessID sql.NullString
		var typ, source, deviceType, ext string
		var playDur, posMS sql.NullInt64
		var compOverride sql.NullBool
		if err := rows.Scan(&in.ID, &in.UserID, &in.TrackID, &sessID, &in.ClientSeq,
			&typ, &in.CreatedAt, &playDur, &posMS, &source, &in.SourceID,
			&in.RecommendationID, &deviceType, &in.SkipReason, &in.Mood, &in.Activity,
			&compOverride, &ext); err != nil {
			return nil, err
		}
		in.SessionID = sessID.String
		in.Type = models.InteractionType(typ)
		in.Source = models.InteractionSource(source)
		in.DeviceType = models.DeviceType(deviceType)
		if playDur.Valid {
			in.PlayDurationMS = &playDur.Int64
		}
		if posMS.Valid {
			in.PositionMS = &posMS.Int64
		}
		if compOverride.Valid {
			in.CompletionOverride = &compOverride.Bool
		}
		_ = json.Unmarshal([]byte(ext), &in.Extensions)
		out = append(out, &in)
	}
	return out, rows.Err()
}

func (s *SQLite) FeedbackInteractionExists(ctx context.Context, userID, recommendationID string, t models.InteractionType) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions
		 WHERE user_id = ? AND recommendation_id = ? AND type = ?`,
		userID, recommendationID, string(t)).Scan(&n)
	return n > 0, err
}

// --- Impressions ---

func (s *SQLite) InsertImpressions(ctx context.Context, imps []*models.Impression) error {
	if len(imps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO impressions (id, user_id, track_id, recommendation_id, model_type,
		 model_version, score, position, context, shown_at, clicked, played, liked)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, imp := range imps {
		if _, err := stmt.ExecContext(ctx, imp.ID, imp.UserID, imp.TrackID,
			imp.RecommendationID, imp.ModelType, imp.ModelVersion, imp.Score,
			imp.Position, imp.Context, imp.ShownAt, imp.Clicked, imp.Played, imp.Liked); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) ImpressionsByRecommendation(ctx context.Context, recommendationID string) ([]*models.Impression, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, track_id, recommendation_id, model_type, model_version,
		 score, position, context, shown_at, clicked, played, liked
		 FROM impressions WHERE recommendation_id = ? ORDER BY position`, recommendationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Impression
	for rows.Next() {
		var imp models.Impression
		if err := rows.Scan(&imp.ID, &imp.UserID, &imp.TrackID, &imp.RecommendationID,
			&imp.ModelType, &imp.ModelVersion, &imp.Score, &imp.Position, &imp.Context,
			&imp.ShownAt, &imp.Clicked, &imp.Played, &imp.Liked); err != nil {
			return nil, err
		}
		out = append(out, &imp)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkImpression(ctx context.Context, recommendationID, trackID string, clicked, played, liked bool) error {
	// Flags only ever move false -> true; OR-ing keeps the update idempotent.
	query := `UPDATE impressions SET
		clicked = clicked OR ?,
		played  = played OR ?,
		liked   = liked OR ?
		WHERE recommendation_id = ?`
	args := []any{clicked, played, liked, recommendationID}
	if trackID != "" {
		query += ` AND track_id = ?`
		args = append(args, trackID)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// --- Tracks ---

func (s *SQLite) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	var t models.Track
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, artist_id, duration_ms, created_at FROM tracks WHERE id = ?`, id).
		Scan(&t.ID, &t.Title, &t.ArtistID, &t.DurationMS, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) GetTracks(ctx context.Context, ids []string) (map[string]*models.Track, error) {
	out := make(map[string]*models.Track, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, artist_id, duration_ms, created_at FROM tracks WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Track
		if err := rows.Scan(&t.ID, &t.Title, &t.ArtistID, &t.DurationMS, &t.CreatedAt); err != nil {
			return nil, err
		}
		out[t.ID] = &t
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertTrack(ctx context.Context, t *models.Track) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracks (id, title, artist_id, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title,
		   artist_id = excluded.artist_id, duration_ms = excluded.duration_ms`,
		t.ID, t.Title, t.ArtistID, t.DurationMS, t.CreatedAt)
	return err
}

// --- Telemetry ---

func (s *SQLite) InsertSearchQuery(ctx context.Context, q *models.SearchQuery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_queries (id, user_id, query, result_count, clicked_id, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.UserID, q.Query, q.ResultCount, q.ClickedID, q.SessionID, q.CreatedAt)
	return err
}

func (s *SQLite) InsertContentView(ctx context.Context, v *models.ContentView) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_views (id, user_id, entity_type, entity_id, session_id, device_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.UserID, v.EntityType, v.EntityID, v.SessionID, string(v.DeviceType), v.CreatedAt)
	return err
}

func (s *SQLite) InsertPlayerEvent(ctx context.Context, e *models.PlayerEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO player_events (id, user_id, session_id, track_id, event, position_ms, extensions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.SessionID, e.TrackID, e.Event, nullInt(e.PositionMS),
		marshalJSON(e.Extensions), e.CreatedAt)
	return err
}
