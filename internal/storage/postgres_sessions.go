package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luxlabs/lux-analytics/internal/models"
)

// PostgresSessionStore implements SessionStore using PostgreSQL.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore creates a new PostgreSQL-backed session store.
func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Touch upserts a session from one event in a single statement, so two
// concurrent events for the same session cannot lose an update:
// last_seen_at is a monotonic max, started_at a monotonic min, and the
// first-touch fields follow whichever event carries the earliest timestamp.
func (s *PostgresSessionStore) Touch(ctx context.Context, touch models.SessionTouch) (*models.Session, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (
			tenant_id, session_id, visitor_id, user_id,
			started_at, last_seen_at, first_source, first_medium, first_campaign
		)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, session_id) DO UPDATE SET
			last_seen_at   = GREATEST(sessions.last_seen_at, EXCLUDED.last_seen_at),
			user_id        = COALESCE(sessions.user_id, EXCLUDED.user_id),
			first_source   = CASE WHEN EXCLUDED.started_at < sessions.started_at
			                      THEN EXCLUDED.first_source ELSE sessions.first_source END,
			first_medium   = CASE WHEN EXCLUDED.started_at < sessions.started_at
			                      THEN EXCLUDED.first_medium ELSE sessions.first_medium END,
			first_campaign = CASE WHEN EXCLUDED.started_at < sessions.started_at
			                      THEN EXCLUDED.first_campaign ELSE sessions.first_campaign END,
			started_at     = LEAST(sessions.started_at, EXCLUDED.started_at)
		RETURNING tenant_id, session_id, visitor_id, user_id,
		          started_at, last_seen_at, first_source, first_medium, first_campaign
	`,
		touch.TenantID, touch.SessionID, touch.VisitorID, nullString(touch.UserID),
		touch.OccurredAt.UTC(),
		nullString(touch.UTMSource), nullString(touch.UTMMedium), nullString(touch.UTMCampaign),
	)

	session, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	return session, nil
}

// Get returns a session or ErrNotFound.
func (s *PostgresSessionStore) Get(ctx context.Context, tenantID, sessionID string) (*models.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, session_id, visitor_id, user_id,
		       started_at, last_seen_at, first_source, first_medium, first_campaign
		FROM sessions WHERE tenant_id = $1 AND session_id = $2
	`, tenantID, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListByIdentity returns sessions started in [from, to] for the visitor or
// the bound user, ordered by started_at then session_id for deterministic
// attribution tie-breaks.
func (s *PostgresSessionStore) ListByIdentity(ctx context.Context, tenantID, visitorID, userID string, from, to time.Time) ([]*models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, session_id, visitor_id, user_id,
		       started_at, last_seen_at, first_source, first_medium, first_campaign
		FROM sessions
		WHERE tenant_id = $1
		  AND started_at >= $2 AND started_at <= $3
		  AND (($4 != '' AND visitor_id = $4) OR ($5 != '' AND user_id = $5))
		ORDER BY started_at ASC, session_id ASC
	`, tenantID, from.UTC(), to.UTC(), visitorID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	var userID, firstSource, firstMedium, firstCampaign *string

	err := row.Scan(
		&session.TenantID, &session.SessionID, &session.VisitorID, &userID,
		&session.StartedAt, &session.LastSeenAt,
		&firstSource, &firstMedium, &firstCampaign,
	)
	if err != nil {
		return nil, err
	}

	session.UserID = deref(userID)
	session.FirstSource = deref(firstSource)
	session.FirstMedium = deref(firstMedium)
	session.FirstCampaign = deref(firstCampaign)
	return &session, nil
}
