package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luxlabs/lux-analytics/internal/models"
)

// PostgresEventStore implements EventStore using PostgreSQL.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

// Append stores an event. The (tenant_id, id) primary key makes retried
// appends no-ops.
func (s *PostgresEventStore) Append(ctx context.Context, event *models.Event) error {
	props, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode event properties: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO raw_events (
			tenant_id, id, event_name, occurred_at, session_id, visitor_id,
			user_id, page_url, referrer, utm_source, utm_medium, utm_campaign,
			device_type, viewport_width, orientation, geo_country,
			ip_hash, email_hash, properties
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (tenant_id, id) DO NOTHING
	`,
		event.TenantID, event.ID, event.EventName, event.OccurredAt.UTC(),
		event.SessionID, event.VisitorID, nullString(event.UserID),
		nullString(event.PageURL), nullString(event.Referrer),
		nullString(event.UTMSource), nullString(event.UTMMedium), nullString(event.UTMCampaign),
		nullString(event.DeviceType), event.ViewportWidth, nullString(event.Orientation),
		nullString(event.GeoCountry), nullString(event.IPHash), nullString(event.EmailHash),
		props,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

const eventColumns = `
	tenant_id, id, event_name, occurred_at, session_id, visitor_id,
	user_id, page_url, referrer, utm_source, utm_medium, utm_campaign,
	device_type, viewport_width, orientation, geo_country,
	ip_hash, email_hash, properties`

// QueryRange scans a tenant's events ordered by occurred_at.
func (s *PostgresEventStore) QueryRange(ctx context.Context, tenantID string, from, to time.Time, filter models.EventFilter) ([]*models.Event, error) {
	query := `SELECT` + eventColumns + `
		FROM raw_events
		WHERE tenant_id = $1 AND occurred_at >= $2 AND occurred_at <= $3`
	args := []interface{}{tenantID, from.UTC(), to.UTC()}

	if filter.EventName != "" {
		args = append(args, filter.EventName)
		query += fmt.Sprintf(" AND event_name = $%d", len(args))
	}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if filter.VisitorID != "" {
		args = append(args, filter.VisitorID)
		query += fmt.Sprintf(" AND visitor_id = $%d", len(args))
	}
	query += " ORDER BY occurred_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// QueryBySession returns one session's events ordered by occurred_at.
func (s *PostgresEventStore) QueryBySession(ctx context.Context, tenantID, sessionID string) ([]*models.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT`+eventColumns+`
		FROM raw_events
		WHERE tenant_id = $1 AND session_id = $2
		ORDER BY occurred_at ASC
	`, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DistinctTenants lists tenants with events in the range.
func (s *PostgresEventStore) DistinctTenants(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM raw_events
		WHERE occurred_at >= $1 AND occurred_at <= $2
		ORDER BY tenant_id
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func scanEvents(rows pgx.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var userID, pageURL, referrer, utmSource, utmMedium, utmCampaign *string
		var deviceType, orientation, geoCountry, ipHash, emailHash *string
		var props []byte

		if err := rows.Scan(
			&e.TenantID, &e.ID, &e.EventName, &e.OccurredAt, &e.SessionID, &e.VisitorID,
			&userID, &pageURL, &referrer, &utmSource, &utmMedium, &utmCampaign,
			&deviceType, &e.ViewportWidth, &orientation, &geoCountry,
			&ipHash, &emailHash, &props,
		); err != nil {
			return nil, err
		}

		e.UserID = deref(userID)
		e.PageURL = deref(pageURL)
		e.Referrer = deref(referrer)
		e.UTMSource = deref(utmSource)
		e.UTMMedium = deref(utmMedium)
		e.UTMCampaign = deref(utmCampaign)
		e.DeviceType = deref(deviceType)
		e.Orientation = deref(orientation)
		e.GeoCountry = deref(geoCountry)
		e.IPHash = deref(ipHash)
		e.EmailHash = deref(emailHash)

		if len(props) > 0 {
			if err := json.Unmarshal(props, &e.Properties); err != nil {
				return nil, fmt.Errorf("failed to decode event properties: %w", err)
			}
		}

		events = append(events, &e)
	}
	return events, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
