package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/luxlabs/lux-analytics/internal/models"
)

// ClickHouseEventStore implements EventStore on ClickHouse for high-volume
// tenants. The ReplacingMergeTree engine keyed by (tenant_id, id) gives the
// same idempotent-append semantics as the Postgres store: a retried append
// collapses into one row at merge time and reads deduplicate with FINAL.
type ClickHouseEventStore struct {
	conn driver.Conn
}

// NewClickHouseEventStore creates a ClickHouse-backed event store.
func NewClickHouseEventStore(conn driver.Conn) *ClickHouseEventStore {
	return &ClickHouseEventStore{conn: conn}
}

// InitSchema creates the events table if it does not exist.
func (s *ClickHouseEventStore) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS raw_events (
		tenant_id      String,
		id             String,
		event_name     LowCardinality(String),
		occurred_at    DateTime64(3, 'UTC'),
		session_id     String,
		visitor_id     String,
		user_id        String,
		page_url       String,
		referrer       String,
		utm_source     String,
		utm_medium     String,
		utm_campaign   String,
		device_type    LowCardinality(String),
		viewport_width Int32,
		orientation    LowCardinality(String),
		geo_country    LowCardinality(String),
		ip_hash        String,
		email_hash     String,
		properties     String
	) ENGINE = ReplacingMergeTree
	ORDER BY (tenant_id, id)
	PARTITION BY toYYYYMM(occurred_at)
	SETTINGS index_granularity = 8192
	`
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create raw_events table: %w", err)
	}
	return nil
}

// Append inserts one event via a single-row batch.
func (s *ClickHouseEventStore) Append(ctx context.Context, event *models.Event) error {
	props, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode event properties: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO raw_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	if err := batch.Append(
		event.TenantID, event.ID, event.EventName, event.OccurredAt.UTC(),
		event.SessionID, event.VisitorID, event.UserID,
		event.PageURL, event.Referrer,
		event.UTMSource, event.UTMMedium, event.UTMCampaign,
		event.DeviceType, int32(event.ViewportWidth), event.Orientation,
		event.GeoCountry, event.IPHash, event.EmailHash,
		string(props),
	); err != nil {
		return fmt.Errorf("failed to append event to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

const chEventColumns = `
	tenant_id, id, event_name, occurred_at, session_id, visitor_id,
	user_id, page_url, referrer, utm_source, utm_medium, utm_campaign,
	device_type, viewport_width, orientation, geo_country,
	ip_hash, email_hash, properties`

// QueryRange scans a tenant's events ordered by occurred_at.
func (s *ClickHouseEventStore) QueryRange(ctx context.Context, tenantID string, from, to time.Time, filter models.EventFilter) ([]*models.Event, error) {
	query := `SELECT` + chEventColumns + `
		FROM raw_events FINAL
		WHERE tenant_id = ? AND occurred_at >= ? AND occurred_at <= ?`
	args := []interface{}{tenantID, from.UTC(), to.UTC()}

	if filter.EventName != "" {
		query += " AND event_name = ?"
		args = append(args, filter.EventName)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.VisitorID != "" {
		query += " AND visitor_id = ?"
		args = append(args, filter.VisitorID)
	}
	query += " ORDER BY occurred_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanCHEvents(rows)
}

// QueryBySession returns one session's events ordered by occurred_at.
func (s *ClickHouseEventStore) QueryBySession(ctx context.Context, tenantID, sessionID string) ([]*models.Event, error) {
	rows, err := s.conn.Query(ctx, `SELECT`+chEventColumns+`
		FROM raw_events FINAL
		WHERE tenant_id = ? AND session_id = ?
		ORDER BY occurred_at ASC
	`, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	return scanCHEvents(rows)
}

// DistinctTenants lists tenants with events in the range.
func (s *ClickHouseEventStore) DistinctTenants(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT tenant_id FROM raw_events
		WHERE occurred_at >= ? AND occurred_at <= ?
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

func scanCHEvents(rows driver.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var viewportWidth int32
		var props string

		if err := rows.Scan(
			&e.TenantID, &e.ID, &e.EventName, &e.OccurredAt, &e.SessionID, &e.VisitorID,
			&e.UserID, &e.PageURL, &e.Referrer, &e.UTMSource, &e.UTMMedium, &e.UTMCampaign,
			&e.DeviceType, &viewportWidth, &e.Orientation, &e.GeoCountry,
			&e.IPHash, &e.EmailHash, &props,
		); err != nil {
			return nil, err
		}

		e.ViewportWidth = int(viewportWidth)
		if props != "" && props != "null" {
			if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
				return nil, fmt.Errorf("failed to decode event properties: %w", err)
			}
		}

		events = append(events, &e)
	}
	return events, rows.Err()
}
