package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InitSchema creates the analytics tables if they do not exist. Safe to run
// on every startup.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS raw_events (
			tenant_id       TEXT NOT NULL,
			id              TEXT NOT NULL,
			event_name      TEXT NOT NULL,
			occurred_at     TIMESTAMPTZ NOT NULL,
			session_id      TEXT NOT NULL DEFAULT '',
			visitor_id      TEXT NOT NULL DEFAULT '',
			user_id         TEXT,
			page_url        TEXT,
			referrer        TEXT,
			utm_source      TEXT,
			utm_medium      TEXT,
			utm_campaign    TEXT,
			device_type     TEXT,
			viewport_width  INT NOT NULL DEFAULT 0,
			orientation     TEXT,
			geo_country     TEXT,
			ip_hash         TEXT,
			email_hash      TEXT,
			properties      JSONB,
			PRIMARY KEY (tenant_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_events_tenant_occurred
			ON raw_events (tenant_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_events_tenant_session
			ON raw_events (tenant_id, session_id)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			tenant_id       TEXT NOT NULL,
			session_id      TEXT NOT NULL,
			visitor_id      TEXT NOT NULL DEFAULT '',
			user_id         TEXT,
			started_at      TIMESTAMPTZ NOT NULL,
			last_seen_at    TIMESTAMPTZ NOT NULL,
			first_source    TEXT,
			first_medium    TEXT,
			first_campaign  TEXT,
			PRIMARY KEY (tenant_id, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_tenant_visitor
			ON sessions (tenant_id, visitor_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_tenant_user
			ON sessions (tenant_id, user_id, started_at)`,

		`CREATE TABLE IF NOT EXISTS orders (
			tenant_id            TEXT NOT NULL,
			order_id             TEXT NOT NULL,
			event_id             TEXT NOT NULL,
			value                DOUBLE PRECISION NOT NULL,
			currency             TEXT NOT NULL,
			visitor_id           TEXT NOT NULL DEFAULT '',
			user_id              TEXT,
			purchased_at         TIMESTAMPTZ NOT NULL,
			first_touch_channel  TEXT,
			first_touch_campaign TEXT,
			last_touch_channel   TEXT,
			last_touch_campaign  TEXT,
			attributed_at        TIMESTAMPTZ,
			PRIMARY KEY (tenant_id, order_id)
		)`,

		`CREATE TABLE IF NOT EXISTS daily_rollups (
			tenant_id    TEXT NOT NULL,
			day          DATE NOT NULL,
			total_events BIGINT NOT NULL DEFAULT 0,
			page_views   BIGINT NOT NULL DEFAULT 0,
			sessions     BIGINT NOT NULL DEFAULT 0,
			purchases    BIGINT NOT NULL DEFAULT 0,
			revenue      DOUBLE PRECISION NOT NULL DEFAULT 0,
			computed_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, day)
		)`,

		`CREATE TABLE IF NOT EXISTS consent_suppressed (
			tenant_id TEXT NOT NULL,
			day       DATE NOT NULL,
			count     BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, day)
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}
