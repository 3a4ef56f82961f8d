package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luxlabs/lux-analytics/internal/models"
)

// PostgresRollupStore implements RollupStore using PostgreSQL.
type PostgresRollupStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRollupStore creates a new PostgreSQL-backed rollup store.
func NewPostgresRollupStore(pool *pgxpool.Pool) *PostgresRollupStore {
	return &PostgresRollupStore{pool: pool}
}

// Upsert fully replaces the rollup row for (tenant, day). A failed run
// leaves the previous row intact.
func (s *PostgresRollupStore) Upsert(ctx context.Context, rollup *models.DailyRollup) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_rollups (
			tenant_id, day, total_events, page_views, sessions, purchases, revenue, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, day) DO UPDATE SET
			total_events = EXCLUDED.total_events,
			page_views   = EXCLUDED.page_views,
			sessions     = EXCLUDED.sessions,
			purchases    = EXCLUDED.purchases,
			revenue      = EXCLUDED.revenue,
			computed_at  = EXCLUDED.computed_at
	`,
		rollup.TenantID, rollup.Day, rollup.TotalEvents, rollup.PageViews,
		rollup.Sessions, rollup.Purchases, rollup.Revenue, rollup.ComputedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rollup: %w", err)
	}
	return nil
}

// Get returns the rollup for (tenant, day) or ErrNotFound.
func (s *PostgresRollupStore) Get(ctx context.Context, tenantID, day string) (*models.DailyRollup, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, day::text, total_events, page_views, sessions, purchases, revenue, computed_at
		FROM daily_rollups WHERE tenant_id = $1 AND day = $2
	`, tenantID, day)

	rollup, err := scanRollup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rollup: %w", err)
	}
	return rollup, nil
}

// GetRange returns rollups for [fromDay, toDay], ascending.
func (s *PostgresRollupStore) GetRange(ctx context.Context, tenantID, fromDay, toDay string) ([]*models.DailyRollup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, day::text, total_events, page_views, sessions, purchases, revenue, computed_at
		FROM daily_rollups
		WHERE tenant_id = $1 AND day >= $2 AND day <= $3
		ORDER BY day ASC
	`, tenantID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	var rollups []*models.DailyRollup
	for rows.Next() {
		rollup, err := scanRollup(rows)
		if err != nil {
			return nil, err
		}
		rollups = append(rollups, rollup)
	}
	return rollups, rows.Err()
}

func scanRollup(row pgx.Row) (*models.DailyRollup, error) {
	var rollup models.DailyRollup
	err := row.Scan(
		&rollup.TenantID, &rollup.Day, &rollup.TotalEvents, &rollup.PageViews,
		&rollup.Sessions, &rollup.Purchases, &rollup.Revenue, &rollup.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rollup, nil
}

// =============================================
// SUPPRESSION COUNTER
// =============================================

// PostgresSuppressionStore implements SuppressionStore using PostgreSQL.
type PostgresSuppressionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSuppressionStore creates a new PostgreSQL-backed suppression store.
func NewPostgresSuppressionStore(pool *pgxpool.Pool) *PostgresSuppressionStore {
	return &PostgresSuppressionStore{pool: pool}
}

// Increment adds one to the (tenant, day) counter in a single atomic upsert.
func (s *PostgresSuppressionStore) Increment(ctx context.Context, tenantID, day string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consent_suppressed (tenant_id, day, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, day) DO UPDATE SET
			count = consent_suppressed.count + 1
	`, tenantID, day)
	if err != nil {
		return fmt.Errorf("failed to increment suppression counter: %w", err)
	}
	return nil
}

// Total sums suppression counters over [fromDay, toDay].
func (s *PostgresSuppressionStore) Total(ctx context.Context, tenantID, fromDay, toDay string) (int64, error) {
	var total *int64
	err := s.pool.QueryRow(ctx, `
		SELECT SUM(count) FROM consent_suppressed
		WHERE tenant_id = $1 AND day >= $2 AND day <= $3
	`, tenantID, fromDay, toDay).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum suppression counters: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
