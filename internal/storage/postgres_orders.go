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

// PostgresOrderStore implements OrderStore using PostgreSQL.
type PostgresOrderStore struct {
	pool *pgxpool.Pool
}

// NewPostgresOrderStore creates a new PostgreSQL-backed order store.
func NewPostgresOrderStore(pool *pgxpool.Pool) *PostgresOrderStore {
	return &PostgresOrderStore{pool: pool}
}

// Create inserts an order; duplicate (tenant_id, order_id) pairs are no-ops.
func (s *PostgresOrderStore) Create(ctx context.Context, order *models.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (
			tenant_id, order_id, event_id, value, currency,
			visitor_id, user_id, purchased_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, order_id) DO NOTHING
	`,
		order.TenantID, order.OrderID, order.EventID, order.Value, order.Currency,
		order.VisitorID, nullString(order.UserID), order.PurchasedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Get returns an order or ErrNotFound.
func (s *PostgresOrderStore) Get(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	row := s.pool.QueryRow(ctx, orderSelect+` WHERE tenant_id = $1 AND order_id = $2`, tenantID, orderID)

	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// SetAttribution writes the attribution fields for an order.
func (s *PostgresOrderStore) SetAttribution(ctx context.Context, tenantID, orderID string, attr models.OrderAttribution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET
			first_touch_channel  = $3,
			first_touch_campaign = $4,
			last_touch_channel   = $5,
			last_touch_campaign  = $6,
			attributed_at        = $7
		WHERE tenant_id = $1 AND order_id = $2
	`,
		tenantID, orderID,
		attr.FirstTouchChannel, nullString(attr.FirstTouchCampaign),
		attr.LastTouchChannel, nullString(attr.LastTouchCampaign),
		attr.AttributedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set attribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnattributed returns orders with no completed attribution pass.
func (s *PostgresOrderStore) ListUnattributed(ctx context.Context, tenantID string, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, orderSelect+`
		WHERE tenant_id = $1 AND attributed_at IS NULL
		ORDER BY purchased_at ASC LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unattributed orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

const orderSelect = `
	SELECT tenant_id, order_id, event_id, value, currency,
	       visitor_id, user_id, purchased_at,
	       first_touch_channel, first_touch_campaign,
	       last_touch_channel, last_touch_campaign, attributed_at
	FROM orders`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var userID, firstCh, firstCamp, lastCh, lastCamp *string
	var attributedAt *time.Time

	err := row.Scan(
		&order.TenantID, &order.OrderID, &order.EventID, &order.Value, &order.Currency,
		&order.VisitorID, &userID, &order.PurchasedAt,
		&firstCh, &firstCamp, &lastCh, &lastCamp, &attributedAt,
	)
	if err != nil {
		return nil, err
	}

	order.UserID = deref(userID)
	order.FirstTouchChannel = deref(firstCh)
	order.FirstTouchCampaign = deref(firstCamp)
	order.LastTouchChannel = deref(lastCh)
	order.LastTouchCampaign = deref(lastCamp)
	if attributedAt != nil {
		order.AttributedAt = *attributedAt
	}
	return &order, nil
}
