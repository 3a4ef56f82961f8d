package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luxlabs/lux-analytics/internal/metrics"
	"github.com/luxlabs/lux-analytics/internal/models"
	"github.com/luxlabs/lux-analytics/internal/storage"
)

// Attribution windows.
const (
	// LookbackWindow bounds how old a session may be to earn any credit.
	LookbackWindow = 30 * 24 * time.Hour
	// LastTouchWindow bounds how old the last-touch session may be.
	LastTouchWindow = 72 * time.Hour
)

// AttributionEngine computes first-touch and last-touch credit for purchase
// conversions from the visitor's session history. Attribution is computed
// once and stored; sessions arriving later never trigger an automatic
// recompute — Recompute exists as an explicit maintenance operation.
type AttributionEngine struct {
	sessions storage.SessionStore
	orders   storage.OrderStore
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewAttributionEngine creates a new attribution engine.
func NewAttributionEngine(sessions storage.SessionStore, orders storage.OrderStore, logger *zap.Logger, m *metrics.Metrics) *AttributionEngine {
	return &AttributionEngine{
		sessions: sessions,
		orders:   orders,
		logger:   logger,
		metrics:  m,
	}
}

// AttributeOrder computes and stores attribution for one order. An order
// whose visitor has no eligible session is stored with both slots set to
// the unattributed sentinel; that still counts as a completed pass.
func (e *AttributionEngine) AttributeOrder(ctx context.Context, order *models.Order) error {
	from := order.PurchasedAt.Add(-LookbackWindow)
	sessions, err := e.sessions.ListByIdentity(ctx, order.TenantID, order.VisitorID, order.UserID, from, order.PurchasedAt)
	if err != nil {
		return fmt.Errorf("failed to load session history: %w", err)
	}

	attr := ComputeAttribution(sessions, order.PurchasedAt)
	if err := e.orders.SetAttribution(ctx, order.TenantID, order.OrderID, attr); err != nil {
		return fmt.Errorf("failed to store attribution: %w", err)
	}

	outcome := "attributed"
	if attr.FirstTouchChannel == models.Unattributed {
		outcome = models.Unattributed
	}
	if e.metrics != nil {
		e.metrics.RecordAttribution(outcome)
	}
	e.logger.Debug("order attributed",
		zap.String("tenant_id", order.TenantID),
		zap.String("order_id", order.OrderID),
		zap.String("first_touch", attr.FirstTouchChannel),
		zap.String("last_touch", attr.LastTouchChannel),
	)
	return nil
}

// Recompute re-runs attribution for a stored order, overwriting the
// previous result. Maintenance operation for out-of-order ingestion.
func (e *AttributionEngine) Recompute(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	order, err := e.orders.Get(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if err := e.AttributeOrder(ctx, order); err != nil {
		return nil, err
	}
	return e.orders.Get(ctx, tenantID, orderID)
}

// RunPending attributes orders whose synchronous pass was deferred by a
// store failure. Returns the number of orders processed.
func (e *AttributionEngine) RunPending(ctx context.Context, tenantID string, limit int) (int, error) {
	orders, err := e.orders.ListUnattributed(ctx, tenantID, limit)
	if err != nil {
		return 0, err
	}
	for i, order := range orders {
		if err := e.AttributeOrder(ctx, order); err != nil {
			return i, err
		}
	}
	return len(orders), nil
}

// ComputeAttribution derives first/last-touch credit from session history.
// Pure function of its inputs: a fixed session set and purchase time always
// yield the same result.
//
// Sessions outside the lookback window are ignored even if the caller
// passes them. First-touch takes the earliest started_at, ties
// broken by the lexicographically smaller session_id. Last-touch takes the
// latest started_at no older than LastTouchWindow before the purchase, with
// no fallback to first-touch when none qualifies.
func ComputeAttribution(sessions []*models.Session, purchasedAt time.Time) models.OrderAttribution {
	attr := models.OrderAttribution{
		FirstTouchChannel: models.Unattributed,
		LastTouchChannel:  models.Unattributed,
		AttributedAt:      time.Now().UTC(),
	}

	earliestEligible := purchasedAt.Add(-LookbackWindow)

	var first, last *models.Session
	for _, session := range sessions {
		if session.StartedAt.Before(earliestEligible) || session.StartedAt.After(purchasedAt) {
			continue
		}

		if first == nil ||
			session.StartedAt.Before(first.StartedAt) ||
			(session.StartedAt.Equal(first.StartedAt) && session.SessionID < first.SessionID) {
			first = session
		}

		if session.StartedAt.Before(purchasedAt.Add(-LastTouchWindow)) {
			continue
		}
		if last == nil ||
			session.StartedAt.After(last.StartedAt) ||
			(session.StartedAt.Equal(last.StartedAt) && session.SessionID < last.SessionID) {
			last = session
		}
	}

	if first != nil {
		attr.FirstTouchChannel = models.Channel(first.FirstSource, first.FirstMedium)
		attr.FirstTouchCampaign = first.FirstCampaign
	}
	if last != nil {
		attr.LastTouchChannel = models.Channel(last.FirstSource, last.FirstMedium)
		attr.LastTouchCampaign = last.FirstCampaign
	}
	return attr
}
