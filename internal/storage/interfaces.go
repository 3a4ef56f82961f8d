package storage

import (
	"context"
	"errors"
	"time"

	"github.com/luxlabs/lux-analytics/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// =============================================
// RAW EVENT STORE
// =============================================

// EventStore is the append-only ledger of accepted events. No update or
// delete operations exist. An appended event is visible to reads issued
// after Append returns, and never to another tenant's queries.
type EventStore interface {
	// Append persists an event. Appends are idempotent on
	// (tenant_id, event_id): a duplicate append is a silent no-op.
	Append(ctx context.Context, event *models.Event) error

	// QueryRange scans events for a tenant ordered by occurred_at.
	QueryRange(ctx context.Context, tenantID string, from, to time.Time, filter models.EventFilter) ([]*models.Event, error)

	// QueryBySession returns the events of one session, ordered by occurred_at.
	QueryBySession(ctx context.Context, tenantID, sessionID string) ([]*models.Event, error)

	// DistinctTenants lists tenants that produced events in the range.
	// Used by the rollup scheduler to fan out daily aggregation.
	DistinctTenants(ctx context.Context, from, to time.Time) ([]string, error)
}

// =============================================
// SESSION STORE
// =============================================

// SessionStore maintains session records keyed by (tenant_id, session_id).
type SessionStore interface {
	// Touch atomically creates or extends a session from one event:
	//   - last_seen_at becomes max(last_seen_at, occurred_at)
	//   - started_at becomes min(started_at, occurred_at), with first-touch
	//     UTM fields following the earliest occurred_at
	//   - a null user_id is bound once, never reassigned
	// Concurrent touches for the same session must not lose updates.
	Touch(ctx context.Context, touch models.SessionTouch) (*models.Session, error)

	// Get returns a session or ErrNotFound.
	Get(ctx context.Context, tenantID, sessionID string) (*models.Session, error)

	// ListByIdentity returns sessions started within [from, to] for the
	// visitor, plus sessions bound to userID when it is non-empty.
	ListByIdentity(ctx context.Context, tenantID, visitorID, userID string, from, to time.Time) ([]*models.Session, error)
}

// =============================================
// ORDER STORE
// =============================================

// OrderStore holds conversion records keyed by (tenant_id, order_id).
type OrderStore interface {
	// Create inserts an order. Duplicate order IDs are silent no-ops.
	Create(ctx context.Context, order *models.Order) error

	// Get returns an order or ErrNotFound.
	Get(ctx context.Context, tenantID, orderID string) (*models.Order, error)

	// SetAttribution back-fills the attribution fields exactly once.
	SetAttribution(ctx context.Context, tenantID, orderID string, attr models.OrderAttribution) error

	// ListUnattributed returns orders still awaiting an attribution pass.
	ListUnattributed(ctx context.Context, tenantID string, limit int) ([]*models.Order, error)
}

// =============================================
// ROLLUP STORE
// =============================================

// RollupStore persists daily pre-aggregated summaries. A stored row is a
// cache over the raw event store, replaced whole on each aggregation run.
type RollupStore interface {
	// Upsert writes a rollup row, fully replacing any previous value.
	Upsert(ctx context.Context, rollup *models.DailyRollup) error

	// Get returns a rollup or ErrNotFound when the day has not been
	// aggregated yet (distinct from a computed zero-valued row).
	Get(ctx context.Context, tenantID, day string) (*models.DailyRollup, error)

	// GetRange returns rollups for [fromDay, toDay], ascending by day.
	GetRange(ctx context.Context, tenantID, fromDay, toDay string) ([]*models.DailyRollup, error)
}

// =============================================
// CONSENT SUPPRESSION COUNTER
// =============================================

// SuppressionStore tallies events rejected for missing consent or a GPC
// signal. Counters only ever increment.
type SuppressionStore interface {
	// Increment atomically adds one to the (tenant, day) counter.
	Increment(ctx context.Context, tenantID, day string) error

	// Total sums counters over [fromDay, toDay].
	Total(ctx context.Context, tenantID, fromDay, toDay string) (int64, error)
}
