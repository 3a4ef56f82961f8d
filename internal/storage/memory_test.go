package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxlabs/lux-analytics/internal/models"
)

func TestInMemoryEventStore_IdempotentAppend(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()

	event := &models.Event{
		ID: "e1", TenantID: "t1", EventName: models.EventPageView,
		SessionID: "s1", VisitorID: "v1",
		OccurredAt: time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Append(ctx, event))
	require.NoError(t, store.Append(ctx, event))

	events, err := store.QueryBySession(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestInMemoryEventStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	at := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, &models.Event{
		ID: "e1", TenantID: "t1", EventName: models.EventPageView,
		SessionID: "s1", VisitorID: "v1", OccurredAt: at,
	}))
	require.NoError(t, store.Append(ctx, &models.Event{
		ID: "e2", TenantID: "t2", EventName: models.EventPageView,
		SessionID: "s1", VisitorID: "v1", OccurredAt: at,
	}))

	events, err := store.QueryRange(ctx, "t1", at.Add(-time.Hour), at.Add(time.Hour), models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
}

func TestInMemoryEventStore_QueryRangeOrderedAndFiltered(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	base := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)

	// Appended out of order on purpose.
	require.NoError(t, store.Append(ctx, &models.Event{
		ID: "e2", TenantID: "t1", EventName: models.EventPageView,
		SessionID: "s1", VisitorID: "v1", OccurredAt: base.Add(time.Hour),
	}))
	require.NoError(t, store.Append(ctx, &models.Event{
		ID: "e1", TenantID: "t1", EventName: models.EventPageView,
		SessionID: "s1", VisitorID: "v1", OccurredAt: base,
	}))
	require.NoError(t, store.Append(ctx, &models.Event{
		ID: "e3", TenantID: "t1", EventName: models.EventPurchase,
		SessionID: "s1", VisitorID: "v1", OccurredAt: base.Add(2 * time.Hour),
	}))

	events, err := store.QueryRange(ctx, "t1", base.Add(-time.Hour), base.Add(3*time.Hour), models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e3", events[2].ID)

	purchases, err := store.QueryRange(ctx, "t1", base.Add(-time.Hour), base.Add(3*time.Hour), models.EventFilter{
		EventName: models.EventPurchase,
	})
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "e3", purchases[0].ID)
}

func TestInMemoryEventStore_DistinctTenants(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	at := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)

	for _, tenantID := range []string{"t2", "t1"} {
		require.NoError(t, store.Append(ctx, &models.Event{
			ID: "e-" + tenantID, TenantID: tenantID,
			EventName: models.EventPageView, SessionID: "s1", VisitorID: "v1",
			OccurredAt: at,
		}))
	}

	tenants, err := store.DistinctTenants(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tenants)

	tenants, err = store.DistinctTenants(ctx, at.Add(time.Hour), at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, tenants)
}

func TestInMemorySessionStore_TouchCreatesAndExtends(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()
	base := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)

	_, err := store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s1", VisitorID: "v1",
		OccurredAt: base, UTMSource: "google", UTMMedium: "cpc",
	})
	require.NoError(t, err)

	session, err := store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s1", VisitorID: "v1",
		OccurredAt: base.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, base, session.StartedAt)
	assert.Equal(t, base.Add(time.Hour), session.LastSeenAt)
	// Later touches never rewrite first-touch fields.
	assert.Equal(t, "google", session.FirstSource)
}

func TestInMemorySessionStore_OutOfOrderTouchOwnsFirstTouch(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()
	base := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)

	_, err := store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s1", VisitorID: "v1",
		OccurredAt: base.Add(time.Hour), UTMSource: "google", UTMMedium: "cpc",
	})
	require.NoError(t, err)

	// Delivered late but occurred first: it owns the session start and
	// its campaign fields.
	session, err := store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s1", VisitorID: "v1",
		OccurredAt: base, UTMSource: "newsletter", UTMMedium: "email",
	})
	require.NoError(t, err)

	assert.Equal(t, base, session.StartedAt)
	assert.Equal(t, base.Add(time.Hour), session.LastSeenAt)
	assert.Equal(t, "newsletter", session.FirstSource)
	assert.Equal(t, "email", session.FirstMedium)
}

func TestInMemorySessionStore_UserIDBoundOnce(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()
	base := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)

	_, err := store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s1", VisitorID: "v1", OccurredAt: base,
	})
	require.NoError(t, err)

	session, err := store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s1", VisitorID: "v1",
		UserID: "u1", OccurredAt: base.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)

	session, err = store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s1", VisitorID: "v1",
		UserID: "u2", OccurredAt: base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
}

func TestInMemorySessionStore_ListByIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()
	base := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)

	_, err := store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s-visitor", VisitorID: "v1", OccurredAt: base,
	})
	require.NoError(t, err)
	_, err = store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s-user", VisitorID: "v-other",
		UserID: "u1", OccurredAt: base.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = store.Touch(ctx, models.SessionTouch{
		TenantID: "t1", SessionID: "s-unrelated", VisitorID: "v-x", OccurredAt: base,
	})
	require.NoError(t, err)

	list, err := store.ListByIdentity(ctx, "t1", "v1", "u1", base.Add(-time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s-visitor", list[0].SessionID)
	assert.Equal(t, "s-user", list[1].SessionID)
}

func TestInMemoryOrderStore_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryOrderStore()

	order := &models.Order{
		TenantID: "t1", OrderID: "o1", Value: 10, Currency: "USD",
		PurchasedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, order))

	dup := *order
	dup.Value = 999
	require.NoError(t, store.Create(ctx, &dup))

	stored, err := store.Get(ctx, "t1", "o1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, stored.Value)
}

func TestInMemoryOrderStore_SetAttribution(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryOrderStore()

	err := store.SetAttribution(ctx, "t1", "missing", models.OrderAttribution{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Create(ctx, &models.Order{
		TenantID: "t1", OrderID: "o1", Value: 10, Currency: "USD",
		PurchasedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.SetAttribution(ctx, "t1", "o1", models.OrderAttribution{
		FirstTouchChannel: "google/cpc",
		LastTouchChannel:  models.Unattributed,
		AttributedAt:      time.Now().UTC(),
	}))

	stored, err := store.Get(ctx, "t1", "o1")
	require.NoError(t, err)
	assert.Equal(t, "google/cpc", stored.FirstTouchChannel)
	assert.True(t, stored.Attributed())
}

func TestInMemoryRollupStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRollupStore()

	require.NoError(t, store.Upsert(ctx, &models.DailyRollup{
		TenantID: "t1", Day: "2026-08-19", TotalEvents: 5,
	}))
	require.NoError(t, store.Upsert(ctx, &models.DailyRollup{
		TenantID: "t1", Day: "2026-08-19", TotalEvents: 7,
	}))

	stored, err := store.Get(ctx, "t1", "2026-08-19")
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.TotalEvents)

	_, err = store.Get(ctx, "t1", "2026-08-18")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryRollupStore_GetRangeSorted(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRollupStore()

	for _, day := range []string{"2026-08-19", "2026-08-17", "2026-08-18"} {
		require.NoError(t, store.Upsert(ctx, &models.DailyRollup{
			TenantID: "t1", Day: day, TotalEvents: 1,
		}))
	}

	rollups, err := store.GetRange(ctx, "t1", "2026-08-17", "2026-08-18")
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, "2026-08-17", rollups[0].Day)
	assert.Equal(t, "2026-08-18", rollups[1].Day)
}

func TestInMemorySuppressionStore_Totals(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySuppressionStore()

	require.NoError(t, store.Increment(ctx, "t1", "2026-08-18"))
	require.NoError(t, store.Increment(ctx, "t1", "2026-08-18"))
	require.NoError(t, store.Increment(ctx, "t1", "2026-08-19"))
	require.NoError(t, store.Increment(ctx, "t2", "2026-08-19"))

	total, err := store.Total(ctx, "t1", "2026-08-18", "2026-08-19")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	total, err = store.Total(ctx, "t1", "2026-08-19", "2026-08-19")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
