package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luxlabs/lux-analytics/internal/models"
	"github.com/luxlabs/lux-analytics/internal/storage"
)

func newAggregator(events storage.EventStore, rollups storage.RollupStore) *RollupAggregator {
	return NewRollupAggregator(events, rollups, NewInMemoryRunLocker(), time.Minute, zap.NewNop(), nil)
}

func appendEvent(t *testing.T, events storage.EventStore, tenantID, name, sessionID string, occurredAt time.Time, props map[string]interface{}) {
	t.Helper()
	require.NoError(t, events.Append(context.Background(), &models.Event{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		EventName:  name,
		SessionID:  sessionID,
		VisitorID:  "v1",
		OccurredAt: occurredAt,
		Properties: props,
	}))
}

func TestAggregate_CountsAndDistinctSessions(t *testing.T) {
	ctx := context.Background()
	events := storage.NewInMemoryEventStore()
	rollups := storage.NewInMemoryRollupStore()
	agg := newAggregator(events, rollups)

	day := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	appendEvent(t, events, "t1", models.EventPageView, "s1", day.Add(1*time.Hour), nil)
	appendEvent(t, events, "t1", models.EventPageView, "s1", day.Add(2*time.Hour), nil)
	appendEvent(t, events, "t1", models.EventPageView, "s2", day.Add(3*time.Hour), nil)
	appendEvent(t, events, "t1", models.EventPurchase, "s2", day.Add(4*time.Hour), map[string]interface{}{
		"order_id": "o1", "value": 25.50, "currency": "USD",
	})
	// Next day, must not leak into the rollup.
	appendEvent(t, events, "t1", models.EventPageView, "s3", day.Add(25*time.Hour), nil)

	rollup, err := agg.Aggregate(ctx, "t1", "2026-08-19")
	require.NoError(t, err)

	assert.Equal(t, int64(4), rollup.TotalEvents)
	assert.Equal(t, int64(3), rollup.PageViews)
	assert.Equal(t, int64(2), rollup.Sessions)
	assert.Equal(t, int64(1), rollup.Purchases)
	assert.InDelta(t, 25.50, rollup.Revenue, 0.001)
}

func TestAggregate_Idempotent(t *testing.T) {
	ctx := context.Background()
	events := storage.NewInMemoryEventStore()
	rollups := storage.NewInMemoryRollupStore()
	agg := newAggregator(events, rollups)

	day := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	appendEvent(t, events, "t1", models.EventPageView, "s1", day.Add(time.Hour), nil)

	first, err := agg.Aggregate(ctx, "t1", "2026-08-19")
	require.NoError(t, err)
	second, err := agg.Aggregate(ctx, "t1", "2026-08-19")
	require.NoError(t, err)

	assert.Equal(t, first.TotalEvents, second.TotalEvents)
	assert.Equal(t, first.Sessions, second.Sessions)

	stored, err := rollups.Get(ctx, "t1", "2026-08-19")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalEvents)
}

func TestAggregate_EmptyDayWritesZeroRow(t *testing.T) {
	ctx := context.Background()
	events := storage.NewInMemoryEventStore()
	rollups := storage.NewInMemoryRollupStore()
	agg := newAggregator(events, rollups)

	_, err := agg.Aggregate(ctx, "t1", "2026-08-19")
	require.NoError(t, err)

	stored, err := rollups.Get(ctx, "t1", "2026-08-19")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.TotalEvents)
	assert.False(t, stored.ComputedAt.IsZero())
}

func TestAggregate_InvalidDay(t *testing.T) {
	agg := newAggregator(storage.NewInMemoryEventStore(), storage.NewInMemoryRollupStore())

	_, err := agg.Aggregate(context.Background(), "t1", "not-a-day")
	assert.Error(t, err)
}

func TestAggregate_ConcurrentRunSkipped(t *testing.T) {
	ctx := context.Background()
	locker := NewInMemoryRunLocker()
	agg := NewRollupAggregator(
		storage.NewInMemoryEventStore(), storage.NewInMemoryRollupStore(),
		locker, time.Minute, zap.NewNop(), nil,
	)

	// Simulate a run in flight holding the key.
	held, err := locker.TryLock(ctx, "t1:2026-08-19", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = agg.Aggregate(ctx, "t1", "2026-08-19")
	assert.ErrorIs(t, err, ErrRollupInProgress)
}

func TestRunDay_FansOutOverTenants(t *testing.T) {
	ctx := context.Background()
	events := storage.NewInMemoryEventStore()
	rollups := storage.NewInMemoryRollupStore()
	agg := newAggregator(events, rollups)
	scheduler := NewRollupScheduler(agg, events, time.Hour, zap.NewNop())

	day := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	appendEvent(t, events, "t1", models.EventPageView, "s1", day.Add(time.Hour), nil)
	appendEvent(t, events, "t2", models.EventPageView, "s1", day.Add(2*time.Hour), nil)

	require.NoError(t, scheduler.RunDay(ctx, "2026-08-19"))

	for _, tenantID := range []string{"t1", "t2"} {
		stored, err := rollups.Get(ctx, tenantID, "2026-08-19")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.TotalEvents)
	}
}

func TestSummarizeDay_MatchesStoredRollup(t *testing.T) {
	ctx := context.Background()
	events := storage.NewInMemoryEventStore()
	rollups := storage.NewInMemoryRollupStore()
	agg := newAggregator(events, rollups)

	day := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	appendEvent(t, events, "t1", models.EventPageView, "s1", day.Add(time.Hour), nil)
	appendEvent(t, events, "t1", models.EventPurchase, "s1", day.Add(2*time.Hour), map[string]interface{}{
		"order_id": "o1", "value": 10.0, "currency": "EUR",
	})

	stored, err := agg.Aggregate(ctx, "t1", "2026-08-19")
	require.NoError(t, err)

	scanned, err := events.QueryRange(ctx, "t1", day, day.Add(24*time.Hour-time.Nanosecond), models.EventFilter{})
	require.NoError(t, err)
	replayed := SummarizeDay("t1", "2026-08-19", scanned)

	assert.Equal(t, stored.TotalEvents, replayed.TotalEvents)
	assert.Equal(t, stored.PageViews, replayed.PageViews)
	assert.Equal(t, stored.Sessions, replayed.Sessions)
	assert.Equal(t, stored.Purchases, replayed.Purchases)
	assert.Equal(t, stored.Revenue, replayed.Revenue)
}
