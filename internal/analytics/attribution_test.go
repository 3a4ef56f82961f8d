package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luxlabs/lux-analytics/internal/models"
	"github.com/luxlabs/lux-analytics/internal/storage"
)

func session(id string, startedAt time.Time, source, medium, campaign string) *models.Session {
	return &models.Session{
		TenantID:      "t1",
		SessionID:     id,
		VisitorID:     "v1",
		StartedAt:     startedAt,
		LastSeenAt:    startedAt,
		FirstSource:   source,
		FirstMedium:   medium,
		FirstCampaign: campaign,
	}
}

func TestComputeAttribution_FirstAndLastTouch(t *testing.T) {
	purchasedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	sessions := []*models.Session{
		// 40 days before the purchase: outside the lookback window.
		session("s-old", purchasedAt.AddDate(0, 0, -40), "facebook", "cpc", "spring"),
		// 20 days before: eligible for first-touch, too old for last-touch.
		session("s-mid", purchasedAt.AddDate(0, 0, -20), "google", "cpc", "summer"),
		// 1 day before: within the last-touch window.
		session("s-new", purchasedAt.AddDate(0, 0, -1), "newsletter", "email", "august"),
	}

	attr := ComputeAttribution(sessions, purchasedAt)

	assert.Equal(t, "google/cpc", attr.FirstTouchChannel)
	assert.Equal(t, "summer", attr.FirstTouchCampaign)
	assert.Equal(t, "newsletter/email", attr.LastTouchChannel)
	assert.Equal(t, "august", attr.LastTouchCampaign)
}

func TestComputeAttribution_NoSessions(t *testing.T) {
	purchasedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	attr := ComputeAttribution(nil, purchasedAt)

	assert.Equal(t, models.Unattributed, attr.FirstTouchChannel)
	assert.Equal(t, models.Unattributed, attr.LastTouchChannel)
	assert.False(t, attr.AttributedAt.IsZero())
}

func TestComputeAttribution_NoLastTouchFallback(t *testing.T) {
	purchasedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	// Eligible for first-touch but older than 72h: last-touch stays
	// unattributed rather than reusing the first-touch session.
	sessions := []*models.Session{
		session("s1", purchasedAt.AddDate(0, 0, -10), "google", "cpc", "summer"),
	}

	attr := ComputeAttribution(sessions, purchasedAt)

	assert.Equal(t, "google/cpc", attr.FirstTouchChannel)
	assert.Equal(t, models.Unattributed, attr.LastTouchChannel)
	assert.Empty(t, attr.LastTouchCampaign)
}

func TestComputeAttribution_TieBreaksOnSessionID(t *testing.T) {
	purchasedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	startedAt := purchasedAt.Add(-time.Hour)

	sessions := []*models.Session{
		session("s-b", startedAt, "bing", "cpc", "b"),
		session("s-a", startedAt, "google", "cpc", "a"),
	}

	attr := ComputeAttribution(sessions, purchasedAt)

	// Identical timestamps resolve to the smaller session_id.
	assert.Equal(t, "google/cpc", attr.FirstTouchChannel)
	assert.Equal(t, "google/cpc", attr.LastTouchChannel)
}

func TestComputeAttribution_Deterministic(t *testing.T) {
	purchasedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	sessions := []*models.Session{
		session("s1", purchasedAt.Add(-48*time.Hour), "google", "cpc", "a"),
		session("s2", purchasedAt.Add(-24*time.Hour), "bing", "cpc", "b"),
		session("s3", purchasedAt.Add(-12*time.Hour), "", "", ""),
	}

	first := ComputeAttribution(sessions, purchasedAt)
	reversed := []*models.Session{sessions[2], sessions[1], sessions[0]}
	second := ComputeAttribution(reversed, purchasedAt)

	assert.Equal(t, first.FirstTouchChannel, second.FirstTouchChannel)
	assert.Equal(t, first.LastTouchChannel, second.LastTouchChannel)
}

func TestComputeAttribution_DirectChannel(t *testing.T) {
	purchasedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	sessions := []*models.Session{
		session("s1", purchasedAt.Add(-time.Hour), "", "", ""),
	}

	attr := ComputeAttribution(sessions, purchasedAt)

	assert.Equal(t, "direct", attr.FirstTouchChannel)
	assert.Equal(t, "direct", attr.LastTouchChannel)
}

func TestAttributeOrder_StoresResult(t *testing.T) {
	ctx := context.Background()
	sessions := storage.NewInMemorySessionStore()
	orders := storage.NewInMemoryOrderStore()
	engine := NewAttributionEngine(sessions, orders, zap.NewNop(), nil)

	purchasedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	_, err := sessions.Touch(ctx, models.SessionTouch{
		TenantID:   "t1",
		SessionID:  "s1",
		VisitorID:  "v1",
		OccurredAt: purchasedAt.Add(-time.Hour),
		UTMSource:  "google",
		UTMMedium:  "cpc",
	})
	require.NoError(t, err)

	order := &models.Order{
		TenantID:    "t1",
		OrderID:     "o1",
		VisitorID:   "v1",
		Value:       49.99,
		Currency:    "USD",
		PurchasedAt: purchasedAt,
	}
	require.NoError(t, orders.Create(ctx, order))
	require.NoError(t, engine.AttributeOrder(ctx, order))

	stored, err := orders.Get(ctx, "t1", "o1")
	require.NoError(t, err)
	assert.Equal(t, "google/cpc", stored.FirstTouchChannel)
	assert.Equal(t, "google/cpc", stored.LastTouchChannel)
	assert.True(t, stored.Attributed())
}

func TestAttributeOrder_UserIDMergesHistory(t *testing.T) {
	ctx := context.Background()
	sessions := storage.NewInMemorySessionStore()
	orders := storage.NewInMemoryOrderStore()
	engine := NewAttributionEngine(sessions, orders, zap.NewNop(), nil)

	purchasedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	// Session from an earlier device, tied to the user rather than the
	// purchasing visitor.
	_, err := sessions.Touch(ctx, models.SessionTouch{
		TenantID:   "t1",
		SessionID:  "s-laptop",
		VisitorID:  "v-other",
		UserID:     "u1",
		OccurredAt: purchasedAt.AddDate(0, 0, -5),
		UTMSource:  "newsletter",
		UTMMedium:  "email",
	})
	require.NoError(t, err)

	order := &models.Order{
		TenantID:    "t1",
		OrderID:     "o1",
		VisitorID:   "v-phone",
		UserID:      "u1",
		Value:       10,
		Currency:    "USD",
		PurchasedAt: purchasedAt,
	}
	require.NoError(t, orders.Create(ctx, order))
	require.NoError(t, engine.AttributeOrder(ctx, order))

	stored, err := orders.Get(ctx, "t1", "o1")
	require.NoError(t, err)
	assert.Equal(t, "newsletter/email", stored.FirstTouchChannel)
}

func TestRunPending_ProcessesUnattributed(t *testing.T) {
	ctx := context.Background()
	sessions := storage.NewInMemorySessionStore()
	orders := storage.NewInMemoryOrderStore()
	engine := NewAttributionEngine(sessions, orders, zap.NewNop(), nil)

	purchasedAt := time.Now().UTC()
	require.NoError(t, orders.Create(ctx, &models.Order{
		TenantID: "t1", OrderID: "o1", VisitorID: "v1",
		Value: 5, Currency: "USD", PurchasedAt: purchasedAt,
	}))
	require.NoError(t, orders.Create(ctx, &models.Order{
		TenantID: "t1", OrderID: "o2", VisitorID: "v2",
		Value: 7, Currency: "USD", PurchasedAt: purchasedAt,
	}))

	processed, err := engine.RunPending(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	remaining, err := orders.ListUnattributed(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
