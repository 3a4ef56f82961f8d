package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luxlabs/lux-analytics/internal/analytics"
	"github.com/luxlabs/lux-analytics/internal/config"
	"github.com/luxlabs/lux-analytics/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Addr: ":0", Env: "development"},
		Auth:   config.AuthConfig{Enabled: false},
		RateLimit: config.RateLimitConfig{
			Enabled: false,
		},
		Metrics: config.MetricsConfig{Enabled: false},
		Ingest: config.IngestConfig{
			MaxPayloadBytes: 64 * 1024,
			StoreTimeout:    time.Second,
		},
		Rollup: config.RollupConfig{
			Interval: time.Hour,
			LockTTL:  time.Minute,
		},
		Privacy: config.PrivacyConfig{HashSalt: "test"},
	}
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	server := NewServer(&Dependencies{
		Config: testConfig(),
		Logger: zap.NewNop(),
	})
	return server.Handler()
}

func postEvent(t *testing.T, handler http.Handler, body map[string]interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestEndpoint_Accepted(t *testing.T) {
	handler := newTestHandler(t)

	rec := postEvent(t, handler, map[string]interface{}{
		"tenant_id":  "t1",
		"event_name": "page_view",
		"session_id": "s1",
		"consent":    true,
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var result analytics.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, analytics.OutcomeAccepted, result.Outcome)
	assert.NotEmpty(t, result.EventID)
	assert.NotEmpty(t, result.VisitorID)
}

func TestIngestEndpoint_GPCHeaderSuppresses(t *testing.T) {
	handler := newTestHandler(t)

	rec := postEvent(t, handler, map[string]interface{}{
		"tenant_id":  "t1",
		"event_name": "page_view",
		"session_id": "s1",
		"consent":    true,
	}, map[string]string{"Sec-GPC": "1"})

	require.Equal(t, http.StatusAccepted, rec.Code)

	var result analytics.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, analytics.OutcomeSuppressed, result.Outcome)
	assert.Equal(t, "gpc", result.Reason)
}

func TestIngestEndpoint_RejectedIsBadRequest(t *testing.T) {
	handler := newTestHandler(t)

	rec := postEvent(t, handler, map[string]interface{}{
		"event_name": "page_view",
		"consent":    true,
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var result analytics.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, analytics.OutcomeRejected, result.Outcome)
}

func TestIngestEndpoint_InvalidJSON(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestEndpoint_PayloadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.MaxPayloadBytes = 64
	server := NewServer(&Dependencies{Config: cfg, Logger: zap.NewNop()})
	handler := server.Handler()

	big := strings.Repeat("x", 256)
	rec := postEvent(t, handler, map[string]interface{}{
		"tenant_id":  "t1",
		"event_name": "page_view",
		"consent":    true,
		"page_url":   big,
	}, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIngestEndpoint_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReportEndpoint_RequiresTenant(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportEndpoint_ReturnsLiveToday(t *testing.T) {
	handler := newTestHandler(t)

	rec := postEvent(t, handler, map[string]interface{}{
		"tenant_id":  "t1",
		"event_name": "page_view",
		"session_id": "s1",
		"consent":    true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports?tenant_id=t1&range=last_7_days", nil)
	out := httptest.NewRecorder()
	handler.ServeHTTP(out, req)

	require.Equal(t, http.StatusOK, out.Code)

	var summary analytics.Summary
	require.NoError(t, json.Unmarshal(out.Body.Bytes(), &summary))
	assert.Equal(t, int64(1), summary.Totals.PageViews)
}

func TestOrderEndpoints_GetAndRecompute(t *testing.T) {
	handler := newTestHandler(t)

	rec := postEvent(t, handler, map[string]interface{}{
		"tenant_id":  "t1",
		"event_name": "purchase",
		"session_id": "s1",
		"visitor_id": "v1",
		"consent":    true,
		"properties": map[string]interface{}{
			"order_id": "o1",
			"value":    10.0,
			"currency": "USD",
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/orders/o1?tenant_id=t1", nil)
	out := httptest.NewRecorder()
	handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(out.Body.Bytes(), &order))
	assert.True(t, order.Attributed())

	req = httptest.NewRequest(http.MethodPost, "/v1/orders/o1/recompute?tenant_id=t1", nil)
	out = httptest.NewRecorder()
	handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/orders/missing?tenant_id=t1", nil)
	out = httptest.NewRecorder()
	handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusNotFound, out.Code)
}

func TestRollupRunEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/rollups/run", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/rollups/run?day=2026-08-18", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestAuthMiddleware_ProtectsReports(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{
		Enabled:   true,
		MasterKey: "secret-key",
		SkipPaths: []string{"/health", "/v1/events"},
	}
	server := NewServer(&Dependencies{Config: cfg, Logger: zap.NewNop()})
	handler := server.Handler()

	// Ingestion stays open for browser trackers.
	rec := postEvent(t, handler, map[string]interface{}{
		"tenant_id":  "t1",
		"event_name": "page_view",
		"consent":    true,
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports?tenant_id=t1", nil)
	out := httptest.NewRecorder()
	handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/reports?tenant_id=t1", nil)
	req.Header.Set("X-API-Key", "secret-key")
	out = httptest.NewRecorder()
	handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}
