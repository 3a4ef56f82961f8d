package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luxlabs/lux-analytics/internal/geo"
	"github.com/luxlabs/lux-analytics/internal/metrics"
	"github.com/luxlabs/lux-analytics/internal/models"
	"github.com/luxlabs/lux-analytics/internal/privacy"
	"github.com/luxlabs/lux-analytics/internal/storage"
)

// Ingestion outcomes. Suppression is a normal, non-error outcome.
const (
	OutcomeAccepted   = "accepted"
	OutcomeSuppressed = "suppressed"
	OutcomeRejected   = "rejected"
)

// EventRequest is one inbound tracking call. Raw IP/email may appear here;
// they are hashed before anything is persisted and never retained.
type EventRequest struct {
	TenantID   string    `json:"tenant_id"`
	EventName  string    `json:"event_name"`
	EventID    string    `json:"event_id,omitempty"` // client idempotency token
	OccurredAt time.Time `json:"occurred_at,omitempty"`

	SessionID string `json:"session_id"`
	VisitorID string `json:"visitor_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	PageURL  string `json:"page_url,omitempty"`
	Referrer string `json:"referrer,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`

	DeviceType    string `json:"device_type,omitempty"`
	ViewportWidth int    `json:"viewport_width,omitempty"`
	Orientation   string `json:"orientation,omitempty"`

	IP    string `json:"-"` // set by the transport from the connection
	Email string `json:"email,omitempty"`

	Consent         bool `json:"consent"`
	GPC             bool `json:"-"` // set by the transport from the Sec-GPC header
	ConsentOverride bool `json:"consent_override,omitempty"`

	Properties map[string]interface{} `json:"properties,omitempty"`
}

// IngestResult is the caller-visible outcome of one ingestion call.
type IngestResult struct {
	Outcome   string `json:"outcome"`
	EventID   string `json:"event_id,omitempty"`
	VisitorID string `json:"visitor_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// IngestService validates, consent-filters, normalizes and persists inbound
// events, resolving the session and creating order records synchronously
// before the event is reported durable.
type IngestService struct {
	events       storage.EventStore
	sessions     storage.SessionStore
	orders       storage.OrderStore
	suppressions storage.SuppressionStore
	attribution  *AttributionEngine
	hasher       *privacy.Hasher
	geo          geo.Resolver
	storeTimeout time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewIngestService creates a new ingestion gate.
func NewIngestService(
	events storage.EventStore,
	sessions storage.SessionStore,
	orders storage.OrderStore,
	suppressions storage.SuppressionStore,
	attribution *AttributionEngine,
	hasher *privacy.Hasher,
	geoResolver geo.Resolver,
	storeTimeout time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *IngestService {
	if geoResolver == nil {
		geoResolver = geo.NoopResolver{}
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &IngestService{
		events:       events,
		sessions:     sessions,
		orders:       orders,
		suppressions: suppressions,
		attribution:  attribution,
		hasher:       hasher,
		geo:          geoResolver,
		storeTimeout: storeTimeout,
		logger:       logger,
		metrics:      m,
	}
}

// Ingest processes one event request. Validation failures and suppressions
// come back in the result, not as errors; an error means a store failure
// that the caller may retry (appends are idempotent on event_id).
func (s *IngestService) Ingest(ctx context.Context, req *EventRequest) (*IngestResult, error) {
	start := time.Now()
	result, err := s.ingest(ctx, req)
	if s.metrics != nil {
		outcome := "error"
		if result != nil {
			outcome = result.Outcome
		}
		s.metrics.RecordIngest(outcome, time.Since(start))
	}
	return result, err
}

func (s *IngestService) ingest(ctx context.Context, req *EventRequest) (*IngestResult, error) {
	if reason := validate(req); reason != "" {
		if s.metrics != nil {
			s.metrics.RecordRejected(reason)
		}
		return &IngestResult{Outcome: OutcomeRejected, Reason: reason}, nil
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	occurredAt = occurredAt.UTC()

	// Consent gate. A GPC signal is honored unless the visitor granted an
	// affirmative override after the signal.
	if reason := suppressionReason(req); reason != "" {
		storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		if err := s.suppressions.Increment(storeCtx, req.TenantID, models.DayOf(occurredAt)); err != nil {
			return nil, fmt.Errorf("failed to count suppression: %w", err)
		}
		if s.metrics != nil {
			s.metrics.RecordSuppressed(req.TenantID, reason)
		}
		return &IngestResult{Outcome: OutcomeSuppressed, Reason: reason}, nil
	}

	event := s.normalize(req, occurredAt)

	// For purchases, commerce fields must be valid before anything persists;
	// a partial order record is never created.
	var order *models.Order
	if event.IsPurchase() {
		orderID, value, currency, err := event.CommerceFields()
		if err != nil {
			if s.metrics != nil {
				s.metrics.RecordRejected("invalid_commerce_fields")
			}
			return &IngestResult{Outcome: OutcomeRejected, Reason: err.Error()}, nil
		}
		order = &models.Order{
			TenantID:    event.TenantID,
			OrderID:     orderID,
			EventID:     event.ID,
			Value:       value,
			Currency:    currency,
			VisitorID:   event.VisitorID,
			UserID:      event.UserID,
			PurchasedAt: event.OccurredAt,
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.events.Append(storeCtx, event); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	// Session resolution runs before the event is considered durable.
	if event.SessionID != "" {
		touch := models.SessionTouch{
			TenantID:    event.TenantID,
			SessionID:   event.SessionID,
			VisitorID:   event.VisitorID,
			UserID:      event.UserID,
			OccurredAt:  event.OccurredAt,
			UTMSource:   event.UTMSource,
			UTMMedium:   event.UTMMedium,
			UTMCampaign: event.UTMCampaign,
		}
		if _, err := s.sessions.Touch(storeCtx, touch); err != nil {
			return nil, fmt.Errorf("failed to resolve session: %w", err)
		}
	}

	if order != nil {
		if err := s.orders.Create(storeCtx, order); err != nil {
			return nil, fmt.Errorf("failed to create order: %w", err)
		}
		// Attribution must never fail the purchase write; an order left
		// unattributed here is picked up by the follow-up pass.
		if s.attribution != nil {
			if err := s.attribution.AttributeOrder(storeCtx, order); err != nil {
				s.logger.Warn("attribution deferred",
					zap.String("tenant_id", order.TenantID),
					zap.String("order_id", order.OrderID),
					zap.Error(err),
				)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.RecordAccepted(event.TenantID, event.EventName)
	}
	s.logger.Debug("event accepted",
		zap.String("tenant_id", event.TenantID),
		zap.String("event_name", event.EventName),
		zap.String("event_id", event.ID),
	)

	return &IngestResult{
		Outcome:   OutcomeAccepted,
		EventID:   event.ID,
		VisitorID: event.VisitorID,
	}, nil
}

func validate(req *EventRequest) string {
	if req.TenantID == "" {
		return "missing tenant_id"
	}
	if req.EventName == "" {
		return "missing event_name"
	}
	return ""
}

func suppressionReason(req *EventRequest) string {
	if req.GPC && !req.ConsentOverride {
		return "gpc"
	}
	if !req.Consent {
		return "no_consent"
	}
	return ""
}

// normalize builds the immutable event record: device type derived from the
// viewport when absent, raw IP/email replaced by salted hashes, geo country
// resolved from the raw IP before it is discarded, identifiers assigned.
func (s *IngestService) normalize(req *EventRequest, occurredAt time.Time) *models.Event {
	eventID := req.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}
	visitorID := req.VisitorID
	if visitorID == "" {
		visitorID = uuid.New().String()
	}

	deviceType := req.DeviceType
	if deviceType == "" {
		deviceType = models.DeriveDeviceType(req.ViewportWidth)
	}

	return &models.Event{
		ID:            eventID,
		TenantID:      req.TenantID,
		EventName:     req.EventName,
		OccurredAt:    occurredAt,
		SessionID:     req.SessionID,
		VisitorID:     visitorID,
		UserID:        req.UserID,
		PageURL:       req.PageURL,
		Referrer:      req.Referrer,
		UTMSource:     req.UTMSource,
		UTMMedium:     req.UTMMedium,
		UTMCampaign:   req.UTMCampaign,
		DeviceType:    deviceType,
		ViewportWidth: req.ViewportWidth,
		Orientation:   req.Orientation,
		GeoCountry:    s.geo.Country(req.IP),
		IPHash:        s.hasher.HashIP(req.IP),
		EmailHash:     s.hasher.HashEmail(req.Email),
		Properties:    req.Properties,
	}
}
