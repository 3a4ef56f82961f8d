package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/luxlabs/lux-analytics/internal/models"
)

// =============================================
// IN-MEMORY EVENT STORE
// =============================================

// InMemoryEventStore provides in-memory storage for events. Used in
// development and tests; the durable implementations are Postgres and
// ClickHouse.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]map[string]*models.Event // tenant_id -> event_id -> event

	// Index for session lookups: tenant_id -> session_id -> []event_id
	bySession map[string]map[string][]string
}

// NewInMemoryEventStore creates a new in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events:    make(map[string]map[string]*models.Event),
		bySession: make(map[string]map[string][]string),
	}
}

func (s *InMemoryEventStore) Append(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.events[event.TenantID]
	if !ok {
		tenant = make(map[string]*models.Event)
		s.events[event.TenantID] = tenant
	}
	if _, exists := tenant[event.ID]; exists {
		return nil // idempotent append
	}

	copied := *event
	tenant[event.ID] = &copied

	if event.SessionID != "" {
		sessions, ok := s.bySession[event.TenantID]
		if !ok {
			sessions = make(map[string][]string)
			s.bySession[event.TenantID] = sessions
		}
		sessions[event.SessionID] = append(sessions[event.SessionID], event.ID)
	}

	return nil
}

func (s *InMemoryEventStore) QueryRange(ctx context.Context, tenantID string, from, to time.Time, filter models.EventFilter) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Event, 0)
	for _, event := range s.events[tenantID] {
		if event.OccurredAt.Before(from) || event.OccurredAt.After(to) {
			continue
		}
		if filter.EventName != "" && event.EventName != filter.EventName {
			continue
		}
		if filter.SessionID != "" && event.SessionID != filter.SessionID {
			continue
		}
		if filter.VisitorID != "" && event.VisitorID != filter.VisitorID {
			continue
		}
		copied := *event
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *InMemoryEventStore) QueryBySession(ctx context.Context, tenantID, sessionID string) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySession[tenantID][sessionID]
	result := make([]*models.Event, 0, len(ids))
	for _, id := range ids {
		if event, ok := s.events[tenantID][id]; ok {
			copied := *event
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

func (s *InMemoryEventStore) DistinctTenants(ctx context.Context, from, to time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tenants []string
	for tenantID, events := range s.events {
		for _, event := range events {
			if !event.OccurredAt.Before(from) && !event.OccurredAt.After(to) {
				tenants = append(tenants, tenantID)
				break
			}
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// =============================================
// IN-MEMORY SESSION STORE
// =============================================

// InMemorySessionStore provides in-memory session storage.
type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]map[string]*models.Session // tenant_id -> session_id -> session
}

// NewInMemorySessionStore creates a new in-memory session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]map[string]*models.Session),
	}
}

func (s *InMemorySessionStore) Touch(ctx context.Context, touch models.SessionTouch) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.sessions[touch.TenantID]
	if !ok {
		tenant = make(map[string]*models.Session)
		s.sessions[touch.TenantID] = tenant
	}

	session, ok := tenant[touch.SessionID]
	if !ok {
		session = &models.Session{
			TenantID:      touch.TenantID,
			SessionID:     touch.SessionID,
			VisitorID:     touch.VisitorID,
			UserID:        touch.UserID,
			StartedAt:     touch.OccurredAt,
			LastSeenAt:    touch.OccurredAt,
			FirstSource:   touch.UTMSource,
			FirstMedium:   touch.UTMMedium,
			FirstCampaign: touch.UTMCampaign,
		}
		tenant[touch.SessionID] = session
		copied := *session
		return &copied, nil
	}

	if touch.OccurredAt.After(session.LastSeenAt) {
		session.LastSeenAt = touch.OccurredAt
	}
	// An out-of-order event older than the current start owns the
	// first-touch fields.
	if touch.OccurredAt.Before(session.StartedAt) {
		session.StartedAt = touch.OccurredAt
		session.FirstSource = touch.UTMSource
		session.FirstMedium = touch.UTMMedium
		session.FirstCampaign = touch.UTMCampaign
	}
	if session.UserID == "" && touch.UserID != "" {
		session.UserID = touch.UserID
	}

	copied := *session
	return &copied, nil
}

func (s *InMemorySessionStore) Get(ctx context.Context, tenantID, sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[tenantID][sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *InMemorySessionStore) ListByIdentity(ctx context.Context, tenantID, visitorID, userID string, from, to time.Time) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*models.Session, 0)
	for _, session := range s.sessions[tenantID] {
		if session.StartedAt.Before(from) || session.StartedAt.After(to) {
			continue
		}
		match := visitorID != "" && session.VisitorID == visitorID
		if !match && userID != "" && session.UserID == userID {
			match = true
		}
		if match {
			copied := *session
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].SessionID < result[j].SessionID
		}
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// =============================================
// IN-MEMORY ORDER STORE
// =============================================

// InMemoryOrderStore provides in-memory order storage.
type InMemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]map[string]*models.Order // tenant_id -> order_id -> order
}

// NewInMemoryOrderStore creates a new in-memory order store.
func NewInMemoryOrderStore() *InMemoryOrderStore {
	return &InMemoryOrderStore{
		orders: make(map[string]map[string]*models.Order),
	}
}

func (s *InMemoryOrderStore) Create(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.orders[order.TenantID]
	if !ok {
		tenant = make(map[string]*models.Order)
		s.orders[order.TenantID] = tenant
	}
	if _, exists := tenant[order.OrderID]; exists {
		return nil
	}

	copied := *order
	tenant[order.OrderID] = &copied
	return nil
}

func (s *InMemoryOrderStore) Get(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[tenantID][orderID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *InMemoryOrderStore) SetAttribution(ctx context.Context, tenantID, orderID string, attr models.OrderAttribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[tenantID][orderID]
	if !ok {
		return ErrNotFound
	}

	order.FirstTouchChannel = attr.FirstTouchChannel
	order.FirstTouchCampaign = attr.FirstTouchCampaign
	order.LastTouchChannel = attr.LastTouchChannel
	order.LastTouchCampaign = attr.LastTouchCampaign
	order.AttributedAt = attr.AttributedAt
	return nil
}

func (s *InMemoryOrderStore) ListUnattributed(ctx context.Context, tenantID string, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*models.Order, 0)
	for _, order := range s.orders[tenantID] {
		if order.Attributed() {
			continue
		}
		copied := *order
		result = append(result, &copied)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// =============================================
// IN-MEMORY ROLLUP STORE
// =============================================

// InMemoryRollupStore provides in-memory rollup storage.
type InMemoryRollupStore struct {
	mu      sync.RWMutex
	rollups map[string]map[string]*models.DailyRollup // tenant_id -> day -> rollup
}

// NewInMemoryRollupStore creates a new in-memory rollup store.
func NewInMemoryRollupStore() *InMemoryRollupStore {
	return &InMemoryRollupStore{
		rollups: make(map[string]map[string]*models.DailyRollup),
	}
}

func (s *InMemoryRollupStore) Upsert(ctx context.Context, rollup *models.DailyRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.rollups[rollup.TenantID]
	if !ok {
		tenant = make(map[string]*models.DailyRollup)
		s.rollups[rollup.TenantID] = tenant
	}
	copied := *rollup
	tenant[rollup.Day] = &copied
	return nil
}

func (s *InMemoryRollupStore) Get(ctx context.Context, tenantID, day string) (*models.DailyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rollup, ok := s.rollups[tenantID][day]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rollup
	return &copied, nil
}

func (s *InMemoryRollupStore) GetRange(ctx context.Context, tenantID, fromDay, toDay string) ([]*models.DailyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.DailyRollup, 0)
	for day, rollup := range s.rollups[tenantID] {
		if day < fromDay || day > toDay {
			continue
		}
		copied := *rollup
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Day < result[j].Day
	})
	return result, nil
}

// =============================================
// IN-MEMORY SUPPRESSION COUNTER
// =============================================

// InMemorySuppressionStore provides in-memory consent suppression counters.
type InMemorySuppressionStore struct {
	mu     sync.Mutex
	counts map[string]map[string]int64 // tenant_id -> day -> count
}

// NewInMemorySuppressionStore creates a new in-memory suppression store.
func NewInMemorySuppressionStore() *InMemorySuppressionStore {
	return &InMemorySuppressionStore{
		counts: make(map[string]map[string]int64),
	}
}

func (s *InMemorySuppressionStore) Increment(ctx context.Context, tenantID, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.counts[tenantID]
	if !ok {
		tenant = make(map[string]int64)
		s.counts[tenantID] = tenant
	}
	tenant[day]++
	return nil
}

func (s *InMemorySuppressionStore) Total(ctx context.Context, tenantID, fromDay, toDay string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for day, count := range s.counts[tenantID] {
		if day >= fromDay && day <= toDay {
			total += count
		}
	}
	return total, nil
}
