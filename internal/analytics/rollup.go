package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luxlabs/lux-analytics/internal/metrics"
	"github.com/luxlabs/lux-analytics/internal/models"
	"github.com/luxlabs/lux-analytics/internal/storage"
)

// ErrRollupInProgress is returned when another run holds the (tenant, day)
// lock. Safe to treat as a no-op: the holder writes the same row.
var ErrRollupInProgress = fmt.Errorf("rollup already in progress")

// =============================================
// RUN LOCKS
// =============================================

// RunLocker serializes aggregation per (tenant, day) key. TryLock returns
// false without blocking when another run holds the key.
type RunLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// RedisRunLocker implements RunLocker with SET NX EX, so the lock also
// holds across processes and expires if a run dies mid-flight.
type RedisRunLocker struct {
	client *redis.Client
}

// NewRedisRunLocker creates a Redis-backed run locker.
func NewRedisRunLocker(client *redis.Client) *RedisRunLocker {
	return &RedisRunLocker{client: client}
}

func (l *RedisRunLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, "rollup:lock:"+key, 1, ttl).Result()
}

func (l *RedisRunLocker) Unlock(ctx context.Context, key string) error {
	return l.client.Del(ctx, "rollup:lock:"+key).Err()
}

// InMemoryRunLocker implements RunLocker for single-process deployments.
type InMemoryRunLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewInMemoryRunLocker creates an in-memory run locker.
func NewInMemoryRunLocker() *InMemoryRunLocker {
	return &InMemoryRunLocker{held: make(map[string]struct{})}
}

func (l *InMemoryRunLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

func (l *InMemoryRunLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// =============================================
// AGGREGATOR
// =============================================

// RollupAggregator compresses raw events into daily per-tenant summaries.
// Aggregate is idempotent: re-running a (tenant, day) writes the same row.
type RollupAggregator struct {
	events  storage.EventStore
	rollups storage.RollupStore
	locker  RunLocker
	lockTTL time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRollupAggregator creates a new aggregator.
func NewRollupAggregator(
	events storage.EventStore,
	rollups storage.RollupStore,
	locker RunLocker,
	lockTTL time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *RollupAggregator {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &RollupAggregator{
		events:  events,
		rollups: rollups,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
		metrics: m,
	}
}

// Aggregate scans one tenant's raw events for the UTC day and upserts the
// rollup row. A day with zero events still writes a zero-valued row, which
// distinguishes "aggregated, empty" from "never aggregated". Returns
// ErrRollupInProgress when a concurrent run holds the (tenant, day) lock.
func (a *RollupAggregator) Aggregate(ctx context.Context, tenantID, day string) (*models.DailyRollup, error) {
	start := time.Now()

	key := tenantID + ":" + day
	acquired, err := a.locker.TryLock(ctx, key, a.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rollup lock: %w", err)
	}
	if !acquired {
		if a.metrics != nil {
			a.metrics.RecordRollup("skipped", 0)
		}
		return nil, ErrRollupInProgress
	}
	defer func() {
		if err := a.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			a.logger.Warn("failed to release rollup lock", zap.String("key", key), zap.Error(err))
		}
	}()

	rollup, err := a.compute(ctx, tenantID, day)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordRollup("failed", 0)
		}
		return nil, err
	}

	// The upsert replaces the row whole; a failure here leaves the
	// previous row visible until a retry succeeds.
	if err := a.rollups.Upsert(ctx, rollup); err != nil {
		if a.metrics != nil {
			a.metrics.RecordRollup("failed", 0)
		}
		return nil, fmt.Errorf("failed to store rollup: %w", err)
	}

	if a.metrics != nil {
		a.metrics.RecordRollup("ok", time.Since(start))
	}
	a.logger.Info("rollup computed",
		zap.String("tenant_id", tenantID),
		zap.String("day", day),
		zap.Int64("total_events", rollup.TotalEvents),
		zap.Int64("sessions", rollup.Sessions),
	)
	return rollup, nil
}

func (a *RollupAggregator) compute(ctx context.Context, tenantID, day string) (*models.DailyRollup, error) {
	dayStart, err := models.ParseDay(day)
	if err != nil {
		return nil, fmt.Errorf("invalid rollup day %q: %w", day, err)
	}
	dayFinish := dayStart.Add(24*time.Hour - time.Nanosecond)

	events, err := a.events.QueryRange(ctx, tenantID, dayStart, dayFinish, models.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events for rollup: %w", err)
	}

	return SummarizeDay(tenantID, day, events), nil
}

// SummarizeDay folds one day of events into a rollup row. Pure function:
// the rollup invariant is that this equals the stored row for any
// aggregated day.
func SummarizeDay(tenantID, day string, events []*models.Event) *models.DailyRollup {
	rollup := &models.DailyRollup{
		TenantID:   tenantID,
		Day:        day,
		ComputedAt: time.Now().UTC(),
	}

	seenSessions := make(map[string]struct{})
	for _, event := range events {
		rollup.TotalEvents++
		switch event.EventName {
		case models.EventPageView:
			rollup.PageViews++
		case models.EventPurchase:
			rollup.Purchases++
			if value, ok := event.Properties["value"].(float64); ok {
				rollup.Revenue += value
			}
		}
		if event.SessionID != "" {
			if _, ok := seenSessions[event.SessionID]; !ok {
				seenSessions[event.SessionID] = struct{}{}
				rollup.Sessions++
			}
		}
	}
	return rollup
}

// =============================================
// SCHEDULER
// =============================================

// RollupScheduler periodically aggregates the previous UTC day for every
// tenant that produced events. Jobs are explicit (tenant, day) keys;
// distinct keys aggregate in parallel while the run lock keeps each key
// at most-once-concurrent.
type RollupScheduler struct {
	aggregator *RollupAggregator
	events     storage.EventStore
	interval   time.Duration
	logger     *zap.Logger
}

// NewRollupScheduler creates a new scheduler.
func NewRollupScheduler(aggregator *RollupAggregator, events storage.EventStore, interval time.Duration, logger *zap.Logger) *RollupScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RollupScheduler{
		aggregator: aggregator,
		events:     events,
		interval:   interval,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled, aggregating the previous UTC day on
// each tick. Failures are logged and retried on the next tick.
func (s *RollupScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			day := models.DayOf(time.Now().UTC().AddDate(0, 0, -1))
			if err := s.RunDay(ctx, day); err != nil {
				s.logger.Error("scheduled rollup failed", zap.String("day", day), zap.Error(err))
			}
		}
	}
}

// RunDay aggregates one day for all tenants with events on it. Also used
// for on-demand backfill.
func (s *RollupScheduler) RunDay(ctx context.Context, day string) error {
	dayStart, err := models.ParseDay(day)
	if err != nil {
		return fmt.Errorf("invalid day %q: %w", day, err)
	}
	dayFinish := dayStart.Add(24*time.Hour - time.Nanosecond)

	tenants, err := s.events.DistinctTenants(ctx, dayStart, dayFinish)
	if err != nil {
		return fmt.Errorf("failed to list tenants for day: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			if _, err := s.aggregator.Aggregate(gctx, tenantID, day); err != nil && err != ErrRollupInProgress {
				return fmt.Errorf("tenant %s: %w", tenantID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
