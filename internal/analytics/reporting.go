package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/luxlabs/lux-analytics/internal/metrics"
	"github.com/luxlabs/lux-analytics/internal/models"
	"github.com/luxlabs/lux-analytics/internal/storage"
)

// Totals is one aggregated metric set for a range.
type Totals struct {
	TotalEvents int64   `json:"total_events"`
	PageViews   int64   `json:"page_views"`
	Sessions    int64   `json:"sessions"`
	Purchases   int64   `json:"purchases"`
	Revenue     float64 `json:"revenue"`
}

// DayPoint is one day of the report time series.
type DayPoint struct {
	Day    string `json:"day"`
	Totals Totals `json:"totals"`
	// Source records where the numbers came from: "rollup" for an
	// aggregated day, "raw" for a live scan, "empty" for a day with no
	// rollup row and no live scan.
	Source string `json:"source"`
}

// BreakdownEntry is one row of a grouped count, such as a top page.
type BreakdownEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// UTMEntry is one row of the campaign breakdown.
type UTMEntry struct {
	Source   string `json:"source"`
	Medium   string `json:"medium"`
	Campaign string `json:"campaign"`
	Count    int64  `json:"count"`
}

// Comparison holds the same totals for the comparison range plus deltas.
type Comparison struct {
	Range  Range   `json:"range"`
	Totals Totals  `json:"totals"`
	Deltas []Delta `json:"deltas"`
}

// Delta is the relative change of one metric against the comparison range.
type Delta struct {
	Metric     string  `json:"metric"`
	Current    float64 `json:"current"`
	Previous   float64 `json:"previous"`
	ChangePct  float64 `json:"change_pct"`
	Comparable bool    `json:"comparable"` // false when previous is zero
}

// Summary is the full report response.
type Summary struct {
	TenantID string     `json:"tenant_id"`
	Range    Range      `json:"range"`
	Totals   Totals     `json:"totals"`
	Days     []DayPoint `json:"days"`

	TopPages     []BreakdownEntry `json:"top_pages,omitempty"`
	TopReferrers []BreakdownEntry `json:"top_referrers,omitempty"`
	UTMBreakdown []UTMEntry       `json:"utm_breakdown,omitempty"`

	ConsentSuppressed int64 `json:"consent_suppressed"`

	Comparison *Comparison `json:"comparison,omitempty"`
}

// ExportRow is one flat row of the CSV-style export.
type ExportRow struct {
	Day    string  `json:"day"`
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

const topLimit = 10

// ReportingService answers aggregate queries. Completed days are served
// from rollup rows; the current day is always computed live from raw
// events, never cached. Days with no rollup row report zeros rather than
// failing the whole query.
type ReportingService struct {
	events       storage.EventStore
	rollups      storage.RollupStore
	suppressions storage.SuppressionStore
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewReportingService creates a new reporting facade.
func NewReportingService(
	events storage.EventStore,
	rollups storage.RollupStore,
	suppressions storage.SuppressionStore,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ReportingService {
	return &ReportingService{
		events:       events,
		rollups:      rollups,
		suppressions: suppressions,
		logger:       logger,
		metrics:      m,
	}
}

// Summary builds the aggregate report for a tenant over a range, with an
// optional comparison range (zero Range disables it).
func (s *ReportingService) Summary(ctx context.Context, tenantID string, rng Range, compare Range) (*Summary, error) {
	days, source, err := s.daySeries(ctx, tenantID, rng)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TenantID: tenantID,
		Range:    rng,
		Totals:   sumDays(days),
		Days:     days,
	}

	if err := s.attachBreakdowns(ctx, summary, tenantID, rng); err != nil {
		return nil, err
	}

	suppressed, err := s.suppressions.Total(ctx, tenantID, models.DayOf(rng.Start), models.DayOf(rng.End))
	if err != nil {
		return nil, fmt.Errorf("failed to sum suppressions: %w", err)
	}
	summary.ConsentSuppressed = suppressed

	if !compare.Start.IsZero() {
		compareDays, _, err := s.daySeries(ctx, tenantID, compare)
		if err != nil {
			return nil, err
		}
		compareTotals := sumDays(compareDays)
		summary.Comparison = &Comparison{
			Range:  compare,
			Totals: compareTotals,
			Deltas: computeDeltas(summary.Totals, compareTotals),
		}
	}

	if s.metrics != nil {
		s.metrics.RecordReportQuery(source)
	}
	return summary, nil
}

// Export flattens the summary into (day, metric, value) rows.
func (s *ReportingService) Export(ctx context.Context, tenantID string, rng Range) ([]ExportRow, error) {
	days, source, err := s.daySeries(ctx, tenantID, rng)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordReportQuery(source)
	}

	rows := make([]ExportRow, 0, len(days)*5)
	for _, day := range days {
		rows = append(rows,
			ExportRow{Day: day.Day, Metric: "total_events", Value: float64(day.Totals.TotalEvents)},
			ExportRow{Day: day.Day, Metric: "page_views", Value: float64(day.Totals.PageViews)},
			ExportRow{Day: day.Day, Metric: "sessions", Value: float64(day.Totals.Sessions)},
			ExportRow{Day: day.Day, Metric: "purchases", Value: float64(day.Totals.Purchases)},
			ExportRow{Day: day.Day, Metric: "revenue", Value: day.Totals.Revenue},
		)
	}
	return rows, nil
}

// daySeries assembles per-day totals for the range. Days before today come
// from rollup rows, today is computed live, and future days are omitted.
// The returned source is "rollup", "raw" or "mixed".
func (s *ReportingService) daySeries(ctx context.Context, tenantID string, rng Range) ([]DayPoint, string, error) {
	today := dayStart(time.Now().UTC())

	var points []DayPoint
	usedRollup, usedRaw := false, false

	rolledEnd := rng.End
	if !rolledEnd.Before(today) {
		rolledEnd = today.AddDate(0, 0, -1)
	}

	if !rolledEnd.Before(rng.Start) {
		rollups, err := s.rollups.GetRange(ctx, tenantID, models.DayOf(rng.Start), models.DayOf(rolledEnd))
		if err != nil {
			return nil, "", fmt.Errorf("failed to read rollups: %w", err)
		}
		byDay := make(map[string]*models.DailyRollup, len(rollups))
		for _, rollup := range rollups {
			byDay[rollup.Day] = rollup
		}

		for day := rng.Start; !day.After(rolledEnd); day = day.AddDate(0, 0, 1) {
			key := models.DayOf(day)
			if rollup, ok := byDay[key]; ok {
				usedRollup = true
				points = append(points, DayPoint{
					Day: key,
					Totals: Totals{
						TotalEvents: rollup.TotalEvents,
						PageViews:   rollup.PageViews,
						Sessions:    rollup.Sessions,
						Purchases:   rollup.Purchases,
						Revenue:     rollup.Revenue,
					},
					Source: "rollup",
				})
			} else {
				points = append(points, DayPoint{Day: key, Source: "empty"})
			}
		}
	}

	// Today never has a trustworthy rollup row: events are still arriving.
	if !rng.End.Before(today) && !rng.Start.After(today) {
		events, err := s.events.QueryRange(ctx, tenantID, today, dayEnd(today), models.EventFilter{})
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan today's events: %w", err)
		}
		usedRaw = true
		live := SummarizeDay(tenantID, models.DayOf(today), events)
		points = append(points, DayPoint{
			Day: live.Day,
			Totals: Totals{
				TotalEvents: live.TotalEvents,
				PageViews:   live.PageViews,
				Sessions:    live.Sessions,
				Purchases:   live.Purchases,
				Revenue:     live.Revenue,
			},
			Source: "raw",
		})
	}

	source := "rollup"
	switch {
	case usedRollup && usedRaw:
		source = "mixed"
	case usedRaw:
		source = "raw"
	}
	return points, source, nil
}

// attachBreakdowns fills top pages, top referrers and the UTM table from a
// single raw event scan over the range.
func (s *ReportingService) attachBreakdowns(ctx context.Context, summary *Summary, tenantID string, rng Range) error {
	events, err := s.events.QueryRange(ctx, tenantID, rng.Start, rng.End, models.EventFilter{
		EventName: models.EventPageView,
	})
	if err != nil {
		return fmt.Errorf("failed to scan events for breakdowns: %w", err)
	}

	pages := make(map[string]int64)
	referrers := make(map[string]int64)
	type utmKey struct{ source, medium, campaign string }
	utm := make(map[utmKey]int64)

	for _, event := range events {
		if event.PageURL != "" {
			pages[event.PageURL]++
		}
		if event.Referrer != "" {
			referrers[event.Referrer]++
		}
		if event.UTMSource != "" || event.UTMMedium != "" || event.UTMCampaign != "" {
			utm[utmKey{event.UTMSource, event.UTMMedium, event.UTMCampaign}]++
		}
	}

	summary.TopPages = topEntries(pages, topLimit)
	summary.TopReferrers = topEntries(referrers, topLimit)

	for key, count := range utm {
		summary.UTMBreakdown = append(summary.UTMBreakdown, UTMEntry{
			Source:   key.source,
			Medium:   key.medium,
			Campaign: key.campaign,
			Count:    count,
		})
	}
	sort.Slice(summary.UTMBreakdown, func(i, j int) bool {
		a, b := summary.UTMBreakdown[i], summary.UTMBreakdown[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Medium != b.Medium {
			return a.Medium < b.Medium
		}
		return a.Campaign < b.Campaign
	})
	return nil
}

func topEntries(counts map[string]int64, limit int) []BreakdownEntry {
	entries := make([]BreakdownEntry, 0, len(counts))
	for key, count := range counts {
		entries = append(entries, BreakdownEntry{Key: key, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func sumDays(days []DayPoint) Totals {
	var totals Totals
	for _, day := range days {
		totals.TotalEvents += day.Totals.TotalEvents
		totals.PageViews += day.Totals.PageViews
		// Distinct sessions cannot be merged across days without the raw
		// ids, so the range figure is the sum of daily distinct counts.
		totals.Sessions += day.Totals.Sessions
		totals.Purchases += day.Totals.Purchases
		totals.Revenue += day.Totals.Revenue
	}
	return totals
}

func computeDeltas(current, previous Totals) []Delta {
	pairs := []struct {
		metric   string
		cur, prv float64
	}{
		{"total_events", float64(current.TotalEvents), float64(previous.TotalEvents)},
		{"page_views", float64(current.PageViews), float64(previous.PageViews)},
		{"sessions", float64(current.Sessions), float64(previous.Sessions)},
		{"purchases", float64(current.Purchases), float64(previous.Purchases)},
		{"revenue", current.Revenue, previous.Revenue},
	}

	deltas := make([]Delta, 0, len(pairs))
	for _, pair := range pairs {
		delta := Delta{Metric: pair.metric, Current: pair.cur, Previous: pair.prv}
		if pair.prv != 0 {
			delta.Comparable = true
			delta.ChangePct = (pair.cur - pair.prv) / pair.prv * 100
		}
		deltas = append(deltas, delta)
	}
	return deltas
}
