package models

import "time"

// DailyRollup is a per-tenant, per-day pre-aggregated summary. It is a
// cache over the raw event store, always derivable by replay: for any day
// whose aggregation run completed, the stored row equals a fresh scan.
type DailyRollup struct {
	TenantID string `json:"tenant_id"`
	Day      string `json:"day"` // YYYY-MM-DD, UTC

	TotalEvents int64   `json:"total_events"`
	PageViews   int64   `json:"page_views"`
	Sessions    int64   `json:"sessions"` // distinct session_ids
	Purchases   int64   `json:"purchases"`
	Revenue     float64 `json:"revenue"`

	ComputedAt time.Time `json:"computed_at"`
}

// DayOf formats a timestamp as the rollup day key.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ParseDay parses a rollup day key back into a UTC midnight timestamp.
func ParseDay(day string) (time.Time, error) {
	return time.Parse("2006-01-02", day)
}
