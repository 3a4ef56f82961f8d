package models

import "time"

// Session groups a contiguous sequence of events from one visitor.
// Keyed by (tenant_id, session_id). First-touch fields follow the earliest
// event seen for the session, which may not be the first one processed when
// ingestion is out of order. Sessions never merge.
type Session struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	VisitorID string `json:"visitor_id"`
	UserID    string `json:"user_id,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	LastSeenAt time.Time `json:"last_seen_at"`

	// First-touch marketing fields, captured from the earliest event.
	FirstSource   string `json:"first_source,omitempty"`
	FirstMedium   string `json:"first_medium,omitempty"`
	FirstCampaign string `json:"first_campaign,omitempty"`
}

// SessionTouch is the slice of an event the session resolver consumes.
type SessionTouch struct {
	TenantID    string
	SessionID   string
	VisitorID   string
	UserID      string
	OccurredAt  time.Time
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
}
