package models

import "time"

// Unattributed is the explicit sentinel stored when no eligible session
// exists for an attribution slot. Never silently dropped as null.
const Unattributed = "unattributed"

// Order is a purchase conversion enriched with multi-touch attribution.
// Created when a valid purchase event is ingested; attribution fields are
// back-filled exactly once by the attribution engine.
type Order struct {
	TenantID string  `json:"tenant_id"`
	OrderID  string  `json:"order_id"`
	EventID  string  `json:"event_id"`
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`

	VisitorID   string    `json:"visitor_id"`
	UserID      string    `json:"user_id,omitempty"`
	PurchasedAt time.Time `json:"purchased_at"`

	FirstTouchChannel  string `json:"first_touch_channel,omitempty"`
	FirstTouchCampaign string `json:"first_touch_campaign,omitempty"`
	LastTouchChannel   string `json:"last_touch_channel,omitempty"`
	LastTouchCampaign  string `json:"last_touch_campaign,omitempty"`

	AttributedAt time.Time `json:"attributed_at,omitempty"`
}

// OrderAttribution is the result of one attribution pass over an order.
type OrderAttribution struct {
	FirstTouchChannel  string    `json:"first_touch_channel"`
	FirstTouchCampaign string    `json:"first_touch_campaign"`
	LastTouchChannel   string    `json:"last_touch_channel"`
	LastTouchCampaign  string    `json:"last_touch_campaign"`
	AttributedAt       time.Time `json:"attributed_at"`
}

// Attributed reports whether the attribution pass has run for this order.
// An order with both channels set to the unattributed sentinel still counts
// as attributed: the pass ran and found nothing.
func (o *Order) Attributed() bool {
	return !o.AttributedAt.IsZero()
}

// Channel renders a source/medium pair as the stored channel label.
func Channel(source, medium string) string {
	if source == "" && medium == "" {
		return "direct"
	}
	if medium == "" {
		return source
	}
	if source == "" {
		return medium
	}
	return source + "/" + medium
}
