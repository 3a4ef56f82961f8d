package models

import (
	"fmt"
	"time"
)

// ===========================================
// RAW EVENT
// ===========================================

// Known event names. The set is open: unknown names are accepted and
// validated only for the generic required fields.
const (
	EventPageView      = "page_view"
	EventAddToCart     = "add_to_cart"
	EventBeginCheckout = "begin_checkout"
	EventPurchase      = "purchase"
	EventLeadSubmit    = "lead_submit"
	EventSignup        = "signup"
	EventLogin         = "login"
	EventEmailSend     = "email_send"
	EventSMSSend       = "sms_send"
	EventAdImpression  = "ad_impression"
	EventAdClick       = "ad_click"
)

// Event is an immutable analytics fact. Once appended to the event store it
// is never mutated or deleted; corrections happen via compensating events.
type Event struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	EventName  string    `json:"event_name"`
	OccurredAt time.Time `json:"occurred_at"`

	// Identity
	SessionID string `json:"session_id"`
	VisitorID string `json:"visitor_id"`
	UserID    string `json:"user_id,omitempty"`

	// Page context
	PageURL  string `json:"page_url,omitempty"`
	Referrer string `json:"referrer,omitempty"`

	// Marketing attribution inputs
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`

	// Device info
	DeviceType    string `json:"device_type,omitempty"`
	ViewportWidth int    `json:"viewport_width,omitempty"`
	Orientation   string `json:"orientation,omitempty"`

	// Geo info (derived at the boundary, before the raw IP is discarded)
	GeoCountry string `json:"geo_country,omitempty"`

	// Privacy-safe identifiers. Raw IP/email never enter the store.
	IPHash    string `json:"ip_hash,omitempty"`
	EmailHash string `json:"email_hash,omitempty"`

	// Free-form extension fields, passed through opaquely.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Day returns the UTC calendar day the event belongs to.
func (e *Event) Day() string {
	return e.OccurredAt.UTC().Format("2006-01-02")
}

// IsPurchase reports whether the event is a commerce conversion.
func (e *Event) IsPurchase() bool {
	return e.EventName == EventPurchase
}

// CommerceFields extracts and validates the required purchase properties.
// Returns an error when order_id, value or currency are missing or malformed.
func (e *Event) CommerceFields() (orderID string, value float64, currency string, err error) {
	orderID, _ = e.Properties["order_id"].(string)
	if orderID == "" {
		return "", 0, "", fmt.Errorf("purchase event missing order_id")
	}

	switch v := e.Properties["value"].(type) {
	case float64:
		value = v
	case int:
		value = float64(v)
	default:
		return "", 0, "", fmt.Errorf("purchase event missing numeric value")
	}
	if value < 0 {
		return "", 0, "", fmt.Errorf("purchase value must be non-negative")
	}

	currency, _ = e.Properties["currency"].(string)
	if len(currency) != 3 {
		return "", 0, "", fmt.Errorf("purchase currency must be a 3-letter code")
	}

	return orderID, value, currency, nil
}

// DeriveDeviceType maps a viewport width to a device class.
func DeriveDeviceType(viewportWidth int) string {
	switch {
	case viewportWidth <= 0:
		return ""
	case viewportWidth < 768:
		return "mobile"
	case viewportWidth < 1024:
		return "tablet"
	default:
		return "desktop"
	}
}

// ===========================================
// EVENT FILTERS
// ===========================================

// EventFilter narrows event store range scans.
type EventFilter struct {
	EventName string
	SessionID string
	VisitorID string
	Limit     int
}
