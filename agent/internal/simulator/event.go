package simulator

import "time"

// EventType names the kind of simulated event.
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventConversion EventType = "conversion"
)

// Event is one simulated ad event as written by Stream.
type Event struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	UserID     string    `json:"user_id"`
	CampaignID string    `json:"campaign_id,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	ContentID  string    `json:"content_id,omitempty"`

	ConversionValue        float64  `json:"conversion_value,omitempty"`
	AttributionTouchpoints []string `json:"attribution_touchpoints,omitempty"`
	SessionDurationSec     float64  `json:"session_duration_sec,omitempty"`

	ClickDelayMs int64 `json:"click_delay_ms,omitempty"`

	Metadata *Metadata `json:"metadata,omitempty"`
}

// Metadata carries the time-of-day context attached to impressions.
type Metadata struct {
	HourOfDay int `json:"hour_of_day"`
	// DayOfWeek counts from Monday = 0.
	DayOfWeek int `json:"day_of_week"`
}

// Counters are cumulative totals since the simulator was created.
type Counters struct {
	Requests        uint64
	Fills           uint64
	Impressions     uint64
	Clicks          uint64
	Conversions     uint64
	Events          uint64
	SessionsStarted uint64
	ActiveSessions  int
	// Rejected counts conversions the sink refused.
	Rejected uint64
}
