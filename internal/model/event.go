package model

import "time"

// EventStatus tracks the publication lifecycle of an event.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventOpen      EventStatus = "open"
	EventClosed    EventStatus = "closed"
	EventCancelled EventStatus = "cancelled"
)

// String returns the string representation of the event status.
func (s EventStatus) String() string {
	return string(s)
}

// IsValid checks whether the event status is a known value.
func (s EventStatus) IsValid() bool {
	switch s {
	case EventDraft, EventOpen, EventClosed, EventCancelled:
		return true
	}
	return false
}

// Event is the read-mostly event definition fetched from the remote ledger
// and cached locally. Validity is always evaluated against a record's
// CapturedAt, never against sync time.
type Event struct {
	ID     string      `json:"id"`
	Title  string      `json:"title,omitempty"`
	Status EventStatus `json:"status"`

	Venue          Location  `json:"venue"`
	ValidFrom      time.Time `json:"valid_from"`
	ValidUntil     time.Time `json:"valid_until"`
	AllowedRadiusM float64   `json:"allowed_radius_m"`

	MaxCheckInsPerUser  int  `json:"max_checkins_per_user"`
	RequiresGeolocation bool `json:"requires_geolocation"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InWindow reports whether t falls inside the event's validity window.
func (e *Event) InWindow(t time.Time) bool {
	return !t.Before(e.ValidFrom) && !t.After(e.ValidUntil)
}
