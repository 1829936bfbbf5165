package model

import (
	"fmt"
	"time"
)

// Status represents the current state of a check-in record.
type Status string

const (
	StatusPending      Status = "pending"
	StatusValidating   Status = "validating"
	StatusAwaitingSync Status = "awaiting_sync"
	StatusConfirmed    Status = "confirmed"
	StatusRejected     Status = "rejected"
	StatusConflicted   Status = "conflicted"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusValidating, StatusAwaitingSync,
		StatusConfirmed, StatusRejected, StatusConflicted:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// transitions is the set of legal status moves. Terminal statuses have no
// outgoing edges; nothing ever leaves Confirmed or Rejected.
var transitions = map[Status][]Status{
	StatusPending:      {StatusValidating, StatusRejected},
	StatusValidating:   {StatusAwaitingSync},
	StatusAwaitingSync: {StatusConfirmed, StatusRejected, StatusConflicted},
	StatusConflicted:   {StatusConfirmed, StatusRejected},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reason is a machine-readable code explaining a rejection or other outcome.
// Reasons are the only failure detail that crosses the engine boundary.
type Reason string

const (
	ReasonOutOfWindow     Reason = "out_of_window"
	ReasonOutOfRadius     Reason = "out_of_radius"
	ReasonMissingLocation Reason = "missing_location"
	ReasonOverLimit       Reason = "over_limit"
	ReasonEventCancelled  Reason = "event_cancelled"
	ReasonUnknownEvent    Reason = "unknown_event"
	ReasonDuplicate       Reason = "duplicate"
	ReasonSubmitFailed    Reason = "submit_failed"
	ReasonSyncExhausted   Reason = "sync_exhausted"
	ReasonSuperseded      Reason = "superseded_by_earlier_check_in"
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	return string(r)
}

// Location is a geographic coordinate with the reporter's accuracy estimate.
type Location struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AccuracyM float64 `json:"accuracy_m"`
}

// CheckInRecord is the core record produced by a scan or geofence trigger.
// Identity is the (UserID, EventID, DeviceID, ClientSeq) tuple; ID is a
// locally generated handle for lookups and notifications.
type CheckInRecord struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	EventID   string `json:"event_id"`
	DeviceID  string `json:"device_id"`
	ClientSeq int64  `json:"client_seq"`

	ScanPayload string    `json:"scan_payload"`
	CapturedAt  time.Time `json:"captured_at"`
	Location    *Location `json:"location,omitempty"`

	Status Status `json:"status"`
	Reason Reason `json:"reason,omitempty"`

	// ServerSeq is assigned exactly once, by the remote ledger. Zero means
	// no server sequence has been observed for this record.
	ServerSeq int64 `json:"server_seq,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IdempotencyKey derives the stable key used for remote submission. Repeated
// submissions with the same key have at most one effect server-side.
func (r *CheckInRecord) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%d", r.UserID, r.EventID, r.ClientSeq)
}

// QueueEntry wraps a CheckInRecord with queue-local bookkeeping. Entries are
// owned by the durable queue; callers only ever see read snapshots.
type QueueEntry struct {
	Record       *CheckInRecord `json:"record"`
	AttemptCount int            `json:"attempt_count"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
}
