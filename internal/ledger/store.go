// Package ledger implements the reference check-in ledger: the remote
// authority that assigns server sequences and arbitrates contested slots.
package ledger

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

var (
	// ErrEventNotFound is returned when the referenced event does not exist.
	ErrEventNotFound = errors.New("ledger: event not found")

	// ErrEventCancelled is returned for submissions against a cancelled event.
	ErrEventCancelled = errors.New("ledger: event cancelled")
)

// StatusSuperseded marks a stored record that lost its slot to an earlier
// capture. It exists only server-side; devices translate it through the
// conflict set, never read it directly.
const StatusSuperseded model.Status = "superseded"

// Conflict is the contested-slot payload returned to submitting devices: the
// full competing record set plus the slot capacity. Every device resolves it
// with the same deterministic order the ledger used.
type Conflict struct {
	Records    []*model.CheckInRecord `json:"records"`
	MaxPerUser int                    `json:"max_checkins_per_user"`
}

// PutOutcome is the result of an idempotent check-in submission.
type PutOutcome struct {
	// Record is the stored copy, carrying its assigned server sequence.
	Record *model.CheckInRecord

	// Duplicate is true when the identity had been submitted before and the
	// original record is returned unchanged.
	Duplicate bool

	// Conflict is set when the (user, event) slot is contested. Record is
	// still populated with the submitted record's stored copy.
	Conflict *Conflict
}

// Store is the ledger's persistence contract.
type Store interface {
	CreateEvent(ctx context.Context, ev *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	CancelEvent(ctx context.Context, id string) (*model.Event, error)

	// PutCheckIn records a submission. Resubmitting the same
	// (user, event, device, clientSeq) identity returns the original record.
	// A submission into a full slot triggers deterministic re-resolution and
	// returns the conflict set.
	PutCheckIn(ctx context.Context, rec *model.CheckInRecord) (*PutOutcome, error)

	// ListCheckIns returns every record for an event in server sequence order.
	ListCheckIns(ctx context.Context, eventID string) ([]*model.CheckInRecord, error)

	Close() error
}
