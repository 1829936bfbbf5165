// Package remote defines the client contract against the check-in ledger
// and classifies its failures into retry-eligible and terminal classes.
package remote

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

// ErrEventNotFound is returned by GetEvent when the ledger has no such event.
var ErrEventNotFound = errors.New("remote: event not found")

// Conflict describes a contested (user, event) slot: the full competing
// record set as the ledger knows it, plus the slot capacity. The caller
// resolves it with the deterministic tie-break.
type Conflict struct {
	Records    []*model.CheckInRecord `json:"records"`
	MaxPerUser int                    `json:"max_checkins_per_user"`
}

// PutResult is the outcome of an idempotent check-in submission. Exactly one
// of ServerSeq (confirmed) or Conflict is meaningful.
type PutResult struct {
	ServerSeq int64     `json:"server_seq,omitempty"`
	Conflict  *Conflict `json:"conflict,omitempty"`
}

// Store is the remote ledger as seen by the engine: an idempotent check-in
// write plus event definition reads. Implementations classify failures as
// transient or permanent so the sync coordinator can decide whether to retry.
type Store interface {
	// PutCheckIn submits a record keyed by its idempotency key. Retrying
	// with the same key never creates a duplicate server-side record.
	PutCheckIn(ctx context.Context, rec *model.CheckInRecord) (*PutResult, error)

	// GetEvent fetches an event definition, or ErrEventNotFound.
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
}

// TransientError marks a failure worth retrying with backoff: timeouts,
// connection resets, server-side 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: auth failures,
// malformed payloads.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retry-eligible.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is terminal.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
