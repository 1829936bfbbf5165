// Package queue implements the durable local check-in queue.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for the requested ID.
	ErrNotFound = errors.New("queue: record not found")

	// ErrStaleClientSeq is returned when an append carries a client sequence
	// at or below one already seen from the same device, for a different
	// (user, event, seq) identity. The candidate is not appended.
	ErrStaleClientSeq = errors.New("queue: stale client sequence")

	// ErrInvalidTransition is returned when a status update is not reachable
	// from the record's current status. This is a logic error in the caller,
	// never retried.
	ErrInvalidTransition = errors.New("queue: invalid status transition")
)

// Store defines the persistence contract for the durable queue. All mutations
// are committed before the call returns; a crash between an append and the
// next read never loses or duplicates a record.
type Store interface {
	// Append durably adds a candidate record. Appending the same
	// (user, event, clientSeq) identity twice is idempotent and returns the
	// entry created by the first call.
	Append(ctx context.Context, rec *model.CheckInRecord) (*model.QueueEntry, error)

	// NextClientSeq returns the next unused client sequence for a device,
	// one above the durable high-water mark.
	NextClientSeq(ctx context.Context, deviceID string) (int64, error)

	// Get returns a snapshot of a single entry.
	Get(ctx context.Context, id string) (*model.QueueEntry, error)

	// ListPending returns all non-terminal entries ordered oldest-first,
	// with clientSeq ascending within each event.
	ListPending(ctx context.Context) ([]*model.QueueEntry, error)

	// ListByUserEvent returns every entry for one (user, event) slot.
	ListByUserEvent(ctx context.Context, userID, eventID string) ([]*model.QueueEntry, error)

	// ListTerminal returns confirmed and rejected entries, for audit export.
	ListTerminal(ctx context.Context) ([]*model.QueueEntry, error)

	// CountConfirmed counts confirmed records for one (user, event) slot.
	CountConfirmed(ctx context.Context, userID, eventID string) (int, error)

	// UpdateStatus moves a record to a new status, recording the reason for
	// rejections and the server sequence for confirmations. Fails with
	// ErrInvalidTransition when the move is not legal from the current status.
	UpdateStatus(ctx context.Context, id string, to model.Status, reason model.Reason, serverSeq int64) error

	// RecordAttempt bumps the attempt counter after a transient failure and
	// schedules the next retry.
	RecordAttempt(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error

	// CacheEvent stores a fetched event definition locally.
	CacheEvent(ctx context.Context, ev *model.Event) error

	// CachedEvent returns the locally cached event, or ErrNotFound.
	CachedEvent(ctx context.Context, eventID string) (*model.Event, error)

	// Cursor returns the last server sequence observed per event.
	Cursor(ctx context.Context) (map[string]int64, error)

	// AdvanceCursor persists a newly observed server sequence for an event.
	// Moves the cursor forward only; stale sequences are ignored.
	AdvanceCursor(ctx context.Context, eventID string, serverSeq int64) error

	// Lifecycle
	Close() error
}
