// Package scan turns raw capture inputs (QR payloads, geofence triggers)
// into queued check-in candidates.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/gatepass/internal/bus"
	"github.com/alfredjeanlab/gatepass/internal/idgen"
	"github.com/alfredjeanlab/gatepass/internal/model"
	"github.com/alfredjeanlab/gatepass/internal/queue"
)

// ErrEmptyPayload is returned when a scan carries no usable content.
var ErrEmptyPayload = errors.New("scan: empty payload")

// geofencePrefix marks payloads synthesized by a geofence trigger rather
// than a physical QR scan.
const geofencePrefix = "geo:"

// Source identifies how a candidate was captured.
type Source string

const (
	SourceQR       Source = "qr"
	SourceGeofence Source = "geofence"
)

// Payload is a parsed capture input.
type Payload struct {
	EventID string
	Source  Source
}

// ParsePayload extracts the event reference from raw scan content. QR codes
// carry the event ID directly; geofence triggers carry it behind the "geo:"
// prefix.
func ParsePayload(raw string) (Payload, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return Payload{}, ErrEmptyPayload
	}
	if id, ok := strings.CutPrefix(content, geofencePrefix); ok {
		id = strings.TrimSpace(id)
		if id == "" {
			return Payload{}, ErrEmptyPayload
		}
		return Payload{EventID: id, Source: SourceGeofence}, nil
	}
	return Payload{EventID: content, Source: SourceQR}, nil
}

// Adapter builds check-in candidates for one (user, device) pair and appends
// them to the durable queue. Appending is the only side effect; validation
// and submission happen later, in the drain loop.
type Adapter struct {
	store    queue.Store
	bus      *bus.Bus
	userID   string
	deviceID string
	logger   *slog.Logger
}

// NewAdapter creates an Adapter. The bus may be nil when no observer cares
// about append notifications; the logger may be nil.
func NewAdapter(store queue.Store, b *bus.Bus, userID, deviceID string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		store:    store,
		bus:      b,
		userID:   userID,
		deviceID: deviceID,
		logger:   logger,
	}
}

// Submit parses the raw payload, assigns the next client sequence for the
// device, and appends the candidate. The returned entry reflects the durable
// state; a re-submission of an already-queued identity returns the original.
func (a *Adapter) Submit(ctx context.Context, rawPayload string, capturedAt time.Time, loc *model.Location) (*model.QueueEntry, error) {
	p, err := ParsePayload(rawPayload)
	if err != nil {
		return nil, err
	}

	seq, err := a.store.NextClientSeq(ctx, a.deviceID)
	if err != nil {
		return nil, err
	}

	id, err := idgen.Generate()
	if err != nil {
		return nil, err
	}

	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	rec := &model.CheckInRecord{
		ID:          id,
		UserID:      a.userID,
		EventID:     p.EventID,
		DeviceID:    a.deviceID,
		ClientSeq:   seq,
		ScanPayload: strings.TrimSpace(rawPayload),
		CapturedAt:  capturedAt.UTC(),
		Location:    loc,
		Status:      model.StatusPending,
	}

	entry, err := a.store.Append(ctx, rec)
	if err != nil {
		return nil, err
	}

	a.logger.Info("scan: candidate queued",
		"record", entry.Record.ID, "event", p.EventID, "source", p.Source, "client_seq", entry.Record.ClientSeq)

	if a.bus != nil && entry.Record.ID == id {
		a.bus.Publish(bus.Transition{
			RecordID: entry.Record.ID,
			To:       model.StatusPending,
			At:       time.Now().UTC(),
		})
	}
	return entry, nil
}
