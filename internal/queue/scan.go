package queue

import (
	"context"
	"database/sql"
	"errors"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

// entryColumns is the column list used for SELECT statements on the checkins table.
const entryColumns = `id, user_id, event_id, device_id, client_seq,
	scan_payload, captured_at, lat, lon, accuracy_m,
	status, reason, server_seq, attempt_count, next_retry_at, last_error,
	created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func getEntry(ctx context.Context, db executor, id string) (*model.QueueEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM checkins WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// scanEntry scans a single row into a QueueEntry. The row must contain
// columns in the order defined by entryColumns.
func scanEntry(row scannable) (*model.QueueEntry, error) {
	var (
		rec         model.CheckInRecord
		lat         sql.NullFloat64
		lon         sql.NullFloat64
		accuracy    sql.NullFloat64
		nextRetryAt sql.NullTime
		entry       model.QueueEntry
	)

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.EventID,
		&rec.DeviceID,
		&rec.ClientSeq,
		&rec.ScanPayload,
		&rec.CapturedAt,
		&lat,
		&lon,
		&accuracy,
		&rec.Status,
		&rec.Reason,
		&rec.ServerSeq,
		&entry.AttemptCount,
		&nextRetryAt,
		&entry.LastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lon.Valid {
		rec.Location = &model.Location{
			Lat:       lat.Float64,
			Lon:       lon.Float64,
			AccuracyM: accuracy.Float64,
		}
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		entry.NextRetryAt = &t
	}

	entry.Record = &rec
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]*model.QueueEntry, error) {
	var entries []*model.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// scanEvent scans a cached event row.
func scanEvent(row scannable) (*model.Event, error) {
	var (
		ev          model.Event
		requiresGeo int
	)
	err := row.Scan(
		&ev.ID,
		&ev.Title,
		&ev.Status,
		&ev.Venue.Lat,
		&ev.Venue.Lon,
		&ev.ValidFrom,
		&ev.ValidUntil,
		&ev.AllowedRadiusM,
		&ev.MaxCheckInsPerUser,
		&requiresGeo,
	)
	if err != nil {
		return nil, err
	}
	ev.RequiresGeolocation = requiresGeo != 0
	return &ev, nil
}
