package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

// executor abstracts *sql.DB and *sql.Tx so query helpers work inside and
// outside transactions.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scannable abstracts *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

const eventColumns = `id, title, status, venue_lat, venue_lon,
	valid_from, valid_until, allowed_radius_m,
	max_checkins_per_user, requires_geolocation, created_at, updated_at`

const checkinColumns = `id, user_id, event_id, device_id, client_seq,
	scan_payload, captured_at, lat, lon, accuracy_m,
	status, server_seq, created_at, updated_at`

func scanEvent(row scannable) (*model.Event, error) {
	var ev model.Event
	err := row.Scan(
		&ev.ID, &ev.Title, &ev.Status, &ev.Venue.Lat, &ev.Venue.Lon,
		&ev.ValidFrom, &ev.ValidUntil, &ev.AllowedRadiusM,
		&ev.MaxCheckInsPerUser, &ev.RequiresGeolocation, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func scanCheckIn(row scannable) (*model.CheckInRecord, error) {
	var rec model.CheckInRecord
	var lat, lon, accuracy sql.NullFloat64
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.EventID, &rec.DeviceID, &rec.ClientSeq,
		&rec.ScanPayload, &rec.CapturedAt, &lat, &lon, &accuracy,
		&rec.Status, &rec.ServerSeq, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		rec.Location = &model.Location{Lat: lat.Float64, Lon: lon.Float64, AccuracyM: accuracy.Float64}
	}
	return &rec, nil
}

func scanCheckIns(rows *sql.Rows) ([]*model.CheckInRecord, error) {
	var records []*model.CheckInRecord
	for rows.Next() {
		rec, err := scanCheckIn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
