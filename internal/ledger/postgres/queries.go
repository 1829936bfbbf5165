package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/gatepass/internal/ledger"
	"github.com/alfredjeanlab/gatepass/internal/model"
)

func queryCreateEvent(ctx context.Context, ex executor, ev *model.Event) error {
	now := time.Now().UTC()
	if ev.Status == "" {
		ev.Status = model.EventOpen
	}
	ev.CreatedAt = now
	ev.UpdatedAt = now

	_, err := ex.ExecContext(ctx, `
		INSERT INTO events (
			id, title, status, venue_lat, venue_lon,
			valid_from, valid_until, allowed_radius_m,
			max_checkins_per_user, requires_geolocation, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.Title, string(ev.Status), ev.Venue.Lat, ev.Venue.Lon,
		ev.ValidFrom.UTC(), ev.ValidUntil.UTC(), ev.AllowedRadiusM,
		ev.MaxCheckInsPerUser, ev.RequiresGeolocation, ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func queryGetEvent(ctx context.Context, ex executor, id string) (*model.Event, error) {
	ev, err := scanEvent(ex.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

func queryCancelEvent(ctx context.Context, ex executor, id string) (*model.Event, error) {
	res, err := ex.ExecContext(ctx, `
		UPDATE events SET status = $1, updated_at = $2 WHERE id = $3`,
		string(model.EventCancelled), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("cancel event: %w", err)
	}
	if n == 0 {
		return nil, ledger.ErrEventNotFound
	}
	return queryGetEvent(ctx, ex, id)
}

func queryGetCheckInByIdentity(ctx context.Context, ex executor, rec *model.CheckInRecord) (*model.CheckInRecord, error) {
	existing, err := scanCheckIn(ex.QueryRowContext(ctx, `
		SELECT `+checkinColumns+` FROM checkins
		WHERE user_id = $1 AND event_id = $2 AND device_id = $3 AND client_seq = $4`,
		rec.UserID, rec.EventID, rec.DeviceID, rec.ClientSeq))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup check-in identity: %w", err)
	}
	return existing, nil
}

func queryListSlot(ctx context.Context, ex executor, userID, eventID string) ([]*model.CheckInRecord, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT `+checkinColumns+` FROM checkins
		WHERE user_id = $1 AND event_id = $2
		ORDER BY server_seq ASC`,
		userID, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list slot: %w", err)
	}
	defer rows.Close()
	return scanCheckIns(rows)
}

func queryListCheckIns(ctx context.Context, ex executor, eventID string) ([]*model.CheckInRecord, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT `+checkinColumns+` FROM checkins
		WHERE event_id = $1
		ORDER BY server_seq ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	defer rows.Close()
	return scanCheckIns(rows)
}

// queryNextServerSeq bumps and returns the event's sequence counter. The row
// update takes a lock, so concurrent submissions serialize here.
func queryNextServerSeq(ctx context.Context, ex executor, eventID string) (int64, error) {
	var seq int64
	err := ex.QueryRowContext(ctx, `
		UPDATE events SET last_seq = last_seq + 1, updated_at = $1
		WHERE id = $2
		RETURNING last_seq`,
		time.Now().UTC(), eventID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrEventNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("advance server sequence: %w", err)
	}
	return seq, nil
}

func queryInsertCheckIn(ctx context.Context, ex executor, rec *model.CheckInRecord) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	var lat, lon, accuracy any
	if rec.Location != nil {
		lat, lon, accuracy = rec.Location.Lat, rec.Location.Lon, rec.Location.AccuracyM
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO checkins (
			id, user_id, event_id, device_id, client_seq,
			scan_payload, captured_at, lat, lon, accuracy_m,
			status, server_seq, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.UserID, rec.EventID, rec.DeviceID, rec.ClientSeq,
		rec.ScanPayload, rec.CapturedAt.UTC(), lat, lon, accuracy,
		string(rec.Status), rec.ServerSeq, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert check-in: %w", err)
	}
	return nil
}

func querySetCheckInStatus(ctx context.Context, ex executor, id string, status model.Status) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE checkins SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set check-in status: %w", err)
	}
	return nil
}
