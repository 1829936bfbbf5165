package queue

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store backed by a local SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// Open opens (or creates) the queue database at the given path and runs any
// pending migrations. WAL mode gives write-ahead semantics: every mutation is
// durable once the call returns.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection keeps
	// transactions serialized without busy-retry churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping queue database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, rec *model.CheckInRecord) (*model.QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	// Idempotent append: an identical identity returns the original entry.
	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM checkins WHERE user_id = ? AND event_id = ? AND client_seq = ?`,
		rec.UserID, rec.EventID, rec.ClientSeq,
	).Scan(&existingID)
	switch {
	case err == nil:
		entry, err := getEntry(ctx, tx, existingID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit append: %w", err)
		}
		return entry, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lookup candidate: %w", err)
	}

	var highWater int64
	err = tx.QueryRowContext(ctx,
		`SELECT high_water FROM device_seqs WHERE device_id = ?`, rec.DeviceID,
	).Scan(&highWater)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup device sequence: %w", err)
	}
	if rec.ClientSeq <= highWater {
		return nil, fmt.Errorf("%w: seq %d, high water %d for device %s",
			ErrStaleClientSeq, rec.ClientSeq, highWater, rec.DeviceID)
	}

	now := time.Now().UTC()
	if rec.Status == "" {
		rec.Status = model.StatusPending
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	var lat, lon, accuracy any
	if rec.Location != nil {
		lat, lon, accuracy = rec.Location.Lat, rec.Location.Lon, rec.Location.AccuracyM
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkins (
			id, user_id, event_id, device_id, client_seq,
			scan_payload, captured_at, lat, lon, accuracy_m,
			status, reason, server_seq, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.EventID, rec.DeviceID, rec.ClientSeq,
		rec.ScanPayload, rec.CapturedAt.UTC(), lat, lon, accuracy,
		string(rec.Status), string(rec.Reason), rec.ServerSeq, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert candidate: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_seqs (device_id, high_water) VALUES (?, ?)
		ON CONFLICT (device_id) DO UPDATE SET high_water = excluded.high_water`,
		rec.DeviceID, rec.ClientSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("advance device sequence: %w", err)
	}

	entry, err := getEntry(ctx, tx, rec.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) NextClientSeq(ctx context.Context, deviceID string) (int64, error) {
	var highWater int64
	err := s.db.QueryRowContext(ctx,
		`SELECT high_water FROM device_seqs WHERE device_id = ?`, deviceID,
	).Scan(&highWater)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup device sequence: %w", err)
	}
	return highWater + 1, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.QueueEntry, error) {
	return getEntry(ctx, s.db, id)
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]*model.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM checkins
		WHERE status IN (?, ?, ?, ?)
		ORDER BY created_at ASC, event_id ASC, client_seq ASC`,
		string(model.StatusPending), string(model.StatusValidating),
		string(model.StatusAwaitingSync), string(model.StatusConflicted),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) ListByUserEvent(ctx context.Context, userID, eventID string) ([]*model.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM checkins
		WHERE user_id = ? AND event_id = ?
		ORDER BY client_seq ASC`,
		userID, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list by user and event: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) ListTerminal(ctx context.Context) ([]*model.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM checkins
		WHERE status IN (?, ?)
		ORDER BY updated_at ASC, id ASC`,
		string(model.StatusConfirmed), string(model.StatusRejected),
	)
	if err != nil {
		return nil, fmt.Errorf("list terminal: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) CountConfirmed(ctx context.Context, userID, eventID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM checkins
		WHERE user_id = ? AND event_id = ? AND status = ?`,
		userID, eventID, string(model.StatusConfirmed),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count confirmed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, to model.Status, reason model.Reason, serverSeq int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM checkins WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read current status: %w", err)
	}

	if !model.CanTransition(model.Status(current), to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, current, to, id)
	}

	now := time.Now().UTC()
	if to.Terminal() {
		// Terminal records keep no retry bookkeeping.
		_, err = tx.ExecContext(ctx, `
			UPDATE checkins
			SET status = ?, reason = ?, server_seq = ?, next_retry_at = NULL, last_error = '', updated_at = ?
			WHERE id = ?`,
			string(to), string(reason), serverSeq, now, id,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE checkins SET status = ?, reason = ?, updated_at = ? WHERE id = ?`,
			string(to), string(reason), now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordAttempt(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkins
		SET attempt_count = attempt_count + 1, next_retry_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CacheEvent(ctx context.Context, ev *model.Event) error {
	requiresGeo := 0
	if ev.RequiresGeolocation {
		requiresGeo = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, title, status, venue_lat, venue_lon,
			valid_from, valid_until, allowed_radius_m,
			max_checkins_per_user, requires_geolocation, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			venue_lat = excluded.venue_lat,
			venue_lon = excluded.venue_lon,
			valid_from = excluded.valid_from,
			valid_until = excluded.valid_until,
			allowed_radius_m = excluded.allowed_radius_m,
			max_checkins_per_user = excluded.max_checkins_per_user,
			requires_geolocation = excluded.requires_geolocation,
			fetched_at = excluded.fetched_at`,
		ev.ID, ev.Title, string(ev.Status), ev.Venue.Lat, ev.Venue.Lon,
		ev.ValidFrom.UTC(), ev.ValidUntil.UTC(), ev.AllowedRadiusM,
		ev.MaxCheckInsPerUser, requiresGeo, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cache event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CachedEvent(ctx context.Context, eventID string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, venue_lat, venue_lon,
		       valid_from, valid_until, allowed_radius_m,
		       max_checkins_per_user, requires_geolocation
		FROM events WHERE id = ?`, eventID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cached event: %w", err)
	}
	return ev, nil
}

func (s *SQLiteStore) Cursor(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, server_seq FROM sync_cursor`)
	if err != nil {
		return nil, fmt.Errorf("read sync cursor: %w", err)
	}
	defer rows.Close()

	cursor := make(map[string]int64)
	for rows.Next() {
		var eventID string
		var seq int64
		if err := rows.Scan(&eventID, &seq); err != nil {
			return nil, fmt.Errorf("scan sync cursor: %w", err)
		}
		cursor[eventID] = seq
	}
	return cursor, rows.Err()
}

func (s *SQLiteStore) AdvanceCursor(ctx context.Context, eventID string, serverSeq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursor (event_id, server_seq) VALUES (?, ?)
		ON CONFLICT (event_id) DO UPDATE SET server_seq = excluded.server_seq
		WHERE excluded.server_seq > sync_cursor.server_seq`,
		eventID, serverSeq,
	)
	if err != nil {
		return fmt.Errorf("advance sync cursor: %w", err)
	}
	return nil
}
