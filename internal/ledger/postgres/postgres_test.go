package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alfredjeanlab/gatepass/internal/ledger"
	"github.com/alfredjeanlab/gatepass/internal/model"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var eventRowColumns = []string{
	"id", "title", "status", "venue_lat", "venue_lon",
	"valid_from", "valid_until", "allowed_radius_m",
	"max_checkins_per_user", "requires_geolocation", "created_at", "updated_at",
}

var checkinRowColumns = []string{
	"id", "user_id", "event_id", "device_id", "client_seq",
	"scan_payload", "captured_at", "lat", "lon", "accuracy_m",
	"status", "server_seq", "created_at", "updated_at",
}

func addEventRow(rows *sqlmock.Rows, id, status string, maxPerUser int, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, "", status, 53.5, -113.5,
		now.Add(-time.Hour), now.Add(3*time.Hour), 100.0,
		maxPerUser, false, now, now,
	)
}

func TestGetEventNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(eventRowColumns))

	_, err := s.GetEvent(context.Background(), "missing")
	if !errors.Is(err, ledger.ErrEventNotFound) {
		t.Errorf("got %v, want ErrEventNotFound", err)
	}
}

func TestGetEvent(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs("ev1").
		WillReturnRows(addEventRow(sqlmock.NewRows(eventRowColumns), "ev1", "open", 1, now))

	ev, err := s.GetEvent(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if ev.ID != "ev1" || ev.Status != model.EventOpen || ev.MaxCheckInsPerUser != 1 {
		t.Errorf("event = %+v", ev)
	}
}

func TestCancelEventNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("UPDATE events SET status = \\$1, updated_at = \\$2 WHERE id = \\$3").
		WithArgs("cancelled", sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.CancelEvent(context.Background(), "missing")
	if !errors.Is(err, ledger.ErrEventNotFound) {
		t.Errorf("got %v, want ErrEventNotFound", err)
	}
}

func TestPutCheckInCancelledEvent(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs("ev1").
		WillReturnRows(addEventRow(sqlmock.NewRows(eventRowColumns), "ev1", "cancelled", 1, now))
	mock.ExpectRollback()

	_, err := s.PutCheckIn(context.Background(), &model.CheckInRecord{
		ID: "ci-1", UserID: "u1", EventID: "ev1", DeviceID: "d1", ClientSeq: 1,
		CapturedAt: now,
	})
	if !errors.Is(err, ledger.ErrEventCancelled) {
		t.Errorf("got %v, want ErrEventCancelled", err)
	}
}

func TestPutCheckInFirstIntoSlot(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs("ev1").
		WillReturnRows(addEventRow(sqlmock.NewRows(eventRowColumns), "ev1", "open", 1, now))
	mock.ExpectQuery("SELECT .+ FROM checkins\\s+WHERE user_id = \\$1 AND event_id = \\$2 AND device_id = \\$3 AND client_seq = \\$4").
		WithArgs("u1", "ev1", "d1", int64(1)).
		WillReturnRows(sqlmock.NewRows(checkinRowColumns))
	mock.ExpectQuery("SELECT .+ FROM checkins\\s+WHERE user_id = \\$1 AND event_id = \\$2").
		WithArgs("u1", "ev1").
		WillReturnRows(sqlmock.NewRows(checkinRowColumns))
	mock.ExpectQuery("UPDATE events SET last_seq = last_seq \\+ 1").
		WithArgs(sqlmock.AnyArg(), "ev1").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO checkins").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	outcome, err := s.PutCheckIn(context.Background(), &model.CheckInRecord{
		ID: "ci-1", UserID: "u1", EventID: "ev1", DeviceID: "d1", ClientSeq: 1,
		CapturedAt: now,
	})
	if err != nil {
		t.Fatalf("PutCheckIn: %v", err)
	}
	if outcome.Record.ServerSeq != 1 || outcome.Record.Status != model.StatusConfirmed {
		t.Errorf("record = %+v", outcome.Record)
	}
	if outcome.Duplicate || outcome.Conflict != nil {
		t.Errorf("outcome = %+v, want plain confirmation", outcome)
	}
}

func TestPutCheckInDuplicateIdentity(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs("ev1").
		WillReturnRows(addEventRow(sqlmock.NewRows(eventRowColumns), "ev1", "open", 1, now))
	mock.ExpectQuery("SELECT .+ FROM checkins\\s+WHERE user_id = \\$1 AND event_id = \\$2 AND device_id = \\$3 AND client_seq = \\$4").
		WithArgs("u1", "ev1", "d1", int64(1)).
		WillReturnRows(sqlmock.NewRows(checkinRowColumns).AddRow(
			"ci-1", "u1", "ev1", "d1", int64(1),
			"ev1", now, nil, nil, nil,
			"confirmed", int64(7), now, now,
		))
	mock.ExpectCommit()

	outcome, err := s.PutCheckIn(context.Background(), &model.CheckInRecord{
		ID: "ci-other", UserID: "u1", EventID: "ev1", DeviceID: "d1", ClientSeq: 1,
		CapturedAt: now,
	})
	if err != nil {
		t.Fatalf("PutCheckIn: %v", err)
	}
	if !outcome.Duplicate || outcome.Record.ServerSeq != 7 || outcome.Record.ID != "ci-1" {
		t.Errorf("outcome = %+v, want the original record back", outcome)
	}
}
