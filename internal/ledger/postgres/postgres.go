// Package postgres implements the ledger.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/gatepass/internal/ledger"
	"github.com/alfredjeanlab/gatepass/internal/model"
	"github.com/alfredjeanlab/gatepass/internal/resolve"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements ledger.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements ledger.Store.
var _ ledger.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	return queryCreateEvent(ctx, s.db, ev)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return queryGetEvent(ctx, s.db, id)
}

func (s *PostgresStore) CancelEvent(ctx context.Context, id string) (*model.Event, error) {
	return queryCancelEvent(ctx, s.db, id)
}

func (s *PostgresStore) ListCheckIns(ctx context.Context, eventID string) ([]*model.CheckInRecord, error) {
	return queryListCheckIns(ctx, s.db, eventID)
}

// PutCheckIn records a submission inside one transaction. Identity replays
// return the original record. A submission into a full (user, event) slot
// re-runs the deterministic resolution over every competitor: winners hold
// confirmed rows, losers are demoted to superseded, and the caller gets the
// whole set back to resolve on its side.
func (s *PostgresStore) PutCheckIn(ctx context.Context, rec *model.CheckInRecord) (*ledger.PutOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback()

	ev, err := queryGetEvent(ctx, tx, rec.EventID)
	if err != nil {
		return nil, err
	}
	if ev.Status == model.EventCancelled {
		return nil, ledger.ErrEventCancelled
	}

	existing, err := queryGetCheckInByIdentity(ctx, tx, rec)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		outcome := &ledger.PutOutcome{Record: existing, Duplicate: true}
		if existing.Status == ledger.StatusSuperseded {
			slot, err := queryListSlot(ctx, tx, rec.UserID, rec.EventID)
			if err != nil {
				return nil, err
			}
			outcome.Conflict = &ledger.Conflict{Records: slot, MaxPerUser: ev.MaxCheckInsPerUser}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit put: %w", err)
		}
		return outcome, nil
	}

	slot, err := queryListSlot(ctx, tx, rec.UserID, rec.EventID)
	if err != nil {
		return nil, err
	}

	seq, err := queryNextServerSeq(ctx, tx, rec.EventID)
	if err != nil {
		return nil, err
	}

	stored := *rec
	stored.ServerSeq = seq

	maxPerUser := ev.MaxCheckInsPerUser
	if maxPerUser <= 0 {
		maxPerUser = 1
	}

	confirmed := 0
	for _, r := range slot {
		if r.Status == model.StatusConfirmed {
			confirmed++
		}
	}

	if confirmed < maxPerUser {
		stored.Status = model.StatusConfirmed
		if err := queryInsertCheckIn(ctx, tx, &stored); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit put: %w", err)
		}
		return &ledger.PutOutcome{Record: &stored}, nil
	}

	// Slot is full: resolve across every competitor, the new arrival included.
	competitors := append(append([]*model.CheckInRecord{}, slot...), &stored)
	winners, losers := resolve.Resolve(competitors, maxPerUser)

	stored.Status = ledger.StatusSuperseded
	if resolve.Wins(winners, &stored) {
		stored.Status = model.StatusConfirmed
	}
	if err := queryInsertCheckIn(ctx, tx, &stored); err != nil {
		return nil, err
	}

	for _, w := range winners {
		if w.ID != stored.ID && w.Status != model.StatusConfirmed {
			if err := querySetCheckInStatus(ctx, tx, w.ID, model.StatusConfirmed); err != nil {
				return nil, err
			}
			w.Status = model.StatusConfirmed
		}
	}
	for _, l := range losers {
		if l.ID != stored.ID && l.Status != ledger.StatusSuperseded {
			if err := querySetCheckInStatus(ctx, tx, l.ID, ledger.StatusSuperseded); err != nil {
				return nil, err
			}
			l.Status = ledger.StatusSuperseded
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit put: %w", err)
	}

	return &ledger.PutOutcome{
		Record: &stored,
		Conflict: &ledger.Conflict{
			Records:    append(append([]*model.CheckInRecord{}, slot...), &stored),
			MaxPerUser: ev.MaxCheckInsPerUser,
		},
	}, nil
}
