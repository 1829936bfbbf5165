package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/gatepass/internal/bus"
	"github.com/alfredjeanlab/gatepass/internal/model"
	"github.com/alfredjeanlab/gatepass/internal/queue"
	"github.com/alfredjeanlab/gatepass/internal/remote"
)

var captureTime = time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)

type putResponse struct {
	result *remote.PutResult
	err    error
}

// fakeRemote serves canned responses. Put responses are consumed in order;
// the last one repeats. With no canned responses every put confirms with an
// increasing server sequence.
type fakeRemote struct {
	mu        sync.Mutex
	events    map[string]*model.Event
	getErr    error
	responses []putResponse
	putCalls  int
	getCalls  int
}

func (f *fakeRemote) PutCheckIn(ctx context.Context, rec *model.CheckInRecord) (*remote.PutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if len(f.responses) == 0 {
		return &remote.PutResult{ServerSeq: int64(f.putCalls)}, nil
	}
	r := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return r.result, r.err
}

func (f *fakeRemote) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if ev, ok := f.events[eventID]; ok {
		cp := *ev
		return &cp, nil
	}
	return nil, remote.ErrEventNotFound
}

func (f *fakeRemote) calls() (puts, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls, f.getCalls
}

func openEvent(id string) *model.Event {
	return &model.Event{
		ID:                 id,
		Status:             model.EventOpen,
		Venue:              model.Location{Lat: 53.5461, Lon: -113.4937},
		ValidFrom:          captureTime.Add(-time.Hour),
		ValidUntil:         captureTime.Add(3 * time.Hour),
		AllowedRadiusM:     100,
		MaxCheckInsPerUser: 1,
	}
}

func record(id, user, device string, seq int64) *model.CheckInRecord {
	return &model.CheckInRecord{
		ID:          id,
		UserID:      user,
		EventID:     "ev1",
		DeviceID:    device,
		ClientSeq:   seq,
		ScanPayload: "ev1",
		CapturedAt:  captureTime,
		Location:    &model.Location{Lat: 53.5461, Lon: -113.4937, AccuracyM: 10},
	}
}

func newTestCoordinator(t *testing.T, rem remote.Store, cfg Config) (*Coordinator, queue.Store) {
	t.Helper()
	s, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("opening queue store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(context.Background(), s, rem, bus.New(logger), &bus.NoopPublisher{}, cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, s
}

func status(t *testing.T, s queue.Store, id string) *model.QueueEntry {
	t.Helper()
	e, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return e
}

func TestDrainConfirms(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{events: map[string]*model.Event{"ev1": openEvent("ev1")}}
	c, s := newTestCoordinator(t, rem, Config{})

	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed (last error: %s)", e.Record.Status, e.LastError)
	}
	if e.Record.ServerSeq != 1 {
		t.Errorf("server_seq = %d, want 1", e.Record.ServerSeq)
	}
	if got := c.CursorFor("ev1"); got != 1 {
		t.Errorf("cursor = %d, want 1", got)
	}

	// The event definition was fetched once and cached.
	if _, err := s.CachedEvent(ctx, "ev1"); err != nil {
		t.Errorf("event not cached: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("second DrainOnce: %v", err)
	}
	if _, gets := rem.calls(); gets != 1 {
		t.Errorf("GetEvent calls = %d, want 1", gets)
	}
}

func TestDrainPublishesTransitions(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{events: map[string]*model.Event{"ev1": openEvent("ev1")}}
	c, s := newTestCoordinator(t, rem, Config{})

	ch, cancel := c.bus.Subscribe(16)
	defer cancel()

	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	want := []model.Status{model.StatusValidating, model.StatusAwaitingSync, model.StatusConfirmed}
	for _, w := range want {
		select {
		case tr := <-ch:
			if tr.To != w || tr.RecordID != "ci-1" {
				t.Errorf("transition %+v, want to=%s", tr, w)
			}
		default:
			t.Fatalf("missing transition to %s", w)
		}
	}
}

func TestDrainRejectsOutOfWindow(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{events: map[string]*model.Event{"ev1": openEvent("ev1")}}
	c, s := newTestCoordinator(t, rem, Config{})

	rec := record("ci-1", "u1", "d1", 1)
	rec.CapturedAt = captureTime.Add(-6 * time.Hour)
	if _, err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusRejected || e.Record.Reason != model.ReasonOutOfWindow {
		t.Errorf("got %s/%s, want rejected/out_of_window", e.Record.Status, e.Record.Reason)
	}
	if puts, _ := rem.calls(); puts != 0 {
		t.Errorf("rejected record must not reach the ledger, got %d puts", puts)
	}
}

func TestDrainRejectsUnknownEvent(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{} // no events at all
	c, s := newTestCoordinator(t, rem, Config{})

	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusRejected || e.Record.Reason != model.ReasonUnknownEvent {
		t.Errorf("got %s/%s, want rejected/unknown_event", e.Record.Status, e.Record.Reason)
	}
}

func TestOfflineStaysPending(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{getErr: &remote.TransientError{Err: errors.New("no route to host")}}
	c, s := newTestCoordinator(t, rem, Config{})

	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusPending {
		t.Errorf("status = %s, want pending while the definition is unreachable", e.Record.Status)
	}
	if e.AttemptCount != 1 || e.NextRetryAt == nil {
		t.Errorf("attempt bookkeeping missing: count=%d next=%v", e.AttemptCount, e.NextRetryAt)
	}
}

func TestTransientRetryConfirmsOnce(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{
		events: map[string]*model.Event{"ev1": openEvent("ev1")},
		responses: []putResponse{
			{err: &remote.TransientError{Err: errors.New("gateway timeout")}},
			{result: &remote.PutResult{ServerSeq: 42}},
		},
	}
	c, s := newTestCoordinator(t, rem, Config{})

	clock := captureTime
	c.now = func() time.Time { return clock }

	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("first DrainOnce: %v", err)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusAwaitingSync || e.AttemptCount != 1 {
		t.Fatalf("after transient failure: status=%s attempts=%d", e.Record.Status, e.AttemptCount)
	}

	// Before the scheduled retry nothing happens.
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("early DrainOnce: %v", err)
	}
	if puts, _ := rem.calls(); puts != 1 {
		t.Fatalf("retried before its schedule: %d puts", puts)
	}

	clock = clock.Add(time.Minute)
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("retry DrainOnce: %v", err)
	}

	e = status(t, s, "ci-1")
	if e.Record.Status != model.StatusConfirmed || e.Record.ServerSeq != 42 {
		t.Errorf("got %s/seq=%d, want confirmed/42", e.Record.Status, e.Record.ServerSeq)
	}
	if puts, _ := rem.calls(); puts != 2 {
		t.Errorf("puts = %d, want exactly 2 (one record, one retry)", puts)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{
		events:    map[string]*model.Event{"ev1": openEvent("ev1")},
		responses: []putResponse{{err: &remote.TransientError{Err: errors.New("boom")}}},
	}
	cfg := Config{Backoff: Backoff{Base: time.Second, Max: time.Minute, MaxAttempts: 3}}
	c, s := newTestCoordinator(t, rem, cfg)

	clock := captureTime
	c.now = func() time.Time { return clock }

	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := c.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce %d: %v", i, err)
		}
		clock = clock.Add(2 * time.Minute)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusRejected || e.Record.Reason != model.ReasonSyncExhausted {
		t.Errorf("got %s/%s, want rejected/sync_exhausted", e.Record.Status, e.Record.Reason)
	}
}

func TestPermanentFailureRejects(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{
		events:    map[string]*model.Event{"ev1": openEvent("ev1")},
		responses: []putResponse{{err: &remote.PermanentError{Err: errors.New("401 unauthorized")}}},
	}
	c, s := newTestCoordinator(t, rem, Config{})

	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusRejected || e.Record.Reason != model.ReasonSubmitFailed {
		t.Errorf("got %s/%s, want rejected/submit_failed", e.Record.Status, e.Record.Reason)
	}
	if puts, _ := rem.calls(); puts != 1 {
		t.Errorf("permanent failure must not retry, got %d puts", puts)
	}
}

func TestConflictLoserSuperseded(t *testing.T) {
	ctx := context.Background()

	ours := record("ci-1", "u1", "d1", 1)
	// Another device captured earlier and already holds the slot.
	theirs := record("srv-1", "u1", "d2", 1)
	theirs.CapturedAt = captureTime.Add(-30 * time.Second)
	theirs.ServerSeq = 9

	rem := &fakeRemote{
		events: map[string]*model.Event{"ev1": openEvent("ev1")},
		responses: []putResponse{{result: &remote.PutResult{Conflict: &remote.Conflict{
			Records:    []*model.CheckInRecord{theirs, ours},
			MaxPerUser: 1,
		}}}},
	}
	c, s := newTestCoordinator(t, rem, Config{})

	if _, err := s.Append(ctx, ours); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusRejected || e.Record.Reason != model.ReasonSuperseded {
		t.Errorf("got %s/%s, want rejected/superseded_by_earlier_check_in",
			e.Record.Status, e.Record.Reason)
	}
}

func TestConflictWinnerConfirmed(t *testing.T) {
	ctx := context.Background()

	ours := record("ci-1", "u1", "d1", 1)
	oursOnLedger := record("srv-1", "u1", "d1", 1)
	oursOnLedger.ServerSeq = 12
	theirs := record("srv-2", "u1", "d2", 1)
	theirs.CapturedAt = captureTime.Add(45 * time.Second)

	rem := &fakeRemote{
		events: map[string]*model.Event{"ev1": openEvent("ev1")},
		responses: []putResponse{{result: &remote.PutResult{Conflict: &remote.Conflict{
			Records:    []*model.CheckInRecord{theirs, oursOnLedger},
			MaxPerUser: 1,
		}}}},
	}
	c, s := newTestCoordinator(t, rem, Config{})

	if _, err := s.Append(ctx, ours); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusConfirmed || e.Record.ServerSeq != 12 {
		t.Errorf("got %s/seq=%d, want confirmed/12", e.Record.Status, e.Record.ServerSeq)
	}
}

func TestInvalidateRejectsQueued(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{events: map[string]*model.Event{"ev1": openEvent("ev1")}}
	c, s := newTestCoordinator(t, rem, Config{})

	// One record already confirmed, one still queued.
	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if _, err := s.Append(ctx, record("ci-2", "u2", "d2", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := c.Invalidate(ctx, "ev1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	queued := status(t, s, "ci-2")
	if queued.Record.Status != model.StatusRejected || queued.Record.Reason != model.ReasonEventCancelled {
		t.Errorf("queued record: got %s/%s, want rejected/event_cancelled",
			queued.Record.Status, queued.Record.Reason)
	}

	confirmed := status(t, s, "ci-1")
	if confirmed.Record.Status != model.StatusConfirmed {
		t.Errorf("confirmed record must keep its outcome, got %s", confirmed.Record.Status)
	}

	ev, err := s.CachedEvent(ctx, "ev1")
	if err != nil || ev.Status != model.EventCancelled {
		t.Errorf("cached event = %+v, %v; want status cancelled", ev, err)
	}

	// New candidates for the cancelled event are rejected locally.
	if _, err := s.Append(ctx, record("ci-3", "u3", "d3", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	late := status(t, s, "ci-3")
	if late.Record.Status != model.StatusRejected || late.Record.Reason != model.ReasonEventCancelled {
		t.Errorf("late record: got %s/%s, want rejected/event_cancelled",
			late.Record.Status, late.Record.Reason)
	}
}

func TestResumeAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := queue.Open(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("opening queue store: %v", err)
	}

	// Simulate a crash mid-validation: the record was moved to validating
	// and the process died before awaiting_sync was recorded.
	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.UpdateStatus(ctx, "ci-1", model.StatusValidating, "", 0); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := s.CacheEvent(ctx, openEvent("ev1")); err != nil {
		t.Fatalf("CacheEvent: %v", err)
	}
	s.Close()

	s, err = queue.Open(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("reopening queue store: %v", err)
	}
	defer s.Close()

	rem := &fakeRemote{events: map[string]*model.Event{"ev1": openEvent("ev1")}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(ctx, s, rem, bus.New(logger), &bus.NoopPublisher{}, Config{}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	e := status(t, s, "ci-1")
	if e.Record.Status != model.StatusConfirmed {
		t.Errorf("status = %s, want confirmed after resume", e.Record.Status)
	}
	if puts, _ := rem.calls(); puts != 1 {
		t.Errorf("puts = %d, want exactly 1 despite the restart", puts)
	}
}

func TestCursorLoadedAtStartup(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{}

	s, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("opening queue store: %v", err)
	}
	defer s.Close()
	if err := s.AdvanceCursor(ctx, "ev1", 31); err != nil {
		t.Fatalf("AdvanceCursor: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(ctx, s, rem, bus.New(logger), &bus.NoopPublisher{}, Config{}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.CursorFor("ev1"); got != 31 {
		t.Errorf("cursor = %d, want 31", got)
	}
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{events: map[string]*model.Event{"ev1": openEvent("ev1")}}
	c, s := newTestCoordinator(t, rem, Config{Interval: time.Hour})

	if _, err := s.Append(ctx, record("ci-1", "u1", "d1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	c.Start(ctx)
	deadline := time.After(2 * time.Second)
	for {
		if e := status(t, s, "ci-1"); e.Record.Status == model.StatusConfirmed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("record not confirmed by the initial drain")
		case <-time.After(10 * time.Millisecond):
		}
	}
	c.Stop()
	c.Stop() // idempotent
}
