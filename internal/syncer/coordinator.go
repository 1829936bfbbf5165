// Package syncer drives queued check-in records through validation and
// remote submission: a periodic drain loop, retry with capped exponential
// backoff, and deterministic conflict resolution against the ledger.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/gatepass/internal/bus"
	"github.com/alfredjeanlab/gatepass/internal/model"
	"github.com/alfredjeanlab/gatepass/internal/queue"
	"github.com/alfredjeanlab/gatepass/internal/remote"
	"github.com/alfredjeanlab/gatepass/internal/resolve"
	"github.com/alfredjeanlab/gatepass/internal/validate"
)

// DefaultInterval is the drain cadence when none is configured.
const DefaultInterval = 15 * time.Second

// DefaultCallTimeout bounds a single remote round trip.
const DefaultCallTimeout = 10 * time.Second

// Config tunes the coordinator. Zero values fall back to defaults.
type Config struct {
	Interval    time.Duration
	CallTimeout time.Duration
	Backoff     Backoff
}

// Coordinator owns the drain loop. One instance runs per device process;
// records flow pending -> validating -> awaiting_sync and then to a terminal
// status, with every transition committed to the queue before observers hear
// about it.
type Coordinator struct {
	store   queue.Store
	remote  remote.Store
	bus     *bus.Bus
	pub     bus.Publisher
	logger  *slog.Logger
	backoff Backoff

	interval    time.Duration
	callTimeout time.Duration

	locks *keyedLocks
	now   func() time.Time

	cursorMu sync.Mutex
	cursor   map[string]int64

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

type inflightCall struct {
	eventID string
	cancel  context.CancelFunc
}

// New creates a Coordinator and loads the persisted sync cursor. The external
// publisher may be a bus.NoopPublisher; the logger may be nil.
func New(ctx context.Context, store queue.Store, rem remote.Store, b *bus.Bus, pub bus.Publisher, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	cursor, err := store.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		store:       store,
		remote:      rem,
		bus:         b,
		pub:         pub,
		logger:      logger,
		backoff:     cfg.Backoff,
		interval:    cfg.Interval,
		callTimeout: cfg.CallTimeout,
		locks:       newKeyedLocks(),
		now:         time.Now,
		cursor:      cursor,
		inflight:    make(map[string]*inflightCall),
		stop:        make(chan struct{}),
	}, nil
}

// Start launches the periodic drain loop. An immediate drain runs first so
// records queued while the process was down resume without waiting a tick.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := c.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("sync: initial drain failed", "error", err)
		}

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if err := c.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					c.logger.Error("sync: drain failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for the in-progress drain to finish.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// DrainOnce walks every non-terminal entry and advances it as far as the
// validation result, retry schedule, and remote allow. Safe to call directly
// for a one-shot drain.
func (c *Coordinator) DrainOnce(ctx context.Context) error {
	entries, err := c.store.ListPending(ctx)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch e.Record.Status {
		case model.StatusPending:
			if e.NextRetryAt != nil && c.now().Before(*e.NextRetryAt) {
				continue
			}
			c.validateEntry(ctx, e)
		case model.StatusValidating:
			// Validation passed before a shutdown; the outcome is not
			// recorded until awaiting_sync, so re-run from pending rules
			// would be wrong. Move forward and submit.
			if err := c.setStatus(ctx, e.Record, model.StatusAwaitingSync, "", 0); err != nil {
				c.logger.Error("sync: resume failed", "record", e.Record.ID, "error", err)
				continue
			}
			c.submitEntry(ctx, e.Record.ID)
		case model.StatusAwaitingSync:
			if e.NextRetryAt != nil && c.now().Before(*e.NextRetryAt) {
				continue
			}
			c.submitEntry(ctx, e.Record.ID)
		case model.StatusConflicted:
			// Resubmission is idempotent; the ledger returns the same
			// conflict set and resolution runs again.
			c.submitEntry(ctx, e.Record.ID)
		}
	}
	return nil
}

// validateEntry runs the pure validation rules against the cached event,
// fetching the definition from the ledger when it is not cached yet.
func (c *Coordinator) validateEntry(ctx context.Context, e *model.QueueEntry) {
	rec := e.Record

	ev, err := c.store.CachedEvent(ctx, rec.EventID)
	if err != nil && !errors.Is(err, queue.ErrNotFound) {
		c.logger.Error("sync: event cache read failed", "record", rec.ID, "error", err)
		return
	}

	if ev == nil {
		ev, err = c.remote.GetEvent(ctx, rec.EventID)
		switch {
		case errors.Is(err, remote.ErrEventNotFound):
			c.reject(ctx, rec, model.ReasonUnknownEvent)
			return
		case errors.Is(err, context.Canceled):
			return
		case remote.IsPermanent(err):
			c.reject(ctx, rec, model.ReasonSubmitFailed)
			return
		case err != nil:
			// Offline or ledger fault: the verdict is indeterminate, the
			// record stays pending until the definition can be fetched.
			c.noteTransient(ctx, e, err)
			return
		}
		if cerr := c.store.CacheEvent(ctx, ev); cerr != nil {
			c.logger.Warn("sync: event cache write failed", "event", ev.ID, "error", cerr)
		}
	}

	confirmed, err := c.store.CountConfirmed(ctx, rec.UserID, rec.EventID)
	if err != nil {
		c.logger.Error("sync: confirmed count failed", "record", rec.ID, "error", err)
		return
	}

	d := validate.Check(rec, ev, confirmed)
	switch d.Verdict {
	case validate.Reject:
		c.reject(ctx, rec, d.Reason)
	case validate.Accept:
		if err := c.setStatus(ctx, rec, model.StatusValidating, "", 0); err != nil {
			c.logger.Error("sync: transition failed", "record", rec.ID, "error", err)
			return
		}
		if err := c.setStatus(ctx, rec, model.StatusAwaitingSync, "", 0); err != nil {
			c.logger.Error("sync: transition failed", "record", rec.ID, "error", err)
			return
		}
		c.submitEntry(ctx, rec.ID)
	case validate.Indeterminate:
		// Stays pending; picked up again next drain.
	}
}

// submitEntry pushes one awaiting or conflicted record to the ledger. The
// per-record lock covers only the status flips on either side of the round
// trip, never the network call itself.
func (c *Coordinator) submitEntry(ctx context.Context, id string) {
	unlock := c.locks.acquire(id)
	e, err := c.store.Get(ctx, id)
	if err != nil {
		unlock()
		c.logger.Error("sync: read failed", "record", id, "error", err)
		return
	}
	rec := e.Record
	if rec.Status != model.StatusAwaitingSync && rec.Status != model.StatusConflicted {
		unlock()
		return
	}

	// A locally invalidated event short-circuits without a round trip.
	if ev, cerr := c.store.CachedEvent(ctx, rec.EventID); cerr == nil &&
		ev.Status == model.EventCancelled && rec.Status == model.StatusAwaitingSync {
		c.reject(ctx, rec, model.ReasonEventCancelled)
		unlock()
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	c.trackInflight(rec.ID, rec.EventID, cancel)
	unlock()

	result, err := c.remote.PutCheckIn(callCtx, rec)

	c.clearInflight(rec.ID)
	cancel()

	unlock = c.locks.acquire(id)
	defer unlock()

	// Re-read: an invalidation may have finished the record while the call
	// was in flight.
	e, gerr := c.store.Get(ctx, id)
	if gerr != nil {
		c.logger.Error("sync: read failed", "record", id, "error", gerr)
		return
	}
	rec = e.Record
	if rec.Status.Terminal() {
		return
	}

	switch {
	case err == nil && result.Conflict == nil:
		c.confirm(ctx, rec, result.ServerSeq)

	case err == nil:
		if rec.Status != model.StatusConflicted {
			if terr := c.setStatus(ctx, rec, model.StatusConflicted, "", 0); terr != nil {
				c.logger.Error("sync: transition failed", "record", rec.ID, "error", terr)
				return
			}
		}
		c.resolveConflict(ctx, rec, result.Conflict)

	case errors.Is(err, context.Canceled):
		// Aborted by invalidation or shutdown. The record keeps its status
		// and attempt count; nothing to record.

	case remote.IsPermanent(err):
		c.reject(ctx, rec, model.ReasonSubmitFailed)

	default:
		// Transient fault or call timeout.
		c.noteTransient(ctx, e, err)
	}
}

// resolveConflict applies the total order over the competing record set and
// finishes our record on the winning or losing side. Every replica holding
// the same set reaches the same answer.
func (c *Coordinator) resolveConflict(ctx context.Context, rec *model.CheckInRecord, conflict *remote.Conflict) {
	records := conflict.Records
	found := false
	for _, r := range records {
		if sameIdentity(r, rec) {
			found = true
			break
		}
	}
	if !found {
		records = append(append([]*model.CheckInRecord{}, records...), rec)
	}

	winners, _ := resolve.Resolve(records, conflict.MaxPerUser)
	if !resolve.Wins(winners, rec) {
		c.reject(ctx, rec, model.ReasonSuperseded)
		return
	}

	// Winner: take the server sequence from the ledger's copy when present.
	var serverSeq int64
	for _, r := range records {
		if sameIdentity(r, rec) && r.ServerSeq > 0 {
			serverSeq = r.ServerSeq
			break
		}
	}
	c.confirm(ctx, rec, serverSeq)
}

// Invalidate marks an event cancelled locally, aborts its in-flight
// submissions, and rejects its awaiting records. Records already terminal
// keep their outcome.
func (c *Coordinator) Invalidate(ctx context.Context, eventID string) error {
	ev, err := c.store.CachedEvent(ctx, eventID)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		ev = &model.Event{ID: eventID, Status: model.EventCancelled}
	case err != nil:
		return err
	default:
		ev.Status = model.EventCancelled
	}
	if err := c.store.CacheEvent(ctx, ev); err != nil {
		return err
	}

	c.inflightMu.Lock()
	for _, call := range c.inflight {
		if call.eventID == eventID {
			call.cancel()
		}
	}
	c.inflightMu.Unlock()

	entries, err := c.store.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Record.EventID != eventID {
			continue
		}
		switch e.Record.Status {
		case model.StatusPending, model.StatusAwaitingSync, model.StatusConflicted:
			unlock := c.locks.acquire(e.Record.ID)
			c.reject(ctx, e.Record, model.ReasonEventCancelled)
			unlock()
		case model.StatusValidating:
			if terr := c.setStatus(ctx, e.Record, model.StatusAwaitingSync, "", 0); terr == nil {
				unlock := c.locks.acquire(e.Record.ID)
				c.reject(ctx, e.Record, model.ReasonEventCancelled)
				unlock()
			}
		}
	}
	return nil
}

// CursorFor returns the highest server sequence observed for an event.
func (c *Coordinator) CursorFor(eventID string) int64 {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.cursor[eventID]
}

func (c *Coordinator) confirm(ctx context.Context, rec *model.CheckInRecord, serverSeq int64) {
	if err := c.setStatus(ctx, rec, model.StatusConfirmed, "", serverSeq); err != nil {
		c.logger.Error("sync: transition failed", "record", rec.ID, "error", err)
		return
	}
	if serverSeq > 0 {
		c.observeSeq(ctx, rec.EventID, serverSeq)
	}
}

func (c *Coordinator) reject(ctx context.Context, rec *model.CheckInRecord, reason model.Reason) {
	if err := c.setStatus(ctx, rec, model.StatusRejected, reason, 0); err != nil {
		c.logger.Error("sync: transition failed", "record", rec.ID, "error", err)
	}
}

// setStatus commits the transition and then notifies observers. The durable
// write always happens first; observers only ever see committed states.
func (c *Coordinator) setStatus(ctx context.Context, rec *model.CheckInRecord, to model.Status, reason model.Reason, serverSeq int64) error {
	if err := c.store.UpdateStatus(ctx, rec.ID, to, reason, serverSeq); err != nil {
		return err
	}

	from := rec.Status
	rec.Status = to
	rec.Reason = reason
	if serverSeq > 0 {
		rec.ServerSeq = serverSeq
	}

	t := bus.Transition{
		RecordID: rec.ID,
		From:     from,
		To:       to,
		Reason:   reason,
		At:       c.now().UTC(),
	}
	c.bus.Publish(t)
	if c.pub != nil {
		if err := c.pub.Publish(context.WithoutCancel(ctx), bus.TopicFor(to), t); err != nil {
			c.logger.Warn("sync: external publish failed", "record", rec.ID, "error", err)
		}
	}

	c.logger.Info("sync: transition",
		"record", rec.ID, "from", from, "to", to, "reason", reason)
	return nil
}

// noteTransient books one failed attempt and either schedules the next retry
// or gives the record up as exhausted.
func (c *Coordinator) noteTransient(ctx context.Context, e *model.QueueEntry, cause error) {
	attempts := e.AttemptCount + 1
	if c.backoff.Exhausted(attempts) {
		c.logger.Warn("sync: retry budget exhausted",
			"record", e.Record.ID, "attempts", attempts, "error", cause)
		c.reject(ctx, e.Record, model.ReasonSyncExhausted)
		return
	}

	next := c.now().Add(c.backoff.Delay(attempts))
	if err := c.store.RecordAttempt(ctx, e.Record.ID, next, cause.Error()); err != nil {
		c.logger.Error("sync: attempt bookkeeping failed", "record", e.Record.ID, "error", err)
		return
	}
	c.logger.Debug("sync: transient failure, retry scheduled",
		"record", e.Record.ID, "attempt", attempts, "next_retry", next, "error", cause)
}

func (c *Coordinator) observeSeq(ctx context.Context, eventID string, serverSeq int64) {
	c.cursorMu.Lock()
	stale := serverSeq <= c.cursor[eventID]
	if !stale {
		c.cursor[eventID] = serverSeq
	}
	c.cursorMu.Unlock()
	if stale {
		return
	}
	if err := c.store.AdvanceCursor(ctx, eventID, serverSeq); err != nil {
		c.logger.Error("sync: cursor persist failed", "event", eventID, "error", err)
	}
}

func (c *Coordinator) trackInflight(recordID, eventID string, cancel context.CancelFunc) {
	c.inflightMu.Lock()
	c.inflight[recordID] = &inflightCall{eventID: eventID, cancel: cancel}
	c.inflightMu.Unlock()
}

func (c *Coordinator) clearInflight(recordID string) {
	c.inflightMu.Lock()
	delete(c.inflight, recordID)
	c.inflightMu.Unlock()
}

func sameIdentity(a, b *model.CheckInRecord) bool {
	return a.UserID == b.UserID && a.EventID == b.EventID &&
		a.DeviceID == b.DeviceID && a.ClientSeq == b.ClientSeq
}
