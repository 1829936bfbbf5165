// Package bus delivers check-in status transitions to in-process observers
// and, optionally, to external subscribers over NATS.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

// Transition is one status change on a check-in record. It is the only
// engine detail that crosses to observers; no raw errors escape.
type Transition struct {
	RecordID string       `json:"record_id"`
	From     model.Status `json:"from"`
	To       model.Status `json:"to"`
	Reason   model.Reason `json:"reason,omitempty"`
	At       time.Time    `json:"at"`
}

// Publisher is the interface for forwarding transitions to an external
// system (NATS when configured, a no-op otherwise).
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// DefaultBuffer is the per-subscriber buffer used when Subscribe is called
// with a non-positive size.
const DefaultBuffer = 64

// Bus fans transitions out to any number of in-process subscribers.
// Delivery is best-effort and ordered per publisher; a slow subscriber
// never blocks the publisher. On overflow the oldest unread notification
// is dropped and a warning is logged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]chan Transition
	logger *slog.Logger
}

// New creates a Bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[uuid.UUID]chan Transition),
		logger: logger,
	}
}

// Subscribe registers an observer and returns its channel together with a
// cancel function. Cancel unsubscribes and closes the channel; calling it
// more than once is safe.
func (b *Bus) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	id := uuid.New()
	ch := make(chan Transition, buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish hands the transition to every subscriber without blocking. A full
// subscriber buffer sheds its oldest unread transition first.
func (b *Bus) Publish(t Transition) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- t:
			continue
		default:
		}

		// Buffer full: drop the oldest unread notification to make room.
		select {
		case dropped := <-ch:
			b.logger.Warn("bus: subscriber overflow, dropped oldest transition",
				"subscriber", id, "dropped_record", dropped.RecordID)
		default:
		}
		select {
		case ch <- t:
		default:
			// Subscriber raced us and refilled; shed the new one instead.
			b.logger.Warn("bus: subscriber overflow, dropped transition",
				"subscriber", id, "record", t.RecordID)
		}
	}
}

// Close cancels every remaining subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
