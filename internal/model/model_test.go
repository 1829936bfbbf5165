package model

import (
	"testing"
	"time"
)

func TestStatusIsValid(t *testing.T) {
	valid := []Status{
		StatusPending, StatusValidating, StatusAwaitingSync,
		StatusConfirmed, StatusRejected, StatusConflicted,
	}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if Status("open").IsValid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusConfirmed.Terminal() || !StatusRejected.Terminal() {
		t.Error("confirmed and rejected must be terminal")
	}
	for _, s := range []Status{StatusPending, StatusValidating, StatusAwaitingSync, StatusConflicted} {
		if s.Terminal() {
			t.Errorf("%q must not be terminal", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusValidating},
		{StatusPending, StatusRejected},
		{StatusValidating, StatusAwaitingSync},
		{StatusAwaitingSync, StatusConfirmed},
		{StatusAwaitingSync, StatusRejected},
		{StatusAwaitingSync, StatusConflicted},
		{StatusConflicted, StatusConfirmed},
		{StatusConflicted, StatusRejected},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusConfirmed, StatusRejected},
		{StatusConfirmed, StatusPending},
		{StatusRejected, StatusConfirmed},
		{StatusRejected, StatusPending},
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusAwaitingSync},
		{StatusValidating, StatusConfirmed},
		{StatusValidating, StatusRejected},
		{StatusConflicted, StatusAwaitingSync},
		{StatusAwaitingSync, StatusPending},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestIdempotencyKey(t *testing.T) {
	r := &CheckInRecord{UserID: "u1", EventID: "ev1", DeviceID: "d1", ClientSeq: 42}
	if got, want := r.IdempotencyKey(), "u1:ev1:42"; got != want {
		t.Errorf("IdempotencyKey() = %q, want %q", got, want)
	}
	// The key must not depend on the device: retries from a re-provisioned
	// device with the same client sequence hit the same server-side slot.
	other := &CheckInRecord{UserID: "u1", EventID: "ev1", DeviceID: "d2", ClientSeq: 42}
	if r.IdempotencyKey() != other.IdempotencyKey() {
		t.Error("key must be stable across devices for the same (user, event, seq)")
	}
}

func TestEventInWindow(t *testing.T) {
	start := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)
	ev := &Event{ValidFrom: start, ValidUntil: end}

	for _, tc := range []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before", start.Add(-time.Minute), false},
		{"at start", start, true},
		{"inside", start.Add(time.Hour), true},
		{"at end", end, true},
		{"after", end.Add(time.Second), false},
	} {
		if got := ev.InWindow(tc.at); got != tc.want {
			t.Errorf("%s: InWindow = %v, want %v", tc.name, got, tc.want)
		}
	}
}
