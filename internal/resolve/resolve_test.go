package resolve

import (
	"math/rand"
	"testing"
	"time"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

func rec(device string, seq int64, at time.Time) *model.CheckInRecord {
	return &model.CheckInRecord{
		ID:         device + "-rec",
		UserID:     "u1",
		EventID:    "ev1",
		DeviceID:   device,
		ClientSeq:  seq,
		CapturedAt: at,
	}
}

func TestResolveEarliestCaptureWins(t *testing.T) {
	base := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	earlier := rec("phone", 3, base)
	later := rec("tablet", 7, base.Add(2*time.Second))

	winners, losers := Resolve([]*model.CheckInRecord{later, earlier}, 1)
	if len(winners) != 1 || winners[0].DeviceID != "phone" {
		t.Fatalf("winners = %v, want the earlier capture", ids(winners))
	}
	if len(losers) != 1 || losers[0].DeviceID != "tablet" {
		t.Fatalf("losers = %v, want the later capture", ids(losers))
	}
}

func TestResolveTieBreaks(t *testing.T) {
	at := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)

	// Equal capture time: lower client sequence wins.
	a, b := rec("d1", 2, at), rec("d2", 5, at)
	winners, _ := Resolve([]*model.CheckInRecord{b, a}, 1)
	if winners[0].ClientSeq != 2 {
		t.Errorf("winner seq = %d, want 2", winners[0].ClientSeq)
	}

	// Equal capture time and sequence: lexicographic device ID wins.
	a, b = rec("alpha", 4, at), rec("beta", 4, at)
	winners, _ = Resolve([]*model.CheckInRecord{b, a}, 1)
	if winners[0].DeviceID != "alpha" {
		t.Errorf("winner device = %s, want alpha", winners[0].DeviceID)
	}
}

func TestResolveDeterministicAcrossInputOrders(t *testing.T) {
	base := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	records := []*model.CheckInRecord{
		rec("d1", 1, base.Add(3*time.Second)),
		rec("d2", 1, base),
		rec("d3", 2, base.Add(time.Second)),
		rec("d4", 9, base),
		rec("d5", 4, base.Add(2*time.Second)),
	}

	winners, losers := Resolve(records, 2)
	want := append(ids(winners), ids(losers)...)

	rng := rand.New(rand.NewSource(1))
	for range 20 {
		shuffled := make([]*model.CheckInRecord, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		w, l := Resolve(shuffled, 2)
		got := append(ids(w), ids(l)...)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("assignment changed with input order: got %v, want %v", got, want)
			}
		}
	}
}

func TestResolveIdempotent(t *testing.T) {
	base := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	records := []*model.CheckInRecord{
		rec("d1", 1, base.Add(time.Second)),
		rec("d2", 2, base),
	}

	w1, l1 := Resolve(records, 1)
	w2, l2 := Resolve(records, 1)
	if w1[0] != w2[0] || l1[0] != l2[0] {
		t.Error("re-running Resolve changed the assignment")
	}
}

func TestResolveUnderCapacity(t *testing.T) {
	base := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	records := []*model.CheckInRecord{rec("d1", 1, base), rec("d2", 2, base.Add(time.Second))}

	winners, losers := Resolve(records, 3)
	if len(winners) != 2 || len(losers) != 0 {
		t.Errorf("got %d winners, %d losers; want all winners", len(winners), len(losers))
	}
}

func TestWins(t *testing.T) {
	base := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	a := rec("d1", 1, base)
	b := rec("d2", 2, base.Add(time.Second))

	winners, _ := Resolve([]*model.CheckInRecord{a, b}, 1)
	if !Wins(winners, a) {
		t.Error("expected a to win")
	}
	if Wins(winners, b) {
		t.Error("expected b to lose")
	}
}

func ids(records []*model.CheckInRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.DeviceID
	}
	return out
}
