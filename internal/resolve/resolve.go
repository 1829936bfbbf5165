// Package resolve implements the deterministic conflict tie-break for
// competing check-ins on one (user, event) slot.
//
// The ordering is total: captured-at ascending, then client sequence, then
// device ID. Given the same record set in any input order the assignment is
// identical, so every participant (including the ledger) computes the same
// winners.
package resolve

import (
	"sort"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

// Less reports whether a outranks b in the resolution order. The earliest
// genuine capture wins; ties fall to the lower client sequence, then to the
// lexicographically smaller device ID.
func Less(a, b *model.CheckInRecord) bool {
	if !a.CapturedAt.Equal(b.CapturedAt) {
		return a.CapturedAt.Before(b.CapturedAt)
	}
	if a.ClientSeq != b.ClientSeq {
		return a.ClientSeq < b.ClientSeq
	}
	return a.DeviceID < b.DeviceID
}

// Resolve splits the competing records into winners and losers. Exactly the
// top maxPerUser records by the resolution order win; the rest lose with
// SupersededByEarlierCheckIn. Input order is irrelevant and the input slice
// is not modified. Re-running against the same set yields the same split.
func Resolve(records []*model.CheckInRecord, maxPerUser int) (winners, losers []*model.CheckInRecord) {
	if maxPerUser <= 0 {
		maxPerUser = 1
	}

	ordered := make([]*model.CheckInRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return Less(ordered[i], ordered[j])
	})

	if len(ordered) <= maxPerUser {
		return ordered, nil
	}
	return ordered[:maxPerUser], ordered[maxPerUser:]
}

// Wins reports whether the record with the given identity is among the
// winners of a resolution.
func Wins(winners []*model.CheckInRecord, rec *model.CheckInRecord) bool {
	for _, w := range winners {
		if w.UserID == rec.UserID && w.EventID == rec.EventID &&
			w.DeviceID == rec.DeviceID && w.ClientSeq == rec.ClientSeq {
			return true
		}
	}
	return false
}
