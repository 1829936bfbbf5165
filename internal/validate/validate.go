// Package validate implements the local check-in validation rules.
//
// Validation is a pure function of the candidate record, the event
// definition, and the count of already-confirmed check-ins for the same
// (user, event) slot. It has no side effects and returns identical results
// for identical inputs, so callers may re-run it freely.
package validate

import (
	"math"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

// Verdict is the outcome class of a validation pass.
type Verdict int

const (
	// Accept means the candidate passed every local rule and may proceed
	// to remote submission.
	Accept Verdict = iota

	// Reject means a local rule failed; the decision carries the reason.
	Reject

	// Indeterminate means the event definition is not available locally.
	// The caller fetches the event and re-validates; a candidate is never
	// silently accepted without a definition.
	Indeterminate
)

// Decision is the result of validating one candidate.
type Decision struct {
	Verdict Verdict
	Reason  model.Reason
}

func accept() Decision               { return Decision{Verdict: Accept} }
func reject(r model.Reason) Decision { return Decision{Verdict: Reject, Reason: r} }

// Check validates a candidate check-in against its event definition.
// confirmedCount is the number of already-confirmed local records for the
// same (user, event) slot. Validity is evaluated against the record's
// CapturedAt, never against the current time.
func Check(rec *model.CheckInRecord, ev *model.Event, confirmedCount int) Decision {
	if ev == nil {
		return Decision{Verdict: Indeterminate}
	}

	if ev.Status == model.EventCancelled {
		return reject(model.ReasonEventCancelled)
	}

	if !ev.InWindow(rec.CapturedAt) {
		return reject(model.ReasonOutOfWindow)
	}

	if rec.Location == nil {
		if ev.RequiresGeolocation {
			return reject(model.ReasonMissingLocation)
		}
	} else {
		// The reported accuracy radius is granted as tolerance: a reading
		// whose accuracy circle overlaps the allowed radius passes.
		distance := haversineMeters(rec.Location.Lat, rec.Location.Lon, ev.Venue.Lat, ev.Venue.Lon)
		effective := distance - rec.Location.AccuracyM
		if effective < 0 {
			effective = 0
		}
		if effective > ev.AllowedRadiusM {
			return reject(model.ReasonOutOfRadius)
		}
	}

	if ev.MaxCheckInsPerUser > 0 && confirmedCount >= ev.MaxCheckInsPerUser {
		return reject(model.ReasonOverLimit)
	}

	return accept()
}

const earthRadiusM = 6371000.0

// haversineMeters returns the great-circle distance between two coordinates.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
