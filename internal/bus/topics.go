package bus

import "github.com/alfredjeanlab/gatepass/internal/model"

// Transition topic constants, one per reachable status. TopicAll is the
// wildcard a subscriber uses to follow every transition.
const (
	TopicAll = "gatepass.checkin.>"

	TopicAppended  = "gatepass.checkin.appended"
	TopicValidated = "gatepass.checkin.validated"
	TopicAwaiting  = "gatepass.checkin.awaiting_sync"
	TopicConfirmed = "gatepass.checkin.confirmed"
	TopicRejected  = "gatepass.checkin.rejected"
	TopicConflict  = "gatepass.checkin.conflicted"
)

// TopicFor maps a destination status to its publish topic.
func TopicFor(to model.Status) string {
	switch to {
	case model.StatusPending:
		return TopicAppended
	case model.StatusValidating:
		return TopicValidated
	case model.StatusAwaitingSync:
		return TopicAwaiting
	case model.StatusConfirmed:
		return TopicConfirmed
	case model.StatusRejected:
		return TopicRejected
	case model.StatusConflicted:
		return TopicConflict
	}
	return "gatepass.checkin.unknown"
}
