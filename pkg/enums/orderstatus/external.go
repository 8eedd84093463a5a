package orderstatus

import "strings"

// External statuses used by the online ordering channel.
const (
	ExternalPending    = "pending"
	ExternalConfirmed  = "confirmed"
	ExternalProcessing = "processing"
	ExternalPreparing  = "preparing"
	ExternalReady      = "ready"
	ExternalCompleted  = "completed"
	ExternalDelivered  = "delivered"
	ExternalCollected  = "collected"
	ExternalCancelled  = "cancelled"
)

// The external vocabulary is wider than ours. Several external statuses
// collapse into one internal status, so this table is not invertible.
var fromExternal = map[string]Status{
	ExternalPending:    Statuses.Preparing,
	ExternalConfirmed:  Statuses.Preparing,
	ExternalProcessing: Statuses.Preparing,
	ExternalPreparing:  Statuses.Preparing,
	ExternalReady:      Statuses.Ready,
	ExternalCompleted:  Statuses.Completed,
	ExternalDelivered:  Statuses.Completed,
	ExternalCollected:  Statuses.Completed,
}

var toExternal = map[Status]string{
	Statuses.Preparing: ExternalPreparing,
	Statuses.Ready:     ExternalReady,
	Statuses.Completed: ExternalCompleted,
}

func normalizeExternal(external string) string {
	return strings.ToLower(strings.TrimSpace(external))
}

// FromExternal maps an external status to the internal one. Unrecognized
// values map to Preparing, never to Completed.
func FromExternal(external string) Status {
	if s, ok := fromExternal[normalizeExternal(external)]; ok {
		return s
	}
	return Statuses.Preparing
}

// IsKnownExternal reports whether the external status is part of the mapping table.
func IsKnownExternal(external string) bool {
	_, ok := fromExternal[normalizeExternal(external)]
	return ok
}

// IsCancelledExternal reports whether the external status cancels the order.
func IsCancelledExternal(external string) bool {
	switch normalizeExternal(external) {
	case ExternalCancelled, "canceled":
		return true
	}
	return false
}

// ToExternal maps an internal status to the value written back to the online store.
func ToExternal(s Status) (string, bool) {
	external, ok := toExternal[s]
	return external, ok
}
