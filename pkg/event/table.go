package event

import "time"

const (
	// TableStatusTopic delivers authoritative status changes for tables.
	TableStatusTopic = "tables.status"

	// EventTableStatusChanged identifies a table status change event payload.
	EventTableStatusChanged = "table.status.changed"
	// EventTableSentToKitchen is emitted when a table's order is released to the kitchen.
	EventTableSentToKitchen = "table.order.sent_to_kitchen"
)

// TableStatusEvent captures the minimal information the kitchen needs to
// decide whether its table snapshot is stale.
type TableStatusEvent struct {
	EventType      string    `json:"event_type"`
	TableID        string    `json:"table_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Source         string    `json:"source,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
