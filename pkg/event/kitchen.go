package event

import (
	"encoding/json"
	"time"
)

const (
	KitchenOrdersTopic                = "kitchen.orders"
	EventKitchenOrderUpserted         = "kitchen.order.upserted"
	EventKitchenOrderRemoved          = "kitchen.order.removed"
	EventKitchenOrderStatusChanged    = "kitchen.order.status_changed"
	EventKitchenOrderDelayed          = "kitchen.order.delayed"
	EventKitchenOrderWriteBackFailed  = "kitchen.order.writeback_failed"
	EventKitchenOrderWriteBackApplied = "kitchen.order.writeback_applied"
)

type KitchenOrderEventMetadata struct {
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	OrderID     string    `json:"order_id"`
	OrderSource string    `json:"order_source"`
	OrderType   string    `json:"order_type,omitempty"`

	// Denormalized data for display
	OrderNumber  string `json:"order_number,omitempty"`
	TableNumber  string `json:"table_number,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
}

type KitchenOrderStatusChangedEvent struct {
	KitchenOrderEventMetadata
	NewStatus      string     `json:"new_status"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Delayed        bool       `json:"delayed"`
	WaitingMinutes int        `json:"waiting_minutes"`
	IsUrgent       bool       `json:"is_urgent"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	Order json.RawMessage `json:"order,omitempty"`
}

// KitchenOrderEvent carries the full order for upserts and removals.
type KitchenOrderEvent struct {
	KitchenOrderEventMetadata
	Order json.RawMessage `json:"order"`
}

type KitchenOrderWriteBackEvent struct {
	KitchenOrderEventMetadata
	ExternalStatus string `json:"external_status"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}
