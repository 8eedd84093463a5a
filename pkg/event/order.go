package event

import (
	"encoding/json"
	"time"
)

const (
	OnlineOrdersTopic        = "orders.online"
	EventOnlineOrderInserted = "online.order.inserted"
	EventOnlineOrderUpdated  = "online.order.updated"
	EventOnlineOrderDeleted  = "online.order.deleted"
)

// OnlineOrderEvent is published by the online ordering channel for every
// change to an order record. Record holds the raw order payload and is empty
// for deletes.
type OnlineOrderEvent struct {
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	OrderID    string          `json:"order_id"`
	Source     string          `json:"source,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
}
