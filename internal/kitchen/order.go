package kitchen

import (
	"fmt"
	"time"

	"github.com/appetiteclub/kitchensync/internal/receipt"
	"github.com/appetiteclub/kitchensync/pkg/enums/itemstatus"
	"github.com/appetiteclub/kitchensync/pkg/enums/orderstatus"
)

type Source string

const (
	SourcePOS    Source = "POS"
	SourceOnline Source = "ONLINE"
)

type OrderType string

const (
	OrderTypeDineIn     OrderType = "DINE_IN"
	OrderTypeCollection OrderType = "COLLECTION"
	OrderTypeDelivery   OrderType = "DELIVERY"
	OrderTypeWaiting    OrderType = "WAITING"
)

type Variant struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	PriceDelta float64 `json:"price_delta"`
}

type Customization struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Free  bool    `json:"free"`
}

type OrderItem struct {
	ID             string            `json:"id"`
	MenuItemID     string            `json:"menu_item_id,omitempty"`
	Name           string            `json:"name"`
	Quantity       int               `json:"quantity"`
	UnitPrice      float64           `json:"unit_price"`
	Variant        *Variant          `json:"variant,omitempty"`
	Customizations []Customization   `json:"customizations,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	CategoryID     string            `json:"category_id,omitempty"`
	DisplayOrder   int               `json:"display_order"`
	Status         itemstatus.Status `json:"item_status"`
	IsNew          bool              `json:"is_new"`
}

type KitchenOrder struct {
	ID          string    `json:"order_id"`
	Source      Source    `json:"order_source"`
	Type        OrderType `json:"order_type"`
	OrderNumber string    `json:"order_number,omitempty"`

	TableNumber         string  `json:"table_number,omitempty"`
	CustomerName        string  `json:"customer_name,omitempty"`
	CustomerPhone       string  `json:"customer_phone,omitempty"`
	CustomerEmail       string  `json:"customer_email,omitempty"`
	DeliveryAddress     string  `json:"delivery_address,omitempty"`
	SpecialInstructions string  `json:"special_instructions,omitempty"`
	GuestCount          int     `json:"guest_count,omitempty"`
	TipAmount           float64 `json:"tip_amount,omitempty"`
	PaymentStatus       string  `json:"payment_status,omitempty"`

	Items []OrderItem `json:"items"`

	Status  orderstatus.Status `json:"status"`
	Delayed bool               `json:"delayed"`
	// ExternalStatus is the last status reported by the online store. It is
	// kept for display only and never mapped back.
	ExternalStatus string `json:"external_status,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	// Derived on every tick, refresh and push.
	WaitingMinutes int    `json:"waiting_minutes"`
	IsUrgent       bool   `json:"is_urgent"`
	TimeDisplay    string `json:"time_display"`
}

// Clone returns a deep copy that shares no slices or pointers with o.
func (o KitchenOrder) Clone() KitchenOrder {
	c := o
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		for i, it := range o.Items {
			c.Items[i] = it.clone()
		}
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

func (it OrderItem) clone() OrderItem {
	c := it
	if it.Variant != nil {
		v := *it.Variant
		c.Variant = &v
	}
	if it.Customizations != nil {
		c.Customizations = append([]Customization(nil), it.Customizations...)
	}
	return c
}

func (o KitchenOrder) IsActive() bool {
	return !o.Status.IsTerminal()
}

// ReceiptLines converts the order items into receipt lines ready for grouping.
func (o KitchenOrder) ReceiptLines() []receipt.Line {
	lines := make([]receipt.Line, 0, len(o.Items))
	for _, it := range o.Items {
		l := receipt.Line{
			ItemID:       it.ID,
			MenuItemID:   it.MenuItemID,
			CategoryID:   it.CategoryID,
			Name:         it.Name,
			UnitPrice:    it.UnitPrice,
			Quantity:     it.Quantity,
			Notes:        it.Notes,
			DisplayOrder: it.DisplayOrder,
		}
		if it.Variant != nil {
			l.VariantID = it.Variant.ID
			l.VariantName = it.Variant.Name
			l.UnitPrice += it.Variant.PriceDelta
		}
		for _, c := range it.Customizations {
			l.Modifiers = append(l.Modifiers, receipt.Modifier{ID: c.ID, Name: c.Name, Price: c.Price, Free: c.Free})
		}
		lines = append(lines, l)
	}
	return lines
}

func (o *KitchenOrder) recompute(now time.Time, urgentAfter time.Duration) {
	waited := now.Sub(o.CreatedAt)
	if o.CompletedAt != nil {
		waited = o.CompletedAt.Sub(o.CreatedAt)
	}
	if waited < 0 {
		waited = 0
	}
	o.WaitingMinutes = int(waited / time.Minute)
	o.TimeDisplay = formatWaiting(waited)
	o.IsUrgent = o.IsActive() && waited >= urgentAfter
}

func formatWaiting(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "<1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	default:
		return fmt.Sprintf("%dh %02dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
	}
}

func (o *KitchenOrder) item(id string) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i]
		}
	}
	return nil
}
