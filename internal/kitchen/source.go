package kitchen

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/appetiteclub/kitchensync/pkg/enums/itemstatus"
	"github.com/appetiteclub/kitchensync/pkg/enums/orderstatus"
)

// SourceOrder is an order as reported by one of the two upstream sources.
// Raw shapes stay inside this package; callers only ever see KitchenOrder.
type SourceOrder interface {
	Normalize(now time.Time) KitchenOrder
	source() Source
}

// TableRecord is one entry of the table service snapshot. At most one
// active order hangs off a table and it only reaches the kitchen once the
// table has been sent to the kitchen.
type TableRecord struct {
	ID            string    `json:"id"`
	Number        string    `json:"number"`
	Status        string    `json:"status"`
	GuestCount    int       `json:"guest_count"`
	SentToKitchen bool      `json:"sent_to_kitchen"`
	Order         *PosOrder `json:"order,omitempty"`
}

// PosOrder returns the order the kitchen should see for this table.
func (r TableRecord) PosOrder() (PosOrder, bool) {
	if !r.SentToKitchen || r.Order == nil || r.Order.ID == "" {
		return PosOrder{}, false
	}
	o := *r.Order
	if o.TableNumber == "" {
		o.TableNumber = r.Number
	}
	if o.GuestCount == 0 {
		o.GuestCount = r.GuestCount
	}
	return o, true
}

type PosItem struct {
	ID             string          `json:"id"`
	MenuItemID     string          `json:"menu_item_id,omitempty"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	Price          float64         `json:"price"`
	Variant        *Variant        `json:"variant,omitempty"`
	Customizations []Customization `json:"customizations,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CategoryID     string          `json:"category_id,omitempty"`
	DisplayOrder   int             `json:"display_order"`
	Status         string          `json:"status,omitempty"`
}

// PosOrder is the in-store order attached to a table record.
type PosOrder struct {
	ID            string    `json:"id"`
	OrderNumber   string    `json:"order_number,omitempty"`
	OrderType     string    `json:"order_type,omitempty"`
	Status        string    `json:"status,omitempty"`
	TableNumber   string    `json:"table_number,omitempty"`
	GuestCount    int       `json:"guest_count,omitempty"`
	CustomerName  string    `json:"customer_name,omitempty"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	Items         []PosItem `json:"items"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (PosOrder) source() Source { return SourcePOS }

var ErrInvalidPosOrder = errors.New("invalid pos order")

type posOrderDoc struct {
	ID            flexString      `json:"id"`
	OrderNumber   flexString      `json:"order_number"`
	OrderType     string          `json:"order_type"`
	Status        string          `json:"status"`
	TableNumber   flexString      `json:"table_number"`
	GuestCount    json.RawMessage `json:"guest_count"`
	CustomerName  string          `json:"customer_name"`
	PaymentStatus string          `json:"payment_status"`
	Items         json.RawMessage `json:"items"`
	CreatedAt     json.RawMessage `json:"created_at"`
	UpdatedAt     json.RawMessage `json:"updated_at"`
}

type posItemDoc struct {
	ID             flexString      `json:"id"`
	MenuItemID     flexString      `json:"menu_item_id"`
	Name           string          `json:"name"`
	Price          json.RawMessage `json:"price"`
	Quantity       json.RawMessage `json:"quantity"`
	Notes          string          `json:"notes"`
	CategoryID     flexString      `json:"category_id"`
	DisplayOrder   json.RawMessage `json:"display_order"`
	Status         string          `json:"status"`
	Variant        json.RawMessage `json:"variant"`
	Customizations json.RawMessage `json:"customizations"`
}

// ParsePosOrder decodes the order attached to a table record. Like
// ParseOnlineOrder it only fails on a non-object payload or a missing id;
// a bad field or item is defaulted or skipped and reported in the returned
// warnings.
func ParsePosOrder(data []byte) (PosOrder, []string, error) {
	var doc posOrderDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return PosOrder{}, nil, fmt.Errorf("%w: %v", ErrInvalidPosOrder, err)
	}
	if doc.ID == "" {
		return PosOrder{}, nil, fmt.Errorf("%w: missing id", ErrInvalidPosOrder)
	}

	p := PosOrder{
		ID:            string(doc.ID),
		OrderNumber:   string(doc.OrderNumber),
		OrderType:     doc.OrderType,
		Status:        doc.Status,
		TableNumber:   string(doc.TableNumber),
		CustomerName:  doc.CustomerName,
		PaymentStatus: doc.PaymentStatus,
	}

	var warnings []string
	guests, err := parseMoney(doc.GuestCount)
	if err != nil {
		warnings = append(warnings, "guest_count: "+err.Error())
	}
	p.GuestCount = int(guests)
	if p.CreatedAt, err = parseTime(doc.CreatedAt); err != nil {
		warnings = append(warnings, "created_at: "+err.Error())
	}
	if p.UpdatedAt, err = parseTime(doc.UpdatedAt); err != nil {
		warnings = append(warnings, "updated_at: "+err.Error())
	}

	items, itemWarnings := parsePosItems(doc.Items)
	p.Items = items
	return p, append(warnings, itemWarnings...), nil
}

func parsePosItems(raw json.RawMessage) ([]PosItem, []string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, []string{"items: " + err.Error()}
	}

	var warnings []string
	items := make([]PosItem, 0, len(docs))
	for i, d := range docs {
		var doc posItemDoc
		if err := json.Unmarshal(d, &doc); err != nil {
			warnings = append(warnings, fmt.Sprintf("items[%d]: %v", i, err))
			continue
		}

		item := PosItem{
			ID:         string(doc.ID),
			MenuItemID: string(doc.MenuItemID),
			Name:       strings.TrimSpace(doc.Name),
			Notes:      doc.Notes,
			CategoryID: string(doc.CategoryID),
			Status:     doc.Status,
		}
		if item.Name == "" {
			item.Name = "Item"
			warnings = append(warnings, fmt.Sprintf("items[%d]: missing name", i))
		}

		price, err := parseMoney(doc.Price)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("items[%d].price: %v", i, err))
		}
		item.Price = price

		qty, err := parseMoney(doc.Quantity)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("items[%d].quantity: %v", i, err))
		}
		item.Quantity = int(qty)

		position, err := parseMoney(doc.DisplayOrder)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("items[%d].display_order: %v", i, err))
		}
		item.DisplayOrder = int(position)

		if item.Variant, err = parseVariant(doc.Variant); err != nil {
			warnings = append(warnings, fmt.Sprintf("items[%d].variant: %v", i, err))
		}
		if item.Customizations, err = parseCustomizations(doc.Customizations); err != nil {
			warnings = append(warnings, fmt.Sprintf("items[%d].customizations: %v", i, err))
		}

		items = append(items, item)
	}
	return items, warnings
}

func (p PosOrder) Normalize(now time.Time) KitchenOrder {
	orderType := OrderTypeDineIn
	if p.OrderType != "" {
		orderType = ParseOrderType(p.OrderType)
	}

	o := KitchenOrder{
		ID:            p.ID,
		Source:        SourcePOS,
		Type:          orderType,
		OrderNumber:   p.OrderNumber,
		CustomerName:  p.CustomerName,
		GuestCount:    p.GuestCount,
		PaymentStatus: p.PaymentStatus,
		Status:        orderstatus.Statuses.Preparing,
		CreatedAt:     p.CreatedAt,
		LastUpdatedAt: p.UpdatedAt,
	}
	if orderType == OrderTypeDineIn {
		o.TableNumber = p.TableNumber
	}
	if p.Status != "" {
		o.Status = orderstatus.FromExternal(p.Status)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.LastUpdatedAt.IsZero() {
		o.LastUpdatedAt = o.CreatedAt
	}

	o.Items = make([]OrderItem, 0, len(p.Items))
	for i, it := range p.Items {
		item := OrderItem{
			ID:           it.ID,
			MenuItemID:   it.MenuItemID,
			Name:         it.Name,
			Quantity:     it.Quantity,
			UnitPrice:    it.Price,
			Notes:        strings.TrimSpace(it.Notes),
			CategoryID:   it.CategoryID,
			DisplayOrder: it.DisplayOrder,
			Status:       itemstatus.Statuses.New,
		}
		if item.ID == "" {
			item.ID = syntheticItemID(p.ID, i)
		}
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		if it.Variant != nil {
			v := *it.Variant
			item.Variant = &v
		}
		if it.Customizations != nil {
			item.Customizations = append([]Customization(nil), it.Customizations...)
		}
		if s := itemstatus.ByName(it.Status); s != nil {
			item.Status = *s
		}
		o.Items = append(o.Items, item)
	}

	settleItems(&o, now)
	return o
}

// ParseOrderType maps the loose order type vocabulary of both sources onto
// the closed OrderType set. Unknown values fall back to collection.
func ParseOrderType(raw string) OrderType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "delivery":
		return OrderTypeDelivery
	case "collection", "pickup", "takeaway", "take_away":
		return OrderTypeCollection
	case "dine_in", "dine-in", "dinein", "table":
		return OrderTypeDineIn
	case "waiting":
		return OrderTypeWaiting
	default:
		return OrderTypeCollection
	}
}

func syntheticItemID(orderID string, index int) string {
	return orderID + "-item-" + strconv.Itoa(index+1)
}

// settleItems aligns item statuses with the order status so a freshly
// normalized order already satisfies the cascade rules.
func settleItems(o *KitchenOrder, now time.Time) {
	switch o.Status {
	case orderstatus.Statuses.Ready:
		cascadeReady(o)
	case orderstatus.Statuses.Completed:
		cascadeServed(o)
		if o.CompletedAt == nil {
			t := o.LastUpdatedAt
			if t.IsZero() {
				t = now
			}
			o.CompletedAt = &t
		}
	}
}
