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

var ErrInvalidOnlineOrder = errors.New("invalid online order")

// OnlineOrder is a document from the online ordering store. The store is
// written by more than one client, so most fields accept several encodings.
type OnlineOrder struct {
	ID                  string
	OrderNumber         string
	OrderType           string
	Status              string
	Source              string
	TableNumber         string
	CustomerName        string
	CustomerPhone       string
	CustomerEmail       string
	DeliveryAddress     string
	SpecialInstructions string
	PaymentStatus       string
	TipAmount           float64
	Items               []OnlineItem
	CreatedAt           time.Time
	UpdatedAt           time.Time

	// Warnings lists data problems that were replaced by defaults.
	Warnings []string
}

type OnlineItem struct {
	ID             string
	MenuItemID     string
	Name           string
	Price          float64
	Quantity       int
	Notes          string
	CategoryID     string
	Variant        *Variant
	Customizations []Customization
}

func (OnlineOrder) source() Source { return SourceOnline }

// IsCancelled reports whether the external status removes the order.
func (o OnlineOrder) IsCancelled() bool {
	return orderstatus.IsCancelledExternal(o.Status)
}

func (o OnlineOrder) Normalize(now time.Time) KitchenOrder {
	orderType := ParseOrderType(o.OrderType)

	k := KitchenOrder{
		ID:                  o.ID,
		Source:              SourceOnline,
		Type:                orderType,
		OrderNumber:         o.OrderNumber,
		CustomerName:        o.CustomerName,
		CustomerPhone:       o.CustomerPhone,
		CustomerEmail:       o.CustomerEmail,
		DeliveryAddress:     o.DeliveryAddress,
		SpecialInstructions: o.SpecialInstructions,
		PaymentStatus:       o.PaymentStatus,
		TipAmount:           o.TipAmount,
		Status:              orderstatus.FromExternal(o.Status),
		ExternalStatus:      strings.ToLower(strings.TrimSpace(o.Status)),
		CreatedAt:           o.CreatedAt,
		LastUpdatedAt:       o.UpdatedAt,
	}
	if orderType == OrderTypeDineIn {
		k.TableNumber = o.TableNumber
	}
	if k.OrderNumber == "" {
		k.OrderNumber = shortNumber(o.ID)
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	if k.LastUpdatedAt.IsZero() {
		k.LastUpdatedAt = k.CreatedAt
	}

	k.Items = make([]OrderItem, 0, len(o.Items))
	for i, it := range o.Items {
		item := OrderItem{
			ID:           it.ID,
			MenuItemID:   it.MenuItemID,
			Name:         it.Name,
			Quantity:     it.Quantity,
			UnitPrice:    it.Price,
			Notes:        strings.TrimSpace(it.Notes),
			CategoryID:   it.CategoryID,
			DisplayOrder: i,
			Status:       itemstatus.Statuses.New,
		}
		if item.ID == "" {
			item.ID = syntheticItemID(o.ID, i)
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
		k.Items = append(k.Items, item)
	}

	settleItems(&k, now)
	return k
}

func shortNumber(id string) string {
	if len(id) > 6 {
		return strings.ToUpper(id[len(id)-6:])
	}
	return strings.ToUpper(id)
}

type onlineOrderDoc struct {
	ID                  flexString      `json:"id"`
	MongoID             flexString      `json:"_id"`
	OrderNumber         flexString      `json:"order_number"`
	OrderType           string          `json:"order_type"`
	Status              string          `json:"status"`
	Source              string          `json:"source"`
	TableNumber         flexString      `json:"table_number"`
	CustomerName        string          `json:"customer_name"`
	CustomerPhone       flexString      `json:"customer_phone"`
	CustomerEmail       string          `json:"customer_email"`
	DeliveryAddress     json.RawMessage `json:"delivery_address"`
	SpecialInstructions string          `json:"special_instructions"`
	PaymentStatus       string          `json:"payment_status"`
	TipAmount           json.RawMessage `json:"tip_amount"`
	Items               json.RawMessage `json:"items"`
	CreatedAt           json.RawMessage `json:"created_at"`
	UpdatedAt           json.RawMessage `json:"updated_at"`
}

type onlineItemDoc struct {
	ID             flexString      `json:"id"`
	MenuItemID     flexString      `json:"menu_item_id"`
	Name           string          `json:"name"`
	Price          json.RawMessage `json:"price"`
	Quantity       flexNumber      `json:"quantity"`
	Notes          string          `json:"notes"`
	CategoryID     flexString      `json:"category_id"`
	Variant        json.RawMessage `json:"variant"`
	Customizations json.RawMessage `json:"customizations"`
	Modifiers      json.RawMessage `json:"modifiers"`
}

// ParseOnlineOrder decodes an online order document. Plain JSON and relaxed
// extended JSON exported from the document store are both accepted. Only a
// missing id or a non-object payload is an error; every other problem is
// defaulted and recorded in Warnings.
func ParseOnlineOrder(data []byte) (OnlineOrder, error) {
	var doc onlineOrderDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return OnlineOrder{}, fmt.Errorf("%w: %v", ErrInvalidOnlineOrder, err)
	}

	o := OnlineOrder{
		ID:                  string(doc.ID),
		OrderNumber:         string(doc.OrderNumber),
		OrderType:           doc.OrderType,
		Status:              doc.Status,
		Source:              doc.Source,
		TableNumber:         string(doc.TableNumber),
		CustomerName:        doc.CustomerName,
		CustomerPhone:       string(doc.CustomerPhone),
		CustomerEmail:       doc.CustomerEmail,
		SpecialInstructions: doc.SpecialInstructions,
		PaymentStatus:       doc.PaymentStatus,
	}
	if o.ID == "" {
		o.ID = string(doc.MongoID)
	}
	if o.ID == "" {
		return OnlineOrder{}, fmt.Errorf("%w: missing id", ErrInvalidOnlineOrder)
	}

	tip, err := parseMoney(doc.TipAmount)
	if err != nil {
		o.Warnings = append(o.Warnings, "tip_amount: "+err.Error())
	}
	o.TipAmount = tip

	if o.CreatedAt, err = parseTime(doc.CreatedAt); err != nil {
		o.Warnings = append(o.Warnings, "created_at: "+err.Error())
	}
	if o.UpdatedAt, err = parseTime(doc.UpdatedAt); err != nil {
		o.Warnings = append(o.Warnings, "updated_at: "+err.Error())
	}

	address, err := parseAddress(doc.DeliveryAddress)
	if err != nil {
		o.Warnings = append(o.Warnings, "delivery_address: "+err.Error())
	}
	o.DeliveryAddress = address

	items, warnings := parseItems(doc.Items)
	o.Items = items
	o.Warnings = append(o.Warnings, warnings...)
	return o, nil
}

func parseItems(raw json.RawMessage) ([]OnlineItem, []string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	// Some writers store the item list as a JSON encoded string.
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, []string{"items: " + err.Error()}
		}
		raw = json.RawMessage(strings.TrimSpace(encoded))
		if len(raw) == 0 {
			return nil, nil
		}
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, []string{"items: " + err.Error()}
	}

	var warnings []string
	items := make([]OnlineItem, 0, len(docs))
	for i, d := range docs {
		var doc onlineItemDoc
		if err := json.Unmarshal(d, &doc); err != nil {
			warnings = append(warnings, fmt.Sprintf("items[%d]: %v", i, err))
			continue
		}

		item := OnlineItem{
			ID:         string(doc.ID),
			MenuItemID: string(doc.MenuItemID),
			Name:       strings.TrimSpace(doc.Name),
			Quantity:   int(doc.Quantity),
			Notes:      doc.Notes,
			CategoryID: string(doc.CategoryID),
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

		variant, err := parseVariant(doc.Variant)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("items[%d].variant: %v", i, err))
		}
		item.Variant = variant

		mods := doc.Customizations
		if len(bytes.TrimSpace(mods)) == 0 || string(mods) == "null" {
			mods = doc.Modifiers
		}
		customizations, err := parseCustomizations(mods)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("items[%d].customizations: %v", i, err))
		}
		item.Customizations = customizations

		items = append(items, item)
	}
	return items, warnings
}

func parseVariant(raw json.RawMessage) (*Variant, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, err
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, nil
		}
		return &Variant{ID: strings.ToLower(name), Name: name}, nil
	}

	var doc struct {
		ID    flexString      `json:"id"`
		Name  string          `json:"name"`
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delta, err := parseMoney(doc.Price)
	v := &Variant{ID: string(doc.ID), Name: doc.Name, PriceDelta: delta}
	if v.ID == "" {
		v.ID = strings.ToLower(doc.Name)
	}
	return v, err
}

func parseCustomizations(raw json.RawMessage) ([]Customization, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var docs []struct {
		ID    flexString      `json:"id"`
		Name  string          `json:"name"`
		Price json.RawMessage `json:"price"`
		Free  bool            `json:"free"`
	}
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	var out []Customization
	for _, d := range docs {
		price, _ := parseMoney(d.Price)
		out = append(out, Customization{ID: string(d.ID), Name: d.Name, Price: price, Free: d.Free || price == 0})
	}
	return out, nil
}

func parseAddress(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return strings.TrimSpace(s), err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	var parts []string
	for _, key := range []string{"line1", "street", "address", "line2", "city", "postcode", "postal_code", "zip"} {
		if v, ok := doc[key].(string); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, ", "), nil
}

// parseMoney accepts numbers, numeric strings and extended JSON decimals.
// Missing values are zero.
func parseMoney(raw json.RawMessage) (float64, error) {
	var n flexNumber
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, nil
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return float64(n), nil
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	var t flexTime
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return time.Time{}, nil
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}, err
	}
	return time.Time(t), nil
}

type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case string(data) == "null":
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
	case len(data) > 0 && data[0] == '{':
		var ext struct {
			OID string `json:"$oid"`
		}
		if err := json.Unmarshal(data, &ext); err != nil {
			return err
		}
		*s = flexString(ext.OID)
	default:
		*s = flexString(data)
	}
	return nil
}

type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" || len(data) == 0 {
		*n = 0
		return nil
	}

	var text string
	switch data[0] {
	case '"':
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	case '{':
		var ext map[string]string
		if err := json.Unmarshal(data, &ext); err != nil {
			return err
		}
		for _, key := range []string{"$numberDecimal", "$numberDouble", "$numberInt", "$numberLong"} {
			if v, ok := ext[key]; ok {
				text = v
				break
			}
		}
	default:
		text = string(data)
	}

	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "£"))
	if text == "" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", text)
	}
	*n = flexNumber(v)
	return nil
}

type flexTime time.Time

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999-07",
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" || len(data) == 0 {
		*t = flexTime{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return t.parseString(s)
	case '{':
		var ext map[string]json.RawMessage
		if err := json.Unmarshal(data, &ext); err != nil {
			return err
		}
		if date, ok := ext["$date"]; ok {
			return t.UnmarshalJSON(date)
		}
		var n flexNumber
		if err := n.UnmarshalJSON(data); err != nil {
			return err
		}
		*t = flexTime(time.UnixMilli(int64(n)).UTC())
		return nil
	default:
		var n flexNumber
		if err := n.UnmarshalJSON(data); err != nil {
			return err
		}
		*t = flexTime(time.UnixMilli(int64(n)).UTC())
		return nil
	}
}

func (t *flexTime) parseString(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*t = flexTime{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = flexTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", s)
}
