package printing

import (
	"math"
	"strings"
	"time"

	"github.com/appetiteclub/kitchensync/internal/kitchen"
	"github.com/appetiteclub/kitchensync/internal/receipt"
)

// BuildOrderData turns an order and its grouped receipt lines into the
// snapshot a job of the given type is rendered from.
func BuildOrderData(o kitchen.KitchenOrder, lines []receipt.Line, jobType JobType, now time.Time) OrderData {
	data := OrderData{
		Template:            jobType.Template(),
		OrderID:             o.ID,
		OrderNumber:         o.OrderNumber,
		OrderType:           string(o.Type),
		Source:              string(o.Source),
		TableNumber:         o.TableNumber,
		GuestCount:          o.GuestCount,
		CustomerName:        o.CustomerName,
		CustomerPhone:       o.CustomerPhone,
		DeliveryAddress:     o.DeliveryAddress,
		SpecialInstructions: o.SpecialInstructions,
		PaymentStatus:       strings.ToUpper(o.PaymentStatus),
		OrderedAt:           o.CreatedAt,
		PrintedAt:           now,
		Items:               make([]ItemData, 0, len(lines)),
	}
	if data.OrderNumber == "" {
		data.OrderNumber = o.ID
	}

	var subtotal int64
	for _, l := range lines {
		item := ItemData{
			Name:          l.Name,
			Variant:       l.VariantName,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
			LineTotal:     l.Total,
			Notes:         l.Notes,
			SectionNumber: l.SectionNumber,
			SectionName:   l.SectionName,
			IsGrouped:     l.IsGrouped,
		}
		for _, m := range l.Modifiers {
			item.Modifiers = append(item.Modifiers, ModifierData{Name: m.Name, Price: m.Price, Free: m.Free})
		}
		subtotal += cents(l.Total)
		data.Items = append(data.Items, item)
	}

	if jobType.ShowsPrices() {
		tip := cents(o.TipAmount)
		data.Totals = &Totals{
			Subtotal: float64(subtotal) / 100,
			Tip:      float64(tip) / 100,
			Total:    float64(subtotal+tip) / 100,
		}
		data.PaymentMethod = paymentMethod(o)
	}
	return data
}

func paymentMethod(o kitchen.KitchenOrder) string {
	if o.Source == kitchen.SourceOnline {
		return "ONLINE"
	}
	return "IN STORE"
}

func cents(v float64) int64 {
	return int64(math.Round(v * 100))
}
