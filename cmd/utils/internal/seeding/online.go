package seeding

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DemoOnlineOrders builds online order documents in the shapes the online
// channel actually writes: decimal and string prices, item lists stored as
// arrays or as JSON text, structured and flat addresses.
func DemoOnlineOrders(now time.Time) []bson.M {
	at := func(ago time.Duration) primitive.DateTime {
		return primitive.NewDateTimeFromTime(now.Add(-ago))
	}

	return []bson.M{
		{
			"_id":            "demo-web-1",
			"order_number":   "W1001",
			"order_type":     "delivery",
			"status":         "processing",
			"customer_name":  "Sam Carter",
			"customer_phone": "07700 900123",
			"delivery_address": bson.M{
				"line1":    "1 High Street",
				"city":     "Leeds",
				"postcode": "LS1 1AA",
			},
			"payment_status": "paid",
			"tip_amount":     decimal("2.50"),
			"created_at":     at(25 * time.Minute),
			"updated_at":     at(20 * time.Minute),
			"items": bson.A{
				bson.M{"id": "w1-1", "name": "Smash Burger", "price": decimal("12.95"), "quantity": 1},
				bson.M{"id": "w1-2", "name": "Smash Burger", "price": decimal("12.95"), "quantity": 1},
				bson.M{"id": "w1-3", "name": "Fries", "price": decimal("3.50"), "quantity": 2, "notes": "extra crispy"},
			},
		},
		{
			"_id":            "demo-web-2",
			"order_number":   "W1002",
			"order_type":     "collection",
			"status":         "pending",
			"customer_name":  "Priya Shah",
			"payment_status": "pending",
			"created_at":     now.Add(-4 * time.Minute).UTC().Format(time.RFC3339),
			"items":          `[{"id":"w2-1","name":"Margherita","price":"9.00","quantity":1,"variant":{"id":"large","name":"Large","price":"2.00"}},{"id":"w2-2","name":"Lemonade","price":2.8,"quantity":2}]`,
		},
		{
			"_id":                  "demo-web-3",
			"order_number":         "W1003",
			"order_type":           "delivery",
			"status":               "ready",
			"customer_name":        "Alex Kim",
			"delivery_address":     "22 Park Row, Leeds LS1 5HD",
			"special_instructions": "Leave with concierge",
			"payment_status":       "paid",
			"created_at":           at(40 * time.Minute),
			"updated_at":           at(5 * time.Minute),
			"items": bson.A{
				bson.M{
					"id":       "w3-1",
					"name":     "Chicken Wrap",
					"price":    decimal("8.50"),
					"quantity": 1,
					"modifiers": bson.A{
						bson.M{"id": "m1", "name": "Halloumi", "price": decimal("1.50")},
						bson.M{"id": "m2", "name": "No onion", "free": true},
					},
				},
			},
		},
		{
			"_id":            "demo-web-4",
			"order_number":   "W1004",
			"order_type":     "collection",
			"status":         "confirmed",
			"customer_name":  "Jo Evans",
			"payment_status": "paid",
			"tip_amount":     1,
			"created_at":     at(12 * time.Minute),
			"items": bson.A{
				bson.M{"id": "w4-1", "name": "Tomato Soup", "price": "5.25", "quantity": 1},
				bson.M{"id": "w4-2", "name": "Brownie", "price": decimal("4.00"), "quantity": 1},
			},
		},
	}
}

func decimal(s string) primitive.Decimal128 {
	d, err := primitive.ParseDecimal128(s)
	if err != nil {
		panic(err)
	}
	return d
}
