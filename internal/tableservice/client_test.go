package tableservice

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func fakeFetch(payload string) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		var data interface{}
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			return nil, err
		}
		return data, nil
	}
}

func TestSnapshot(t *testing.T) {
	payload := `[
		{"id":"t1","number":"4","status":"occupied","guest_count":3,"sent_to_kitchen":true,
		 "order":{"id":"pos-1","items":[{"id":"a","name":"Soup","quantity":1,"price":5}],"created_at":"2024-03-15T11:40:00Z","updated_at":"2024-03-15T11:40:00Z"}},
		{"id":"t2","table_number":7,"status":"available"},
		{"number":"9"}
	]`
	c := NewSnapshotClient(nil, nil)
	c.fetch = fakeFetch(payload)

	records, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %+v, want 2 (table without id skipped)", records)
	}

	first := records[0]
	if first.Number != "4" || !first.SentToKitchen || first.GuestCount != 3 || first.Order == nil {
		t.Fatalf("first = %+v", first)
	}
	order, ok := first.PosOrder()
	if !ok || order.ID != "pos-1" || order.TableNumber != "4" || order.GuestCount != 3 || len(order.Items) != 1 {
		t.Errorf("PosOrder() = %+v, %v", order, ok)
	}

	second := records[1]
	if second.Number != "7" || second.Order != nil {
		t.Errorf("second = %+v", second)
	}
	if _, ok := second.PosOrder(); ok {
		t.Error("table without order produced a POS order")
	}
}

func TestSnapshotErrors(t *testing.T) {
	tests := []struct {
		name  string
		fetch func(ctx context.Context) (interface{}, error)
	}{
		{name: "fetchFails", fetch: func(ctx context.Context) (interface{}, error) { return nil, errors.New("timeout") }},
		{name: "notAList", fetch: fakeFetch(`{"id":"t1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewSnapshotClient(nil, nil)
			c.fetch = tt.fetch
			if _, err := c.Snapshot(context.Background()); err == nil {
				t.Error("Snapshot() error = nil")
			}
		})
	}
}

func TestSnapshotWithoutClient(t *testing.T) {
	if _, err := NewSnapshotClient(nil, nil).Snapshot(context.Background()); err == nil {
		t.Error("Snapshot() without a service client error = nil")
	}
}

func TestSnapshotToleratesMalformedEntries(t *testing.T) {
	payload := `[
		{"id":"t1","number":"4","guest_count":"2","sent_to_kitchen":true,
		 "order":{"id":"pos-1","items":[{"id":"a","name":"Soup","quantity":1,"price":5}],"created_at":"2024-03-15T11:40:00Z"}},
		{"id":"t2","number":"5","sent_to_kitchen":true,
		 "order":{"id":"pos-2","items":[
			{"id":"b","name":"Chips","quantity":"2","price":"2.50"},
			{"id":"c","name":"Cola","quantity":1,"price":"free"},
			"garbage"
		 ]}},
		{"id":"t3","sent_to_kitchen":"maybe"},
		{"id":"t4","number":"8","sent_to_kitchen":true,"order":{"items":[]}}
	]`
	c := NewSnapshotClient(nil, nil)
	c.fetch = fakeFetch(payload)

	records, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %+v, want t1, t2 and t4", records)
	}
	if records[0].GuestCount != 2 {
		t.Errorf("guest count = %d, want 2", records[0].GuestCount)
	}

	order, ok := records[1].PosOrder()
	if !ok || order.ID != "pos-2" {
		t.Fatalf("PosOrder() = %+v, %v", order, ok)
	}
	if len(order.Items) != 2 {
		t.Fatalf("items = %+v, want chips and cola", order.Items)
	}
	if order.Items[0].Price != 2.5 || order.Items[0].Quantity != 2 {
		t.Errorf("chips = %+v", order.Items[0])
	}
	if order.Items[1].Price != 0 || order.Items[1].Name != "Cola" {
		t.Errorf("cola = %+v, want zero price default", order.Items[1])
	}

	if records[2].Order != nil {
		t.Errorf("order without id kept: %+v", records[2].Order)
	}
}
