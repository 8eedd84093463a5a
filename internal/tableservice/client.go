package tableservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kitchensync/internal/kitchen"
)

const tablesResource = "tables"

// SnapshotClient pulls the table list from the table service and hands it
// to the aggregator as a snapshot.
type SnapshotClient struct {
	fetch  func(ctx context.Context) (interface{}, error)
	logger apt.Logger
}

func NewSnapshotClient(client *apt.ServiceClient, logger apt.Logger) *SnapshotClient {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &SnapshotClient{
		fetch: func(ctx context.Context) (interface{}, error) {
			if client == nil {
				return nil, errors.New("table service not configured")
			}
			resp, err := client.List(ctx, tablesResource)
			if err != nil {
				return nil, err
			}
			return resp.Data, nil
		},
		logger: logger,
	}
}

type tableDTO struct {
	ID            string          `json:"id"`
	Number        json.RawMessage `json:"number"`
	TableNumber   json.RawMessage `json:"table_number"`
	Status        string          `json:"status"`
	GuestCount    json.RawMessage `json:"guest_count"`
	SentToKitchen bool            `json:"sent_to_kitchen"`
	Order         json.RawMessage `json:"order"`
}

// Snapshot decodes every table on its own. A malformed table or order is
// logged and skipped so the rest of the snapshot still reaches the kitchen.
func (c *SnapshotClient) Snapshot(ctx context.Context) ([]kitchen.TableRecord, error) {
	data, err := c.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	var raws []json.RawMessage
	if err := rehydrate(data, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode tables: %w", err)
	}

	records := make([]kitchen.TableRecord, 0, len(raws))
	for i, raw := range raws {
		var d tableDTO
		if err := json.Unmarshal(raw, &d); err != nil {
			c.logger.Error("skipping malformed table", "index", i, "error", err)
			continue
		}
		if d.ID == "" {
			c.logger.Debug("skipping table without id")
			continue
		}

		number := tableNumber(d.Number)
		if number == "" {
			number = tableNumber(d.TableNumber)
		}
		guests, _ := strconv.Atoi(tableNumber(d.GuestCount))

		record := kitchen.TableRecord{
			ID:            d.ID,
			Number:        number,
			Status:        d.Status,
			GuestCount:    guests,
			SentToKitchen: d.SentToKitchen,
		}
		if len(d.Order) > 0 && string(d.Order) != "null" {
			order, warnings, err := kitchen.ParsePosOrder(d.Order)
			if err != nil {
				c.logger.Error("skipping malformed table order", "table_id", d.ID, "error", err)
			} else {
				for _, w := range warnings {
					c.logger.Info("table order data defaulted", "table_id", d.ID, "order_id", order.ID, "detail", w)
				}
				record.Order = &order
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// tableNumber accepts "12" and 12 alike.
func tableNumber(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func rehydrate(data interface{}, out interface{}) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}
