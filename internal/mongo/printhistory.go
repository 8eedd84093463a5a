package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/kitchensync/internal/printing"
	"go.mongodb.org/mongo-driver/mongo"
)

type printHistoryDoc struct {
	JobID       string    `bson:"job_id"`
	JobType     string    `bson:"job_type"`
	OrderID     string    `bson:"order_id"`
	OrderNumber string    `bson:"order_number"`
	Printer     string    `bson:"printer"`
	PrintedAt   time.Time `bson:"printed_at"`
	Payload     []byte    `bson:"payload"`
}

// PrintHistoryRepo keeps the rendered bytes of every direct print so a
// ticket can be reprinted exactly as it first came out.
type PrintHistoryRepo struct {
	store *Store
}

func NewPrintHistoryRepo(store *Store) *PrintHistoryRepo {
	return &PrintHistoryRepo{store: store}
}

func (r *PrintHistoryRepo) Record(ctx context.Context, entry printing.HistoryEntry) error {
	coll := r.store.collection(PrintHistoryCollection)
	if coll == nil {
		return ErrNotConnected
	}
	if _, err := coll.InsertOne(ctx, toHistoryDoc(entry)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("cannot record print %s: %w", entry.JobID, err)
	}
	return nil
}

func toHistoryDoc(e printing.HistoryEntry) printHistoryDoc {
	return printHistoryDoc{
		JobID:       e.JobID,
		JobType:     string(e.JobType),
		OrderID:     e.OrderID,
		OrderNumber: e.OrderNumber,
		Printer:     e.Printer,
		PrintedAt:   e.PrintedAt.UTC(),
		Payload:     e.Payload,
	}
}
