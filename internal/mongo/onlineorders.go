package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OnlineSource is the value of the source field on documents written by the
// online ordering channel.
const OnlineSource = "online"

var (
	ErrNotConnected  = errors.New("mongo store not connected")
	ErrOrderNotFound = errors.New("online order not found")
)

// OnlineOrderRepo writes kitchen status changes back to the online order
// documents.
type OnlineOrderRepo struct {
	store  *Store
	logger apt.Logger
	now    func() time.Time
}

func NewOnlineOrderRepo(store *Store, logger apt.Logger) *OnlineOrderRepo {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OnlineOrderRepo{store: store, logger: logger, now: time.Now}
}

func (r *OnlineOrderRepo) UpdateStatus(ctx context.Context, orderID, externalStatus string, completedAt *time.Time) error {
	coll := r.store.ordersCollection()
	if coll == nil {
		return ErrNotConnected
	}

	set := bson.M{
		"status":     externalStatus,
		"updated_at": r.now().UTC(),
	}
	if completedAt != nil {
		set["completed_at"] = completedAt.UTC()
	}

	result, err := coll.UpdateOne(ctx, idFilter(orderID), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("cannot update online order %s: %w", orderID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	r.logger.Debug("online order status written back", "order_id", orderID, "status", externalStatus)
	return nil
}

// InsertDemo stores raw online order documents, tagging each with the online
// source and a demo marker so ClearDemo can find them again.
func (r *OnlineOrderRepo) InsertDemo(ctx context.Context, docs []bson.M) (int, error) {
	coll := r.store.ordersCollection()
	if coll == nil {
		return 0, ErrNotConnected
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		d["source"] = OnlineSource
		d["demo"] = true
		batch = append(batch, d)
	}

	result, err := coll.InsertMany(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("cannot insert demo orders: %w", err)
	}
	return len(result.InsertedIDs), nil
}

func (r *OnlineOrderRepo) ClearDemo(ctx context.Context) (int64, error) {
	coll := r.store.ordersCollection()
	if coll == nil {
		return 0, ErrNotConnected
	}
	result, err := coll.DeleteMany(ctx, bson.M{"demo": true})
	if err != nil {
		return 0, fmt.Errorf("cannot delete demo orders: %w", err)
	}
	return result.DeletedCount, nil
}

// idFilter matches the document whether its _id was stored as an ObjectID
// or as the plain string the kitchen knows it by.
func idFilter(orderID string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(orderID); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, orderID}}}
	}
	return bson.M{"_id": orderID}
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}
