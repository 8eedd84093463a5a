package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kitchensync/internal/kitchen"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	minReconnectBackoff = time.Second
	maxReconnectBackoff = 30 * time.Second
	defaultCloseTimeout = 10 * time.Second
)

var ErrAlreadySubscribed = errors.New("change feed already subscribed")

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.Raw `bson:"fullDocument"`
}

// ChangeFeed watches the online orders collection and turns each change
// into a kitchen feed event. It resumes after the last delivered event when
// the stream drops.
type ChangeFeed struct {
	store        *Store
	logger       apt.Logger
	closeTimeout time.Duration

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	resumeToken bson.Raw
}

func NewChangeFeed(store *Store, logger apt.Logger) *ChangeFeed {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &ChangeFeed{
		store:        store,
		logger:       logger.With("component", "mongo-change-feed"),
		closeTimeout: defaultCloseTimeout,
	}
}

func (f *ChangeFeed) Subscribe(ctx context.Context, handler func(kitchen.FeedEvent)) error {
	coll := f.store.ordersCollection()
	if coll == nil {
		return ErrNotConnected
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return ErrAlreadySubscribed
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.run(runCtx, coll, handler, f.done)

	f.logger.Info("watching online orders", "collection", coll.Name())
	return nil
}

// Close returns once the watch goroutine has exited, so the handler is
// never called afterwards. Shutdown hands in an already cancelled context,
// so the wait is bounded by its own timeout instead.
func (f *ChangeFeed) Close(ctx context.Context) error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	waitCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), f.closeTimeout)
	defer stop()
	select {
	case <-done:
		return nil
	case <-waitCtx.Done():
		f.logger.Error("change stream did not stop in time", "error", waitCtx.Err())
		return waitCtx.Err()
	}
}

func (f *ChangeFeed) run(ctx context.Context, coll *mongo.Collection, handler func(kitchen.FeedEvent), done chan struct{}) {
	defer close(done)

	backoff := minReconnectBackoff
	for {
		delivered, err := f.watch(ctx, coll, handler)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			backoff = minReconnectBackoff
		}
		f.logger.Error("change stream interrupted", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

func (f *ChangeFeed) watch(ctx context.Context, coll *mongo.Collection, handler func(kitchen.FeedEvent)) (bool, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if token := f.token(); token != nil {
		opts.SetResumeAfter(token)
	}

	stream, err := coll.Watch(ctx, onlineOrdersPipeline(), opts)
	if err != nil {
		return false, fmt.Errorf("cannot open change stream: %w", err)
	}
	defer stream.Close(context.Background())

	delivered := false
	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			f.logger.Error("cannot decode change event", "error", err)
			f.setToken(stream.ResumeToken())
			continue
		}

		fe, ok, err := toFeedEvent(ev)
		if err != nil {
			f.logger.Error("skipping online order change", "operation", ev.OperationType, "order_id", idString(ev.DocumentKey.ID), "error", err)
		} else if ok {
			handler(fe)
			delivered = true
		}
		f.setToken(stream.ResumeToken())
	}

	if err := stream.Err(); err != nil {
		return delivered, err
	}
	return delivered, errors.New("change stream closed")
}

func (f *ChangeFeed) token() bson.Raw {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumeToken
}

func (f *ChangeFeed) setToken(t bson.Raw) {
	if t == nil {
		return
	}
	cp := make(bson.Raw, len(t))
	copy(cp, t)
	f.mu.Lock()
	f.resumeToken = cp
	f.mu.Unlock()
}

// onlineOrdersPipeline keeps online orders and every delete. Deletes carry
// no document, so the aggregator drops ids it does not know.
func onlineOrdersPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			bson.D{
				{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace"}}}},
				{Key: "fullDocument.source", Value: OnlineSource},
			},
			bson.D{{Key: "operationType", Value: "delete"}},
		}}}}},
	}
}

// toFeedEvent reports false for changes the kitchen does not care about.
func toFeedEvent(ev changeEvent) (kitchen.FeedEvent, bool, error) {
	id := idString(ev.DocumentKey.ID)

	switch ev.OperationType {
	case "delete":
		if id == "" {
			return kitchen.FeedEvent{}, false, errors.New("delete without document key")
		}
		return kitchen.FeedEvent{Kind: kitchen.FeedDelete, OrderID: id}, true, nil
	case "insert", "update", "replace":
	default:
		return kitchen.FeedEvent{}, false, nil
	}

	// Deleted between the change and the lookup; the delete event follows.
	if len(ev.FullDocument) == 0 {
		return kitchen.FeedEvent{}, false, nil
	}

	data, err := bson.MarshalExtJSON(ev.FullDocument, false, false)
	if err != nil {
		return kitchen.FeedEvent{}, false, fmt.Errorf("cannot convert document: %w", err)
	}
	order, err := kitchen.ParseOnlineOrder(data)
	if err != nil {
		return kitchen.FeedEvent{}, false, err
	}

	kind := kitchen.FeedUpdate
	if ev.OperationType == "insert" {
		kind = kitchen.FeedInsert
	}
	return kitchen.FeedEvent{Kind: kind, OrderID: order.ID, Order: &order}, true, nil
}
