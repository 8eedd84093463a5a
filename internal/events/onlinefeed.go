package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kitchensync/internal/kitchen"
	"github.com/appetiteclub/kitchensync/pkg/event"
)

const onlineSource = "online"

// CancelableSubscriber can release a single subscription without closing
// the connection.
type CancelableSubscriber interface {
	SubscribeCancelable(ctx context.Context, topic string, handler events.HandlerFunc) (func() error, error)
}

// OnlineOrderFeed is the NATS flavour of the online order feed. The online
// channel publishes every order change on orders.online.
type OnlineOrderFeed struct {
	subscriber events.Subscriber
	logger     apt.Logger

	// Messages already dispatched by the broker may arrive after Close, so
	// deliveries are gated by generation. The read lock is held while a
	// handler runs.
	mu         sync.RWMutex
	generation uint64
	active     bool
	handler    func(kitchen.FeedEvent)
	release    func() error
}

func NewOnlineOrderFeed(subscriber events.Subscriber, logger apt.Logger) *OnlineOrderFeed {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OnlineOrderFeed{
		subscriber: subscriber,
		logger:     logger.With("component", "nats-online-feed"),
	}
}

func (f *OnlineOrderFeed) Subscribe(ctx context.Context, handler func(kitchen.FeedEvent)) error {
	if f.subscriber == nil {
		return errors.New("no subscriber configured")
	}

	f.mu.Lock()
	if f.active {
		f.mu.Unlock()
		return errors.New("online feed already subscribed")
	}
	f.generation++
	gen := f.generation
	f.active = true
	f.handler = handler
	f.mu.Unlock()

	handle := func(ctx context.Context, msg []byte) error {
		return f.deliver(gen, msg)
	}
	var (
		release func() error
		err     error
	)
	if cs, ok := f.subscriber.(CancelableSubscriber); ok {
		release, err = cs.SubscribeCancelable(ctx, event.OnlineOrdersTopic, handle)
	} else {
		err = f.subscriber.Subscribe(ctx, event.OnlineOrdersTopic, handle)
	}
	if err != nil {
		f.mu.Lock()
		f.active = false
		f.handler = nil
		f.mu.Unlock()
		return fmt.Errorf("failed to subscribe to %s: %w", event.OnlineOrdersTopic, err)
	}

	f.mu.Lock()
	f.release = release
	f.mu.Unlock()

	f.logger.Info("subscribed to online orders", "topic", event.OnlineOrdersTopic)
	return nil
}

// Close releases the broker subscription and waits for an in-flight
// delivery to finish.
func (f *OnlineOrderFeed) Close(ctx context.Context) error {
	f.mu.Lock()
	f.active = false
	f.handler = nil
	release := f.release
	f.release = nil
	f.mu.Unlock()

	if release != nil {
		if err := release(); err != nil {
			return err
		}
	}
	return nil
}

func (f *OnlineOrderFeed) deliver(gen uint64, msg []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.active || gen != f.generation {
		return nil
	}

	ev, ok, err := decodeOnlineOrderEvent(msg)
	if err != nil {
		f.logger.Error("skipping online order event", "error", err)
		return nil
	}
	if ok {
		f.handler(ev)
	}
	return nil
}

func decodeOnlineOrderEvent(msg []byte) (kitchen.FeedEvent, bool, error) {
	var evt event.OnlineOrderEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		return kitchen.FeedEvent{}, false, fmt.Errorf("cannot unmarshal event: %w", err)
	}
	if evt.Source != "" && !strings.EqualFold(evt.Source, onlineSource) {
		return kitchen.FeedEvent{}, false, nil
	}

	var kind kitchen.FeedEventKind
	switch evt.EventType {
	case event.EventOnlineOrderInserted:
		kind = kitchen.FeedInsert
	case event.EventOnlineOrderUpdated:
		kind = kitchen.FeedUpdate
	case event.EventOnlineOrderDeleted:
		if evt.OrderID == "" {
			return kitchen.FeedEvent{}, false, errors.New("delete without order id")
		}
		return kitchen.FeedEvent{Kind: kitchen.FeedDelete, OrderID: evt.OrderID}, true, nil
	default:
		return kitchen.FeedEvent{}, false, fmt.Errorf("unknown event type %q", evt.EventType)
	}

	order, err := kitchen.ParseOnlineOrder(evt.Record)
	if err != nil {
		return kitchen.FeedEvent{}, false, err
	}
	if order.Source != "" && !strings.EqualFold(order.Source, onlineSource) {
		return kitchen.FeedEvent{}, false, nil
	}
	return kitchen.FeedEvent{Kind: kind, OrderID: order.ID, Order: &order}, true, nil
}
