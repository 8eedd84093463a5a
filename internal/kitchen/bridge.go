package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kitchensync/pkg/enums/orderstatus"
	"github.com/appetiteclub/kitchensync/pkg/event"
)

const (
	DefaultWriteBackAttempts = 5
	defaultWriteBackBackoff  = 500 * time.Millisecond
	maxWriteBackBackoff      = 30 * time.Second
	writeBackTimeout         = 10 * time.Second
	publishTimeout           = 2 * time.Second
	defaultStopTimeout       = 5 * time.Second
)

var (
	errBridgeStopped = errors.New("bridge stopped before write-back completed")
	errNoOnlineStore = errors.New("no online order store configured")
)

// OnlineStore is the external order store the online channel reads status
// from.
type OnlineStore interface {
	UpdateStatus(ctx context.Context, orderID, externalStatus string, completedAt *time.Time) error
}

type BridgeConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	// StopTimeout bounds how long Stop waits for the write-back in flight.
	StopTimeout time.Duration
}

type writeBack struct {
	order    KitchenOrder
	external string
}

// Bridge publishes aggregator changes to displays and NATS, and writes
// operator status changes on online orders back to the online store.
// Write-backs run on their own goroutine in submission order and never
// touch local state.
type Bridge struct {
	store       OnlineStore
	publisher   events.Publisher
	broadcaster *Broadcaster
	logger      apt.Logger

	maxAttempts int
	backoff     time.Duration
	stopTimeout time.Duration

	mu      sync.Mutex
	pending []writeBack
	signal  chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started bool
	stopped bool
}

func NewBridge(store OnlineStore, publisher events.Publisher, broadcaster *Broadcaster, cfg BridgeConfig, logger apt.Logger) *Bridge {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultWriteBackAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultWriteBackBackoff
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Bridge{
		store:       store,
		publisher:   publisher,
		broadcaster: broadcaster,
		logger:      logger.With("component", "bridge"),
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		stopTimeout: cfg.StopTimeout,
		signal:      make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true
	go b.run()
	return nil
}

// Stop waits for the write-back in flight and reports everything still
// queued as failed. The caller's context is usually already cancelled at
// shutdown, so only its values are kept and the wait has its own bound.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	started := b.started
	b.stopped = true
	b.mu.Unlock()
	if !started {
		return nil
	}
	b.once.Do(func() { close(b.stop) })

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.stopTimeout)
	defer cancel()

	var err error
	select {
	case <-b.done:
	case <-waitCtx.Done():
		err = waitCtx.Err()
		b.logger.Error("write-back in flight did not finish before shutdown", "error", err)
	}

	for _, wb := range b.drain() {
		b.reportFailure(wb, 0, errBridgeStopped)
	}
	return err
}

// Notify implements Notifier. It never blocks on the online store.
func (b *Bridge) Notify(c Change) {
	b.publish(c)

	if c.Kind != ChangeStatus || c.Origin != OriginOperator || c.Order.Source != SourceOnline {
		return
	}
	external, ok := orderstatus.ToExternal(c.Order.Status)
	if !ok {
		return
	}
	wb := writeBack{order: c.Order, external: external}
	if b.store == nil {
		b.reportFailure(wb, 0, errNoOnlineStore)
		return
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.reportFailure(wb, 0, errBridgeStopped)
		return
	}
	b.pending = append(b.pending, wb)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			return
		case <-b.signal:
		}

		for {
			select {
			case <-b.stop:
				return
			default:
			}
			wb, ok := b.next()
			if !ok {
				break
			}
			b.writeBack(wb)
		}
	}
}

func (b *Bridge) next() (writeBack, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return writeBack{}, false
	}
	wb := b.pending[0]
	b.pending = b.pending[1:]
	return wb, true
}

func (b *Bridge) drain() []writeBack {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

func (b *Bridge) writeBack(wb writeBack) {
	var completedAt *time.Time
	if wb.order.Status.IsTerminal() {
		completedAt = wb.order.CompletedAt
	}

	delay := b.backoff
	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		lastErr = b.store.UpdateStatus(ctx, wb.order.ID, wb.external, completedAt)
		cancel()

		if lastErr == nil {
			b.logger.Info("status written back", "order_id", wb.order.ID, "status", wb.external, "attempts", attempt)
			b.publishWriteBack(event.EventKitchenOrderWriteBackApplied, wb, attempt, nil)
			return
		}

		b.logger.Info("write-back attempt failed", "order_id", wb.order.ID, "attempt", attempt, "error", lastErr)
		if attempt == b.maxAttempts {
			break
		}

		select {
		case <-b.stop:
			b.reportFailure(wb, attempt, errors.Join(errBridgeStopped, lastErr))
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxWriteBackBackoff {
			delay = maxWriteBackBackoff
		}
	}

	b.reportFailure(wb, b.maxAttempts, lastErr)
}

func (b *Bridge) reportFailure(wb writeBack, attempts int, err error) {
	b.logger.Error("write-back failed, local status kept",
		"order_id", wb.order.ID,
		"status", wb.external,
		"attempts", attempts,
		"error", err,
	)
	b.publishWriteBack(event.EventKitchenOrderWriteBackFailed, wb, attempts, err)
}

func (b *Bridge) publishWriteBack(eventType string, wb writeBack, attempts int, err error) {
	evt := event.KitchenOrderWriteBackEvent{
		KitchenOrderEventMetadata: metadata(eventType, wb.order, time.Now()),
		ExternalStatus:            wb.external,
		Attempts:                  attempts,
	}
	if err != nil {
		evt.Error = err.Error()
	}
	b.send(eventType, wb.order, evt)
}

func (b *Bridge) publish(c Change) {
	eventType, payload, err := changeEvent(c)
	if err != nil {
		b.logger.Error("cannot encode order event", "order_id", c.Order.ID, "error", err)
		return
	}
	b.send(eventType, c.Order, payload)
}

func (b *Bridge) send(eventType string, o KitchenOrder, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("cannot marshal event", "event_type", eventType, "error", err)
		return
	}

	if b.broadcaster != nil {
		b.broadcaster.Broadcast(Envelope{EventType: eventType, OrderID: o.ID, Source: o.Source, Data: data})
	}

	if b.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.publisher.Publish(ctx, event.KitchenOrdersTopic, data); err != nil {
		b.logger.Error("cannot publish kitchen event", "event_type", eventType, "order_id", o.ID, "error", err)
	}
}

// changeEvent maps an aggregator change to its wire event.
func changeEvent(c Change) (string, interface{}, error) {
	order, err := json.Marshal(c.Order)
	if err != nil {
		return "", nil, err
	}

	switch c.Kind {
	case ChangeStatus, ChangeDelayed:
		eventType := event.EventKitchenOrderStatusChanged
		if c.Kind == ChangeDelayed {
			eventType = event.EventKitchenOrderDelayed
		}
		return eventType, event.KitchenOrderStatusChangedEvent{
			KitchenOrderEventMetadata: metadata(eventType, c.Order, c.At),
			NewStatus:                 c.Order.Status.Code(),
			PreviousStatus:            c.PreviousStatus.Code(),
			Delayed:                   c.Order.Delayed,
			WaitingMinutes:            c.Order.WaitingMinutes,
			IsUrgent:                  c.Order.IsUrgent,
			CompletedAt:               c.Order.CompletedAt,
			Order:                     order,
		}, nil
	case ChangeRemoved:
		return event.EventKitchenOrderRemoved, event.KitchenOrderEvent{
			KitchenOrderEventMetadata: metadata(event.EventKitchenOrderRemoved, c.Order, c.At),
			Order:                     order,
		}, nil
	default:
		return event.EventKitchenOrderUpserted, event.KitchenOrderEvent{
			KitchenOrderEventMetadata: metadata(event.EventKitchenOrderUpserted, c.Order, c.At),
			Order:                     order,
		}, nil
	}
}

func metadata(eventType string, o KitchenOrder, at time.Time) event.KitchenOrderEventMetadata {
	return event.KitchenOrderEventMetadata{
		EventType:    eventType,
		OccurredAt:   at,
		OrderID:      o.ID,
		OrderSource:  string(o.Source),
		OrderType:    string(o.Type),
		OrderNumber:  o.OrderNumber,
		TableNumber:  o.TableNumber,
		CustomerName: o.CustomerName,
	}
}
