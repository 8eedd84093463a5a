package kitchen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

const applyTimeout = 5 * time.Second

// FeedManager keeps exactly one live subscription between the online order
// feed and the aggregator, however many times Start is called.
type FeedManager struct {
	feed       ChangeFeed
	aggregator *Aggregator
	logger     apt.Logger

	mu         sync.Mutex
	subscribed bool
}

func NewFeedManager(feed ChangeFeed, aggregator *Aggregator, logger apt.Logger) *FeedManager {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &FeedManager{
		feed:       feed,
		aggregator: aggregator,
		logger:     logger.With("component", "feed"),
	}
}

func (m *FeedManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscribed || m.feed == nil {
		return nil
	}
	if err := m.feed.Subscribe(ctx, m.handle); err != nil {
		return fmt.Errorf("subscribe online feed: %w", err)
	}
	m.subscribed = true
	m.logger.Info("online feed subscribed")
	return nil
}

// Stop closes the feed and returns only once no more events can reach the
// aggregator.
func (m *FeedManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.subscribed {
		return nil
	}
	m.subscribed = false
	if err := m.feed.Close(ctx); err != nil {
		return fmt.Errorf("close online feed: %w", err)
	}
	m.logger.Info("online feed closed")
	return nil
}

func (m *FeedManager) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed
}

func (m *FeedManager) handle(ev FeedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	if err := m.aggregator.Apply(ctx, ev); err != nil {
		m.logger.Error("cannot apply online feed event", "order_id", ev.OrderID, "kind", ev.Kind, "error", err)
	}
}
