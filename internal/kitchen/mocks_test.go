package kitchen

import (
	"context"
	"sync"
	"testing"
	"time"
)

// MockSnapshotSource is a test mock for SnapshotSource
type MockSnapshotSource struct {
	mu           sync.Mutex
	records      []TableRecord
	calls        int
	SnapshotFunc func(ctx context.Context) ([]TableRecord, error)
}

func (m *MockSnapshotSource) Snapshot(ctx context.Context) ([]TableRecord, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TableRecord(nil), m.records...), nil
}

func (m *MockSnapshotSource) Set(records ...TableRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

type statusUpdate struct {
	OrderID     string
	Status      string
	CompletedAt *time.Time
}

// MockOnlineStore is a test mock for OnlineStore
type MockOnlineStore struct {
	mu               sync.Mutex
	updates          []statusUpdate
	UpdateStatusFunc func(ctx context.Context, orderID, externalStatus string, completedAt *time.Time) error
}

func (m *MockOnlineStore) UpdateStatus(ctx context.Context, orderID, externalStatus string, completedAt *time.Time) error {
	m.mu.Lock()
	m.updates = append(m.updates, statusUpdate{OrderID: orderID, Status: externalStatus, CompletedAt: completedAt})
	m.mu.Unlock()
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, orderID, externalStatus, completedAt)
	}
	return nil
}

func (m *MockOnlineStore) Updates() []statusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]statusUpdate(nil), m.updates...)
}

type publishedMessage struct {
	Topic string
	Data  []byte
}

// MockPublisher is a test mock for events.Publisher
type MockPublisher struct {
	mu          sync.Mutex
	messages    []publishedMessage
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{Topic: topic, Data: msg})
	return nil
}

func (m *MockPublisher) Messages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.messages...)
}

// recordingNotifier collects every change emitted by the aggregator.
type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recordingNotifier) Notify(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recordingNotifier) Changes() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func (r *recordingNotifier) Kinds() []ChangeKind {
	var kinds []ChangeKind
	for _, c := range r.Changes() {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

// MockChangeFeed is a test mock for ChangeFeed
type MockChangeFeed struct {
	mu            sync.Mutex
	handler       func(FeedEvent)
	subscribes    int
	closes        int
	SubscribeFunc func(ctx context.Context, handler func(FeedEvent)) error
}

func (m *MockChangeFeed) Subscribe(ctx context.Context, handler func(FeedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes++
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, handler)
	}
	m.handler = handler
	return nil
}

func (m *MockChangeFeed) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.handler = nil
	return nil
}

// Emit delivers an event the way a live feed would. It reports false when
// no handler is attached.
func (m *MockChangeFeed) Emit(ev FeedEvent) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(ev)
	return true
}

// MockOrderPrinter is a test mock for OrderPrinter
type MockOrderPrinter struct {
	PrintOrderFunc    func(ctx context.Context, order KitchenOrder, jobType string, priority int) (PrintOutcome, error)
	PrinterStatusFunc func(ctx context.Context) PrinterStatus
}

func (m *MockOrderPrinter) PrintOrder(ctx context.Context, order KitchenOrder, jobType string, priority int) (PrintOutcome, error) {
	if m.PrintOrderFunc != nil {
		return m.PrintOrderFunc(ctx, order, jobType, priority)
	}
	now := time.Now()
	return PrintOutcome{Status: "printed", PrintedAt: &now}, nil
}

func (m *MockOrderPrinter) PrinterStatus(ctx context.Context) PrinterStatus {
	if m.PrinterStatusFunc != nil {
		return m.PrinterStatusFunc(ctx)
	}
	return PrinterStatus{Available: true}
}

// testClock is a settable clock shared by the aggregator under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func startAggregator(t *testing.T, snapshots SnapshotSource, notifier Notifier, clock *testClock) *Aggregator {
	t.Helper()
	agg := NewAggregator(snapshots, notifier, AggregatorConfig{Clock: clock.Now}, nil)
	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = agg.Stop(context.Background())
	})
	return agg
}

func tableWithOrder(table, orderID string, createdAt time.Time, items ...PosItem) TableRecord {
	return TableRecord{
		ID:            "table-" + table,
		Number:        table,
		Status:        "occupied",
		GuestCount:    2,
		SentToKitchen: true,
		Order: &PosOrder{
			ID:        orderID,
			Items:     items,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		},
	}
}

func onlineEvent(kind FeedEventKind, id, status string, createdAt time.Time, items ...OnlineItem) FeedEvent {
	return FeedEvent{
		Kind:    kind,
		OrderID: id,
		Order: &OnlineOrder{
			ID:           id,
			OrderType:    "delivery",
			Status:       status,
			Source:       "online",
			CustomerName: "Sam",
			Items:        items,
			CreatedAt:    createdAt,
			UpdatedAt:    createdAt,
		},
	}
}
