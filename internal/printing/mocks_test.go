package printing

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/kitchensync/internal/receipt"
	"github.com/redis/go-redis/v9"
)

// MockDevice is a test mock for Device
type MockDevice struct {
	mu        sync.Mutex
	probes    int
	prints    [][]byte
	ProbeFunc func(ctx context.Context) error
	PrintFunc func(ctx context.Context, data []byte) error
}

func (m *MockDevice) Probe(ctx context.Context) error {
	m.mu.Lock()
	m.probes++
	m.mu.Unlock()
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx)
	}
	return nil
}

func (m *MockDevice) Print(ctx context.Context, data []byte) error {
	m.mu.Lock()
	m.prints = append(m.prints, data)
	m.mu.Unlock()
	if m.PrintFunc != nil {
		return m.PrintFunc(ctx, data)
	}
	return nil
}

func (m *MockDevice) Prints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prints)
}

// MockQueue is a test mock for Queue
type MockQueue struct {
	mu         sync.Mutex
	jobs       []PrintJob
	SubmitFunc func(ctx context.Context, job PrintJob) (string, error)
}

func (m *MockQueue) Submit(ctx context.Context, job PrintJob) (string, error) {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, job)
	}
	return job.ID(), nil
}

func (m *MockQueue) Jobs() []PrintJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PrintJob(nil), m.jobs...)
}

// MockHistory is a test mock for History
type MockHistory struct {
	mu         sync.Mutex
	entries    []HistoryEntry
	RecordFunc func(ctx context.Context, entry HistoryEntry) error
}

func (m *MockHistory) Record(ctx context.Context, entry HistoryEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, entry)
	}
	return nil
}

func (m *MockHistory) Entries() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.entries...)
}

// MockStreamPublisher is a test mock for StreamPublisher
type MockStreamPublisher struct {
	PublishWithIDFunc func(ctx context.Context, topic string, msg []byte, msgID string) (uint64, error)
}

func (m *MockStreamPublisher) PublishWithID(ctx context.Context, topic string, msg []byte, msgID string) (uint64, error) {
	if m.PublishWithIDFunc != nil {
		return m.PublishWithIDFunc(ctx, topic, msg, msgID)
	}
	return 1, nil
}

// MockListPusher is a test mock for ListPusher
type MockListPusher struct {
	RPushFunc func(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

func (m *MockListPusher) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if m.RPushFunc != nil {
		return m.RPushFunc(ctx, key, values...)
	}
	return redis.NewIntResult(1, nil)
}

// MockMenuCatalog is a test mock for MenuCatalog
type MockMenuCatalog struct {
	GrouperFunc func(ctx context.Context) *receipt.Grouper
}

func (m *MockMenuCatalog) Grouper(ctx context.Context) *receipt.Grouper {
	if m.GrouperFunc != nil {
		return m.GrouperFunc(ctx)
	}
	return nil
}

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func sampleOrderData() OrderData {
	return OrderData{
		Template:      KitchenTicket.Template(),
		OrderID:       "web-1",
		OrderNumber:   "A1B2C3",
		OrderType:     "DELIVERY",
		Source:        "ONLINE",
		CustomerName:  "Sam",
		PaymentStatus: "PAID",
		Items: []ItemData{
			{Name: "Burger", Quantity: 3, UnitPrice: 12.95, LineTotal: 38.85, SectionNumber: 3, SectionName: "Mains", IsGrouped: true},
			{Name: "Burger", Quantity: 1, UnitPrice: 12.95, LineTotal: 13.95, Notes: "no onions", SectionNumber: 3, SectionName: "Mains",
				Modifiers: []ModifierData{{Name: "Cheese", Price: 1}}},
		},
		OrderedAt: testNow.Add(-10 * time.Minute),
		PrintedAt: testNow,
	}
}

func sampleJob(t interface{ Fatalf(string, ...interface{}) }, jobType JobType) PrintJob {
	job, err := NewPrintJob(jobType, sampleOrderData(), 5, testNow)
	if err != nil {
		t.Fatalf("NewPrintJob() error = %v", err)
	}
	return job
}
