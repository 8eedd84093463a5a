package kitchen

import (
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

const subscriberBuffer = 100

// Envelope is one event as delivered to display subscribers. Data holds the
// JSON encoded event payload.
type Envelope struct {
	EventType string
	OrderID   string
	Source    Source
	Data      []byte
}

// Broadcaster fans events out to connected displays. Slow subscribers miss
// events instead of blocking the sender.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Envelope
	logger      apt.Logger
}

func NewBroadcaster(logger apt.Logger) *Broadcaster {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Envelope),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release it; the channel is closed afterwards.
func (b *Broadcaster) Subscribe() (string, <-chan Envelope, func()) {
	id := uuid.NewString()
	ch := make(chan Envelope, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, cancel
}

func (b *Broadcaster) Broadcast(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- env:
		default:
			b.logger.Info("subscriber channel full, dropping event", "subscriber_id", id, "event_type", env.EventType)
		}
	}
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
