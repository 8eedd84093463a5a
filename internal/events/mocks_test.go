package events

import (
	"context"
	"sync"

	"github.com/appetiteclub/apt/events"
)

type mockSubscription struct {
	handler events.HandlerFunc
}

// MockSubscriber implements events.Subscriber and CancelableSubscriber for
// testing
type MockSubscriber struct {
	mu            sync.Mutex
	subs          map[string][]*mockSubscription
	SubscribeFunc func(ctx context.Context, topic string, handler events.HandlerFunc) error
}

func (m *MockSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	_, err := m.SubscribeCancelable(ctx, topic, handler)
	return err
}

func (m *MockSubscriber) SubscribeCancelable(ctx context.Context, topic string, handler events.HandlerFunc) (func() error, error) {
	if m.SubscribeFunc != nil {
		if err := m.SubscribeFunc(ctx, topic, handler); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = make(map[string][]*mockSubscription)
	}
	sub := &mockSubscription{handler: handler}
	m.subs[topic] = append(m.subs[topic], sub)
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, held := range m.subs[topic] {
			if held == sub {
				m.subs[topic] = append(m.subs[topic][:i], m.subs[topic][i+1:]...)
				break
			}
		}
		return nil
	}, nil
}

// Publish delivers msg to every live subscription on topic.
func (m *MockSubscriber) Publish(topic string, msg []byte) {
	m.mu.Lock()
	subs := append([]*mockSubscription(nil), m.subs[topic]...)
	m.mu.Unlock()
	for _, s := range subs {
		_ = s.handler(context.Background(), msg)
	}
}

func (m *MockSubscriber) Subscriptions(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[topic])
}

// plainSubscriber only offers Subscribe, like a broker client that cannot
// release single subscriptions.
type plainSubscriber struct {
	mock *MockSubscriber
}

func (p plainSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	return p.mock.Subscribe(ctx, topic, handler)
}

// MockRefresher implements Refresher for testing
type MockRefresher struct {
	mu       sync.Mutex
	requests int
	Err      error
}

func (m *MockRefresher) RequestRefresh(done func(error)) {
	m.mu.Lock()
	m.requests++
	m.mu.Unlock()
	if done != nil {
		done(m.Err)
	}
}

func (m *MockRefresher) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}
