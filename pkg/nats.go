package pkg

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/nats-io/nats.go"
)

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	return p.conn.Publish(topic, msg)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber tracks its subscriptions so Close can release them before
// the connection goes away. Handlers never run after Close returns.
type NATSSubscriber struct {
	conn   *nats.Conn
	logger apt.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNATSSubscriber(url string, logger apt.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSubscriber{conn: conn, logger: logger}, nil
}

func (s *NATSSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	_, err := s.SubscribeCancelable(ctx, topic, handler)
	return err
}

// SubscribeCancelable subscribes like Subscribe and returns a function that
// releases this one subscription at the broker.
func (s *NATSSubscriber) SubscribeCancelable(ctx context.Context, topic string, handler events.HandlerFunc) (func() error, error) {
	sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		if err := handler(ctx, msg.Data); err != nil {
			s.logger.Error("NATS handler failed", "topic", topic, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return func() error { return s.release(sub) }, nil
}

func (s *NATSSubscriber) release(sub *nats.Subscription) error {
	s.mu.Lock()
	for i, held := range s.subs {
		if held == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	err := sub.Unsubscribe()
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("failed to unsubscribe from %s: %w", sub.Subject, err)
	}
	return nil
}

func (s *NATSSubscriber) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			s.logger.Error("cannot unsubscribe", "subject", sub.Subject, "error", err)
		}
	}
	s.conn.Close()
	return nil
}
