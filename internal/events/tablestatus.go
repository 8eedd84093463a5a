package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kitchensync/pkg/event"
)

// Refresher pulls a fresh table snapshot without blocking the caller.
type Refresher interface {
	RequestRefresh(done func(error))
}

// TableStatusSubscriber triggers a snapshot refresh whenever the table
// service reports a change that can add or close a kitchen order, so POS
// orders show up before the next scheduled pull.
type TableStatusSubscriber struct {
	subscriber events.Subscriber
	refresher  Refresher
	logger     apt.Logger
}

func NewTableStatusSubscriber(subscriber events.Subscriber, refresher Refresher, logger apt.Logger) *TableStatusSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &TableStatusSubscriber{
		subscriber: subscriber,
		refresher:  refresher,
		logger:     logger,
	}
}

func (s *TableStatusSubscriber) Start(ctx context.Context) error {
	if s.subscriber == nil {
		return nil
	}
	if err := s.subscriber.Subscribe(ctx, event.TableStatusTopic, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", event.TableStatusTopic, err)
	}
	s.logger.Info("subscribed to table status", "topic", event.TableStatusTopic)
	return nil
}

func (s *TableStatusSubscriber) Stop(ctx context.Context) error {
	return nil
}

func (s *TableStatusSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.TableStatusEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Error("cannot unmarshal table status event", "error", err)
		return nil
	}

	switch evt.EventType {
	case event.EventTableSentToKitchen, event.EventTableStatusChanged:
	default:
		s.logger.Debug("ignoring table event", "event_type", evt.EventType)
		return nil
	}

	s.logger.Debug("table changed, refreshing snapshot", "table_id", evt.TableID, "status", evt.Status)
	s.refresher.RequestRefresh(func(err error) {
		if err != nil {
			s.logger.Error("refresh after table change failed", "table_id", evt.TableID, "error", err)
		}
	})
	return nil
}
