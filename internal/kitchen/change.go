package kitchen

import (
	"context"
	"time"

	"github.com/appetiteclub/kitchensync/pkg/enums/orderstatus"
)

type ChangeKind string

const (
	ChangeUpserted ChangeKind = "upserted"
	ChangeRemoved  ChangeKind = "removed"
	ChangeStatus   ChangeKind = "status_changed"
	ChangeDelayed  ChangeKind = "delayed"
)

// Origin tells observers which path produced a change. Only operator
// changes are written back to the online store.
type Origin string

const (
	OriginOperator Origin = "operator"
	OriginFeed     Origin = "feed"
	OriginRefresh  Origin = "refresh"
	OriginTick     Origin = "tick"
)

// Change is emitted by the aggregator after every mutation. Order is a deep
// copy taken after the mutation was fully applied.
type Change struct {
	Kind           ChangeKind
	Origin         Origin
	Order          KitchenOrder
	PreviousStatus orderstatus.Status
	At             time.Time
}

// Notifier receives aggregator changes. Notify is called from the
// aggregator goroutine and must not block.
type Notifier interface {
	Notify(Change)
}

type NotifierFunc func(Change)

func (f NotifierFunc) Notify(c Change) { f(c) }

type FeedEventKind string

const (
	FeedInsert FeedEventKind = "insert"
	FeedUpdate FeedEventKind = "update"
	FeedDelete FeedEventKind = "delete"
)

// FeedEvent is one change delivered by the online order feed. Order is nil
// for deletes.
type FeedEvent struct {
	Kind    FeedEventKind
	OrderID string
	Order   *OnlineOrder
}

// SnapshotSource returns the current table service snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]TableRecord, error)
}

// ChangeFeed delivers online order events until closed. Close must not
// return before the handler can no longer be called.
type ChangeFeed interface {
	Subscribe(ctx context.Context, handler func(FeedEvent)) error
	Close(ctx context.Context) error
}
