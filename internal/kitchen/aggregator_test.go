package kitchen

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appetiteclub/kitchensync/pkg/enums/itemstatus"
	"github.com/appetiteclub/kitchensync/pkg/enums/orderstatus"
)

func burgerItem(id string) PosItem {
	return PosItem{ID: id, Name: "Burger", Quantity: 1, Price: 12.95, CategoryID: "mains"}
}

func TestAggregatorRefreshInsertsSentTables(t *testing.T) {
	clock := newTestClock()
	snapshots := &MockSnapshotSource{}
	notifier := &recordingNotifier{}
	agg := startAggregator(t, snapshots, notifier, clock)

	notSent := tableWithOrder("3", "pos-3", clock.Now(), burgerItem("i3"))
	notSent.SentToKitchen = false
	empty := TableRecord{ID: "table-4", Number: "4", SentToKitchen: true}

	snapshots.Set(
		tableWithOrder("1", "pos-1", clock.Now(), burgerItem("i1")),
		tableWithOrder("2", "pos-2", clock.Now(), burgerItem("i2")),
		notSent,
		empty,
	)

	if err := agg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	orders, err := agg.Active(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("Active() returned %d orders, want 2", len(orders))
	}
	for _, o := range orders {
		if o.Source != SourcePOS || o.Type != OrderTypeDineIn {
			t.Errorf("order %s source/type = %s/%s", o.ID, o.Source, o.Type)
		}
		if o.Status != orderstatus.Statuses.Preparing {
			t.Errorf("order %s status = %v", o.ID, o.Status)
		}
		if o.TableNumber == "" || o.GuestCount != 2 {
			t.Errorf("order %s missing table context: %+v", o.ID, o)
		}
	}
	if got := len(notifier.Changes()); got != 2 {
		t.Errorf("emitted %d changes, want 2", got)
	}
}

func TestAggregatorRefreshPreservesLocalItemState(t *testing.T) {
	clock := newTestClock()
	snapshots := &MockSnapshotSource{}
	agg := startAggregator(t, snapshots, nil, clock)
	ctx := context.Background()

	snapshots.Set(tableWithOrder("1", "pos-1", clock.Now(), burgerItem("i1")))
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := agg.Transition(ctx, "pos-1", orderstatus.Statuses.Ready, ""); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	// Upstream still reports the first item as new and adds a second one.
	clock.Advance(time.Minute)
	snapshots.Set(tableWithOrder("1", "pos-1", clock.Now().Add(-time.Minute), burgerItem("i1"), burgerItem("i2")))
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	o, err := agg.Get(ctx, "pos-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if o.Status != orderstatus.Statuses.Ready {
		t.Errorf("Status = %v, want ready", o.Status)
	}
	if len(o.Items) != 2 {
		t.Fatalf("Items = %d, want 2", len(o.Items))
	}
	if o.Items[0].Status != itemstatus.Statuses.Ready || o.Items[0].IsNew {
		t.Errorf("existing item = %+v, want ready and not new", o.Items[0])
	}
	if o.Items[1].Status != itemstatus.Statuses.New || !o.Items[1].IsNew {
		t.Errorf("added item = %+v, want new and flagged", o.Items[1])
	}
}

func TestAggregatorRefreshRemovesClearedTables(t *testing.T) {
	clock := newTestClock()
	snapshots := &MockSnapshotSource{}
	notifier := &recordingNotifier{}
	agg := startAggregator(t, snapshots, notifier, clock)
	ctx := context.Background()

	snapshots.Set(tableWithOrder("1", "pos-1", clock.Now(), burgerItem("i1")))
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	snapshots.Set()
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if _, err := agg.Get(ctx, "pos-1"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Get() error = %v, want ErrOrderNotFound", err)
	}
	kinds := notifier.Kinds()
	if kinds[len(kinds)-1] != ChangeRemoved {
		t.Errorf("last change = %v, want removed", kinds[len(kinds)-1])
	}
}

func TestAggregatorRefreshErrorKeepsState(t *testing.T) {
	clock := newTestClock()
	snapshots := &MockSnapshotSource{}
	agg := startAggregator(t, snapshots, nil, clock)
	ctx := context.Background()

	snapshots.Set(tableWithOrder("1", "pos-1", clock.Now(), burgerItem("i1")))
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	snapshots.SnapshotFunc = func(ctx context.Context) ([]TableRecord, error) {
		return nil, errors.New("table service down")
	}
	if err := agg.Refresh(ctx); err == nil {
		t.Fatal("Refresh() error = nil, want error")
	}

	if n, _ := agg.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestAggregatorCompletedPOSNotRecreated(t *testing.T) {
	clock := newTestClock()
	snapshots := &MockSnapshotSource{}
	agg := startAggregator(t, snapshots, nil, clock)
	ctx := context.Background()

	snapshots.Set(tableWithOrder("1", "pos-1", clock.Now(), burgerItem("i1")))
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := agg.Transition(ctx, "pos-1", orderstatus.Statuses.Completed, SourcePOS); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	// Within retention the order is still there but not active.
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	active, _ := agg.Active(ctx, Filter{})
	if len(active) != 0 {
		t.Errorf("Active() = %d orders, want 0", len(active))
	}
	all, _ := agg.Active(ctx, Filter{IncludeCompleted: true})
	if len(all) != 1 || all[0].Status != orderstatus.Statuses.Completed {
		t.Fatalf("completed order not retained: %+v", all)
	}

	// Past retention it is evicted and the table still reporting it does
	// not bring it back.
	clock.Advance(DefaultRetention + time.Minute)
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n, _ := agg.Count(ctx); n != 0 {
		t.Errorf("Count() = %d after retention, want 0", n)
	}
}

func TestAggregatorTickEvictsCompleted(t *testing.T) {
	clock := newTestClock()
	notifier := &recordingNotifier{}
	agg := startAggregator(t, nil, notifier, clock)
	ctx := context.Background()

	if err := agg.Apply(ctx, onlineEvent(FeedInsert, "web-1", "pending", clock.Now())); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := agg.Transition(ctx, "web-1", orderstatus.Statuses.Completed, ""); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	clock.Advance(DefaultRetention - time.Minute)
	if err := agg.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if n, _ := agg.Count(ctx); n != 1 {
		t.Fatalf("Count() = %d before retention, want 1", n)
	}

	clock.Advance(2 * time.Minute)
	if err := agg.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if n, _ := agg.Count(ctx); n != 0 {
		t.Errorf("Count() = %d after retention, want 0", n)
	}
}

func TestAggregatorTickFlagsUrgentOrders(t *testing.T) {
	clock := newTestClock()
	notifier := &recordingNotifier{}
	agg := startAggregator(t, nil, notifier, clock)
	ctx := context.Background()

	if err := agg.Apply(ctx, onlineEvent(FeedInsert, "web-1", "pending", clock.Now())); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	clock.Advance(25 * time.Minute)
	if err := agg.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	o, _ := agg.Get(ctx, "web-1")
	if !o.IsUrgent || o.WaitingMinutes != 25 || o.TimeDisplay != "25m" {
		t.Errorf("derived fields = urgent %v, minutes %d, display %q", o.IsUrgent, o.WaitingMinutes, o.TimeDisplay)
	}
	urgent, _ := agg.Active(ctx, Filter{UrgentOnly: true})
	if len(urgent) != 1 {
		t.Errorf("urgent filter returned %d orders", len(urgent))
	}

	changes := notifier.Changes()
	last := changes[len(changes)-1]
	if last.Origin != OriginTick || !last.Order.IsUrgent {
		t.Errorf("urgency flip not announced: %+v", last)
	}
}

func TestAggregatorOnlinePushPath(t *testing.T) {
	clock := newTestClock()
	agg := startAggregator(t, nil, nil, clock)
	ctx := context.Background()

	item := OnlineItem{ID: "w1", Name: "Pizza", Price: 10, Quantity: 1}
	if err := agg.Apply(ctx, onlineEvent(FeedInsert, "web-1", "processing", clock.Now(), item)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	o, err := agg.Get(ctx, "web-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if o.Source != SourceOnline || o.Status != orderstatus.Statuses.Preparing || o.Type != OrderTypeDelivery {
		t.Errorf("order = %s/%v/%s", o.Source, o.Status, o.Type)
	}
	if o.ExternalStatus != "processing" {
		t.Errorf("ExternalStatus = %q", o.ExternalStatus)
	}

	// A stale update must not move the order backwards.
	if _, err := agg.Transition(ctx, "web-1", orderstatus.Statuses.Ready, SourceOnline); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if err := agg.Apply(ctx, onlineEvent(FeedUpdate, "web-1", "confirmed", clock.Now(), item)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	o, _ = agg.Get(ctx, "web-1")
	if o.Status != orderstatus.Statuses.Ready {
		t.Errorf("stale feed update moved status to %v", o.Status)
	}

	// A newer upstream status advances with the cascade.
	if err := agg.Apply(ctx, onlineEvent(FeedUpdate, "web-1", "delivered", clock.Now(), item)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	o, _ = agg.Get(ctx, "web-1")
	if o.Status != orderstatus.Statuses.Completed || o.CompletedAt == nil {
		t.Errorf("status = %v, completedAt = %v", o.Status, o.CompletedAt)
	}
	if o.Items[0].Status != itemstatus.Statuses.Served {
		t.Errorf("item status = %v, want served", o.Items[0].Status)
	}
}

func TestAggregatorOnlineRemoval(t *testing.T) {
	tests := []struct {
		name  string
		event func(now time.Time) FeedEvent
	}{
		{
			name: "delete",
			event: func(now time.Time) FeedEvent {
				return FeedEvent{Kind: FeedDelete, OrderID: "web-1"}
			},
		},
		{
			name: "cancelled",
			event: func(now time.Time) FeedEvent {
				return onlineEvent(FeedUpdate, "web-1", "Cancelled", now)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			agg := startAggregator(t, nil, nil, clock)
			ctx := context.Background()

			if err := agg.Apply(ctx, onlineEvent(FeedInsert, "web-1", "pending", clock.Now())); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if err := agg.Apply(ctx, tt.event(clock.Now())); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if n, _ := agg.Count(ctx); n != 0 {
				t.Errorf("Count() = %d, want 0", n)
			}
		})
	}
}

func TestAggregatorOnlineWinsOverTableSnapshot(t *testing.T) {
	clock := newTestClock()
	snapshots := &MockSnapshotSource{}
	agg := startAggregator(t, snapshots, nil, clock)
	ctx := context.Background()

	snapshots.Set(tableWithOrder("7", "shared-1", clock.Now(), burgerItem("i1")))
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if err := agg.Apply(ctx, onlineEvent(FeedInsert, "shared-1", "pending", clock.Now())); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	o, err := agg.Get(ctx, "shared-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if o.Source != SourceOnline {
		t.Errorf("Source = %s, want ONLINE", o.Source)
	}
	if n, _ := agg.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestAggregatorUniqueness(t *testing.T) {
	clock := newTestClock()
	snapshots := &MockSnapshotSource{}
	agg := startAggregator(t, snapshots, nil, clock)
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d"}
	for round := 0; round < 12; round++ {
		var records []TableRecord
		for i, id := range ids {
			if (round+i)%3 != 0 {
				records = append(records, tableWithOrder(fmt.Sprint(i), id, clock.Now(), burgerItem(id+"-1")))
			}
		}
		// Duplicate report of the same order from two tables.
		records = append(records, tableWithOrder("99", ids[round%len(ids)], clock.Now()))
		snapshots.Set(records...)
		if err := agg.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}

		id := ids[(round+1)%len(ids)]
		kind := FeedInsert
		if round%4 == 3 {
			kind = FeedDelete
		}
		if err := agg.Apply(ctx, onlineEvent(kind, id, "pending", clock.Now())); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}

		orders, err := agg.Active(ctx, Filter{IncludeCompleted: true})
		if err != nil {
			t.Fatalf("Active() error = %v", err)
		}
		seen := make(map[string]bool)
		for _, o := range orders {
			if seen[o.ID] {
				t.Fatalf("round %d: order %s present twice", round, o.ID)
			}
			seen[o.ID] = true
		}
		clock.Advance(time.Minute)
	}
}

func TestAggregatorCommandErrors(t *testing.T) {
	clock := newTestClock()
	agg := startAggregator(t, nil, nil, clock)
	ctx := context.Background()

	if err := agg.Apply(ctx, onlineEvent(FeedInsert, "web-1", "pending", clock.Now())); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{
			name: "unknownOrder",
			call: func() error {
				_, err := agg.Transition(ctx, "missing", orderstatus.Statuses.Ready, "")
				return err
			},
			wantErr: ErrOrderNotFound,
		},
		{
			name: "wrongSource",
			call: func() error {
				_, err := agg.Transition(ctx, "web-1", orderstatus.Statuses.Ready, SourcePOS)
				return err
			},
			wantErr: ErrWrongSource,
		},
		{
			name: "backwards",
			call: func() error {
				_, err := agg.Transition(ctx, "web-1", orderstatus.Statuses.Preparing, "")
				return err
			},
			wantErr: ErrIllegalTransition,
		},
		{
			name: "delayUnknown",
			call: func() error {
				_, err := agg.MarkDelayed(ctx, "missing", "")
				return err
			},
			wantErr: ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	o, _ := agg.Get(ctx, "web-1")
	if o.Status != orderstatus.Statuses.Preparing {
		t.Errorf("failed commands changed status to %v", o.Status)
	}
}

func TestAggregatorObserversSeeAtomicCascade(t *testing.T) {
	clock := newTestClock()
	snapshots := &MockSnapshotSource{}
	notifier := &recordingNotifier{}
	agg := startAggregator(t, snapshots, notifier, clock)
	ctx := context.Background()

	snapshots.Set(tableWithOrder("1", "pos-1", clock.Now(), burgerItem("i1"), burgerItem("i2")))
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := agg.MarkDelayed(ctx, "pos-1", ""); err != nil {
		t.Fatalf("MarkDelayed() error = %v", err)
	}
	if _, err := agg.Transition(ctx, "pos-1", orderstatus.Statuses.Ready, ""); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if _, err := agg.Transition(ctx, "pos-1", orderstatus.Statuses.Completed, ""); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	for _, c := range notifier.Changes() {
		if c.Kind != ChangeStatus {
			continue
		}
		for _, it := range c.Order.Items {
			switch c.Order.Status {
			case orderstatus.Statuses.Ready:
				if it.Status == itemstatus.Statuses.New || it.Status == itemstatus.Statuses.Preparing {
					t.Errorf("observer saw ready order with %v item", it.Status)
				}
			case orderstatus.Statuses.Completed:
				if it.Status != itemstatus.Statuses.Served {
					t.Errorf("observer saw completed order with %v item", it.Status)
				}
			}
		}
	}
}

func TestAggregatorRequestRefreshRunsInBackground(t *testing.T) {
	clock := newTestClock()
	release := make(chan struct{})
	snapshots := &MockSnapshotSource{}
	snapshots.SnapshotFunc = func(ctx context.Context) ([]TableRecord, error) {
		<-release
		return []TableRecord{tableWithOrder("1", "pos-1", clock.Now(), burgerItem("i1"))}, nil
	}
	agg := startAggregator(t, snapshots, nil, clock)

	done := make(chan error, 1)
	agg.RequestRefresh(func(err error) { done <- err })

	// The loop stays responsive while the fetch is blocked.
	if _, err := agg.Count(context.Background()); err != nil {
		t.Fatalf("Count() error = %v", err)
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("refresh error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh did not finish")
	}
	if n, _ := agg.Count(context.Background()); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestAggregatorRequestRefreshDuringFetchRunsOnceMore(t *testing.T) {
	clock := newTestClock()
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	snapshots := &MockSnapshotSource{}
	var calls int32
	snapshots.SnapshotFunc = func(ctx context.Context) ([]TableRecord, error) {
		n := atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		if n == 1 {
			<-release
			return nil, nil
		}
		// The table was sent to the kitchen while the first fetch ran.
		return []TableRecord{tableWithOrder("1", "pos-1", clock.Now(), burgerItem("i1"))}, nil
	}
	agg := startAggregator(t, snapshots, nil, clock)

	first := make(chan error, 1)
	agg.RequestRefresh(func(err error) { first <- err })
	<-started

	second := make(chan error, 1)
	third := make(chan error, 1)
	agg.RequestRefresh(func(err error) { second <- err })
	agg.RequestRefresh(func(err error) { third <- err })
	close(release)

	for name, ch := range map[string]chan error{"first": first, "second": second, "third": third} {
		select {
		case err := <-ch:
			if err != nil {
				t.Errorf("%s refresh error = %v", name, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s refresh never completed", name)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("snapshot fetches = %d, want 2", got)
	}
	if n, _ := agg.Count(context.Background()); n != 1 {
		t.Errorf("Count() = %d, want the order reported mid-fetch", n)
	}
}

func TestAggregatorStopped(t *testing.T) {
	agg := NewAggregator(nil, nil, AggregatorConfig{}, nil)
	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := agg.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := agg.Get(context.Background(), "x"); !errors.Is(err, ErrAggregatorStopped) {
		t.Errorf("Get() after Stop error = %v, want ErrAggregatorStopped", err)
	}
}

func TestAggregatorStopWithCancelledContext(t *testing.T) {
	agg := NewAggregator(nil, nil, AggregatorConfig{}, nil)
	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := agg.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-agg.done:
	default:
		t.Error("Stop() returned before the loop exited")
	}
}
