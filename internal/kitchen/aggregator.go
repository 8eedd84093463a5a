package kitchen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kitchensync/pkg/enums/itemstatus"
	"github.com/appetiteclub/kitchensync/pkg/enums/orderstatus"
)

const (
	DefaultUrgentAfter = 20 * time.Minute
	DefaultRetention   = 30 * time.Minute
	refreshTimeout     = 15 * time.Second
	stopTimeout        = 5 * time.Second
)

var ErrAggregatorStopped = errors.New("aggregator stopped")

type AggregatorConfig struct {
	UrgentAfter time.Duration
	Retention   time.Duration
	Clock       func() time.Time
}

// Filter narrows Active results. Zero values match everything.
type Filter struct {
	Source           Source
	Type             OrderType
	UrgentOnly       bool
	IncludeCompleted bool
}

func (f Filter) match(o *KitchenOrder) bool {
	if !f.IncludeCompleted && !o.IsActive() {
		return false
	}
	if f.Source != "" && o.Source != f.Source {
		return false
	}
	if f.Type != "" && o.Type != f.Type {
		return false
	}
	if f.UrgentOnly && !o.IsUrgent {
		return false
	}
	return true
}

type command struct {
	fn   func()
	done chan struct{}
}

// Aggregator owns the orderID -> KitchenOrder map. A single goroutine
// applies every mutation; callers submit closures and wait for them to run.
type Aggregator struct {
	snapshots SnapshotSource
	notifier  Notifier
	logger    apt.Logger

	urgentAfter time.Duration
	retention   time.Duration
	now         func() time.Time

	cmds    chan command
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
	once    sync.Once

	refreshMu      sync.Mutex
	refreshRunning bool
	refreshQueued  bool
	refreshWaiters []func(error)

	// Owned by the run goroutine.
	orders map[string]*KitchenOrder
	// POS ids completed locally. The table service may keep reporting them
	// for a while and they must not be recreated.
	completedPOS map[string]struct{}
}

func NewAggregator(snapshots SnapshotSource, notifier Notifier, cfg AggregatorConfig, logger apt.Logger) *Aggregator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Change) {})
	}
	if cfg.UrgentAfter <= 0 {
		cfg.UrgentAfter = DefaultUrgentAfter
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Aggregator{
		snapshots:    snapshots,
		notifier:     notifier,
		logger:       logger.With("component", "aggregator"),
		urgentAfter:  cfg.UrgentAfter,
		retention:    cfg.Retention,
		now:          cfg.Clock,
		cmds:         make(chan command),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		orders:       make(map[string]*KitchenOrder),
		completedPOS: make(map[string]struct{}),
	}
}

func (a *Aggregator) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return nil
	}
	go a.run()
	a.logger.Info("aggregator started")
	return nil
}

func (a *Aggregator) Stop(ctx context.Context) error {
	if !a.started.Load() {
		return nil
	}
	a.once.Do(func() { close(a.stop) })

	// Shutdown passes an already cancelled context; keep waiting for the
	// command in progress for a bounded time.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	select {
	case <-a.done:
		a.logger.Info("aggregator stopped")
		return nil
	case <-waitCtx.Done():
		return waitCtx.Err()
	}
}

func (a *Aggregator) run() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case c := <-a.cmds:
			a.safely(c.fn)
			close(c.done)
		}
	}
}

// safely keeps a bad payload from taking the loop down with it.
func (a *Aggregator) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("aggregator command panicked", "panic", r)
		}
	}()
	fn()
}

func (a *Aggregator) exec(ctx context.Context, fn func()) error {
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case a.cmds <- c:
	case <-a.stop:
		return ErrAggregatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-a.done:
		return ErrAggregatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh pulls the table service snapshot and reconciles the POS subset of
// the collection with it. The fetch runs on the caller's goroutine; only the
// merge runs on the aggregator loop.
func (a *Aggregator) Refresh(ctx context.Context) error {
	if a.snapshots == nil {
		return a.Tick(ctx)
	}
	records, err := a.snapshots.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch table snapshot: %w", err)
	}
	return a.exec(ctx, func() {
		now := a.now()
		a.mergeSnapshot(records, now)
		a.recomputeAll(now, OriginRefresh)
	})
}

// RequestRefresh starts a refresh in the background and returns
// immediately. Requests made while a refresh is running are folded into one
// more refresh after it, so a change reported mid-fetch is never missed.
// done is called with the result of the refresh that covered the request.
func (a *Aggregator) RequestRefresh(done func(error)) {
	a.refreshMu.Lock()
	a.refreshQueued = true
	if done != nil {
		a.refreshWaiters = append(a.refreshWaiters, done)
	}
	if a.refreshRunning {
		a.refreshMu.Unlock()
		return
	}
	a.refreshRunning = true
	a.refreshMu.Unlock()

	go a.refreshLoop()
}

func (a *Aggregator) refreshLoop() {
	for {
		a.refreshMu.Lock()
		if !a.refreshQueued {
			a.refreshRunning = false
			a.refreshMu.Unlock()
			return
		}
		a.refreshQueued = false
		waiters := a.refreshWaiters
		a.refreshWaiters = nil
		a.refreshMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		err := a.Refresh(ctx)
		cancel()
		if err != nil {
			a.logger.Error("background refresh failed", "error", err)
		}
		for _, done := range waiters {
			done(err)
		}
	}
}

// Tick recomputes derived fields and evicts completed orders that are past
// the retention window.
func (a *Aggregator) Tick(ctx context.Context) error {
	return a.exec(ctx, func() {
		a.recomputeAll(a.now(), OriginTick)
	})
}

// Apply merges one online feed event.
func (a *Aggregator) Apply(ctx context.Context, ev FeedEvent) error {
	return a.exec(ctx, func() {
		now := a.now()
		a.applyFeed(ev, now)
		a.recomputeAll(now, OriginFeed)
	})
}

// Transition advances an order on behalf of an operator. An empty actor
// skips the ownership check.
func (a *Aggregator) Transition(ctx context.Context, orderID string, target orderstatus.Status, actor Source) (KitchenOrder, error) {
	return a.operate(ctx, orderID, actor, ChangeStatus, func(o *KitchenOrder, now time.Time) error {
		return Transition(o, target, now)
	})
}

func (a *Aggregator) MarkDelayed(ctx context.Context, orderID string, actor Source) (KitchenOrder, error) {
	return a.operate(ctx, orderID, actor, ChangeDelayed, MarkDelayed)
}

func (a *Aggregator) ClearDelay(ctx context.Context, orderID string, actor Source) (KitchenOrder, error) {
	return a.operate(ctx, orderID, actor, ChangeDelayed, ClearDelay)
}

func (a *Aggregator) operate(ctx context.Context, orderID string, actor Source, kind ChangeKind, apply func(*KitchenOrder, time.Time) error) (KitchenOrder, error) {
	var (
		result KitchenOrder
		opErr  error
	)
	err := a.exec(ctx, func() {
		o, ok := a.orders[orderID]
		if !ok {
			opErr = ErrOrderNotFound
			return
		}
		if actor != "" && o.Source != actor {
			opErr = ErrWrongSource
			return
		}

		now := a.now()
		// Work on a copy so a rejected command leaves no partial writes.
		next := o.Clone()
		if err := apply(&next, now); err != nil {
			opErr = err
			return
		}
		next.recompute(now, a.urgentAfter)

		previous := o.Status
		*o = next
		if o.Source == SourcePOS && o.Status.IsTerminal() {
			a.completedPOS[o.ID] = struct{}{}
		}
		result = o.Clone()
		a.emit(kind, OriginOperator, o, previous, now)
	})
	if err != nil {
		return KitchenOrder{}, err
	}
	return result, opErr
}

func (a *Aggregator) Get(ctx context.Context, orderID string) (KitchenOrder, error) {
	var (
		result KitchenOrder
		found  bool
	)
	err := a.exec(ctx, func() {
		if o, ok := a.orders[orderID]; ok {
			result = o.Clone()
			found = true
		}
	})
	if err != nil {
		return KitchenOrder{}, err
	}
	if !found {
		return KitchenOrder{}, ErrOrderNotFound
	}
	return result, nil
}

// Active returns copies of the orders matching f, oldest first.
func (a *Aggregator) Active(ctx context.Context, f Filter) ([]KitchenOrder, error) {
	var result []KitchenOrder
	err := a.exec(ctx, func() {
		result = make([]KitchenOrder, 0, len(a.orders))
		for _, o := range a.orders {
			if f.match(o) {
				result = append(result, o.Clone())
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (a *Aggregator) Count(ctx context.Context) (int, error) {
	var n int
	err := a.exec(ctx, func() { n = len(a.orders) })
	return n, err
}

func (a *Aggregator) mergeSnapshot(records []TableRecord, now time.Time) {
	seen := make(map[string]struct{}, len(records))

	for _, r := range records {
		pos, ok := r.PosOrder()
		if !ok {
			continue
		}
		if _, dup := seen[pos.ID]; dup {
			a.logger.Error("order reported by more than one table", "order_id", pos.ID, "table", r.Number)
			continue
		}
		seen[pos.ID] = struct{}{}

		if _, done := a.completedPOS[pos.ID]; done {
			continue
		}

		fresh := pos.Normalize(now)
		existing, ok := a.orders[pos.ID]
		switch {
		case !ok:
			if fresh.Status.IsTerminal() {
				a.completedPOS[fresh.ID] = struct{}{}
				if now.Sub(*fresh.CompletedAt) >= a.retention {
					continue
				}
			}
			a.orders[fresh.ID] = &fresh
			a.emit(ChangeUpserted, OriginRefresh, &fresh, orderstatus.Status{}, now)
		case existing.Source == SourceOnline:
			a.logger.Info("order id already owned by online feed, ignoring table snapshot", "order_id", pos.ID)
		default:
			if reconcile(existing, fresh, now) {
				a.emit(ChangeUpserted, OriginRefresh, existing, existing.Status, now)
			}
		}
	}

	for id, o := range a.orders {
		if o.Source != SourcePOS {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		if !o.IsActive() {
			// Completed orders stay for the retention window.
			continue
		}
		delete(a.orders, id)
		a.emit(ChangeRemoved, OriginRefresh, o, o.Status, now)
	}

	for id := range a.completedPOS {
		_, reported := seen[id]
		_, present := a.orders[id]
		if !reported && !present {
			delete(a.completedPOS, id)
		}
	}
}

func (a *Aggregator) applyFeed(ev FeedEvent, now time.Time) {
	id := ev.OrderID
	if id == "" && ev.Order != nil {
		id = ev.Order.ID
	}
	if id == "" {
		a.logger.Error("feed event without order id", "kind", ev.Kind)
		return
	}

	if ev.Kind == FeedDelete || ev.Order == nil || ev.Order.IsCancelled() {
		existing, ok := a.orders[id]
		if !ok {
			return
		}
		if existing.Source != SourceOnline {
			a.logger.Info("ignoring online removal of a table order", "order_id", id)
			return
		}
		delete(a.orders, id)
		a.emit(ChangeRemoved, OriginFeed, existing, existing.Status, now)
		return
	}

	for _, w := range ev.Order.Warnings {
		a.logger.Info("online order data defaulted", "order_id", id, "detail", w)
	}

	fresh := ev.Order.Normalize(now)
	fresh.ID = id

	existing, ok := a.orders[id]
	if !ok || existing.Source != SourceOnline {
		if ok {
			a.logger.Info("online feed takes over order id reported by table service", "order_id", id)
		}
		if fresh.Status.IsTerminal() && fresh.CompletedAt != nil && now.Sub(*fresh.CompletedAt) >= a.retention {
			// Already past retention; nothing to show.
			if ok {
				delete(a.orders, id)
				a.emit(ChangeRemoved, OriginFeed, existing, existing.Status, now)
			}
			return
		}
		a.orders[id] = &fresh
		a.emit(ChangeUpserted, OriginFeed, &fresh, orderstatus.Status{}, now)
		return
	}

	previous := existing.Status
	changed := reconcile(existing, fresh, now)
	if fresh.Status.Rank() > existing.Status.Rank() {
		if err := Transition(existing, fresh.Status, now); err == nil {
			changed = true
		}
	}
	existing.ExternalStatus = fresh.ExternalStatus

	switch {
	case existing.Status != previous:
		a.emit(ChangeStatus, OriginFeed, existing, previous, now)
	case changed:
		a.emit(ChangeUpserted, OriginFeed, existing, previous, now)
	}
}

// reconcile merges fresh upstream data into existing while keeping local
// state: status, delay flag, creation time and per-item progress. Items
// that appear for the first time are flagged as new. It reports whether
// anything visible changed.
func reconcile(existing *KitchenOrder, fresh KitchenOrder, now time.Time) bool {
	changed := false
	set := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&existing.OrderNumber, fresh.OrderNumber)
	set(&existing.TableNumber, fresh.TableNumber)
	set(&existing.CustomerName, fresh.CustomerName)
	set(&existing.CustomerPhone, fresh.CustomerPhone)
	set(&existing.CustomerEmail, fresh.CustomerEmail)
	set(&existing.DeliveryAddress, fresh.DeliveryAddress)
	set(&existing.SpecialInstructions, fresh.SpecialInstructions)
	set(&existing.PaymentStatus, fresh.PaymentStatus)
	if existing.Type != fresh.Type {
		existing.Type = fresh.Type
		changed = true
	}
	if existing.GuestCount != fresh.GuestCount || existing.TipAmount != fresh.TipAmount {
		existing.GuestCount = fresh.GuestCount
		existing.TipAmount = fresh.TipAmount
		changed = true
	}

	items := make([]OrderItem, 0, len(fresh.Items))
	for _, it := range fresh.Items {
		prev := existing.item(it.ID)
		if prev == nil {
			it.Status = itemstatus.Statuses.New
			it.IsNew = true
			changed = true
			items = append(items, it)
			continue
		}
		merged := it
		if prev.Status.Rank() > it.Status.Rank() {
			merged.Status = prev.Status
		}
		merged.IsNew = prev.IsNew
		if !sameItem(*prev, merged) {
			changed = true
		}
		items = append(items, merged)
	}
	if len(items) != len(existing.Items) {
		changed = true
	}
	existing.Items = items

	if changed {
		existing.LastUpdatedAt = now
	}
	return changed
}

func sameItem(a, b OrderItem) bool {
	if a.Name != b.Name || a.Quantity != b.Quantity || a.UnitPrice != b.UnitPrice ||
		a.Notes != b.Notes || a.Status != b.Status || a.IsNew != b.IsNew ||
		len(a.Customizations) != len(b.Customizations) {
		return false
	}
	if (a.Variant == nil) != (b.Variant == nil) {
		return false
	}
	if a.Variant != nil && *a.Variant != *b.Variant {
		return false
	}
	for i := range a.Customizations {
		if a.Customizations[i] != b.Customizations[i] {
			return false
		}
	}
	return true
}

// recomputeAll refreshes derived fields on every order and evicts completed
// orders past retention. Orders whose urgency flips are re-announced.
func (a *Aggregator) recomputeAll(now time.Time, origin Origin) {
	for id, o := range a.orders {
		if o.CompletedAt != nil && now.Sub(*o.CompletedAt) >= a.retention {
			delete(a.orders, id)
			a.emit(ChangeRemoved, origin, o, o.Status, now)
			continue
		}
		wasUrgent := o.IsUrgent
		o.recompute(now, a.urgentAfter)
		if o.IsUrgent != wasUrgent {
			a.emit(ChangeUpserted, origin, o, o.Status, now)
		}
	}
}

func (a *Aggregator) emit(kind ChangeKind, origin Origin, o *KitchenOrder, previous orderstatus.Status, now time.Time) {
	o.recompute(now, a.urgentAfter)
	a.notifier.Notify(Change{
		Kind:           kind,
		Origin:         origin,
		Order:          o.Clone(),
		PreviousStatus: previous,
		At:             now,
	})
}
