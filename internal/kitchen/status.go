package kitchen

import (
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/kitchensync/pkg/enums/itemstatus"
	"github.com/appetiteclub/kitchensync/pkg/enums/orderstatus"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrWrongSource       = errors.New("order belongs to another source")
)

// Transition moves o to target and applies the item cascades in the same
// step. Status only moves forward; COMPLETED is terminal.
func Transition(o *KitchenOrder, target orderstatus.Status, now time.Time) error {
	if target.Rank() < 0 {
		return fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, target.Code())
	}
	if target.Rank() <= o.Status.Rank() {
		return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, o.Status.Code(), target.Code())
	}

	o.Status = target
	o.Delayed = false
	o.LastUpdatedAt = now
	clearNewFlags(o)

	switch target {
	case orderstatus.Statuses.Ready:
		cascadeReady(o)
	case orderstatus.Statuses.Completed:
		cascadeServed(o)
		completed := now
		o.CompletedAt = &completed
	}
	return nil
}

// MarkDelayed flags an active order as delayed. New item highlights are
// kept so staff can still see what was added late. Marking an already
// delayed order is a no-op.
func MarkDelayed(o *KitchenOrder, now time.Time) error {
	switch o.Status {
	case orderstatus.Statuses.Preparing, orderstatus.Statuses.Ready:
	default:
		return fmt.Errorf("%w: cannot delay a %s order", ErrIllegalTransition, o.Status.Code())
	}
	if o.Delayed {
		return nil
	}
	o.Delayed = true
	o.LastUpdatedAt = now
	return nil
}

// ClearDelay removes the delayed flag.
func ClearDelay(o *KitchenOrder, now time.Time) error {
	if !o.Delayed {
		return fmt.Errorf("%w: order is not delayed", ErrIllegalTransition)
	}
	o.Delayed = false
	o.LastUpdatedAt = now
	clearNewFlags(o)
	return nil
}

func cascadeReady(o *KitchenOrder) {
	for i := range o.Items {
		if o.Items[i].Status.Rank() < itemstatus.Statuses.Ready.Rank() {
			o.Items[i].Status = itemstatus.Statuses.Ready
		}
	}
}

func cascadeServed(o *KitchenOrder) {
	for i := range o.Items {
		o.Items[i].Status = itemstatus.Statuses.Served
	}
}

func clearNewFlags(o *KitchenOrder) {
	for i := range o.Items {
		o.Items[i].IsNew = false
	}
}
