package printing

import (
	"context"
	"errors"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kitchensync/internal/kitchen"
	"github.com/appetiteclub/kitchensync/internal/receipt"
)

// MenuCatalog supplies the grouper built from the current menu categories.
type MenuCatalog interface {
	Grouper(ctx context.Context) *receipt.Grouper
}

// OrderPrinter renders kitchen orders into print jobs and dispatches them.
type OrderPrinter struct {
	dispatcher *Dispatcher
	catalog    MenuCatalog
	logger     apt.Logger
	now        func() time.Time
}

func NewOrderPrinter(dispatcher *Dispatcher, catalog MenuCatalog, logger apt.Logger) *OrderPrinter {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderPrinter{
		dispatcher: dispatcher,
		catalog:    catalog,
		logger:     logger,
		now:        time.Now,
	}
}

func (p *OrderPrinter) PrintOrder(ctx context.Context, order kitchen.KitchenOrder, jobType string, priority int) (kitchen.PrintOutcome, error) {
	jt, err := ParseJobType(jobType)
	if err != nil {
		return kitchen.PrintOutcome{}, err
	}

	lines := p.grouper(ctx).Group(order.ReceiptLines())
	now := p.now()
	job, err := NewPrintJob(jt, BuildOrderData(order, lines, jt, now), priority, now)
	if err != nil {
		return kitchen.PrintOutcome{}, err
	}

	// One button per order and job type; other orders print independently.
	res, err := p.dispatcher.Dispatch(ctx, Request{Site: printSite(order.ID, jt), Job: job})
	if errors.Is(err, ErrPrintInProgress) {
		return kitchen.PrintOutcome{Status: string(OutcomeInProgress)}, nil
	}
	if err != nil {
		return kitchen.PrintOutcome{}, err
	}
	return kitchen.PrintOutcome{Status: string(res.Outcome), JobID: res.JobID, PrintedAt: res.PrintedAt}, nil
}

func printSite(orderID string, jt JobType) string {
	return orderID + ":" + string(jt)
}

func (p *OrderPrinter) PrinterStatus(ctx context.Context) kitchen.PrinterStatus {
	s := p.dispatcher.Status(ctx)
	return kitchen.PrinterStatus{
		Available:     s.Available,
		LastPrintedAt: s.LastPrintedAt,
		InProgress:    s.InProgress,
	}
}

func (p *OrderPrinter) grouper(ctx context.Context) *receipt.Grouper {
	if p.catalog != nil {
		if g := p.catalog.Grouper(ctx); g != nil {
			return g
		}
	}
	return receipt.NewGrouper(nil, nil, nil, p.logger)
}
