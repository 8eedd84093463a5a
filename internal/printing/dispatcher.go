package printing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

var (
	// ErrQueueUnavailable means the direct path failed and the job could not
	// be queued either. It is the only dispatch failure callers see.
	ErrQueueUnavailable = errors.New("print queue unavailable")
	ErrPrintInProgress  = errors.New("print already in progress")
)

const historyTimeout = 3 * time.Second

type Outcome string

const (
	OutcomePrinted    Outcome = "printed"
	OutcomeQueued     Outcome = "queued"
	OutcomeInProgress Outcome = "in_progress"
)

// Queue is the durable fallback. Dispatchers only ever append to it.
type Queue interface {
	Submit(ctx context.Context, job PrintJob) (string, error)
}

type HistoryEntry struct {
	JobID       string
	JobType     JobType
	OrderID     string
	OrderNumber string
	Printer     string
	PrintedAt   time.Time
	Payload     []byte
}

// History keeps successful direct prints for reprinting.
type History interface {
	Record(ctx context.Context, entry HistoryEntry) error
}

// Request asks for one job to be printed. Site identifies the triggering
// call site; at most one request per site runs at a time. It defaults to
// the job type.
type Request struct {
	Site string
	Job  PrintJob
}

type Result struct {
	Outcome   Outcome    `json:"outcome"`
	JobID     string     `json:"job_id"`
	PrintedAt *time.Time `json:"printed_at,omitempty"`
	// Fallback explains why the direct path was skipped or failed.
	Fallback string `json:"fallback,omitempty"`
}

type DispatcherConfig struct {
	PrintTimeout time.Duration
	PrinterName  string
	Clock        func() time.Time
}

type Status struct {
	Available     bool
	LastPrintedAt *time.Time
	InProgress    []string
}

// Dispatcher prints directly when the device is reachable and falls back
// to the durable queue otherwise.
type Dispatcher struct {
	device   Device
	renderer *Renderer
	queue    Queue
	history  History
	logger   apt.Logger
	timeout  time.Duration
	printer  string
	now      func() time.Time

	mu            sync.Mutex
	inFlight      map[string]struct{}
	lastPrintedAt *time.Time
}

func NewDispatcher(device Device, renderer *Renderer, queue Queue, history History, cfg DispatcherConfig, logger apt.Logger) *Dispatcher {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if renderer == nil {
		renderer = NewRenderer(DefaultLineWidth)
	}
	if cfg.PrintTimeout <= 0 {
		cfg.PrintTimeout = DefaultDeviceTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Dispatcher{
		device:   device,
		renderer: renderer,
		queue:    queue,
		history:  history,
		logger:   logger.With("component", "print-dispatcher"),
		timeout:  cfg.PrintTimeout,
		printer:  cfg.PrinterName,
		now:      cfg.Clock,
		inFlight: make(map[string]struct{}),
	}
}

// Dispatch never retries the direct path. Every failure before the queue is
// absorbed; only a failed submission is returned, wrapped in
// ErrQueueUnavailable. A request for a busy site returns ErrPrintInProgress
// without touching the device or the queue.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	job := req.Job
	if job.IsZero() {
		return Result{}, errors.New("empty print job")
	}
	site := req.Site
	if site == "" {
		site = string(job.JobType())
	}

	if !d.acquire(site) {
		d.logger.Info("print already in progress", "site", site, "job_id", job.ID())
		return Result{Outcome: OutcomeInProgress, JobID: job.ID()}, ErrPrintInProgress
	}
	defer d.release(site)

	reason, err := d.printDirect(ctx, job)
	if err == nil {
		printedAt := d.markPrinted()
		return Result{Outcome: OutcomePrinted, JobID: job.ID(), PrintedAt: &printedAt}, nil
	}
	d.logger.Info("direct print unavailable, queueing job", "job_id", job.ID(), "job_type", string(job.JobType()), "reason", reason, "error", err)

	return d.enqueue(ctx, job, reason)
}

func (d *Dispatcher) printDirect(ctx context.Context, job PrintJob) (string, error) {
	if d.device == nil {
		return "no direct printer configured", ErrPrinterUnavailable
	}
	if err := d.device.Probe(ctx); err != nil {
		return "probe failed", err
	}

	payload, err := d.renderer.Render(job)
	if err != nil {
		return "render failed", err
	}

	printCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.device.Print(printCtx, payload); err != nil {
		return "print failed", err
	}

	d.recordHistory(job, payload)
	return "", nil
}

func (d *Dispatcher) enqueue(ctx context.Context, job PrintJob, reason string) (Result, error) {
	if d.queue == nil {
		return Result{}, fmt.Errorf("%w: no queue configured", ErrQueueUnavailable)
	}
	id, err := d.queue.Submit(ctx, job)
	if err != nil {
		d.logger.Error("print job could not be queued", "job_id", job.ID(), "job_type", string(job.JobType()), "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if id == "" {
		id = job.ID()
	}
	d.logger.Info("print job queued", "job_id", id, "job_type", string(job.JobType()))
	return Result{Outcome: OutcomeQueued, JobID: id, Fallback: reason}, nil
}

// recordHistory is best effort; the print already happened.
func (d *Dispatcher) recordHistory(job PrintJob, payload []byte) {
	if d.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	data := job.OrderData()
	entry := HistoryEntry{
		JobID:       job.ID(),
		JobType:     job.JobType(),
		OrderID:     data.OrderID,
		OrderNumber: data.OrderNumber,
		Printer:     d.printer,
		PrintedAt:   d.now(),
		Payload:     payload,
	}
	if err := d.history.Record(ctx, entry); err != nil {
		d.logger.Error("cannot record print history", "job_id", job.ID(), "error", err)
	}
}

func (d *Dispatcher) acquire(site string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[site]; busy {
		return false
	}
	d.inFlight[site] = struct{}{}
	return true
}

func (d *Dispatcher) release(site string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, site)
}

func (d *Dispatcher) markPrinted() time.Time {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPrintedAt = &now
	return now
}

// Status probes the device and reports the current dispatch state.
func (d *Dispatcher) Status(ctx context.Context) Status {
	s := Status{}
	if d.device != nil {
		s.Available = d.device.Probe(ctx) == nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastPrintedAt != nil {
		t := *d.lastPrintedAt
		s.LastPrintedAt = &t
	}
	s.InProgress = make([]string, 0, len(d.inFlight))
	for site := range d.inFlight {
		s.InProgress = append(s.InProgress, site)
	}
	sort.Strings(s.InProgress)
	return s
}
