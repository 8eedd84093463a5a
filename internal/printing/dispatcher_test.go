package printing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestDispatcher(device Device, queue Queue, history History) *Dispatcher {
	return NewDispatcher(device, nil, queue, history, DispatcherConfig{PrintTimeout: 50 * time.Millisecond, PrinterName: "kitchen-1", Clock: fixedClock}, nil)
}

func TestDispatchPrintsDirectlyWhenAvailable(t *testing.T) {
	device := &MockDevice{}
	queue := &MockQueue{}
	history := &MockHistory{}
	d := newTestDispatcher(device, queue, history)
	job := sampleJob(t, KitchenTicket)

	res, err := d.Dispatch(context.Background(), Request{Job: job})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if res.Outcome != OutcomePrinted || res.JobID != job.ID() {
		t.Errorf("Dispatch() = %+v", res)
	}
	if res.PrintedAt == nil || !res.PrintedAt.Equal(testNow) {
		t.Errorf("PrintedAt = %v", res.PrintedAt)
	}
	if device.Prints() != 1 {
		t.Errorf("direct prints = %d, want 1", device.Prints())
	}
	if len(queue.Jobs()) != 0 {
		t.Errorf("queue submissions = %d, want 0", len(queue.Jobs()))
	}

	entries := history.Entries()
	if len(entries) != 1 || entries[0].OrderID != "web-1" || entries[0].Printer != "kitchen-1" || len(entries[0].Payload) == 0 {
		t.Errorf("history = %+v", entries)
	}

	status := d.Status(context.Background())
	if status.LastPrintedAt == nil || !status.LastPrintedAt.Equal(testNow) {
		t.Errorf("LastPrintedAt = %v", status.LastPrintedAt)
	}
}

func TestDispatchFallbackWhenProbeFails(t *testing.T) {
	tests := []struct {
		name   string
		device Device
	}{
		{
			name: "probeUnavailable",
			device: &MockDevice{ProbeFunc: func(ctx context.Context) error {
				return ErrPrinterUnavailable
			}},
		},
		{name: "noDevice", device: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &MockQueue{}
			d := newTestDispatcher(tt.device, queue, nil)
			job := sampleJob(t, KitchenTicket)

			res, err := d.Dispatch(context.Background(), Request{Job: job})
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}

			if res.Outcome != OutcomeQueued || res.JobID != job.ID() {
				t.Errorf("Dispatch() = %+v, want queued %s", res, job.ID())
			}
			if n := len(queue.Jobs()); n != 1 {
				t.Errorf("queue submissions = %d, want exactly 1", n)
			}
			if mock, ok := tt.device.(*MockDevice); ok && mock.Prints() != 0 {
				t.Errorf("direct prints = %d, want 0", mock.Prints())
			}
			if status := d.Status(context.Background()); status.LastPrintedAt != nil {
				t.Error("LastPrintedAt recorded for a queued job")
			}
		})
	}
}

func TestDispatchFallbackWhenPrintFails(t *testing.T) {
	tests := []struct {
		name      string
		printFunc func(ctx context.Context, data []byte) error
	}{
		{
			name: "writeError",
			printFunc: func(ctx context.Context, data []byte) error {
				return errors.New("connection reset")
			},
		},
		{
			name: "timeout",
			printFunc: func(ctx context.Context, data []byte) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := &MockDevice{PrintFunc: tt.printFunc}
			queue := &MockQueue{}
			history := &MockHistory{}
			d := newTestDispatcher(device, queue, history)

			start := time.Now()
			res, err := d.Dispatch(context.Background(), Request{Job: sampleJob(t, CustomerReceipt)})
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if time.Since(start) > time.Second {
				t.Error("direct print was not bounded by the timeout")
			}

			if res.Outcome != OutcomeQueued || res.Fallback != "print failed" {
				t.Errorf("Dispatch() = %+v", res)
			}
			if device.Prints() != 1 {
				t.Errorf("direct attempts = %d, want 1 (no automatic retry)", device.Prints())
			}
			if len(queue.Jobs()) != 1 {
				t.Errorf("queue submissions = %d, want 1", len(queue.Jobs()))
			}
			if len(history.Entries()) != 0 {
				t.Error("failed print recorded in history")
			}
		})
	}
}

func TestDispatchQueueFailureIsTheOnlyError(t *testing.T) {
	device := &MockDevice{ProbeFunc: func(ctx context.Context) error { return ErrPrinterUnavailable }}
	queue := &MockQueue{SubmitFunc: func(ctx context.Context, job PrintJob) (string, error) {
		return "", errors.New("nats: no responders")
	}}
	d := newTestDispatcher(device, queue, nil)

	_, err := d.Dispatch(context.Background(), Request{Job: sampleJob(t, Bill)})
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("Dispatch() error = %v, want ErrQueueUnavailable", err)
	}

	d = newTestDispatcher(device, nil, nil)
	if _, err := d.Dispatch(context.Background(), Request{Job: sampleJob(t, Bill)}); !errors.Is(err, ErrQueueUnavailable) {
		t.Errorf("Dispatch() without queue error = %v, want ErrQueueUnavailable", err)
	}
}

func TestDispatchHistoryFailureDoesNotFailPrint(t *testing.T) {
	history := &MockHistory{RecordFunc: func(ctx context.Context, entry HistoryEntry) error {
		return errors.New("mongo down")
	}}
	d := newTestDispatcher(&MockDevice{}, &MockQueue{}, history)

	res, err := d.Dispatch(context.Background(), Request{Job: sampleJob(t, KitchenTicket)})
	if err != nil || res.Outcome != OutcomePrinted {
		t.Errorf("Dispatch() = %+v, %v", res, err)
	}
}

func TestDispatchInFlightGuard(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	device := &MockDevice{PrintFunc: func(ctx context.Context, data []byte) error {
		started <- struct{}{}
		<-release
		return nil
	}}
	queue := &MockQueue{}
	d := NewDispatcher(device, nil, queue, nil, DispatcherConfig{PrintTimeout: 5 * time.Second, Clock: fixedClock}, nil)

	first := sampleJob(t, KitchenTicket)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := d.Dispatch(context.Background(), Request{Job: first}); err != nil {
			t.Errorf("first Dispatch() error = %v", err)
		}
	}()
	<-started

	res, err := d.Dispatch(context.Background(), Request{Job: sampleJob(t, KitchenTicket)})
	if !errors.Is(err, ErrPrintInProgress) || res.Outcome != OutcomeInProgress {
		t.Errorf("duplicate Dispatch() = %+v, %v, want in progress", res, err)
	}
	if got := d.Status(context.Background()).InProgress; len(got) != 1 || got[0] != string(KitchenTicket) {
		t.Errorf("InProgress = %v", got)
	}

	// Another site prints concurrently.
	go func() {
		<-started
		close(release)
	}()
	res, err = d.Dispatch(context.Background(), Request{Job: sampleJob(t, CustomerReceipt)})
	if err != nil || res.Outcome != OutcomePrinted {
		t.Errorf("receipt Dispatch() = %+v, %v", res, err)
	}

	wg.Wait()
	if len(queue.Jobs()) != 0 {
		t.Errorf("queue submissions = %d, want 0", len(queue.Jobs()))
	}
	if got := d.Status(context.Background()).InProgress; len(got) != 0 {
		t.Errorf("InProgress after completion = %v", got)
	}

	// The guard is released, so the same site can print again.
	device.PrintFunc = nil
	if res, err := d.Dispatch(context.Background(), Request{Job: sampleJob(t, KitchenTicket)}); err != nil || res.Outcome != OutcomePrinted {
		t.Errorf("Dispatch() after release = %+v, %v", res, err)
	}
}

func TestDispatchExplicitSite(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	device := &MockDevice{PrintFunc: func(ctx context.Context, data []byte) error {
		close(started)
		<-release
		return nil
	}}
	d := NewDispatcher(device, nil, &MockQueue{}, nil, DispatcherConfig{PrintTimeout: 5 * time.Second}, nil)

	first := sampleJob(t, KitchenTicket)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Dispatch(context.Background(), Request{Site: "order-1", Job: first})
	}()
	<-started

	if _, err := d.Dispatch(context.Background(), Request{Site: "order-1", Job: sampleJob(t, Bill)}); !errors.Is(err, ErrPrintInProgress) {
		t.Errorf("same site error = %v, want ErrPrintInProgress", err)
	}
	close(release)
	<-done
}

func TestDispatchRejectsEmptyJob(t *testing.T) {
	d := newTestDispatcher(&MockDevice{}, &MockQueue{}, nil)
	if _, err := d.Dispatch(context.Background(), Request{}); err == nil {
		t.Error("Dispatch() with empty job error = nil")
	}
}
