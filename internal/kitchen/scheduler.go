package kitchen

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/go-co-op/gocron/v2"
)

const (
	DefaultRefreshInterval = 15 * time.Second
	DefaultTickInterval    = 30 * time.Second
)

// Scheduler drives the aggregator pull path and the derived field ticks.
type Scheduler struct {
	aggregator      *Aggregator
	refreshInterval time.Duration
	tickInterval    time.Duration
	logger          apt.Logger

	scheduler gocron.Scheduler
}

func NewScheduler(aggregator *Aggregator, refreshInterval, tickInterval time.Duration, logger apt.Logger) *Scheduler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Scheduler{
		aggregator:      aggregator,
		refreshInterval: refreshInterval,
		tickInterval:    tickInterval,
		logger:          logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.scheduler != nil {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.refreshInterval),
		gocron.NewTask(s.refresh),
		gocron.WithName("kitchen-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.tickInterval),
		gocron.NewTask(s.tick),
		gocron.WithName("kitchen-tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	sched.Start()
	s.scheduler = sched
	s.logger.Info("kitchen scheduler started", "refresh_interval", s.refreshInterval.String(), "tick_interval", s.tickInterval.String())
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.scheduler == nil {
		return nil
	}
	err := s.scheduler.Shutdown()
	s.scheduler = nil
	return err
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := s.aggregator.Refresh(ctx); err != nil {
		s.logger.Error("scheduled refresh failed", "error", err)
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()
	if err := s.aggregator.Tick(ctx); err != nil {
		s.logger.Error("scheduled tick failed", "error", err)
	}
}
