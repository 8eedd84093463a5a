package app

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	aptevents "github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/kitchensync/internal/events"
	"github.com/appetiteclub/kitchensync/internal/kitchen"
	"github.com/appetiteclub/kitchensync/internal/menu"
	"github.com/appetiteclub/kitchensync/internal/mongo"
	"github.com/appetiteclub/kitchensync/internal/printing"
	"github.com/appetiteclub/kitchensync/internal/tableservice"
	"github.com/appetiteclub/kitchensync/pkg"
	"github.com/appetiteclub/kitchensync/pkg/event"
	"github.com/redis/go-redis/v9"
)

const (
	AppName    = "kitchensync"
	AppVersion = "0.1.0"

	kitchenEventsStream = "KITCHEN_ORDERS"
	printJobsMaxAge     = 24 * time.Hour
	printJobsDedupe     = 2 * time.Minute
)

// App wires the kitchen order pipeline: sources into the aggregator, the
// aggregator into the bridge and displays, and orders into the printer.
type App struct {
	config   *apt.Config
	logger   apt.Logger
	settings Settings
	micro    *apt.Micro

	lifecycles []interface{}
}

func New(config *apt.Config, logger apt.Logger) (*App, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &App{
		config:   config,
		logger:   logger,
		settings: LoadSettings(config),
	}, nil
}

// Initialize builds every component. Connections that fail here abort
// startup; the printer and the downstream services may be offline.
func (a *App) Initialize(ctx context.Context) error {
	s := a.settings

	store := mongo.NewStore(a.config, a.logger)
	a.lifecycles = append(a.lifecycles, store)

	publisher, err := a.eventPublisher()
	if err != nil {
		return err
	}

	subscriber, err := pkg.NewNATSSubscriber(s.NATSURL, a.logger)
	if err != nil {
		return err
	}
	a.onStop(func(context.Context) error { return subscriber.Close() })

	broadcaster := kitchen.NewBroadcaster(a.logger)

	// Write-back targets the online order store whichever feed delivers
	// the orders.
	onlineStore := mongo.NewOnlineOrderRepo(store, a.logger)
	bridge := kitchen.NewBridge(onlineStore, publisher, broadcaster, kitchen.BridgeConfig{
		MaxAttempts: s.WriteBackAttempts,
	}, a.logger)

	snapshots := tableservice.NewSnapshotClient(apt.NewServiceClient(s.TablesURL), a.logger)
	aggregator := kitchen.NewAggregator(snapshots, bridge, kitchen.AggregatorConfig{
		UrgentAfter: s.UrgentAfter,
		Retention:   s.Retention,
	}, a.logger)

	feed, err := a.onlineFeed(store, subscriber)
	if err != nil {
		return err
	}
	feedManager := kitchen.NewFeedManager(feed, aggregator, a.logger)
	tableSubscriber := events.NewTableStatusSubscriber(subscriber, aggregator, a.logger)
	scheduler := kitchen.NewScheduler(aggregator, s.RefreshInterval, s.TickInterval, a.logger)

	printer, err := a.orderPrinter(store)
	if err != nil {
		return err
	}

	handler := kitchen.NewHandler(aggregator, printer, a.logger)
	sseHandler := kitchen.NewSSEHandler(aggregator, broadcaster, a.logger)
	streamServer := kitchen.NewOrderStreamServer(aggregator, broadcaster, a.logger)

	initialRefresh := apt.LifecycleHooks{
		OnStart: func(ctx context.Context) error {
			if err := aggregator.Refresh(ctx); err != nil {
				a.logger.Info("initial table snapshot failed, waiting for next refresh", "error", err)
			}
			return nil
		},
	}

	a.lifecycles = append(a.lifecycles, bridge, aggregator, initialRefresh, feedManager, tableSubscriber, scheduler)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		DisableCORS: true,
	})
	stack = append(stack, middleware.InternalOnly())

	options := []apt.Option{
		apt.WithConfig(a.config),
		apt.WithLogger(a.logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", handler, sseHandler),
		apt.WithGRPCServerModules("grpc.port", streamServer),
		apt.WithLifecycle(a.lifecycles...),
		apt.WithHealthChecks(AppName),
	}

	a.micro = apt.NewMicro(options...)
	return nil
}

// eventPublisher returns a JetStream-backed publisher when streams are
// enabled so displays can replay kitchen events, plain NATS otherwise.
func (a *App) eventPublisher() (aptevents.Publisher, error) {
	if a.settings.StreamEnabled {
		stream, err := pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:        a.settings.NATSURL,
			StreamName: kitchenEventsStream,
			Subjects:   []string{event.KitchenOrdersTopic},
			MaxAge:     24 * time.Hour,
		})
		if err != nil {
			return nil, err
		}
		a.onStop(func(context.Context) error { return stream.Close() })
		a.logger.Info("NATS stream initialized for kitchen events")
		return stream, nil
	}

	publisher, err := pkg.NewNATSPublisher(a.settings.NATSURL)
	if err != nil {
		return nil, err
	}
	a.onStop(func(context.Context) error { return publisher.Close() })
	return publisher, nil
}

func (a *App) onlineFeed(store *mongo.Store, subscriber aptevents.Subscriber) (kitchen.ChangeFeed, error) {
	switch a.settings.FeedKind {
	case FeedMongo:
		return mongo.NewChangeFeed(store, a.logger), nil
	case FeedNATS:
		return events.NewOnlineOrderFeed(subscriber, a.logger), nil
	case FeedNone:
		a.logger.Info("online order feed disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown feed.kind %q", a.settings.FeedKind)
	}
}

func (a *App) orderPrinter(store *mongo.Store) (*printing.OrderPrinter, error) {
	s := a.settings

	queue, err := a.printQueue()
	if err != nil {
		return nil, err
	}

	var device printing.Device
	if s.PrinterAddr != "" {
		device = printing.NewTCPDevice(s.PrinterAddr, s.PrintTimeout)
	} else {
		a.logger.Info("no direct printer configured, every job goes to the queue")
	}

	dispatcher := printing.NewDispatcher(
		device,
		printing.NewRenderer(s.PrintLineWidth),
		queue,
		mongo.NewPrintHistoryRepo(store),
		printing.DispatcherConfig{PrintTimeout: s.PrintTimeout, PrinterName: s.PrinterName},
		a.logger,
	)

	catalog := menu.NewCatalog(apt.NewServiceClient(s.MenuURL), s.MenuTTL, a.logger)
	a.lifecycles = append(a.lifecycles, apt.LifecycleHooks{OnStart: catalog.Warm})

	return printing.NewOrderPrinter(dispatcher, catalog, a.logger), nil
}

func (a *App) printQueue() (printing.Queue, error) {
	s := a.settings

	switch s.QueueKind {
	case QueueJetStream:
		stream, err := pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:        s.NATSURL,
			StreamName: event.PrintJobsStream,
			Subjects:   []string{event.PrintJobsSubject + ".>"},
			MaxAge:     printJobsMaxAge,
			Duplicates: printJobsDedupe,
		})
		if err != nil {
			return nil, fmt.Errorf("print queue: %w", err)
		}
		a.onStop(func(context.Context) error { return stream.Close() })
		return printing.NewJetStreamQueue(stream), nil

	case QueueRedis:
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		a.onStop(func(context.Context) error { return client.Close() })
		return printing.NewRedisQueue(client, s.RedisKey), nil

	case QueueRPC:
		return printing.NewRPCQueue(apt.NewServiceClient(s.PrintURL)), nil

	default:
		return nil, fmt.Errorf("unknown print.queue.kind %q", s.QueueKind)
	}
}

func (a *App) onStop(fn func(context.Context) error) {
	a.lifecycles = append(a.lifecycles, apt.LifecycleHooks{OnStop: fn})
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}
