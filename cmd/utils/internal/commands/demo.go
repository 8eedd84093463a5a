package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kitchensync/cmd/utils/internal/seeding"
	"github.com/appetiteclub/kitchensync/internal/mongo"
)

// SeedDemo replaces any previous demo orders with a fresh set whose
// timestamps are relative to now, so the kitchen shows a realistic queue.
func SeedDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Info("Starting demo seeding process...")

	return withStore(ctx, config, logger, func(repo *mongo.OnlineOrderRepo) error {
		removed, err := repo.ClearDemo(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("Removed previous demo orders", "count", removed)
		}

		inserted, err := repo.InsertDemo(ctx, seeding.DemoOnlineOrders(time.Now()))
		if err != nil {
			return err
		}
		logger.Info("Demo online orders inserted", "count", inserted)
		return nil
	})
}

// ClearDemo removes demo orders. Orders created by real customers are
// never touched.
func ClearDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Info("Starting demo data cleanup...")

	return withStore(ctx, config, logger, func(repo *mongo.OnlineOrderRepo) error {
		removed, err := repo.ClearDemo(ctx)
		if err != nil {
			return err
		}
		logger.Info("Demo online orders removed", "count", removed)
		return nil
	})
}

func withStore(ctx context.Context, config *apt.Config, logger apt.Logger, fn func(*mongo.OnlineOrderRepo) error) error {
	store := mongo.NewStore(config, logger)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	defer func() {
		if err := store.Stop(context.Background()); err != nil {
			logger.Error("cannot disconnect from mongodb", "error", err)
		}
	}()

	return fn(mongo.NewOnlineOrderRepo(store, logger))
}
