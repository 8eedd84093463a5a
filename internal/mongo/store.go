package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultURL                = "mongodb://localhost:27017"
	DefaultDatabase           = "kitchensync"
	DefaultOrdersCollection   = "orders"
	PrintHistoryCollection    = "print_history"
	connectTimeout            = 10 * time.Second
	serverSelectionTimeoutSec = 10
)

// Store owns the Mongo client shared by the online order repo, the change
// feed and the print history.
type Store struct {
	config *apt.Config
	logger apt.Logger

	client *mongo.Client
	db     *mongo.Database
}

func NewStore(config *apt.Config, logger apt.Logger) *Store {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Store{config: config, logger: logger}
}

func (s *Store) Start(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	mongoURL := DefaultURL
	dbName := DefaultDatabase
	if s.config != nil {
		mongoURL = s.config.GetStringOrDef("db.mongo.url", DefaultURL)
		dbName = s.config.GetStringOrDef("db.mongo.name", DefaultDatabase)
	}

	clientOptions := options.Client().ApplyURI(mongoURL).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(serverSelectionTimeoutSec * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	s.client = client
	s.db = client.Database(dbName)

	history := s.db.Collection(PrintHistoryCollection)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "printed_at", Value: -1}}},
	}
	if _, err := history.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("cannot create print history indexes: %w", err)
	}

	s.logger.Info("connected to MongoDB", "database", dbName)
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
	}
	s.client = nil
	s.db = nil
	s.logger.Info("disconnected from MongoDB")
	return nil
}

// Database returns nil until Start has succeeded.
func (s *Store) Database() *mongo.Database {
	return s.db
}

func (s *Store) ordersCollection() *mongo.Collection {
	if s.db == nil {
		return nil
	}
	name := DefaultOrdersCollection
	if s.config != nil {
		name = s.config.GetStringOrDef("db.mongo.orders.collection", DefaultOrdersCollection)
	}
	return s.db.Collection(name)
}

func (s *Store) collection(name string) *mongo.Collection {
	if s.db == nil {
		return nil
	}
	return s.db.Collection(name)
}
