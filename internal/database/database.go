// internal/database/database.go
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"qalam/internal/config"
)

type MongoDB struct {
	Client  *mongo.Client
	DB      *mongo.Database
	timeout time.Duration
	logger  *slog.Logger
}

func NewMongoDB(cfg *config.DatabaseConfig, logger *slog.Logger) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(cfg.URI).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB", "database", cfg.Name)

	return &MongoDB{
		Client:  client,
		DB:      client.Database(cfg.Name),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Stores opens one store per collection.
func (m *MongoDB) Stores() Stores {
	return buildStores(func(spec collectionSpec) Store {
		return &mongoStore{coll: m.DB.Collection(spec.name), label: spec.label}
	})
}

// EnsureIndexes creates the unique indexes that arbitrate concurrent
// double-submits, plus the lookup indexes used by nested routes.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	for _, spec := range collectionSpecs {
		var indexes []mongo.IndexModel
		for _, fields := range spec.unique {
			indexes = append(indexes, mongo.IndexModel{
				Keys:    indexKeys(fields),
				Options: options.Index().SetUnique(true),
			})
		}
		for _, field := range spec.lookup {
			indexes = append(indexes, mongo.IndexModel{Keys: indexKeys([]string{field})})
		}
		if len(indexes) == 0 {
			continue
		}
		names, err := m.DB.Collection(spec.name).Indexes().CreateMany(ctx, indexes)
		if err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", spec.name, err)
		}
		m.logger.Debug("indexes ready", "collection", spec.name, "indexes", names)
	}
	return nil
}

func indexKeys(fields []string) bson.D {
	keys := make(bson.D, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	return keys
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
