package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// defaultMongoConnectTimeout applies when the config leaves it unset.
const defaultMongoConnectTimeout = 10 * time.Second

// Mongo holds the MongoDB client and the papers collection.
type Mongo struct {
	client *mongo.Client
	papers *mongo.Collection
	logger zerolog.Logger
}

// NewMongo connects to MongoDB and verifies the server is reachable. Like
// New, an unreachable server is a configuration error.
func NewMongo(ctx context.Context, cfg *config.MongoConfig, logger zerolog.Logger) (*Mongo, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultMongoConnectTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, domain.NewConfigurationError("mongo", "failed to connect to MongoDB", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, domain.NewConfigurationError("mongo", "MongoDB unreachable", err)
	}

	logger.Info().
		Str("database", cfg.Database).
		Str("collection", cfg.Collection).
		Msg("MongoDB connection established")

	return &Mongo{
		client: client,
		papers: client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger,
	}, nil
}

// Papers returns the papers collection.
func (m *Mongo) Papers() *mongo.Collection {
	return m.papers
}

// Ping verifies the server is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return m.client.Ping(pingCtx, nil)
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return err
	}
	m.logger.Info().Msg("MongoDB connection closed")
	return nil
}
