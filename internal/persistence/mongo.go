package persistence

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/spec-kit/project-portal/internal/config"
)

// Mongo wraps a connected document store client.
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// NewMongo connects when a URI is provided. Without one it returns an
// empty handle so the API can still serve provider logins.
func NewMongo(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*Mongo, error) {
	if cfg.URI == "" {
		logger.Warn("MONGODB_URI not provided; skipping database connection")
		return &Mongo{}, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Info("connected to mongodb", zap.String("db", cfg.DBName))
	return &Mongo{Client: client, DB: client.Database(cfg.DBName)}, nil
}

// Connected reports whether a database handle is available.
func (m *Mongo) Connected() bool {
	return m != nil && m.DB != nil
}

// Ping verifies connectivity.
func (m *Mongo) Ping(ctx context.Context) error {
	if !m.Connected() {
		return errors.New("mongodb client not configured")
	}
	return m.Client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) {
	if m != nil && m.Client != nil {
		_ = m.Client.Disconnect(ctx)
	}
}
