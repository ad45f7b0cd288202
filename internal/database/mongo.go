package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// ConnectFunc opens and verifies a MongoDB client.
type ConnectFunc func(ctx context.Context, uri string) (*mongo.Client, error)

// Connector lazily establishes a single MongoDB client and reuses it.
// A failed attempt leaves nothing cached, so the next call connects again.
type Connector struct {
	uri     string
	dbName  string
	connect ConnectFunc
	logger  *zap.Logger

	mu     sync.Mutex
	client *mongo.Client
}

// NewConnector returns a Connector for uri and database dbName.
func NewConnector(uri, dbName string, logger *zap.Logger) *Connector {
	return &Connector{
		uri:     uri,
		dbName:  dbName,
		connect: ConnectMongoDB,
		logger:  logger,
	}
}

// WithConnectFunc replaces the function used to dial MongoDB.
func (c *Connector) WithConnectFunc(fn ConnectFunc) *Connector {
	c.connect = fn
	return c
}

// Client returns the cached client, connecting on first use.
func (c *Connector) Client(ctx context.Context) (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := c.connect(ctx, c.uri)
	if err != nil {
		c.logger.Error("mongo connect failed", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	c.client = client
	c.logger.Info("connected to MongoDB", zap.String("database", c.dbName))
	return client, nil
}

// Database returns a handle on the configured database.
func (c *Connector) Database(ctx context.Context) (*mongo.Database, error) {
	client, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(c.dbName), nil
}

// Disconnect closes the cached client, if any.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	return err
}

// ConnectMongoDB establishes a connection to MongoDB and pings it.
func ConnectMongoDB(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctxPing, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
