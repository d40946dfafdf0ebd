package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	appName        = "marketchat-gateway"
	connectTimeout = 10 * time.Second
)

// Client holds the database the gateway reads participant profiles from.
type Client struct {
	db *mongo.Database
}

// clientOptions tunes the driver for the profile lookups of the gateway: short reads that
// may go to a secondary and are retried once on a network error.
func clientOptions(uri string) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetReadPreference(readpref.SecondaryPreferred()).
		SetRetryReads(true).
		SetServerSelectionTimeout(5 * time.Second)
}

// Connect opens the client and verifies a server is reachable.
func Connect(ctx context.Context, uri, database string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	m, err := mongo.Connect(ctx, clientOptions(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := m.Ping(ctx, readpref.SecondaryPreferred()); err != nil {
		_ = m.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Client{db: m.Database(database)}, nil
}

// Profiles returns the profile directory backed by this client's database.
func (c *Client) Profiles() *ProfileDirectory {
	return NewProfileDirectory(c.db)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.Client().Ping(ctx, readpref.SecondaryPreferred())
}

func (c *Client) Close(ctx context.Context) error {
	return c.db.Client().Disconnect(ctx)
}
