// Package mongo wraps establishing and verifying a MongoDB connection for
// the archive server, grounded in the same Open(ctx, dsn) shape the service
// layer has always used for its primary store.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Open establishes a MongoDB connection using the provided URI and verifies
// connectivity with a ping. The returned *mongo.Client must be disconnected
// by the caller.
func Open(ctx context.Context, uri string) (*mongo.Client, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("mongo URI is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Database resolves the working database for a connected client, given a
// URI that may or may not carry an explicit database path segment.
func Database(client *mongo.Client, uri, fallbackName string) *mongo.Database {
	name := databaseNameFromURI(uri)
	if name == "" {
		name = fallbackName
	}
	return client.Database(name)
}

func databaseNameFromURI(uri string) string {
	const schemePrefix = "://"
	idx := strings.Index(uri, schemePrefix)
	if idx < 0 {
		return ""
	}
	rest := uri[idx+len(schemePrefix):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return ""
	}
	rest = rest[slash+1:]
	if q := strings.IndexAny(rest, "?#"); q >= 0 {
		rest = rest[:q]
	}
	return strings.TrimSpace(rest)
}
