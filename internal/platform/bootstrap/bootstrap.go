// Package bootstrap ensures each monthly partition collection carries the
// standard index set before it's queried or written to, the Go-side
// equivalent of RollingMessageService.create_indexes.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexedCollections tracks which partition collections have already had
// their indexes created, so repeated ingest calls against the same month
// don't re-issue CreateIndexes on every write.
type IndexedCollections struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewIndexedCollections returns an empty tracker.
func NewIndexedCollections() *IndexedCollections {
	return &IndexedCollections{seen: make(map[string]struct{})}
}

// EnsureIndexes creates the partition collection's standard index set the
// first time it's seen. Subsequent calls for the same name are no-ops.
func (ic *IndexedCollections) EnsureIndexes(ctx context.Context, db *mongo.Database, collectionName string) error {
	ic.mu.Lock()
	_, done := ic.seen[collectionName]
	ic.mu.Unlock()
	if done {
		return nil
	}

	if err := CreatePartitionIndexes(ctx, db.Collection(collectionName)); err != nil {
		return err
	}

	ic.mu.Lock()
	ic.seen[collectionName] = struct{}{}
	ic.mu.Unlock()
	return nil
}

// CreatePartitionIndexes applies the index set every messages_YYYY_MM
// collection needs: a unique dedup key, the core session/timestamp/user/type
// query patterns, parent-message lookups, the cost/model/branch analytics
// indexes, and a wildcard text index backing the Search Adapter
// (spec.md §4.3 "wildcard text index for full-text search").
func CreatePartitionIndexes(ctx context.Context, collection *mongo.Collection) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "uuid", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "parent_uuid", Value: 1}}},
		{Keys: bson.D{{Key: "model", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "cost_usd", Value: -1}}},
		{Keys: bson.D{{Key: "git_branch", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "$**", Value: "text"}}},
	}

	if _, err := collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create partition indexes for %s: %w", collection.Name(), err)
	}
	return nil
}
