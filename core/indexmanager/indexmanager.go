package indexmanager

import (
	"cmp"
	"context"

	"github.com/sushant-115/bpindex/core/indexing/bptree"
	"github.com/sushant-115/bpindex/core/storage_engine/snapshot"
	"github.com/sushant-115/bpindex/pkg/telemetry"
	"go.uber.org/zap"
)

// IndexManager interface defines the operations every index exposes to the
// command line tools.
type IndexManager[K cmp.Ordered, V any] interface {
	Put(ctx context.Context, key K, value V) error
	Get(ctx context.Context, key K) (V, bool)
	// Delete reports whether key was present.
	Delete(ctx context.Context, key K) (bool, error)
	// GetRange returns entries with startKey <= key <= endKey in ascending
	// order; limit <= 0 means no limit.
	GetRange(ctx context.Context, startKey, endKey K, limit int) ([]bptree.Entry[K, V], error)
	// InsertBatch applies entries in order and returns how many were applied.
	InsertBatch(ctx context.Context, entries []bptree.Entry[K, V]) (int, error)
	// DeleteBatch deletes keys in order and returns how many were present.
	DeleteBatch(ctx context.Context, keys []K) (int, error)
	// Save persists the index to its snapshot file.
	Save(ctx context.Context) (snapshot.FileHeader, error)
	Stats() Stats
	// Name returns the name/type of this index manager (e.g., "bptree").
	Name() string
}

// Options configures an index manager.
type Options struct {
	Logger    *zap.Logger
	Telemetry *telemetry.Telemetry
	// Compress enables snappy compression of snapshots.
	Compress bool
}

// Stats combines the tree shape with what the manager has observed.
type Stats struct {
	bptree.Stats
	Path  string
	Dirty bool
	// Events counts structural changes by kind since the index was opened.
	Events       map[string]int64
	LastSnapshot snapshot.FileHeader
}
