package indexmanager

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/sushant-115/bpindex/core/indexing/bptree"
	"github.com/sushant-115/bpindex/core/storage_engine/common"
	"github.com/sushant-115/bpindex/core/storage_engine/snapshot"
	internaltelemetry "github.com/sushant-115/bpindex/internal/telemetry"
	"github.com/sushant-115/bpindex/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// batchCheckInterval is how many batch items are applied between context checks.
const batchCheckInterval = 1024

var _ IndexManager[int64, int64] = (*BPTreeIndexManager[int64, int64])(nil)

// BPTreeIndexManager guards a bptree.Tree with a read/write lock, binds it to
// a snapshot file and records traces and metrics for every operation.
type BPTreeIndexManager[K cmp.Ordered, V any] struct {
	mu           sync.RWMutex
	tree         *bptree.Tree[K, V]
	path         string
	serializer   bptree.KeyValueSerializer[K, V]
	compress     bool
	dirty        bool
	lastSnapshot snapshot.FileHeader
	events       map[bptree.EventKind]int64
	// opCtx is the context of the mutation in progress; only set under mu.
	opCtx context.Context

	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *internaltelemetry.IndexMetrics
	serviceName string
	indexName   string
}

func newBPTreeIndexManager[K cmp.Ordered, V any](path string, s bptree.KeyValueSerializer[K, V], opts Options) (*BPTreeIndexManager[K, V], error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Disabled()
	}
	metrics, err := internaltelemetry.NewIndexMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create index metrics: %w", err)
	}
	return &BPTreeIndexManager[K, V]{
		path:        path,
		serializer:  s,
		compress:    opts.Compress,
		events:      make(map[bptree.EventKind]int64),
		logger:      logger.Named("bptree_indexmanager").With(zap.String("path", path)),
		tracer:      tel.Tracer,
		metrics:     metrics,
		serviceName: "bptree_indexmanager",
		indexName:   filepath.Base(path),
	}, nil
}

// Create builds an empty index of the given order and writes its first
// snapshot to path, replacing any file already there.
func Create[K cmp.Ordered, V any](path string, order int, s bptree.KeyValueSerializer[K, V], opts Options) (*BPTreeIndexManager[K, V], error) {
	m, err := newBPTreeIndexManager(path, s, opts)
	if err != nil {
		return nil, err
	}
	tree, err := bptree.New[K, V](order, m.treeOptions()...)
	if err != nil {
		return nil, err
	}
	m.tree = tree
	m.dirty = true
	if _, err := m.Save(context.Background()); err != nil {
		return nil, err
	}
	m.logger.Info("index created", zap.Int("order", order))
	return m, nil
}

// Open loads the index stored at path.
func Open[K cmp.Ordered, V any](path string, s bptree.KeyValueSerializer[K, V], opts Options) (*BPTreeIndexManager[K, V], error) {
	m, err := newBPTreeIndexManager(path, s, opts)
	if err != nil {
		return nil, err
	}
	tree, header, err := snapshot.Load(path, s, m.treeOptions()...)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	m.tree = tree
	m.lastSnapshot = header
	m.logger.Info("index opened",
		zap.Int("order", tree.Order()),
		zap.Int("entries", tree.Len()),
		zap.String("snapshot_id", header.ID.String()),
		zap.Bool("compressed", header.Compressed()),
	)
	return m, nil
}

func (m *BPTreeIndexManager[K, V]) treeOptions() []bptree.Option {
	return []bptree.Option{
		bptree.WithLogger(m.logger.Named("tree")),
		bptree.WithEventHandler(m.recordEvent),
	}
}

// recordEvent runs inside tree mutations, which always hold mu exclusively.
func (m *BPTreeIndexManager[K, V]) recordEvent(e bptree.Event) {
	m.events[e.Kind]++
	ctx := m.opCtx
	if ctx == nil {
		ctx = context.Background()
	}
	trace.SpanFromContext(ctx).AddEvent(e.Kind.String(), trace.WithAttributes(attribute.Bool("leaf", e.Leaf)))
	m.metrics.RecordEvent(ctx, m.indexName, e)
}

// beginMutation must be called with mu held exclusively.
func (m *BPTreeIndexManager[K, V]) beginMutation(ctx context.Context) {
	m.opCtx = ctx
}

func (m *BPTreeIndexManager[K, V]) endMutation(ctx context.Context) {
	m.opCtx = nil
	m.metrics.EntriesGauge.Record(ctx, int64(m.tree.Len()), metric.WithAttributes(attribute.String("index", m.indexName)))
}

func (m *BPTreeIndexManager[K, V]) Name() string { return "bptree" }

// Path returns the snapshot file the index is bound to.
func (m *BPTreeIndexManager[K, V]) Path() string { return m.path }

func (m *BPTreeIndexManager[K, V]) Put(ctx context.Context, key K, value V) (err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Put")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Put", err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginMutation(ctx)
	m.tree.Insert(key, value)
	m.dirty = true
	m.endMutation(ctx)
	return nil
}

func (m *BPTreeIndexManager[K, V]) Get(ctx context.Context, key K) (V, bool) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Get")
	defer m.EndMetricsAndTrace(ctx, span, startTime, "Get", nil)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Search(key)
}

// SearchWithPath is Get that also reports the separator keys of every
// internal node on the way down.
func (m *BPTreeIndexManager[K, V]) SearchWithPath(ctx context.Context, key K, observe bptree.PathObserver[K]) (V, bool) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "SearchWithPath")
	defer m.EndMetricsAndTrace(ctx, span, startTime, "SearchWithPath", nil)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.SearchWithPath(key, observe)
}

func (m *BPTreeIndexManager[K, V]) Delete(ctx context.Context, key K) (removed bool, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Delete")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Delete", err) }()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginMutation(ctx)
	removed = m.tree.Delete(key)
	if removed {
		m.dirty = true
	}
	m.endMutation(ctx)
	return removed, nil
}

func (m *BPTreeIndexManager[K, V]) GetRange(ctx context.Context, startKey, endKey K, limit int) (results []bptree.Entry[K, V], err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "GetRange")
	defer func() {
		span.SetAttributes(attribute.Int("results", len(results)))
		m.EndMetricsAndTrace(ctx, span, startTime, "GetRange", err)
	}()

	m.mu.RLock()
	defer m.mu.RUnlock()
	it := m.tree.Range(startKey, endKey)
	for it.Next() {
		if limit > 0 && len(results) >= limit {
			break
		}
		results = append(results, bptree.Entry[K, V]{Key: it.Key(), Value: it.Value()})
		if len(results)%batchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// InsertBatch holds the write lock for the whole batch. On cancellation the
// entries applied so far stay in memory and the count is returned with the error.
func (m *BPTreeIndexManager[K, V]) InsertBatch(ctx context.Context, entries []bptree.Entry[K, V]) (applied int, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "InsertBatch")
	defer func() {
		span.SetAttributes(attribute.Int("batch.size", len(entries)), attribute.Int("batch.applied", applied))
		m.EndMetricsAndTrace(ctx, span, startTime, "InsertBatch", err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginMutation(ctx)
	defer m.endMutation(ctx)

	for i, e := range entries {
		if i%batchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return applied, err
			}
		}
		m.tree.Insert(e.Key, e.Value)
		m.dirty = true
		applied++
	}
	m.logger.Debug("batch inserted", zap.Int("entries", applied), zap.Int("total", m.tree.Len()))
	return applied, nil
}

// DeleteBatch deletes keys in order under one write lock.
func (m *BPTreeIndexManager[K, V]) DeleteBatch(ctx context.Context, keys []K) (removed int, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "DeleteBatch")
	defer func() {
		span.SetAttributes(attribute.Int("batch.size", len(keys)), attribute.Int("batch.removed", removed))
		m.EndMetricsAndTrace(ctx, span, startTime, "DeleteBatch", err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginMutation(ctx)
	defer m.endMutation(ctx)

	for i, k := range keys {
		if i%batchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
		}
		if m.tree.Delete(k) {
			m.dirty = true
			removed++
		}
	}
	m.logger.Debug("batch deleted", zap.Int("requested", len(keys)), zap.Int("removed", removed), zap.Int("total", m.tree.Len()))
	return removed, nil
}

// Save writes the index to its snapshot file.
func (m *BPTreeIndexManager[K, V]) Save(ctx context.Context) (header snapshot.FileHeader, err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Save")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Save", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	header, err = snapshot.Save(m.path, m.tree, m.serializer, m.compress)
	if err != nil {
		return snapshot.FileHeader{}, fmt.Errorf("saving index %s: %w", m.path, err)
	}
	m.dirty = false
	m.lastSnapshot = header
	span.SetAttributes(attribute.String("snapshot.id", header.ID.String()))
	m.logger.Info("snapshot written",
		zap.String("snapshot_id", header.ID.String()),
		zap.Uint64("entries", header.Entries),
		zap.Uint64("payload_bytes", header.PayloadLen),
		zap.Bool("compressed", header.Compressed()),
	)
	return header, nil
}

// Backup saves pending changes and copies the snapshot file to dst at no
// more than rateBytesPerSec (0 means unlimited).
func (m *BPTreeIndexManager[K, V]) Backup(ctx context.Context, dst string, rateBytesPerSec int64, verify bool) (res common.BackupResult, err error) {
	if m.Dirty() {
		if _, err := m.Save(ctx); err != nil {
			return common.BackupResult{}, err
		}
	}

	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Backup")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Backup", err) }()

	// Readers keep the snapshot file stable while it is copied.
	m.mu.RLock()
	defer m.mu.RUnlock()
	return common.CopyThrottled(ctx, m.logger, m.path, dst, rateBytesPerSec, verify)
}

// Verify checks every structural invariant of the tree.
func (m *BPTreeIndexManager[K, V]) Verify(ctx context.Context) (err error) {
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Verify")
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Verify", err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Verify()
}

// Visualize prints the tree level by level.
func (m *BPTreeIndexManager[K, V]) Visualize(w io.Writer, colored bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Visualize(w, colored)
}

// Dirty reports whether the index changed since it was last saved.
func (m *BPTreeIndexManager[K, V]) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

func (m *BPTreeIndexManager[K, V]) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make(map[string]int64, len(m.events))
	for kind, n := range m.events {
		events[kind.String()] = n
	}
	return Stats{
		Stats:        m.tree.Stats(),
		Path:         m.path,
		Dirty:        m.dirty,
		Events:       events,
		LastSnapshot: m.lastSnapshot,
	}
}

// StartMetricsAndTrace begins the telemetry recording for an index operation.
// It returns a new context, the trace span, and the start time.
func (m *BPTreeIndexManager[K, V]) StartMetricsAndTrace(ctx context.Context, op string) (context.Context, trace.Span, time.Time) {
	startTime := time.Now()
	attrs := metric.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.op", op),
	)
	m.metrics.ActiveOpsUpDownCounter.Add(ctx, 1, attrs)
	m.metrics.OpsStartedCounter.Add(ctx, 1, attrs)

	ctx, span := m.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.op", op),
		attribute.String("index.name", m.indexName),
	))
	return ctx, span, startTime
}

// EndMetricsAndTrace completes the telemetry recording for an index operation.
func (m *BPTreeIndexManager[K, V]) EndMetricsAndTrace(ctx context.Context, span trace.Span, startTime time.Time, op string, err error) {
	latency := time.Since(startTime).Microseconds()

	statusCode := otelcodes.Ok
	if err != nil {
		statusCode = otelcodes.Error
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	} else {
		span.SetStatus(otelcodes.Ok, "Success")
	}
	span.End()

	// A cancelled caller context must not drop the bookkeeping.
	ctx = context.WithoutCancel(ctx)
	m.metrics.ActiveOpsUpDownCounter.Add(ctx, -1, metric.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.op", op),
	))

	metricAttributes := attribute.NewSet(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.op", op),
		attribute.String("index.code", statusCode.String()),
		attribute.Bool("index.cancelled", errors.Is(err, context.Canceled)),
	)
	m.metrics.OpLatencyHistogram.Record(ctx, latency, metric.WithAttributeSet(metricAttributes))
	m.metrics.OpsHandledCounter.Add(ctx, 1, metric.WithAttributeSet(metricAttributes))
}
