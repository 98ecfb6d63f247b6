package internaltelemetry

import (
	"context"

	"github.com/sushant-115/bpindex/core/indexing/bptree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IndexMetrics holds all the metric instruments for an index.
type IndexMetrics struct {
	OpsStartedCounter       metric.Int64Counter
	OpsHandledCounter       metric.Int64Counter
	OpLatencyHistogram      metric.Int64Histogram
	ActiveOpsUpDownCounter  metric.Int64UpDownCounter
	StructuralEventsCounter metric.Int64Counter
	EntriesGauge            metric.Int64Gauge
}

// NewIndexMetrics creates and registers all the metrics for an index.
func NewIndexMetrics(meter metric.Meter) (*IndexMetrics, error) {
	opsStartedCounter, err := meter.Int64Counter(
		"bpindex.index.ops.started_total",
		metric.WithDescription("Total number of index operations started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opsHandledCounter, err := meter.Int64Counter(
		"bpindex.index.ops.handled_total",
		metric.WithDescription("Total number of index operations completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opLatencyHistogram, err := meter.Int64Histogram(
		"bpindex.index.op.duration",
		metric.WithDescription("The latency of index operations."),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	activeOpsUpDownCounter, err := meter.Int64UpDownCounter(
		"bpindex.index.active_ops",
		metric.WithDescription("Number of index operations in flight."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	structuralEventsCounter, err := meter.Int64Counter(
		"bpindex.index.structural_events_total",
		metric.WithDescription("Node splits, borrows, merges and root height changes."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	entriesGauge, err := meter.Int64Gauge(
		"bpindex.index.entries",
		metric.WithDescription("Number of key/value pairs in the index."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &IndexMetrics{
		OpsStartedCounter:       opsStartedCounter,
		OpsHandledCounter:       opsHandledCounter,
		OpLatencyHistogram:      opLatencyHistogram,
		ActiveOpsUpDownCounter:  activeOpsUpDownCounter,
		StructuralEventsCounter: structuralEventsCounter,
		EntriesGauge:            entriesGauge,
	}, nil
}

// RecordEvent counts one structural change of the tree.
func (m *IndexMetrics) RecordEvent(ctx context.Context, index string, e bptree.Event) {
	nodeKind := "internal"
	if e.Leaf {
		nodeKind = "leaf"
	}
	m.StructuralEventsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("index", index),
		attribute.String("kind", e.Kind.String()),
		attribute.String("node", nodeKind),
	))
}
