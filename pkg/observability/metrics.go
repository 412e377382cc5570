package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/regiontree/pkg/rbtree"
)

const (
	metricOpsTotal     = "regiontree.index.ops.total"
	metricOpDuration   = "regiontree.index.op.duration.seconds"
	metricErrorsTotal  = "regiontree.index.errors.total"
	metricLookupsTotal = "regiontree.index.lookups.total"
	metricRebalance    = "regiontree.tree.rebalance.total"
	metricRegions      = "regiontree.index.regions"

	attrOp     = "op"
	attrSpace  = "space"
	attrResult = "result"
	attrEvent  = "event"

	resultHit  = "hit"
	resultMiss = "miss"
)

// Index operation names used as the op attribute.
const (
	OpInsert    = "insert"
	OpRemove    = "remove"
	OpFind      = "find"
	OpEnclosing = "enclosing"
	OpOccupied  = "occupied"
	OpFloor     = "floor"
	OpCeil      = "ceil"
	OpFirstFit  = "first_fit"
)

// opBucketBoundaries covers 100ns to 10ms: index operations are logarithmic
// and in-memory.
var opBucketBoundaries = []float64{1e-7, 5e-7, 1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3, 1e-2}

// IndexMetrics holds the instruments for region index operations.
type IndexMetrics struct {
	opsTotal     metric.Int64Counter
	opDuration   metric.Float64Histogram
	errorsTotal  metric.Int64Counter
	lookupsTotal metric.Int64Counter
	rebalance    metric.Int64Counter
	regions      metric.Int64UpDownCounter
}

// NewIndexMetrics creates the index instruments from mt.
func NewIndexMetrics(mt metric.Meter) (*IndexMetrics, error) {
	b := newMetricBuilder(mt)

	im := &IndexMetrics{
		opsTotal:     b.counter(metricOpsTotal, "Index operations", "{op}"),
		opDuration:   b.histogram(metricOpDuration, "Index operation duration", "s", opBucketBoundaries...),
		errorsTotal:  b.counter(metricErrorsTotal, "Rejected index operations", "{error}"),
		lookupsTotal: b.counter(metricLookupsTotal, "Index lookups by result", "{lookup}"),
		rebalance:    b.counter(metricRebalance, "Red-black tree rotations and color flips", "{event}"),
		regions:      b.upDownCounter(metricRegions, "Regions currently indexed", "{region}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return im, nil
}

// RecordMutation records an insert or remove. Successful mutations move
// the region gauge.
func (im *IndexMetrics) RecordMutation(ctx context.Context, space, op string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String(attrSpace, space), attribute.String(attrOp, op))

	im.opsTotal.Add(ctx, 1, attrs)
	im.opDuration.Record(ctx, duration.Seconds(), attrs)

	if err != nil {
		im.errorsTotal.Add(ctx, 1, attrs)

		return
	}

	switch op {
	case OpInsert:
		im.regions.Add(ctx, 1, metric.WithAttributes(attribute.String(attrSpace, space)))
	case OpRemove:
		im.regions.Add(ctx, -1, metric.WithAttributes(attribute.String(attrSpace, space)))
	}
}

// RecordLookup records a query and whether it found a region.
func (im *IndexMetrics) RecordLookup(ctx context.Context, space, op string, duration time.Duration, hit bool) {
	result := resultMiss
	if hit {
		result = resultHit
	}

	attrs := metric.WithAttributes(attribute.String(attrSpace, space), attribute.String(attrOp, op))

	im.opsTotal.Add(ctx, 1, attrs)
	im.opDuration.Record(ctx, duration.Seconds(), attrs)
	im.lookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrSpace, space),
		attribute.String(attrOp, op),
		attribute.String(attrResult, result),
	))
}

// RecordEvent counts rebalancing events. Inserts and deletes are already
// counted by RecordMutation and are ignored.
func (im *IndexMetrics) RecordEvent(ctx context.Context, space string, ev rbtree.Event) {
	switch ev.Kind {
	case rbtree.EventColorFlip, rbtree.EventRotateLeft, rbtree.EventRotateRight:
		im.rebalance.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrSpace, space),
			attribute.String(attrEvent, ev.Kind.String()),
		))
	case rbtree.EventInsert, rbtree.EventDelete:
	}
}
