package observability

import (
	"context"
	"log/slog"

	"github.com/Sumatoshi-tech/regiontree/pkg/rbtree"
)

// TreeTracer returns a tracer for rbtree.Tree.SetTracer that logs every
// structural event at debug level and counts rebalancing in metrics.
// Either logger or metrics may be nil.
func TreeTracer(ctx context.Context, space string, logger *slog.Logger, metrics *IndexMetrics) func(rbtree.Event) {
	debugEnabled := logger != nil && logger.Enabled(ctx, slog.LevelDebug)

	return func(ev rbtree.Event) {
		if debugEnabled {
			logger.DebugContext(ctx, "tree event",
				"space", space,
				"event", ev.Kind.String(),
				"node", uint32(ev.Node),
				"addr", ev.Key.Addr,
				"size", ev.Key.Size,
			)
		}

		if metrics != nil {
			metrics.RecordEvent(ctx, space, ev)
		}
	}
}
