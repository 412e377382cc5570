// Package stress drives a region map through randomized churn, checking it
// against a sorted-slice oracle and sampling the tree shape as it goes.
package stress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/regiontree/pkg/observability"
	"github.com/Sumatoshi-tech/regiontree/pkg/region"
)

// Sentinel errors.
var (
	ErrDivergence = errors.New("region map diverged from oracle")
	ErrBadConfig  = errors.New("invalid stress config")
)

const (
	spanStressRun = "regiontree.stress.run"

	defaultMaxSize    = 16
	defaultSamples    = 200
	insertPercent     = 50
	removePercent     = 30
	knownRemoveChance = 4 // out of 5 removes target an existing region.
	percent           = 100

	// maxKeySpace keeps start+size and lookup addresses from wrapping.
	maxKeySpace = math.MaxUint64 / 4
)

// Config controls a stress run.
type Config struct {
	// Ops is the number of random operations.
	Ops int
	// KeySpace bounds region start addresses to [0, KeySpace).
	KeySpace uint64
	// MaxSize bounds region sizes to [1, MaxSize]. Zero means 16.
	MaxSize uint64
	// Seed makes runs reproducible.
	Seed int64
	// VerifyEvery checks tree invariants and the full region list every
	// VerifyEvery ops. Zero checks only at the end.
	VerifyEvery int
	// SampleEvery records a Sample every SampleEvery ops. Zero picks a
	// value giving about 200 samples.
	SampleEvery int
}

func (c Config) validate() error {
	if c.Ops <= 0 {
		return fmt.Errorf("%w: ops %d", ErrBadConfig, c.Ops)
	}

	if c.KeySpace == 0 || c.KeySpace > maxKeySpace {
		return fmt.Errorf("%w: key space %#x", ErrBadConfig, c.KeySpace)
	}

	if c.MaxSize > maxKeySpace {
		return fmt.Errorf("%w: max size %#x", ErrBadConfig, c.MaxSize)
	}

	if c.VerifyEvery < 0 || c.SampleEvery < 0 {
		return fmt.Errorf("%w: negative interval", ErrBadConfig)
	}

	return nil
}

// Sample is the tree shape after operation Op.
type Sample struct {
	Op          int
	Size        int
	Height      int
	BlackHeight int
}

// Result summarizes a run.
type Result struct {
	Samples  []Sample
	Inserts  int
	Removes  int
	Rejected int
	Lookups  int
	Verifies int
	Elapsed  time.Duration
}

// Runner executes stress runs. The zero value is not usable; see NewRunner.
type Runner struct {
	tracer  trace.Tracer
	metrics *observability.IndexMetrics
	logger  *slog.Logger
}

// NewRunner creates a runner. Any argument may be nil.
func NewRunner(tracer trace.Tracer, metrics *observability.IndexMetrics, logger *slog.Logger) *Runner {
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("regiontree")
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{tracer: tracer, metrics: metrics, logger: logger}
}

// Run churns space, which must be empty and must not allow overlaps.
// It stops at the first divergence from the oracle.
func (r *Runner) Run(ctx context.Context, space *region.Map[uint64], cfg Config) (*Result, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	if space.Len() != 0 || space.Options().AllowOverlap {
		return nil, fmt.Errorf("%w: space must be empty and disallow overlaps", ErrBadConfig)
	}

	ctx, span := r.tracer.Start(ctx, spanStressRun, trace.WithAttributes(
		attribute.Int("stress.ops", cfg.Ops),
		attribute.Int64("stress.seed", cfg.Seed),
	))
	defer span.End()

	ch := newChurn(cfg, space, r)

	started := time.Now()
	err = ch.run(ctx)
	ch.result.Elapsed = time.Since(started)

	span.SetAttributes(
		attribute.Int("stress.inserts", ch.result.Inserts),
		attribute.Int("stress.removes", ch.result.Removes),
		attribute.Int("stress.rejected", ch.result.Rejected),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stress failed")

		return &ch.result, err
	}

	r.logger.InfoContext(ctx, "stress run complete",
		"ops", cfg.Ops, "regions", space.Len(), "elapsed", ch.result.Elapsed)

	return &ch.result, nil
}

// churn holds the state of one run.
type churn struct {
	cfg    Config
	space  *region.Map[uint64]
	runner *Runner
	rng    *rand.Rand
	oracle oracle
	result Result
}

func newChurn(cfg Config, space *region.Map[uint64], runner *Runner) *churn {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultMaxSize
	}

	if cfg.SampleEvery == 0 {
		cfg.SampleEvery = max(1, cfg.Ops/defaultSamples)
	}

	return &churn{
		cfg:    cfg,
		space:  space,
		runner: runner,
		rng:    rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // reproducible test workload.
		result: Result{Samples: make([]Sample, 0, cfg.Ops/cfg.SampleEvery+1)},
	}
}

func (c *churn) run(ctx context.Context) error {
	batch := c.cfg.VerifyEvery
	if batch == 0 {
		batch = c.cfg.Ops
	}

	for first := 0; first < c.cfg.Ops; first += batch {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stress cancelled at op %d: %w", first, err)
		}

		last := min(first+batch, c.cfg.Ops)

		err := c.runBatch(ctx, first, last)
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *churn) runBatch(ctx context.Context, first, last int) error {
	ctx, span := c.runner.tracer.Start(ctx, observability.SpanStressBatch, trace.WithAttributes(
		attribute.Int("stress.first", first),
		attribute.Int("stress.last", last),
	))
	defer span.End()

	for op := first; op < last; op++ {
		err := c.step(ctx, op)
		if err != nil {
			span.RecordError(err)

			return err
		}

		if (op+1)%c.cfg.SampleEvery == 0 {
			c.sample(op + 1)
		}
	}

	return c.verify(last)
}

func (c *churn) step(ctx context.Context, op int) error {
	roll := c.rng.Intn(percent)

	switch {
	case roll < insertPercent:
		return c.insert(ctx, op)
	case roll < insertPercent+removePercent:
		return c.remove(ctx, op)
	default:
		return c.lookup(ctx, op)
	}
}

func (c *churn) insert(ctx context.Context, op int) error {
	start := c.rng.Uint64() % c.cfg.KeySpace
	size := 1 + c.rng.Uint64()%c.cfg.MaxSize
	want := c.oracle.fits(start, size)

	began := time.Now()
	_, err := c.space.Insert(start, size, uint64(op)) //nolint:gosec // op is non-negative.
	c.record(ctx, observability.OpInsert, began, err)

	switch {
	case want && err != nil:
		return fmt.Errorf("%w: op %d: insert [%#x, %#x): %w", ErrDivergence, op, start, start+size, err)
	case !want && err == nil:
		return fmt.Errorf("%w: op %d: insert [%#x, %#x) accepted a conflict", ErrDivergence, op, start, start+size)
	case !want:
		if !errors.Is(err, region.ErrOverlap) && !errors.Is(err, region.ErrDuplicateAddress) {
			return fmt.Errorf("%w: op %d: unexpected rejection: %w", ErrDivergence, op, err)
		}

		c.result.Rejected++
	default:
		c.oracle.insert(start, size)
		c.result.Inserts++
	}

	return nil
}

func (c *churn) remove(ctx context.Context, op int) error {
	start := c.rng.Uint64() % c.cfg.KeySpace
	if c.oracle.len() > 0 && c.rng.Intn(knownRemoveChance+1) < knownRemoveChance {
		start = c.oracle.spans[c.rng.Intn(c.oracle.len())].start
	}

	want, found := c.oracle.remove(start)

	began := time.Now()
	got, err := c.space.Remove(start, 0)
	c.record(ctx, observability.OpRemove, began, err)

	switch {
	case found && err != nil:
		return fmt.Errorf("%w: op %d: remove %#x: %w", ErrDivergence, op, start, err)
	case !found && !errors.Is(err, region.ErrNotFound):
		return fmt.Errorf("%w: op %d: remove %#x of a missing region returned %v", ErrDivergence, op, start, err)
	case found && got.Size != want.size:
		return fmt.Errorf("%w: op %d: removed %s, oracle had size %#x", ErrDivergence, op, got, want.size)
	case found:
		c.result.Removes++
	}

	return nil
}

func (c *churn) lookup(ctx context.Context, op int) error {
	addr := c.rng.Uint64() % (c.cfg.KeySpace + c.cfg.MaxSize)
	c.result.Lookups++

	checks := []struct {
		name  string
		query func(uint64) (region.Region[uint64], bool)
		want  func(uint64) (span, bool)
	}{
		{observability.OpEnclosing, c.space.Enclosing, c.oracle.enclosing},
		{observability.OpFloor, c.space.Floor, c.oracle.floor},
		{observability.OpCeil, c.space.Ceil, c.oracle.ceil},
	}

	check := checks[c.rng.Intn(len(checks))]

	began := time.Now()
	got, ok := check.query(addr)

	if c.runner.metrics != nil {
		c.runner.metrics.RecordLookup(ctx, "stress", check.name, time.Since(began), ok)
	}

	want, wantOK := check.want(addr)
	if ok != wantOK || (ok && (got.Start != want.start || got.Size != want.size)) {
		return fmt.Errorf("%w: op %d: %s(%#x) = %s %t, oracle [%#x, %#x) %t",
			ErrDivergence, op, check.name, addr, got, ok, want.start, want.end(), wantOK)
	}

	return nil
}

func (c *churn) record(ctx context.Context, op string, began time.Time, err error) {
	if c.runner.metrics == nil {
		return
	}

	c.runner.metrics.RecordMutation(ctx, "stress", op, time.Since(began), err)
}

func (c *churn) sample(op int) {
	stats := c.space.Stats()
	c.result.Samples = append(c.result.Samples, Sample{
		Op:          op,
		Size:        stats.Regions,
		Height:      stats.Height,
		BlackHeight: stats.BlackHeight,
	})
}

// verify checks invariants and compares the full region list with the oracle.
func (c *churn) verify(op int) error {
	c.result.Verifies++

	err := c.space.Verify()
	if err != nil {
		return fmt.Errorf("%w: after op %d: %w", ErrDivergence, op, err)
	}

	regions := c.space.Regions()
	if len(regions) != c.oracle.len() {
		return fmt.Errorf("%w: after op %d: %d regions, oracle has %d", ErrDivergence, op, len(regions), c.oracle.len())
	}

	for idx, reg := range regions {
		want := c.oracle.spans[idx]
		if reg.Start != want.start || reg.Size != want.size {
			return fmt.Errorf("%w: after op %d: region %d is %s, oracle [%#x, %#x)",
				ErrDivergence, op, idx, reg, want.start, want.end())
		}
	}

	return nil
}
