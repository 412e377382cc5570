package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/regiontree/pkg/observability"
	"github.com/Sumatoshi-tech/regiontree/pkg/region"
)

// ErrExpectation is returned by Report.Err when any step missed its expectation.
var ErrExpectation = errors.New("script expectations failed")

const spanScriptRun = "regiontree.script.run"

// Result is the outcome of one step.
type Result struct {
	Step    Step
	Err     error
	Outcome string
	Diff    string
	Dump    string
	Index   int
	Passed  bool
	Elapsed time.Duration
}

// Report collects the results of a run.
type Report struct {
	Name    string
	Space   string
	Results []Result
	Failed  int
}

// Err returns ErrExpectation if any step failed.
func (r *Report) Err() error {
	if r.Failed == 0 {
		return nil
	}

	return fmt.Errorf("%w: %d of %d steps", ErrExpectation, r.Failed, len(r.Results))
}

// Runner executes scripts against spaces of a registry.
type Runner struct {
	registry *region.Registry[string]
	tracer   trace.Tracer
	metrics  *observability.IndexMetrics
	logger   *slog.Logger

	// Diff records a snapshot diff for every mutating step.
	Diff bool
	// TreeTrace forwards rotations and color flips to the logger and metrics.
	TreeTrace bool
}

// NewRunner creates a runner over registry. Tracer, metrics and logger may be nil.
func NewRunner(
	registry *region.Registry[string], tracer trace.Tracer, metrics *observability.IndexMetrics, logger *slog.Logger,
) *Runner {
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("regiontree")
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{registry: registry, tracer: tracer, metrics: metrics, logger: logger}
}

// Run replays every step of s. Failed expectations are recorded in the
// report; the returned error covers setup failures and cancellation only.
func (r *Runner) Run(ctx context.Context, s *Script) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, spanScriptRun, trace.WithAttributes(
		attribute.String("script.name", s.Name),
		attribute.String("script.space", s.Space),
		attribute.Int("script.steps", len(s.Steps)),
	))
	defer span.End()

	space, err := r.registry.Space(s.Space)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open space")

		return nil, fmt.Errorf("open space: %w", err)
	}

	if r.TreeTrace {
		space.SetTracer(observability.TreeTracer(ctx, s.Space, r.logger, r.metrics))
		defer space.SetTracer(nil)
	}

	report := &Report{Name: s.Name, Space: s.Space, Results: make([]Result, 0, len(s.Steps))}

	for idx, step := range s.Steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "cancelled")

			return report, fmt.Errorf("step %d: %w", idx+1, ctxErr)
		}

		res := r.runStep(ctx, space, s.Space, idx, step)
		if !res.Passed {
			report.Failed++

			r.logger.WarnContext(ctx, "step failed",
				"space", s.Space, "step", idx+1, "op", string(step.Op),
				"expect", step.Expect, "outcome", res.Outcome)
		}

		report.Results = append(report.Results, res)
	}

	span.SetAttributes(attribute.Int("script.failed", report.Failed))

	if report.Failed > 0 {
		span.SetStatus(codes.Error, "expectations failed")
	}

	return report, nil
}

func (r *Runner) runStep(ctx context.Context, space *region.Map[string], name string, idx int, step Step) Result {
	ctx, span := r.tracer.Start(ctx, observability.SpanScriptStep, trace.WithAttributes(
		attribute.Int("script.index", idx+1),
		attribute.String("script.op", string(step.Op)),
		attribute.String("region.addr", step.Addr.String()),
		attribute.String("region.size", step.Size.String()),
	))
	defer span.End()

	var before string
	if r.Diff && step.Op.Mutating() {
		before = space.Snapshot().String()
	}

	started := time.Now()
	res := execute(space, step)
	res.Index = idx + 1
	res.Elapsed = time.Since(started)
	res.Passed = matches(step, res)

	if r.Diff && step.Op.Mutating() {
		res.Diff = SnapshotDiff(before, space.Snapshot().String())
	}

	r.record(ctx, name, step, res)

	if res.Err != nil {
		span.RecordError(res.Err)
	}

	if !res.Passed {
		span.SetStatus(codes.Error, "expectation failed")
	}

	return res
}

func (r *Runner) record(ctx context.Context, space string, step Step, res Result) {
	if r.metrics == nil {
		return
	}

	switch step.Op {
	case OpInsert:
		r.metrics.RecordMutation(ctx, space, observability.OpInsert, res.Elapsed, res.Err)
	case OpRemove:
		r.metrics.RecordMutation(ctx, space, observability.OpRemove, res.Elapsed, res.Err)
	case OpFind, OpEnclosing, OpOccupied, OpFloor, OpCeil, OpFirstFit:
		hit := res.Err == nil && res.Outcome != ExpectAbsent && res.Outcome != ExpectFalse
		r.metrics.RecordLookup(ctx, space, string(step.Op), res.Elapsed, hit)
	case OpDump, OpVerify:
	}
}

func execute(space *region.Map[string], step Step) Result {
	res := Result{Step: step}

	addr, size := uint64(step.Addr), uint64(step.Size)

	switch step.Op {
	case OpInsert:
		reg, err := space.Insert(addr, size, step.Value)
		res.Err = err
		res.Outcome = outcomeOf(reg, err)
	case OpRemove:
		reg, err := space.Remove(addr, size)
		res.Err = err
		res.Outcome = outcomeOf(reg, err)
	case OpFind:
		res.Outcome = lookupOutcome(space.FindByAddress(addr, size))
	case OpEnclosing:
		res.Outcome = lookupOutcome(space.Enclosing(addr))
	case OpFloor:
		res.Outcome = lookupOutcome(space.Floor(addr))
	case OpCeil:
		res.Outcome = lookupOutcome(space.Ceil(addr))
	case OpOccupied:
		res.Outcome = ExpectFalse
		if space.Occupied(addr, size) {
			res.Outcome = ExpectTrue
		}
	case OpFirstFit:
		hi := uint64(step.Hi)
		if hi == 0 {
			hi = ^uint64(0)
		}

		found, err := space.FirstFit(size, uint64(step.Align), uint64(step.Lo), hi)
		res.Err = err
		res.Outcome = fmt.Sprintf("%#x", found)

		if err != nil {
			res.Outcome = errorKeyword(err)
		}
	case OpVerify:
		res.Err = space.Verify()
		res.Outcome = ExpectOK

		if res.Err != nil {
			res.Outcome = res.Err.Error()
		}
	case OpDump:
		res.Dump = space.Snapshot().String()
		res.Outcome = fmt.Sprintf("%d regions", space.Len())
	}

	return res
}

func outcomeOf(reg region.Region[string], err error) string {
	if err != nil {
		return errorKeyword(err)
	}

	return reg.String()
}

func lookupOutcome(reg region.Region[string], found bool) string {
	if !found {
		return ExpectAbsent
	}

	return reg.String()
}

func errorKeyword(err error) string {
	for keyword, target := range expectErrors {
		if errors.Is(err, target) {
			return keyword
		}
	}

	return err.Error()
}

// matches reports whether a step result meets its expectation. Steps with
// no expectation pass unless they return an error.
func matches(step Step, res Result) bool {
	expect := step.Expect

	switch {
	case expect == "", expect == ExpectOK:
		return res.Err == nil
	case expect == ExpectFound:
		return res.Err == nil && res.Outcome != ExpectAbsent
	case expect == ExpectAbsent, expect == ExpectTrue, expect == ExpectFalse:
		return res.Outcome == expect
	}

	if target, isErr := expectErrors[expect]; isErr {
		return errors.Is(res.Err, target)
	}

	want, err := ParseQuantity(expect)
	if err != nil || res.Err != nil || res.Outcome == ExpectAbsent {
		return false
	}

	return startOf(res.Outcome) == want
}

// startOf extracts the start address from "[0x5, 0x6)" or "0x5".
func startOf(outcome string) uint64 {
	text := strings.TrimPrefix(outcome, "[")
	text, _, _ = strings.Cut(text, ",")

	value, err := ParseQuantity(text)
	if err != nil {
		return ^uint64(0)
	}

	return value
}

// SnapshotDiff returns a line diff between two snapshot dumps. Unchanged
// lines are prefixed with two spaces, removed with "- " and added with "+ ".
func SnapshotDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	src, dst, lines := dmp.DiffLinesToRunes(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(src, dst, false), lines)

	var builder strings.Builder

	for _, diff := range diffs {
		prefix := "  "

		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffEqual:
		}

		for line := range strings.Lines(diff.Text) {
			builder.WriteString(prefix)
			builder.WriteString(line)
		}
	}

	return builder.String()
}
