package script_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/regiontree/internal/script"
	"github.com/Sumatoshi-tech/regiontree/pkg/observability"
	"github.com/Sumatoshi-tech/regiontree/pkg/region"
)

func newRegistry() *region.Registry[string] {
	return region.NewRegistry[string](2, 0, region.Options{DebugChecks: true})
}

func loadExample(t *testing.T, name string) *script.Script {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("..", "..", "examples", name))
	require.NoError(t, err)

	s, err := script.ParseBytes(data)
	require.NoError(t, err)

	return s
}

func TestRunner_OriginalDemo(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	runner := script.NewRunner(reg, nil, nil, nil)

	report, err := runner.Run(context.Background(), loadExample(t, "original-demo.yaml"))
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, "demo", report.Space)
	assert.Zero(t, report.Failed)

	var dump string

	for _, res := range report.Results {
		if res.Step.Op == script.OpDump {
			dump = res.Dump
		}
	}

	// In-order dump indented by depth: 8 is the black root, 5 its red left child.
	assert.Contains(t, dump, "(0x8, 0x1) black\n")
	assert.Contains(t, dump, "  (0x5, 0x1) red\n")

	space, err := reg.Space("demo")
	require.NoError(t, err)
	assert.Equal(t, 7, space.Len())
}

func TestRunner_ExactFind(t *testing.T) {
	t.Parallel()

	runner := script.NewRunner(newRegistry(), nil, nil, nil)

	report, err := runner.Run(context.Background(), loadExample(t, "exact-find.yaml"))
	require.NoError(t, err)

	for _, res := range report.Results {
		assert.True(t, res.Passed, "step %d %s: %s", res.Index, res.Step, res.Outcome)
	}
}

func TestRunner_RecordsFailures(t *testing.T) {
	t.Parallel()

	s, err := script.ParseBytes([]byte(`
space: failing
steps:
  - {op: insert, addr: 0x10, size: 0x10}
  - {op: insert, addr: 0x18, size: 0x10}
  - {op: find, addr: 0x10, expect: 0x20}
  - {op: occupied, addr: 0x30, size: 1, expect: "true"}
  - {op: remove, addr: 0x10, size: 0x10, expect: not-found}
`))
	require.NoError(t, err)

	report, err := script.NewRunner(newRegistry(), nil, nil, nil).Run(context.Background(), s)
	require.NoError(t, err)

	passed := make([]bool, 0, len(report.Results))
	for _, res := range report.Results {
		passed = append(passed, res.Passed)
	}

	assert.Equal(t, []bool{true, false, false, false, false}, passed)
	assert.Equal(t, "overlap", report.Results[1].Outcome)
	assert.Equal(t, "[0x10, 0x20)", report.Results[2].Outcome)
	assert.Equal(t, 4, report.Failed)
	require.ErrorIs(t, report.Err(), script.ErrExpectation)
}

func TestRunner_Diff(t *testing.T) {
	t.Parallel()

	s, err := script.ParseBytes([]byte(`
steps:
  - {op: insert, addr: 1, size: 1}
  - {op: insert, addr: 2, size: 1}
  - {op: find, addr: 2}
`))
	require.NoError(t, err)

	runner := script.NewRunner(newRegistry(), nil, nil, nil)
	runner.Diff = true

	report, err := runner.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, "+ (0x1, 0x1) black\n", report.Results[0].Diff)
	assert.Equal(t, "  (0x1, 0x1) black\n+   (0x2, 0x1) red\n", report.Results[1].Diff)
	assert.Empty(t, report.Results[2].Diff)
}

func TestRunner_HibernatedRegistry(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	reg.Hibernate()

	s, err := script.ParseBytes([]byte("steps:\n  - {op: verify}\n"))
	require.NoError(t, err)

	_, err = script.NewRunner(reg, nil, nil, nil).Run(context.Background(), s)
	require.ErrorIs(t, err, region.ErrHibernated)
}

func TestRunner_Cancelled(t *testing.T) {
	t.Parallel()

	s, err := script.ParseBytes([]byte("steps:\n  - {op: verify}\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := script.NewRunner(newRegistry(), nil, nil, nil).Run(ctx, s)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
}

func TestRunner_Telemetry(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := observability.NewIndexMetrics(mp.Meter("test"))
	require.NoError(t, err)

	var logs bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	runner := script.NewRunner(newRegistry(), tp.Tracer("test"), metrics, logger)
	runner.TreeTrace = true

	report, err := runner.Run(context.Background(), loadExample(t, "original-demo.yaml"))
	require.NoError(t, err)

	ended := recorder.Ended()
	require.Len(t, ended, len(report.Results)+1)
	assert.Equal(t, observability.SpanScriptStep, ended[0].Name())
	assert.Equal(t, "regiontree.script.run", ended[len(ended)-1].Name())

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}

	assert.True(t, names["regiontree.index.ops.total"])
	assert.True(t, names["regiontree.index.lookups.total"])
	assert.True(t, names["regiontree.tree.rebalance.total"])
	assert.Contains(t, logs.String(), `"msg":"tree event"`)
}

func TestSnapshotDiff(t *testing.T) {
	t.Parallel()

	before := "a\nb\nc\n"
	after := "a\nc\nd\n"

	assert.Equal(t, "  a\n- b\n  c\n+ d\n", script.SnapshotDiff(before, after))
	assert.Empty(t, script.SnapshotDiff("", ""))
}
