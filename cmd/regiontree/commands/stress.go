package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/regiontree/internal/stress"
	"github.com/Sumatoshi-tech/regiontree/pkg/observability"
	"github.com/Sumatoshi-tech/regiontree/pkg/region"
)

const (
	stressSpace = "stress"
	plotTitle   = "regiontree stress"
)

// StressCommand holds the flags of the stress command. Zero-valued flags
// that were not set fall back to the stress section of the config.
type StressCommand struct {
	global      *GlobalOptions
	ops         int
	seed        int64
	keys        uint64
	maxSize     uint64
	verifyEvery int
	plotPath    string
	metricsAddr string
	hold        time.Duration
}

// NewStressCommand creates the stress command.
func NewStressCommand(global *GlobalOptions) *cobra.Command {
	sc := &StressCommand{global: global}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Churn a region map against an oracle",
		Long: `Run random inserts, removes and lookups against a region map, comparing
every result with a sorted-slice oracle and verifying tree invariants
periodically.`,
		Args: cobra.NoArgs,
		RunE: sc.run,
	}

	cmd.Flags().IntVar(&sc.ops, "ops", 0, "Number of random operations (default from config)")
	cmd.Flags().Int64Var(&sc.seed, "seed", 0, "Random seed (default from config)")
	cmd.Flags().Uint64Var(&sc.keys, "keys", 0, "Start addresses are drawn from [0, keys) (default from config)")
	cmd.Flags().Uint64Var(&sc.maxSize, "max-size", 0, "Largest region size (0 = 16)")
	cmd.Flags().IntVar(&sc.verifyEvery, "verify-every", 0, "Verify invariants every N ops (default from config)")
	cmd.Flags().StringVar(&sc.plotPath, "plot", "", "Write an HTML chart of the tree shape to this file")
	cmd.Flags().StringVar(&sc.metricsAddr, "metrics-addr", "", "Serve /metrics, /healthz and /readyz at this address")
	cmd.Flags().DurationVar(&sc.hold, "hold", 0, "Keep serving metrics this long after the run")

	return cmd
}

func (sc *StressCommand) run(cmd *cobra.Command, _ []string) error {
	env, err := setup(cmd, sc.global)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	defer env.close(ctx)

	cfg := sc.config(cmd, env)

	metrics, stopMetrics, err := sc.startMetrics(ctx, env)
	if err != nil {
		return err
	}
	defer stopMetrics()

	opts := env.regionOptions()
	opts.AllowOverlap = false

	registry := region.NewRegistry[uint64](env.cfg.Index.Shards, env.cfg.Index.HibernationThreshold, opts)

	space, err := registry.Space(stressSpace)
	if err != nil {
		return err
	}

	result, runErr := stress.NewRunner(env.providers.Tracer, metrics, env.logger).Run(ctx, space, cfg)
	if result != nil {
		err = writeStressSummary(cmd.OutOrStdout(), cfg, result, space.Stats(), runErr)
		if err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}

	if sc.plotPath != "" {
		err = writePlot(sc.plotPath, result.Samples)
		if err != nil {
			return err
		}
	}

	if sc.metricsAddr != "" && sc.hold > 0 {
		env.logger.InfoContext(ctx, "holding metrics endpoint", "addr", sc.metricsAddr, "hold", sc.hold)

		select {
		case <-ctx.Done():
		case <-time.After(sc.hold):
		}
	}

	return nil
}

func (sc *StressCommand) config(cmd *cobra.Command, env *environment) stress.Config {
	cfg := stress.Config{
		Ops:         env.cfg.Stress.Ops,
		KeySpace:    uint64(env.cfg.Stress.KeySpace), //nolint:gosec // validated positive.
		MaxSize:     sc.maxSize,
		Seed:        env.cfg.Stress.Seed,
		VerifyEvery: env.cfg.Stress.VerifyEvery,
	}

	flags := cmd.Flags()

	if flags.Changed("ops") {
		cfg.Ops = sc.ops
	}

	if flags.Changed("seed") {
		cfg.Seed = sc.seed
	}

	if flags.Changed("keys") {
		cfg.KeySpace = sc.keys
	}

	if flags.Changed("verify-every") {
		cfg.VerifyEvery = sc.verifyEvery
	}

	return cfg
}

// startMetrics returns the metrics sink for the run. With --metrics-addr
// the instruments live on a Prometheus provider served over HTTP;
// otherwise they use the OTLP meter.
func (sc *StressCommand) startMetrics(
	ctx context.Context, env *environment,
) (*observability.IndexMetrics, func(), error) {
	if sc.metricsAddr == "" {
		metrics, err := env.indexMetrics()

		return metrics, func() {}, err
	}

	handler, provider, err := observability.PrometheusHandler()
	if err != nil {
		return nil, nil, err
	}

	metrics, err := observability.NewIndexMetrics(provider.Meter("regiontree"))
	if err != nil {
		return nil, nil, fmt.Errorf("create index metrics: %w", err)
	}

	server, err := observability.NewDiagnosticsServer(ctx, sc.metricsAddr, env.providers.Tracer, handler)
	if err != nil {
		return nil, nil, err
	}

	env.logger.InfoContext(ctx, "serving metrics", "addr", server.Addr())

	stop := func() {
		shutdownCtx := context.WithoutCancel(ctx)

		if closeErr := server.Close(shutdownCtx); closeErr != nil {
			env.logger.WarnContext(ctx, "metrics server shutdown failed", "error", closeErr)
		}

		if shutdownErr := provider.Shutdown(shutdownCtx); shutdownErr != nil {
			env.logger.WarnContext(ctx, "prometheus provider shutdown failed", "error", shutdownErr)
		}
	}

	return metrics, stop, nil
}

func writeStressSummary(w io.Writer, cfg stress.Config, result *stress.Result, stats region.Stats, runErr error) error {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Metric", "Value"})

	opsPerSec := int64(0)
	if secs := result.Elapsed.Seconds(); secs > 0 {
		opsPerSec = int64(float64(cfg.Ops) / secs)
	}

	tbl.AppendRows([]table.Row{
		{"ops", humanize.Comma(int64(cfg.Ops))},
		{"seed", cfg.Seed},
		{"inserts", humanize.Comma(int64(result.Inserts))},
		{"removes", humanize.Comma(int64(result.Removes))},
		{"rejected", humanize.Comma(int64(result.Rejected))},
		{"lookups", humanize.Comma(int64(result.Lookups))},
		{"verifications", humanize.Comma(int64(result.Verifies))},
		{"regions", humanize.Comma(int64(stats.Regions))},
		{"height", stats.Height},
		{"black height", stats.BlackHeight},
		{"elapsed", result.Elapsed.Round(time.Millisecond)},
		{"ops/s", humanize.Comma(opsPerSec)},
	})

	verdict := color.New(color.FgGreen).Sprint("PASS invariants and oracle agree")
	if runErr != nil {
		verdict = color.New(color.FgRed).Sprintf("FAIL %v", runErr)
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n", tbl.Render(), verdict)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	return nil
}

func writePlot(path string, samples []stress.Sample) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot: %w", err)
	}

	err = stress.Plot(file, plotTitle, samples)

	closeErr := file.Close()
	if err != nil {
		return err
	}

	if closeErr != nil {
		return fmt.Errorf("close plot: %w", closeErr)
	}

	return nil
}
