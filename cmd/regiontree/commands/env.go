// Package commands implements the regiontree subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/regiontree/pkg/config"
	"github.com/Sumatoshi-tech/regiontree/pkg/observability"
	"github.com/Sumatoshi-tech/regiontree/pkg/region"
	"github.com/Sumatoshi-tech/regiontree/pkg/version"
)

// GlobalOptions holds the root command's persistent flags.
type GlobalOptions struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
	NoColor    bool
}

// environment is the per-invocation state shared by subcommands.
type environment struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
}

func setup(cmd *cobra.Command, global *GlobalOptions) (*environment, error) {
	cfg, err := config.LoadConfig(global.ConfigPath)
	if err != nil {
		return nil, err
	}

	if global.NoColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.LogJSON = cfg.Logging.JSON()
	obsCfg.LogLevel = cfg.Logging.SlogLevel()

	switch {
	case global.Verbose:
		obsCfg.LogLevel = slog.LevelDebug
		obsCfg.TraceVerbose = true
	case global.Quiet:
		obsCfg.LogLevel = slog.LevelError
	}

	providers, err := observability.InitWithWriter(obsCfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	return &environment{cfg: cfg, providers: providers, logger: providers.Logger}, nil
}

func (env *environment) close(ctx context.Context) {
	err := env.providers.Shutdown(ctx)
	if err != nil {
		env.logger.WarnContext(ctx, "telemetry shutdown failed", "error", err)
	}
}

func (env *environment) regionOptions() region.Options {
	return region.Options{
		AllowOverlap: env.cfg.Index.AllowOverlap,
		DebugChecks:  env.cfg.Index.DebugChecks,
		CacheEntries: env.cfg.Index.CacheEntries,
	}
}

func (env *environment) indexMetrics() (*observability.IndexMetrics, error) {
	metrics, err := observability.NewIndexMetrics(env.providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("create index metrics: %w", err)
	}

	return metrics, nil
}
