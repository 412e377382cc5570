package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/regiontree/internal/script"
	"github.com/Sumatoshi-tech/regiontree/pkg/persist"
	"github.com/Sumatoshi-tech/regiontree/pkg/region"
)

// ErrReplayFailed is returned when any script step misses its expectation.
var ErrReplayFailed = errors.New("replay failed")

// ReplayCommand holds the flags of the replay command.
type ReplayCommand struct {
	global   *GlobalOptions
	diff     bool
	trace    bool
	table    bool
	fixtures string
	export   string
	codec    string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(global *GlobalOptions) *cobra.Command {
	rc := &ReplayCommand{global: global}

	cmd := &cobra.Command{
		Use:   "replay <script.yaml>...",
		Short: "Replay region scripts and check expectations",
		Long: `Replay YAML scripts of region operations. Scripts naming the same space
share it, so later scripts see the regions of earlier ones.`,
		Args: cobra.MinimumNArgs(1),
		RunE: rc.run,
	}

	cmd.Flags().BoolVar(&rc.diff, "diff", false, "Print the tree diff after every insert and remove")
	cmd.Flags().BoolVar(&rc.trace, "trace", false, "Log rotations and color flips")
	cmd.Flags().BoolVar(&rc.table, "table", false, "Print the regions of every space at the end")
	cmd.Flags().StringVar(&rc.fixtures, "fixtures", "", "Seed spaces from the fixture files in this directory before replaying")
	cmd.Flags().StringVar(&rc.export, "export", "", "Write the regions of every space to this directory after replaying")
	cmd.Flags().StringVar(&rc.codec, "codec", "json", "File format for --fixtures and --export: json, gob or yaml")

	return cmd
}

func (rc *ReplayCommand) run(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, rc.global)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	defer env.close(ctx)

	metrics, err := env.indexMetrics()
	if err != nil {
		return err
	}

	codec, err := persist.CodecFor(rc.codec)
	if err != nil {
		return err
	}

	registry := region.NewRegistry[string](env.cfg.Index.Shards, env.cfg.Index.HibernationThreshold, env.regionOptions())

	if rc.fixtures != "" {
		loaded, loadErr := registry.Load(rc.fixtures, codec)
		if loadErr != nil {
			return fmt.Errorf("seed fixtures: %w", loadErr)
		}

		env.logger.InfoContext(ctx, "seeded spaces from fixtures", "dir", rc.fixtures, "regions", loaded, "spaces", len(registry.Names()))
	}

	runner := script.NewRunner(registry, env.providers.Tracer, metrics, env.logger)
	runner.Diff = rc.diff
	runner.TreeTrace = rc.trace

	out := cmd.OutOrStdout()
	failed := 0

	for _, path := range args {
		s, parseErr := loadScript(path)
		if parseErr != nil {
			return parseErr
		}

		report, runErr := runner.Run(ctx, s)
		if runErr != nil {
			return fmt.Errorf("%s: %w", path, runErr)
		}

		writeErr := writeReport(out, path, report)
		if writeErr != nil {
			return writeErr
		}

		failed += report.Failed
	}

	if rc.table {
		err = writeSpaces(out, registry)
		if err != nil {
			return err
		}
	}

	if rc.export != "" {
		err = registry.Save(rc.export, codec)
		if err != nil {
			return fmt.Errorf("export spaces: %w", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d steps missed expectations", ErrReplayFailed, failed)
	}

	return nil
}

func loadScript(path string) (*script.Script, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer file.Close()

	s, err := script.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return s, nil
}

func writeReport(w io.Writer, path string, report *script.Report) error {
	title := color.New(color.Bold)
	pass := color.New(color.FgGreen)
	fail := color.New(color.FgRed)
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)

	var sb strings.Builder

	title.Fprintf(&sb, "%s (space %s)\n", path, report.Space)

	for _, res := range report.Results {
		verdict := pass.Sprint("PASS")
		if !res.Passed {
			verdict = fail.Sprint("FAIL")
		}

		fmt.Fprintf(&sb, "%s %3d  %-36s -> %s", verdict, res.Index, res.Step, res.Outcome)

		if res.Step.Expect != "" && !res.Passed {
			fmt.Fprintf(&sb, " (want %s)", res.Step.Expect)
		}

		sb.WriteString("\n")

		for line := range strings.Lines(res.Diff) {
			switch {
			case strings.HasPrefix(line, "+ "):
				added.Fprint(&sb, "      "+line)
			case strings.HasPrefix(line, "- "):
				removed.Fprint(&sb, "      "+line)
			default:
				sb.WriteString("      " + line)
			}
		}

		for line := range strings.Lines(res.Dump) {
			sb.WriteString("      " + line)
		}
	}

	summary := pass
	if report.Failed > 0 {
		summary = fail
	}

	summary.Fprintf(&sb, "%d/%d steps passed\n\n", len(report.Results)-report.Failed, len(report.Results))

	_, err := io.WriteString(w, sb.String())
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}

func writeSpaces(w io.Writer, registry *region.Registry[string]) error {
	for _, name := range registry.Names() {
		space, err := registry.Space(name)
		if err != nil {
			return fmt.Errorf("space %s: %w", name, err)
		}

		_, err = fmt.Fprintf(w, "space %s\n", name)
		if err != nil {
			return fmt.Errorf("write spaces: %w", err)
		}

		err = region.Render(w, space.Regions())
		if err != nil {
			return err
		}
	}

	return nil
}
