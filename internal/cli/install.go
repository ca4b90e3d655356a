package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stackpack/pkg/dag/transform"
	"github.com/matzehuels/stackpack/pkg/install"
	"github.com/matzehuels/stackpack/pkg/pipeline"
	"github.com/matzehuels/stackpack/pkg/resolve"
)

// installCommand creates the install command.
func (c *CLI) installCommand() *cobra.Command {
	var opts pipeline.Options

	cmd := &cobra.Command{
		Use:   "install <id>...",
		Short: "Install resources and their dependencies",
		Long: `Install resolves the given resources against the catalog, orders them so
every dependency lands before its dependents, and installs them concurrently.

Resources already recorded in the install state are skipped unless --force
or --no-skip is given. With --rollback, any failure reverts every file the
batch wrote.`,
		Example: `  stackpack install reviewer
  stackpack install reviewer planner --rollback --concurrency 2
  stackpack install reviewer --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Roots = args
			return c.runInstall(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.IncludeRecommended, "recommended", false, "also install recommended dependencies")
	flags.BoolVar(&opts.Force, "force", false, "reinstall resources that are already installed")
	flags.BoolVar(&opts.NoSkip, "no-skip", false, "do not skip resources the install state already holds")
	flags.BoolVar(&opts.DryRun, "dry-run", false, "print the plan without installing")
	flags.Int("concurrency", install.DefaultConcurrency, "maximum parallel installs (1 installs sequentially)")
	flags.Duration("deadline", 0, "abort the batch after this long (0 means no limit)")
	flags.Bool("rollback", false, "revert every write if any resource fails")

	return cmd
}

func (c *CLI) runInstall(ctx context.Context, opts pipeline.Options) error {
	e, err := c.newEnv(ctx, !opts.DryRun)
	if err != nil {
		return err
	}
	defer e.Close()

	opts.Concurrency = e.cfg.Concurrency
	opts.Deadline = e.cfg.Deadline
	opts.Rollback = e.cfg.Rollback

	if opts.DryRun {
		plan, err := e.runner.Resolve(opts)
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	}

	spinner := newSpinnerWithContext(ctx, "Resolving dependencies...")
	spinner.Start()
	opts.Progress = func(id string, completed, total int, status install.Status) {
		spinner.SetMessage(fmt.Sprintf("Installing %d/%d (%s %s)", completed, total, id, status))
	}

	result, err := e.runner.Execute(ctx, opts)
	spinner.Stop()
	if err != nil {
		return err
	}

	printSummary(result)
	return summaryErr(ctx, result.Summary)
}

// summaryErr turns a batch that did not fully succeed into an error. An
// interrupted batch reports the context error so main exits with 130.
func summaryErr(ctx context.Context, s *install.Summary) error {
	if s.OK() {
		return nil
	}
	if s.Canceled && ctx.Err() != nil {
		return ctx.Err()
	}
	failed := s.Failed + s.RolledBack
	if err := s.Err(); err != nil {
		return fmt.Errorf("%d of %d resources not installed: %w", failed, s.Total, err)
	}
	return fmt.Errorf("%d of %d resources not installed", failed, s.Total)
}

// printSummary prints per-resource outcomes followed by the totals.
func printSummary(r *pipeline.Result) {
	s := r.Summary
	for _, res := range s.Results {
		detail := ""
		switch {
		case res.Err != nil:
			detail = res.Err.Error()
		case res.Status == install.StatusInstalled:
			detail = fmt.Sprintf("%s, %s", formatBytes(int64(res.Size)), res.Duration.Round(time.Millisecond))
		}
		printResult(res.ID, res.Status, detail)
	}
	printNewline()

	switch {
	case s.OK():
		printSuccess("Installed %d, skipped %d (%s)", s.Succeeded, s.Skipped, s.Duration.Round(time.Millisecond))
	case s.Canceled:
		printWarning("Canceled: %d installed, %d not installed", s.Succeeded, s.Failed)
	case s.RolledBack > 0:
		printError("Rolled back %d resources after %d failed", s.RolledBack, s.Failed)
	default:
		printError("Installed %d, skipped %d, failed %d", s.Succeeded, s.Skipped, s.Failed)
	}
	printDetail("Batch: %s", s.BatchID)
	if r.Plan != nil {
		printMissing(r.Plan.Missing)
	}
}

// printPlan prints the install order and what each step will do.
func printPlan(p *resolve.Plan) {
	fmt.Println(StyleTitle.Render("Install plan"))
	wave := transform.WaveOf(transform.Waves(p.Graph.DAG))
	for i, id := range p.Order {
		d := p.Descriptor(id)
		action := StyleSuccess.Render("install")
		if p.IsInstalled(id) {
			action = StyleDim.Render("installed")
		}
		version := ""
		if d.Version != "" {
			version = " " + StyleDim.Render("v"+d.Version)
		}
		fmt.Printf("  %s %s %s%s %s %s\n",
			StyleNumber.Render(fmt.Sprintf("%2d.", i+1)),
			StyleDim.Render(fmt.Sprintf("w%d", wave[id])),
			StyleValue.Render(id), version,
			StyleDim.Render("("+string(d.Type)+")"),
			action)
	}
	printStats(len(p.Order), len(p.Install), p.TotalBytes)
	printMissing(p.Missing)
	if len(p.Install) == 0 {
		printInfo("Nothing to install")
	}
}

func printMissing(missing []resolve.Missing) {
	for _, m := range missing {
		printWarning("Recommended %s (wanted by %s) is not in the catalog", m.ID, m.WantedBy)
	}
}
