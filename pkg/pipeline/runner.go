package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stackpack/pkg/history"
	"github.com/matzehuels/stackpack/pkg/install"
	"github.com/matzehuels/stackpack/pkg/resolve"
	"github.com/matzehuels/stackpack/pkg/resource"
	"github.com/matzehuels/stackpack/pkg/state"
)

// Runner encapsulates pipeline execution with install bookkeeping.
//
// The Runner is stateless except for its collaborators - it doesn't
// store pipeline results. State and History are optional; when nil the
// corresponding bookkeeping is skipped.
type Runner struct {
	Catalog   resource.Catalog
	Installer *install.Installer
	State     *state.State
	History   *history.DB
	Logger    *log.Logger
}

// NewRunner creates a runner.
// If logger is nil, log.Default() is used.
func NewRunner(catalog resource.Catalog, inst *install.Installer, st *state.State, hist *history.DB, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Catalog:   catalog,
		Installer: inst,
		State:     st,
		History:   hist,
		Logger:    logger,
	}
}

// Execute runs the complete resolve → install → record pipeline.
// Install failures do not make Execute fail; they are reported in the
// summary. Errors are returned for resolution failures and for a state
// file that cannot be saved.
func (r *Runner) Execute(ctx context.Context, opts Options) (*Result, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	result := &Result{}

	// Stage 1: Resolve
	resolveStart := time.Now()
	installed := r.installedSet()
	plan, err := r.resolve(opts, installed)
	if err != nil {
		return nil, err
	}
	result.Plan = plan
	result.Stats.ResolveTime = time.Since(resolveStart)
	result.Stats.Resources = len(plan.Order)
	result.Stats.ToInstall = len(plan.Install)
	result.Stats.Bytes = plan.TotalBytes

	r.Logger.Info("resolved dependencies",
		"resources", len(plan.Order),
		"to_install", len(plan.Install),
		"missing", len(plan.Missing),
		"duration", result.Stats.ResolveTime)

	if opts.DryRun {
		return result, nil
	}
	if r.Installer == nil {
		return nil, fmt.Errorf("install: runner has no installer")
	}

	// Stage 2: Install
	installStart := time.Now()
	reg := install.NewMemoryRegistry(slices.Sorted(maps.Keys(installed))...)
	summary := r.Installer.Install(ctx, plan, opts.InstallOptions(reg))
	result.Summary = summary
	result.Stats.InstallTime = time.Since(installStart)

	r.Logger.Info("installed resources",
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", result.Stats.InstallTime)

	// Stage 3: Record
	return result, r.record(ctx, opts, plan, summary)
}

// Resolve runs only the resolve stage.
func (r *Runner) Resolve(opts Options) (*resolve.Plan, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateForResolve(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return r.resolve(opts, r.installedSet())
}

func (r *Runner) resolve(opts Options, installed resolve.Set) (*resolve.Plan, error) {
	res := &resolve.Resolver{
		Catalog:            r.Catalog,
		IncludeRecommended: opts.IncludeRecommended,
		Force:              opts.Force,
		Logger:             r.Logger,
	}
	return res.Resolve(opts.Roots, installed)
}

func (r *Runner) installedSet() resolve.Set {
	if r.State == nil {
		return resolve.NewSet()
	}
	return r.State.InstalledSet()
}

// record updates the state file and history. History failures are logged
// and otherwise ignored; a state file that cannot be saved is an error.
func (r *Runner) record(ctx context.Context, opts Options, plan *resolve.Plan, s *install.Summary) error {
	if r.History != nil {
		// A canceled batch is still worth recording.
		if err := r.History.Record(context.WithoutCancel(ctx), opts.Roots, s); err != nil {
			r.Logger.Warn("failed to record install history", "batch", s.BatchID, "err", err)
		}
	}
	if r.State == nil {
		return nil
	}
	r.State.Apply(plan, s)
	if err := r.State.Save(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// applyLogger sets the runner logger on the options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}
