// Package pipeline provides the resolve → install → record pipeline for
// stackpack.
//
// This package implements the complete flow that the CLI runs for
// `stackpack install` and `stackpack plan`. By centralizing it here, every
// entry point applies the same defaults and the same bookkeeping.
//
// # Architecture
//
// The pipeline consists of three stages:
//
//  1. Resolve: Build the dependency closure of the requested roots, order
//     it, and partition it against the install state
//  2. Install: Fetch and write the plan with the batch installer
//  3. Record: Update the install state file and the history database
//
// Resolve can be run on its own (dry runs, `plan`, `graph`).
//
// # Usage
//
//	runner := pipeline.NewRunner(catalog, installer, st, hist, logger)
//	result, err := runner.Execute(ctx, pipeline.Options{
//	    Roots:       []string{"reviewer"},
//	    Concurrency: 5,
//	    Rollback:    true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Summary.Succeeded)
package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stackpack/pkg/errors"
	"github.com/matzehuels/stackpack/pkg/install"
	"github.com/matzehuels/stackpack/pkg/resolve"
)

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// Options contains all configuration for one pipeline run.
type Options struct {
	// Resolve options
	Roots              []string `json:"roots"`
	IncludeRecommended bool     `json:"include_recommended,omitempty"`
	Force              bool     `json:"force,omitempty"` // reinstall resources already present

	// Install options
	DryRun      bool          `json:"dry_run,omitempty"`
	NoSkip      bool          `json:"no_skip,omitempty"` // do not skip resources the registry holds
	Concurrency int           `json:"concurrency,omitempty"`
	Rollback    bool          `json:"rollback,omitempty"`
	Deadline    time.Duration `json:"deadline,omitempty"`

	// Runtime options (not serialized)
	Progress install.ProgressFunc `json:"-"`
	Logger   *log.Logger          `json:"-"`

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool
}

// Result contains the outputs of a pipeline run.
type Result struct {
	// Plan is the resolved install plan.
	Plan *resolve.Plan

	// Summary is the batch outcome; nil on a dry run.
	Summary *install.Summary

	// Stats contains timing and size information.
	Stats Stats
}

// Stats contains pipeline execution statistics.
type Stats struct {
	Resources   int
	ToInstall   int
	Bytes       int64
	ResolveTime time.Duration
	InstallTime time.Duration
}

// =============================================================================
// Options Methods
// =============================================================================

// ValidateAndSetDefaults checks required fields and applies defaults.
// This method is idempotent - calling it multiple times has the same effect as calling it once.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if err := o.ValidateForResolve(); err != nil {
		return err
	}
	if o.Concurrency < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "concurrency cannot be negative")
	}
	if o.Concurrency == 0 {
		o.Concurrency = install.DefaultConcurrency
	}
	if o.Deadline < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "deadline cannot be negative")
	}
	o.validated = true
	return nil
}

// ValidateForResolve checks required fields for resolution.
func (o *Options) ValidateForResolve() error {
	if len(o.Roots) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "at least one resource id is required")
	}
	for _, id := range o.Roots {
		if err := errors.ValidateResourceID(id); err != nil {
			return fmt.Errorf("root %q: %w", id, err)
		}
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return nil
}

// SkipInstalled reports whether the installer should skip resources that
// are already present.
func (o *Options) SkipInstalled() bool {
	return !o.Force && !o.NoSkip
}

// InstallOptions converts the options for install.Installer.
func (o *Options) InstallOptions(reg install.Registry) install.Options {
	return install.Options{
		Concurrency:     o.Concurrency,
		RollbackOnError: o.Rollback,
		SkipInstalled:   o.SkipInstalled(),
		Deadline:        o.Deadline,
		Progress:        o.Progress,
		Registry:        reg,
		Logger:          o.Logger,
	}
}
