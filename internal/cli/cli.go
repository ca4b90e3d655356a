// Package cli implements the stackpack command-line interface.
package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/stackpack/pkg/buildinfo"
	"github.com/matzehuels/stackpack/pkg/cache"
	"github.com/matzehuels/stackpack/pkg/config"
	"github.com/matzehuels/stackpack/pkg/fetch"
	"github.com/matzehuels/stackpack/pkg/fsutil"
	"github.com/matzehuels/stackpack/pkg/history"
	"github.com/matzehuels/stackpack/pkg/install"
	"github.com/matzehuels/stackpack/pkg/observability"
	"github.com/matzehuels/stackpack/pkg/pipeline"
	"github.com/matzehuels/stackpack/pkg/resource"
	"github.com/matzehuels/stackpack/pkg/state"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "stackpack"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// configPath is set by --config; empty means config.FilePath().
	configPath string
	store      *config.Store
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// EnableHooks routes engine hooks to the debug log.
func (c *CLI) EnableHooks() {
	observability.NewLogHooks(c.Logger).Register()
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Stackpack installs resources and their dependencies",
		Long:         `Stackpack resolves a catalog of agents, commands, hooks, templates and MCP configs into a dependency-ordered plan and installs it concurrently, with checksum verification and optional rollback.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig(cmd)
		},
	}

	root.SetVersionTemplate(buildinfo.Template())

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default "+config.FilePath()+")")
	flags.String("catalog", "", "catalog file (YAML or TOML)")
	flags.String("base-dir", "", "directory resources are installed under")

	root.AddCommand(c.installCommand())
	root.AddCommand(c.planCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.historyCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// flagKeys maps command-line flags onto config keys. Flags a command does
// not define are ignored.
var flagKeys = map[string]string{
	"catalog":     config.KeyCatalog,
	"base-dir":    config.KeyBaseDir,
	"concurrency": config.KeyConcurrency,
	"deadline":    config.KeyDeadline,
	"rollback":    config.KeyRollback,
}

// loadConfig opens the config store and binds the command's flags onto it.
func (c *CLI) loadConfig(cmd *cobra.Command) error {
	store, err := config.Open(c.configPath)
	if err != nil {
		return err
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := store.Viper().BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	c.store = store
	return nil
}

// settings returns the resolved configuration for the running command.
func (c *CLI) settings() (*config.Config, error) {
	if c.store == nil {
		store, err := config.Open(c.configPath)
		if err != nil {
			return nil, err
		}
		c.store = store
	}
	cfg, err := c.store.Config()
	if err != nil {
		return nil, err
	}
	c.Logger.SetReportTimestamp(cfg.Log.Timestamps)
	return cfg, nil
}

// =============================================================================
// Runner Factory
// =============================================================================

// env bundles everything a command needs to resolve and install. Close
// releases the cache and history database.
type env struct {
	cfg    *config.Config
	runner *pipeline.Runner
	cache  cache.Cache
	hist   *history.DB
}

func (e *env) Close() {
	if e.hist != nil {
		_ = e.hist.Close()
	}
	if e.cache != nil {
		_ = e.cache.Close()
	}
}

// newEnv wires the catalog, downloader, writer, state file and history
// database. With installing false the downloader, cache and history are
// skipped so read-only commands work offline.
func (c *CLI) newEnv(ctx context.Context, installing bool) (*env, error) {
	cfg, err := c.settings()
	if err != nil {
		return nil, err
	}
	catalog, err := resource.LoadFile(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	writer, err := fsutil.NewAtomicWriter(cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	st, err := state.LoadFile(writer, cmp.Or(cfg.StateFile, state.File))
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}
	if !installing {
		e.runner = pipeline.NewRunner(catalog, nil, st, nil, c.Logger)
		return e, nil
	}

	e.cache, err = cache.Open(ctx, cfg.CacheOptions())
	if err != nil {
		// A broken cache should never block an install.
		c.Logger.Warn("download cache unavailable", "backend", cfg.Cache.Backend, "err", err)
		e.cache = cache.NewNullCache()
	}
	e.hist, err = history.Open(ctx, cfg.History.Path)
	if err != nil {
		c.Logger.Warn("install history unavailable", "path", cfg.History.Path, "err", err)
		e.hist = nil
	}

	dl := fetch.New(fetch.Options{
		Timeout:    cfg.Timeout,
		MaxRetries: retries(cfg.Retries),
		BaseDelay:  cfg.Backoff,
		MaxBytes:   cfg.MaxBytes,
		Cache:      e.cache,
		Logger:     c.Logger,
	})
	inst := install.New(dl, writer, c.Logger)
	e.runner = pipeline.NewRunner(catalog, inst, st, e.hist, c.Logger)
	return e, nil
}

// retries maps the config value, where 0 means no retries, onto
// fetch.Options, where 0 means the default.
func retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}
