package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stackpack/pkg/cache"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the download cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.settings()
			if err != nil {
				return err
			}
			switch cfg.Cache.Backend {
			case cache.BackendFile:
				fc, err := cache.NewFileCache(cfg.Cache.Dir)
				if err != nil {
					return fmt.Errorf("open cache: %w", err)
				}
				if err := fc.Clear(); err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
				printSuccess("Cleared download cache")
				printDetail("Directory: %s", fc.Dir())
			case cache.BackendRedis:
				printWarning("Redis entries expire on their own; flush %s manually to clear them", cfg.Cache.RedisAddr)
			default:
				printInfo("Cache is disabled")
			}
			return nil
		},
	}
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.settings()
			if err != nil {
				return err
			}
			fmt.Println(cfg.Cache.Dir)
			return nil
		},
	}
}
