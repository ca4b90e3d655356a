package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configCommand creates the config command.
func (c *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.settings()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting in the config file",
		Example: `  stackpack config set concurrency 8
  stackpack config set cache.backend redis`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.store.Set(args[0], args[1]); err != nil {
				return err
			}
			printSuccess("Set %s = %s", args[0], args[1])
			printFile(c.store.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(c.store.Path())
			return nil
		},
	})

	return cmd
}
