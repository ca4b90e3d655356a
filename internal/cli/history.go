package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stackpack/pkg/history"
)

// historyCommand creates the history command.
func (c *CLI) historyCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [batch-id]",
		Short: "Show past install batches",
		Long: `History lists recent install batches, newest first. Given a batch id it
prints the outcome of every resource in that batch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.settings()
			if err != nil {
				return err
			}
			db, err := history.Open(cmd.Context(), cfg.History.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 1 {
				results, err := db.Results(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, r := range results {
					printResult(r.ResourceID, r.Status, r.Error)
				}
				return nil
			}

			batches, err := db.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(batches) == 0 {
				printInfo("No installs recorded")
				return nil
			}
			for _, b := range batches {
				printBatch(b)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of batches to show")

	return cmd
}

func printBatch(b history.Batch) {
	icon, style := iconSuccess, styleIconSuccess
	switch {
	case b.Canceled:
		icon, style = iconWarning, styleIconWarning
	case b.Failed > 0 || b.RolledBack > 0:
		icon, style = iconError, styleIconError
	}
	fmt.Printf("%s %s %s\n",
		style.Render(icon),
		StyleHighlight.Render(b.ID),
		StyleDim.Render(b.StartedAt.Local().Format(time.DateTime)))
	printDetail("%s · %d installed · %d skipped · %d failed · %d rolled back · %s",
		strings.Join(b.Roots, ", "), b.Succeeded, b.Skipped, b.Failed, b.RolledBack, b.Duration)
}
