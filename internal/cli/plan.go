package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stackpack/pkg/dag/transform"
	"github.com/matzehuels/stackpack/pkg/pipeline"
	"github.com/matzehuels/stackpack/pkg/render/nodelink"
	"github.com/matzehuels/stackpack/pkg/resolve"
)

// planCommand creates the plan command.
func (c *CLI) planCommand() *cobra.Command {
	var opts pipeline.Options

	cmd := &cobra.Command{
		Use:   "plan <id>...",
		Short: "Show the install order for resources without installing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Roots = args
			plan, err := c.resolve(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printPlan(plan)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.IncludeRecommended, "recommended", false, "include recommended dependencies")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "plan to reinstall resources that are already installed")

	return cmd
}

// graphCommand creates the graph command.
func (c *CLI) graphCommand() *cobra.Command {
	var (
		opts     pipeline.Options
		detailed bool
		reduce   bool
		svgPath  string
		pngPath  string
	)

	cmd := &cobra.Command{
		Use:   "graph <id>...",
		Short: "Render the dependency graph of resources",
		Long: `Graph prints the resolved dependency graph as Graphviz DOT. With --svg or
--png it renders the graph in-process instead; no Graphviz installation is
needed. Installed resources are drawn grey and recommended edges dashed.`,
		Example: `  stackpack graph reviewer | dot -Tsvg > graph.svg
  stackpack graph reviewer --recommended --svg graph.svg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts.Roots = args
			plan, err := c.resolve(ctx, opts)
			if err != nil {
				return err
			}

			if reduce {
				n := transform.TransitiveReduction(plan.Graph.DAG)
				c.Logger.Debug("removed transitive edges", "edges", n)
			}
			dot := nodelink.ToDOT(plan.Graph, nodelink.Options{
				Detailed:  detailed,
				Installed: resolve.NewSet(plan.Installed...),
			})
			if svgPath == "" && pngPath == "" {
				_, err := os.Stdout.WriteString(dot)
				return err
			}
			if svgPath != "" {
				if err := writeRendered(ctx, svgPath, dot, nodelink.RenderSVG); err != nil {
					return err
				}
			}
			if pngPath != "" {
				if err := writeRendered(ctx, pngPath, dot, nodelink.RenderPNG); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.IncludeRecommended, "recommended", false, "include recommended dependencies")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "show type and version in node labels")
	cmd.Flags().BoolVar(&reduce, "reduce", false, "hide edges implied by longer dependency paths")
	cmd.Flags().StringVar(&svgPath, "svg", "", "write an SVG rendering to this file")
	cmd.Flags().StringVar(&pngPath, "png", "", "write a PNG rendering to this file")

	return cmd
}

func (c *CLI) resolve(ctx context.Context, opts pipeline.Options) (*resolve.Plan, error) {
	e, err := c.newEnv(ctx, false)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	prog := newProgress(c.Logger)
	plan, err := e.runner.Resolve(opts)
	if err != nil {
		return nil, err
	}
	prog.done("Resolved %d resources", len(plan.Order))
	return plan, nil
}

func writeRendered(ctx context.Context, path, dot string, render func(context.Context, string) ([]byte, error)) error {
	data, err := render(ctx, dot)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	printFile(path)
	return nil
}
