// Package nodelink renders resolved dependency graphs as node-link diagrams.
//
// # Usage
//
// Convert a graph to DOT, then optionally render it in-process:
//
//	dot := nodelink.ToDOT(plan.Graph, nodelink.Options{Detailed: true})
//	svg, err := nodelink.RenderSVG(ctx, dot)
//	png, err := nodelink.RenderPNG(ctx, dot)
//
// The DOT source can also be saved and processed with external Graphviz
// tools. Layout is top-to-bottom (rankdir=TB): dependents above their
// dependencies.
//
// # Dependencies
//
// This package uses [github.com/goccy/go-graphviz] for in-process
// rendering; no Graphviz installation is needed.
package nodelink
