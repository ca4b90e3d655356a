package nodelink

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/stackpack/pkg/resolve"
)

// Options configures node-link diagram rendering.
type Options struct {
	// Detailed adds type and version to node labels.
	// When false, only the resource id is shown.
	Detailed bool

	// Installed marks resources that are already present; they are drawn
	// grey. Nil draws every node the same.
	Installed resolve.InstalledSet
}

// ToDOT converts a resolved dependency graph to Graphviz DOT.
// Edges point from a resource to what it depends on. Roots are drawn with a
// heavy outline, recommended edges are dashed, and recommended resources
// missing from the catalog appear as dotted red nodes.
func ToDOT(g *resolve.Graph, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	for _, n := range g.DAG.Nodes() {
		attrs := []string{fmt.Sprintf("label=%q", label(g, n.ID, opts.Detailed))}
		if slices.Contains(g.Roots, n.ID) {
			attrs = append(attrs, "penwidth=2")
		}
		if opts.Installed != nil && opts.Installed.Has(n.ID) {
			attrs = append(attrs, "fillcolor=lightgrey", "fontcolor=dimgrey")
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", n.ID, strings.Join(attrs, ", "))
	}
	for _, m := range g.Missing {
		fmt.Fprintf(&buf, "  %q [label=%q, style=\"rounded,dotted\", color=red, fontcolor=red];\n", m.ID, m.ID+"\n(missing)")
	}

	buf.WriteString("\n")
	for _, e := range g.DAG.Edges() {
		if e.Meta[resolve.MetaKind] == resolve.KindRecommended {
			fmt.Fprintf(&buf, "  %q -> %q [style=dashed];\n", e.From, e.To)
			continue
		}
		fmt.Fprintf(&buf, "  %q -> %q;\n", e.From, e.To)
	}
	for _, m := range g.Missing {
		fmt.Fprintf(&buf, "  %q -> %q [style=dotted, color=red];\n", m.WantedBy, m.ID)
	}

	buf.WriteString("}\n")
	return buf.String()
}

func label(g *resolve.Graph, id string, detailed bool) string {
	d := g.Descriptor(id)
	if !detailed || d == nil {
		return id
	}
	parts := []string{id, string(d.Type)}
	if d.Version != "" {
		parts = append(parts, "v"+strings.TrimPrefix(d.Version, "v"))
	}
	return strings.Join(parts, "\n")
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	out, err := render(ctx, dot, graphviz.SVG)
	if err != nil {
		return nil, err
	}
	return normalizeViewBox(out), nil
}

// RenderPNG renders a DOT graph to PNG using Graphviz.
func RenderPNG(ctx context.Context, dot string) ([]byte, error) {
	return render(ctx, dot, graphviz.PNG)
}

func render(ctx context.Context, dot string, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, format, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	newSvg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(newSvg))
}
