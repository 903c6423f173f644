package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dusk-indust/codegnn/internal/graph"
)

// GenerateMermaid produces a Mermaid graph TD diagram of one code graph.
// Nodes are grouped by element type; every edge becomes an arrow labelled
// with its kind.
func GenerateMermaid(g *graph.CodeGraph) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	writeGraph(&sb, g, "N", "  ")
	return sb.String()
}

// GenerateStoreMermaid renders every graph in store as its own subgraph,
// in path order.
func GenerateStoreMermaid(ctx context.Context, store graph.Store) (string, error) {
	paths, err := store.ListGraphs(ctx)
	if err != nil {
		return "", fmt.Errorf("list graphs: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for i, p := range paths {
		g, err := store.GetGraph(ctx, p)
		if err != nil {
			return "", fmt.Errorf("get graph %s: %w", p, err)
		}
		fmt.Fprintf(&sb, "  subgraph F%d[\"%s\"]\n", i, escape(shortPath(p)))
		writeGraph(&sb, g, fmt.Sprintf("F%dN", i), "    ")
		sb.WriteString("  end\n")
	}
	return sb.String(), nil
}

func writeGraph(sb *strings.Builder, g *graph.CodeGraph, prefix, indent string) {
	// Group node ids by element type, in ElementTypes order.
	groups := make(map[graph.ElementType][]int)
	for i, n := range g.Nodes {
		et := graph.ElementTypes[n.ElementType.Index()]
		groups[et] = append(groups[et], i)
	}

	for _, et := range graph.ElementTypes {
		ids := groups[et]
		if len(ids) == 0 {
			continue
		}
		fmt.Fprintf(sb, "%ssubgraph %s%s[\"%s\"]\n", indent, prefix, et, et)
		for _, id := range ids {
			fmt.Fprintf(sb, "%s  %s%d[\"%.40s\"]\n", indent, prefix, id, escape(label(g.Nodes[id])))
		}
		fmt.Fprintf(sb, "%send\n", indent)
	}

	for _, e := range g.Edges {
		if e.Source < 0 || e.Source >= len(g.Nodes) || e.Target < 0 || e.Target >= len(g.Nodes) {
			continue
		}
		fmt.Fprintf(sb, "%s%s%d -->|%s| %s%d\n", indent, prefix, e.Source, e.Kind, prefix, e.Target)
	}
}

func label(n graph.CodeNode) string {
	if n.Name == "" {
		return string(n.ElementType)
	}
	return n.Name
}

// escape replaces characters that end a quoted Mermaid label.
func escape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}

// shortPath returns the last 2 path segments for readability.
func shortPath(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= 2 {
		return path
	}
	return strings.Join(parts[len(parts)-2:], "/")
}
