package graph

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ErrGraphNotFound is returned by stores when no graph exists for a path.
var ErrGraphNotFound = errors.New("graph not found")

// CodeGraph is a directed graph of code elements for one source file (or
// any other unit the caller chooses). Node ids are indices into Nodes.
type CodeGraph struct {
	FilePath string     `json:"filePath"`
	Language Language   `json:"language,omitempty"`
	Nodes    []CodeNode `json:"nodes"`
	Edges    []CodeEdge `json:"edges"`
}

// NewCodeGraph returns an empty graph for path.
func NewCodeGraph(path string, lang Language) *CodeGraph {
	return &CodeGraph{FilePath: path, Language: lang}
}

// AddNode appends n, assigns its ID and returns it.
func (g *CodeGraph) AddNode(n CodeNode) int {
	n.ID = len(g.Nodes)
	if n.FilePath == "" {
		n.FilePath = g.FilePath
	}
	if n.Language == "" {
		n.Language = g.Language
	}
	g.Nodes = append(g.Nodes, n)
	return n.ID
}

// AddEdge appends a directed edge. A non-positive weight becomes 1.
func (g *CodeGraph) AddEdge(source, target int, kind EdgeKind, weight float32) {
	if weight <= 0 {
		weight = 1
	}
	g.Edges = append(g.Edges, CodeEdge{Source: source, Target: target, Kind: kind, Weight: weight})
}

// NodeCount returns the number of nodes.
func (g *CodeGraph) NodeCount() int { return len(g.Nodes) }

// EdgeCount returns the number of edges.
func (g *CodeGraph) EdgeCount() int { return len(g.Edges) }

// Neighbors returns the targets of id's outgoing edges in insertion order.
// It scans every edge; use Adjacency for repeated lookups.
func (g *CodeGraph) Neighbors(id int) []int {
	var out []int
	for _, e := range g.Edges {
		if e.Source == id && g.inRange(e) {
			out = append(out, e.Target)
		}
	}
	return out
}

// Adjacency returns every node's outgoing neighbors, keeping at most
// maxNeighbors per node in edge order. maxNeighbors <= 0 keeps all.
// Edges pointing outside the node range are ignored.
func (g *CodeGraph) Adjacency(maxNeighbors int) map[int][]int {
	out := make(map[int][]int, len(g.Nodes))
	for _, e := range g.Edges {
		if !g.inRange(e) {
			continue
		}
		if maxNeighbors > 0 && len(out[e.Source]) >= maxNeighbors {
			continue
		}
		out[e.Source] = append(out[e.Source], e.Target)
	}
	return out
}

func (g *CodeGraph) inRange(e CodeEdge) bool {
	n := len(g.Nodes)
	return e.Source >= 0 && e.Source < n && e.Target >= 0 && e.Target < n
}

// LanguageCounts returns the number of nodes per language.
func (g *CodeGraph) LanguageCounts() map[string]int {
	out := make(map[string]int)
	for _, n := range g.Nodes {
		lang := n.Language
		if lang == "" {
			lang = g.Language
		}
		if lang == "" {
			lang = "unknown"
		}
		out[string(lang)]++
	}
	return out
}

// Fingerprint is a 64-bit xxhash over every node and edge attribute that
// feeds the embedding. File paths are excluded so that identical content
// under two paths shares a fingerprint.
func (g *CodeGraph) Fingerprint() string {
	d := xxhash.New()
	var buf [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = d.Write(buf[:])
	}
	writeStr := func(s string) {
		writeInt(len(s))
		_, _ = d.WriteString(s)
	}

	writeStr(string(g.Language))
	writeInt(len(g.Nodes))
	for _, n := range g.Nodes {
		writeStr(string(n.ElementType))
		writeStr(n.Name)
		writeStr(string(n.Language))
		writeInt(n.StartLine)
		writeInt(n.EndLine)
		writeInt(n.Complexity)
		writeInt(len(n.Dependencies))
		for _, dep := range n.Dependencies {
			writeStr(dep)
		}
	}
	writeInt(len(g.Edges))
	for _, e := range g.Edges {
		writeInt(e.Source)
		writeInt(e.Target)
		writeStr(string(e.Kind))
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(e.Weight))
		_, _ = d.Write(buf[:4])
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// Validate reports edges that reference nodes outside the graph and nodes
// whose ID does not match their index.
func (g *CodeGraph) Validate() error {
	for i, n := range g.Nodes {
		if n.ID != i {
			return fmt.Errorf("node %d has id %d", i, n.ID)
		}
	}
	for i, e := range g.Edges {
		if !g.inRange(e) {
			return fmt.Errorf("edge %d (%d->%d) references a missing node", i, e.Source, e.Target)
		}
	}
	return nil
}

// ReadGraphFile loads a CodeGraph stored as JSON.
func ReadGraphFile(path string) (*CodeGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	var g CodeGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode graph file %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph file %s: %w", path, err)
	}
	return &g, nil
}

// WriteGraphFile stores g as indented JSON, creating parent directories.
func WriteGraphFile(path string, g *CodeGraph) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create graph dir: %w", err)
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Clone returns a deep copy of g.
func (g *CodeGraph) Clone() *CodeGraph {
	out := &CodeGraph{
		FilePath: g.FilePath,
		Language: g.Language,
		Nodes:    make([]CodeNode, len(g.Nodes)),
		Edges:    append([]CodeEdge(nil), g.Edges...),
	}
	for i, n := range g.Nodes {
		n.Dependencies = append([]string(nil), n.Dependencies...)
		out.Nodes[i] = n
	}
	return out
}
