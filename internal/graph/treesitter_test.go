package graph

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// findNode returns the first node with the given type and name, or nil.
func findNode(g *CodeGraph, et ElementType, name string) *CodeNode {
	for i := range g.Nodes {
		if g.Nodes[i].ElementType == et && g.Nodes[i].Name == name {
			return &g.Nodes[i]
		}
	}
	return nil
}

// countType returns the number of nodes of the given type.
func countType(g *CodeGraph, et ElementType) int {
	n := 0
	for _, node := range g.Nodes {
		if node.ElementType == et {
			n++
		}
	}
	return n
}

// findEdge returns the first edge source->target of the given kind, or nil.
func findEdge(g *CodeGraph, source, target int, kind EdgeKind) *CodeEdge {
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Source == source && e.Target == target && e.Kind == kind {
			return e
		}
	}
	return nil
}

// readFixture reads a test fixture file relative to the project root.
// Tests run from internal/graph/, so the relative path is ../../testdata/...
func readFixture(t *testing.T, relPath string) []byte {
	t.Helper()
	data, err := os.ReadFile("../../" + relPath)
	require.NoError(t, err, "reading fixture %s", relPath)
	return data
}

// mustNode fails the test when the node is missing.
func mustNode(t *testing.T, g *CodeGraph, et ElementType, name string) *CodeNode {
	t.Helper()
	n := findNode(g, et, name)
	require.NotNil(t, n, "expected %s %q", et, name)
	assert.Greater(t, n.StartLine, 0, "StartLine should be > 0 for %s", name)
	assert.LessOrEqual(t, n.StartLine, n.EndLine, "StartLine <= EndLine for %s", name)
	return n
}

func parse(t *testing.T, path string, src []byte, lang Language) *CodeGraph {
	t.Helper()
	p := NewTreeSitterParser()
	defer p.Close()
	g, err := p.Parse(context.Background(), path, src, lang)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	return g
}

// ---------------------------------------------------------------------------
// TestTreeSitterParser_SupportedLanguages
// ---------------------------------------------------------------------------

func TestTreeSitterParser_SupportedLanguages(t *testing.T) {
	p := NewTreeSitterParser()
	defer p.Close()

	langs := p.SupportedLanguages()
	assert.Equal(t, []Language{LangGo, LangPython, LangRust, LangTypeScript}, langs)
}

func TestTreeSitterParser_Unsupported(t *testing.T) {
	p := NewTreeSitterParser()
	_, err := p.Parse(context.Background(), "a.rb", []byte("puts 1"), Language("ruby"))
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestTreeSitterParser_CancelledContext(t *testing.T) {
	p := NewTreeSitterParser()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Parse(ctx, "a.go", []byte("package a"), LangGo)
	assert.ErrorIs(t, err, context.Canceled)
}

// ---------------------------------------------------------------------------
// Go
// ---------------------------------------------------------------------------

func TestTreeSitterParser_GoFixture(t *testing.T) {
	g := parse(t, "go_project/service.go", readFixture(t, "testdata/fixtures/go_project/service.go"), LangGo)

	module := g.Nodes[0]
	assert.Equal(t, ElementModule, module.ElementType)
	assert.Equal(t, "service", module.Name)
	assert.Equal(t, 1, module.StartLine)
	assert.Contains(t, module.Dependencies, "fmt")

	for _, n := range g.Nodes {
		assert.Equal(t, "go_project/service.go", n.FilePath)
		assert.Equal(t, LangGo, n.Language)
	}

	svc := mustNode(t, g, ElementClass, "UserService")
	ctor := mustNode(t, g, ElementFunction, "NewUserService")
	get := mustNode(t, g, ElementMethod, "GetUser")
	create := mustNode(t, g, ElementMethod, "CreateUser")
	imp := mustNode(t, g, ElementImport, "fmt")

	assert.NotNil(t, findEdge(g, 0, svc.ID, EdgeKindContains))
	assert.NotNil(t, findEdge(g, 0, ctor.ID, EdgeKindContains))
	e := findEdge(g, 0, imp.ID, EdgeKindImports)
	require.NotNil(t, e)
	assert.InDelta(t, 0.5, e.Weight, 1e-6)

	assert.Equal(t, 1, ctor.Complexity)
	assert.Equal(t, 2, get.Complexity)
	assert.Equal(t, 2, create.Complexity)

	// newUser lives in model.go, so the call stays unresolved.
	assert.Contains(t, create.Dependencies, "newUser")
	assert.Contains(t, get.Dependencies, "fmt.Errorf")

	assert.Greater(t, countType(g, ElementComment), 0)
	assert.Greater(t, countType(g, ElementParameter), 0)
}

func TestTreeSitterParser_GoCalls(t *testing.T) {
	src := []byte(`package p

func helper() int { return 1 }

func run(x int) int {
	if x > 0 {
		return helper() + helper()
	}
	return 0
}
`)
	g := parse(t, "p.go", src, LangGo)

	helper := mustNode(t, g, ElementFunction, "helper")
	run := mustNode(t, g, ElementFunction, "run")
	assert.Equal(t, 2, run.Complexity)
	assert.Equal(t, 1, helper.Complexity)

	e := findEdge(g, run.ID, helper.ID, EdgeKindCalls)
	require.NotNil(t, e)
	assert.InDelta(t, 2.0, e.Weight, 1e-6, "repeated calls raise the weight")
	assert.Empty(t, run.Dependencies)

	assert.Contains(t, g.Neighbors(run.ID), helper.ID)
}

func TestTreeSitterParser_EmptySource(t *testing.T) {
	g := parse(t, "empty.go", nil, LangGo)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, ElementModule, g.Nodes[0].ElementType)
	assert.Equal(t, 0, g.Nodes[0].EndLine)
	assert.Empty(t, g.Edges)
}

// ---------------------------------------------------------------------------
// Python
// ---------------------------------------------------------------------------

func TestTreeSitterParser_Python(t *testing.T) {
	g := parse(t, "py_project/greeter.py", readFixture(t, "testdata/fixtures/py_project/greeter.py"), LangPython)

	assert.Equal(t, "greeter", g.Nodes[0].Name)
	assert.Contains(t, g.Nodes[0].Dependencies, "os")
	assert.Contains(t, g.Nodes[0].Dependencies, "typing")
	mustNode(t, g, ElementImport, "os")
	mustNode(t, g, ElementImport, "typing")

	cls := mustNode(t, g, ElementClass, "Greeter")
	greet := mustNode(t, g, ElementMethod, "greet")
	main := mustNode(t, g, ElementFunction, "main")

	assert.NotNil(t, findEdge(g, cls.ID, greet.ID, EdgeKindContains), "method is contained by its class")
	assert.Equal(t, 2, greet.Complexity)
	assert.Equal(t, 2, main.Complexity)

	assert.NotNil(t, findEdge(g, main.ID, cls.ID, EdgeKindCalls))
	assert.NotNil(t, findEdge(g, main.ID, greet.ID, EdgeKindCalls))
	assert.Contains(t, main.Dependencies, "print")

	assert.NotNil(t, findNode(g, ElementParameter, "name"))
}

// ---------------------------------------------------------------------------
// TypeScript
// ---------------------------------------------------------------------------

func TestTreeSitterParser_TypeScript(t *testing.T) {
	g := parse(t, "ts_project/shapes.ts", readFixture(t, "testdata/fixtures/ts_project/shapes.ts"), LangTypeScript)

	assert.Contains(t, g.Nodes[0].Dependencies, "fs")
	mustNode(t, g, ElementImport, "fs")

	mustNode(t, g, ElementClass, "Shape")
	circle := mustNode(t, g, ElementClass, "Circle")
	area := mustNode(t, g, ElementMethod, "area")
	total := mustNode(t, g, ElementFunction, "total")
	load := mustNode(t, g, ElementFunction, "load")

	assert.NotNil(t, findEdge(g, circle.ID, area.ID, EdgeKindContains))
	assert.Equal(t, 2, area.Complexity)
	assert.Equal(t, 2, total.Complexity)
	assert.NotNil(t, findEdge(g, total.ID, area.ID, EdgeKindCalls))
	assert.Contains(t, load.Dependencies, "readFileSync")

	assert.NotNil(t, findNode(g, ElementParameter, "shapes"))
}

// ---------------------------------------------------------------------------
// Rust
// ---------------------------------------------------------------------------

func TestTreeSitterParser_Rust(t *testing.T) {
	g := parse(t, "rs_project/counter.rs", readFixture(t, "testdata/fixtures/rs_project/counter.rs"), LangRust)

	assert.Contains(t, g.Nodes[0].Dependencies, "std::collections::HashMap")
	mustNode(t, g, ElementImport, "std::collections::HashMap")

	assert.GreaterOrEqual(t, countType(g, ElementClass), 2, "struct and impl")
	add := mustNode(t, g, ElementMethod, "add")
	main := mustNode(t, g, ElementFunction, "main")

	assert.Equal(t, 2, add.Complexity)
	assert.NotNil(t, findEdge(g, main.ID, add.ID, EdgeKindCalls))
	assert.Contains(t, main.Dependencies, "HashMap::new")
	assert.Greater(t, countType(g, ElementComment), 0)
}
