package graph

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// langSpec is the per-language table that drives graph extraction.
type langSpec struct {
	// definitions maps AST node kinds to the element they introduce.
	definitions map[string]ElementType
	imports     map[string]bool
	calls       map[string]bool
	// branches are decision points; each adds one to the enclosing
	// definition's complexity.
	branches map[string]bool
	comments map[string]bool
	// importPaths extracts the imported module names from an import node.
	importPaths func(node *tree_sitter.Node, source []byte) []string
}

// TreeSitterParser implements Parser with tree-sitter grammars. A new
// tree-sitter parser is created per Parse call, so one TreeSitterParser
// may be shared by concurrent callers.
type TreeSitterParser struct {
	languages map[Language]*tree_sitter.Language
	specs     map[Language]*langSpec
}

// NewTreeSitterParser creates a TreeSitterParser with Go, TypeScript,
// Python, and Rust grammars registered.
func NewTreeSitterParser() *TreeSitterParser {
	return &TreeSitterParser{
		languages: map[Language]*tree_sitter.Language{
			LangGo:         tree_sitter.NewLanguage(tree_sitter_go.Language()),
			LangTypeScript: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
			LangPython:     tree_sitter.NewLanguage(tree_sitter_python.Language()),
			LangRust:       tree_sitter.NewLanguage(tree_sitter_rust.Language()),
		},
		specs: map[Language]*langSpec{
			LangGo:         goSpec,
			LangTypeScript: tsSpec,
			LangPython:     pySpec,
			LangRust:       rsSpec,
		},
	}
}

// Parse builds the code graph of one file. Node 0 is always the module
// node for the file.
func (p *TreeSitterParser) Parse(ctx context.Context, path string, source []byte, lang Language) (*CodeGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tsLang, ok := p.languages[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
	spec := p.specs[lang]

	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(tsLang); err != nil {
		return nil, fmt.Errorf("set language %s: %w", lang, err)
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned nil tree for %s", path)
	}
	defer tree.Close()

	g := NewCodeGraph(path, lang)
	module := g.AddNode(CodeNode{
		ElementType: ElementModule,
		Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		StartLine:   1,
		EndLine:     countLOC(source),
		Complexity:  1,
	})

	b := &builder{spec: spec, source: source, g: g, scopes: []int{module}}
	cursor := tree.RootNode().Walk()
	defer cursor.Close()
	b.walk(cursor)
	b.resolveCalls()

	return g, nil
}

// SupportedLanguages returns the languages this parser can handle, sorted.
func (p *TreeSitterParser) SupportedLanguages() []Language {
	langs := make([]Language, 0, len(p.languages))
	for l := range p.languages {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	return langs
}

// Close is a no-op because parsers are created per Parse call.
func (p *TreeSitterParser) Close() error {
	return nil
}

type pendingCall struct {
	scope  int
	callee string
}

// builder accumulates one file's graph during the AST walk.
type builder struct {
	spec   *langSpec
	source []byte
	g      *CodeGraph
	scopes []int
	calls  []pendingCall
}

func (b *builder) scope() int { return b.scopes[len(b.scopes)-1] }

func (b *builder) walk(cursor *tree_sitter.TreeCursor) {
	node := cursor.Node()
	kind := node.Kind()
	scope := b.scope()
	pushed := false

	if et, ok := b.spec.definitions[kind]; ok {
		if et == ElementFunction && b.g.Nodes[scope].ElementType == ElementClass {
			et = ElementMethod
		}
		id := b.g.AddNode(CodeNode{
			ElementType: et,
			Name:        nameOf(node, b.source),
			StartLine:   int(node.StartPosition().Row) + 1,
			EndLine:     int(node.EndPosition().Row) + 1,
			Complexity:  baseComplexity(et),
		})
		b.g.AddEdge(scope, id, EdgeKindContains, 1)
		switch et {
		case ElementFunction, ElementMethod, ElementClass:
			b.scopes = append(b.scopes, id)
			pushed = true
		}
	} else if b.spec.imports[kind] {
		b.addImports(node, scope)
	} else if b.spec.calls[kind] {
		if callee := calleeOf(node, b.source); callee != "" {
			b.calls = append(b.calls, pendingCall{scope: scope, callee: callee})
		}
	} else if b.spec.comments[kind] {
		id := b.g.AddNode(CodeNode{
			ElementType: ElementComment,
			StartLine:   int(node.StartPosition().Row) + 1,
			EndLine:     int(node.EndPosition().Row) + 1,
		})
		b.g.AddEdge(scope, id, EdgeKindContains, 1)
	}
	if b.spec.branches[kind] {
		b.g.Nodes[scope].Complexity++
	}

	if cursor.GotoFirstChild() {
		b.walk(cursor)
		for cursor.GotoNextSibling() {
			b.walk(cursor)
		}
		cursor.GotoParent()
	}
	if pushed {
		b.scopes = b.scopes[:len(b.scopes)-1]
	}
}

func (b *builder) addImports(node *tree_sitter.Node, scope int) {
	for _, path := range b.spec.importPaths(node, b.source) {
		if path == "" {
			continue
		}
		id := b.g.AddNode(CodeNode{
			ElementType: ElementImport,
			Name:        path,
			StartLine:   int(node.StartPosition().Row) + 1,
			EndLine:     int(node.EndPosition().Row) + 1,
		})
		b.g.AddEdge(scope, id, EdgeKindImports, 0.5)
		b.g.Nodes[0].Dependencies = appendUnique(b.g.Nodes[0].Dependencies, path)
	}
}

// resolveCalls links call sites to definitions in the same file by the
// callee's last name segment. Calls that match nothing are recorded as
// dependencies of the calling scope. Repeated calls raise the edge weight.
func (b *builder) resolveCalls() {
	defs := make(map[string]int)
	for _, n := range b.g.Nodes {
		switch n.ElementType {
		case ElementFunction, ElementMethod, ElementClass:
			if _, seen := defs[n.Name]; !seen && n.Name != "" {
				defs[n.Name] = n.ID
			}
		}
	}

	edgeIndex := make(map[[2]int]int)
	for _, c := range b.calls {
		target, ok := defs[lastSegment(c.callee)]
		if !ok {
			b.g.Nodes[c.scope].Dependencies = appendUnique(b.g.Nodes[c.scope].Dependencies, c.callee)
			continue
		}
		key := [2]int{c.scope, target}
		if i, ok := edgeIndex[key]; ok {
			b.g.Edges[i].Weight++
			continue
		}
		edgeIndex[key] = len(b.g.Edges)
		b.g.AddEdge(c.scope, target, EdgeKindCalls, 1)
	}
}

const maxNameLen = 128

// nameOf returns the node's name: the "name" or "pattern" field, else the
// first identifier child, else the "type" field.
func nameOf(node *tree_sitter.Node, source []byte) string {
	n := node.ChildByFieldName("name")
	if n == nil {
		n = node.ChildByFieldName("pattern")
	}
	if n == nil {
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child == nil {
				continue
			}
			switch child.Kind() {
			case "identifier", "type_identifier", "field_identifier":
				n = child
			}
			if n != nil {
				break
			}
		}
	}
	if n == nil {
		n = node.ChildByFieldName("type")
	}
	if n == nil {
		return ""
	}
	name := strings.TrimSpace(n.Utf8Text(source))
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

func calleeOf(node *tree_sitter.Node, source []byte) string {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	callee := fn.Utf8Text(source)
	if len(callee) > maxNameLen || strings.ContainsAny(callee, "\n(") {
		return ""
	}
	return callee
}

func lastSegment(name string) string {
	if i := strings.LastIndexAny(name, ".:"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func baseComplexity(et ElementType) int {
	switch et {
	case ElementFunction, ElementMethod:
		return 1
	}
	return 0
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// childTexts returns the text of direct children whose kind is in kinds.
func childTexts(node *tree_sitter.Node, source []byte, kinds ...string) []string {
	var out []string
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && slices.Contains(kinds, child.Kind()) {
			out = append(out, child.Utf8Text(source))
		}
	}
	return out
}

// countLOC counts the number of lines in source by counting newline bytes
// and adding one for the final line if the source is non-empty.
func countLOC(source []byte) int {
	if len(source) == 0 {
		return 0
	}
	return bytes.Count(source, []byte{'\n'}) + 1
}

func set(kinds ...string) map[string]bool {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}
