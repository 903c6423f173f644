package graph

// --- Enums ---

// ElementType classifies a node in a code graph. The order of
// ElementTypes is part of the feature layout and must not change.
type ElementType string

const (
	ElementFunction   ElementType = "function"
	ElementClass      ElementType = "class"
	ElementMethod     ElementType = "method"
	ElementVariable   ElementType = "variable"
	ElementParameter  ElementType = "parameter"
	ElementImport     ElementType = "import"
	ElementModule     ElementType = "module"
	ElementStatement  ElementType = "statement"
	ElementExpression ElementType = "expression"
	ElementComment    ElementType = "comment"
	ElementUnknown    ElementType = "unknown"
)

// ElementTypes lists every element type in feature-index order.
var ElementTypes = []ElementType{
	ElementFunction, ElementClass, ElementMethod, ElementVariable,
	ElementParameter, ElementImport, ElementModule, ElementStatement,
	ElementExpression, ElementComment, ElementUnknown,
}

// Index returns the stable position of t in ElementTypes. Unrecognised
// values map to ElementUnknown.
func (t ElementType) Index() int {
	for i, et := range ElementTypes {
		if et == t {
			return i
		}
	}
	return len(ElementTypes) - 1
}

// EdgeKind classifies relationships between nodes.
type EdgeKind string

const (
	EdgeKindContains EdgeKind = "CONTAINS"
	EdgeKindImports  EdgeKind = "IMPORTS"
	EdgeKindCalls    EdgeKind = "CALLS"
	EdgeKindDefines  EdgeKind = "DEFINES"
)

// Language identifies a programming language for parsing.
type Language string

const (
	LangGo         Language = "go"
	LangTypeScript Language = "typescript"
	LangPython     Language = "python"
	LangRust       Language = "rust"
)

// Tier1Languages are the languages the tree-sitter parser handles.
var Tier1Languages = []Language{LangGo, LangTypeScript, LangPython, LangRust}

// ExtToLanguage maps file extensions to Language.
var ExtToLanguage = map[string]Language{
	".go":  LangGo,
	".ts":  LangTypeScript,
	".tsx": LangTypeScript,
	".py":  LangPython,
	".rs":  LangRust,
}

// --- Models ---

// CodeNode is one element of a code graph. ID is the node's index in
// CodeGraph.Nodes.
type CodeNode struct {
	ID           int         `json:"id"`
	ElementType  ElementType `json:"elementType"`
	Name         string      `json:"name"`
	FilePath     string      `json:"filePath"`
	Language     Language    `json:"language,omitempty"`
	StartLine    int         `json:"startLine"`
	EndLine      int         `json:"endLine"`
	Complexity   int         `json:"complexity"`
	Dependencies []string    `json:"dependencies,omitempty"`
}

// Span returns the number of source lines the node covers.
func (n CodeNode) Span() int {
	if n.EndLine < n.StartLine {
		return 0
	}
	return n.EndLine - n.StartLine + 1
}

// CodeEdge is a directed, weighted relationship between two nodes.
type CodeEdge struct {
	Source int      `json:"source"`
	Target int      `json:"target"`
	Kind   EdgeKind `json:"kind"`
	Weight float32  `json:"weight"`
}

// GraphStats summarizes the graphs held by a store.
type GraphStats struct {
	GraphCount int            `json:"graphCount"`
	NodeCount  int            `json:"nodeCount"`
	EdgeCount  int            `json:"edgeCount"`
	Languages  map[string]int `json:"languages,omitempty"`
}
