package graph

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

var goSpec = &langSpec{
	definitions: map[string]ElementType{
		"function_declaration":  ElementFunction,
		"method_declaration":    ElementMethod,
		"type_spec":             ElementClass,
		"var_spec":              ElementVariable,
		"const_spec":            ElementVariable,
		"parameter_declaration": ElementParameter,
	},
	imports: set("import_spec"),
	calls:   set("call_expression"),
	branches: set(
		"if_statement", "for_statement", "expression_case", "type_case",
		"communication_case", "select_statement",
	),
	comments:    set("comment"),
	importPaths: goImportPaths,
}

func goImportPaths(node *tree_sitter.Node, source []byte) []string {
	pathNode := node.ChildByFieldName("path")
	if pathNode == nil {
		texts := childTexts(node, source, "interpreted_string_literal", "raw_string_literal")
		if len(texts) == 0 {
			return nil
		}
		return []string{strings.Trim(texts[0], "\"`")}
	}
	return []string{strings.Trim(pathNode.Utf8Text(source), "\"`")}
}
