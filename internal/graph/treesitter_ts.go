package graph

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

var tsSpec = &langSpec{
	definitions: map[string]ElementType{
		"function_declaration":   ElementFunction,
		"method_definition":      ElementMethod,
		"class_declaration":      ElementClass,
		"interface_declaration":  ElementClass,
		"enum_declaration":       ElementClass,
		"type_alias_declaration": ElementClass,
		"variable_declarator":    ElementVariable,
		"required_parameter":     ElementParameter,
		"optional_parameter":     ElementParameter,
	},
	imports: set("import_statement"),
	calls:   set("call_expression"),
	branches: set(
		"if_statement", "for_statement", "for_in_statement", "while_statement",
		"do_statement", "switch_case", "catch_clause", "ternary_expression",
	),
	comments:    set("comment"),
	importPaths: tsImportPaths,
}

func tsImportPaths(node *tree_sitter.Node, source []byte) []string {
	src := node.ChildByFieldName("source")
	if src == nil {
		return nil
	}
	return []string{strings.Trim(src.Utf8Text(source), "\"'`")}
}
