package graph

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

var rsSpec = &langSpec{
	definitions: map[string]ElementType{
		"function_item":   ElementFunction,
		"struct_item":     ElementClass,
		"enum_item":       ElementClass,
		"trait_item":      ElementClass,
		"type_item":       ElementClass,
		"impl_item":       ElementClass,
		"const_item":      ElementVariable,
		"static_item":     ElementVariable,
		"let_declaration": ElementVariable,
		"parameter":       ElementParameter,
	},
	imports: set("use_declaration"),
	calls:   set("call_expression"),
	branches: set(
		"if_expression", "match_arm", "for_expression", "while_expression",
		"loop_expression", "try_expression",
	),
	comments:    set("line_comment", "block_comment"),
	importPaths: rsImportPaths,
}

func rsImportPaths(node *tree_sitter.Node, source []byte) []string {
	arg := node.ChildByFieldName("argument")
	if arg == nil {
		return nil
	}
	return []string{arg.Utf8Text(source)}
}
