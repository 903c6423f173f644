package graph

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

var pySpec = &langSpec{
	definitions: map[string]ElementType{
		"function_definition":     ElementFunction,
		"class_definition":        ElementClass,
		"typed_parameter":         ElementParameter,
		"default_parameter":       ElementParameter,
		"typed_default_parameter": ElementParameter,
	},
	imports: set("import_statement", "import_from_statement"),
	calls:   set("call"),
	branches: set(
		"if_statement", "elif_clause", "for_statement", "while_statement",
		"except_clause", "conditional_expression", "boolean_operator",
		"case_clause",
	),
	comments:    set("comment"),
	importPaths: pyImportPaths,
}

func pyImportPaths(node *tree_sitter.Node, source []byte) []string {
	if node.Kind() == "import_from_statement" {
		if mod := node.ChildByFieldName("module_name"); mod != nil {
			return []string{mod.Utf8Text(source)}
		}
		if texts := childTexts(node, source, "dotted_name", "relative_import"); len(texts) > 0 {
			return texts[:1]
		}
		return nil
	}

	// import a.b, c as d
	var out []string
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			out = append(out, child.Utf8Text(source))
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				out = append(out, name.Utf8Text(source))
			}
		}
	}
	return out
}
