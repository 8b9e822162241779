package annotation

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// GoAnnotator extracts function, method, and type symbol spans from Go
// source via tree-sitter (type declarations inside function bodies
// included), the pack's one AST/parsing
// dependency (the `vjache-cie` example's ingestion parser).
type GoAnnotator struct{}

func NewGoAnnotator() *GoAnnotator { return &GoAnnotator{} }

func (GoAnnotator) Annotate(path string, content []byte) (Annotations, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return Annotations{Path: path, Language: "go"}, nil
	}
	defer tree.Close()

	var symbols []Symbol
	walkGo(tree.RootNode(), content, &symbols)

	return Annotations{Path: path, Language: "go", Symbols: symbols}, nil
}

func walkGo(node *sitter.Node, content []byte, out *[]Symbol) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_declaration":
		if sym, ok := goFuncSymbol(node, content, "function"); ok {
			*out = append(*out, sym)
		}
	case "method_declaration":
		if sym, ok := goFuncSymbol(node, content, "method"); ok {
			*out = append(*out, sym)
		}
	case "type_spec":
		if sym, ok := goTypeSymbol(node, content); ok {
			*out = append(*out, sym)
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walkGo(node.Child(i), content, out)
	}
}

func goFuncSymbol(node *sitter.Node, content []byte, kind string) (Symbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Symbol{}, false
	}
	return Symbol{
		Name:      string(content[nameNode.StartByte():nameNode.EndByte()]),
		Kind:      kind,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}, true
}

func goTypeSymbol(node *sitter.Node, content []byte) (Symbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Symbol{}, false
	}
	kind := "type_alias"
	if typeNode := node.ChildByFieldName("type"); typeNode != nil {
		switch typeNode.Type() {
		case "struct_type":
			kind = "struct"
		case "interface_type":
			kind = "interface"
		}
	}
	return Symbol{
		Name:      string(content[nameNode.StartByte():nameNode.EndByte()]),
		Kind:      kind,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}, true
}
