package source

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/php"
)

// TreeSitter is a grammar-aware PHP parser backed by tree-sitter. A new
// sitter.Parser is created per call since it is not safe for concurrent use.
type TreeSitter struct {
	lang *sitter.Language
}

// NewTreeSitter returns the tree-sitter PHP parser.
func NewTreeSitter() *TreeSitter {
	return &TreeSitter{lang: php.GetLanguage()}
}

var (
	functionNodes = map[string]bool{"function_definition": true, "method_declaration": true}
	classNodes    = map[string]bool{"class_declaration": true, "interface_declaration": true, "trait_declaration": true}
)

type parsedTree struct {
	tree *sitter.Tree
	src  []byte
	// offset is the number of synthetic lines prepended to the source.
	offset int
}

func (p parsedTree) text(n *sitter.Node) string {
	return string(p.src[n.StartByte():n.EndByte()])
}

func (t *TreeSitter) parse(code string) (parsedTree, bool) {
	offset := 0
	if !strings.Contains(code, "<?php") {
		code = "<?php\n" + code
		offset = 1
	}
	parser := sitter.NewParser()
	parser.SetLanguage(t.lang)
	src := []byte(code)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil || tree == nil {
		return parsedTree{}, false
	}
	return parsedTree{tree: tree, src: src, offset: offset}, true
}

// walk visits n and its named descendants depth first until visit returns
// false.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) bool {
	if n == nil {
		return true
	}
	if !visit(n) {
		return false
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if !walk(n.NamedChild(i), visit) {
			return false
		}
	}
	return true
}

func (p parsedTree) nameOf(n *sitter.Node) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return p.text(name)
	}
	return ""
}

// LocateFunction finds the innermost named function or method whose span
// contains line.
func (t *TreeSitter) LocateFunction(lines []string, line int) (Function, bool) {
	if line < 1 || line > len(lines) {
		return Function{}, false
	}
	pt, ok := t.parse(strings.Join(lines, "\n"))
	if !ok {
		return Function{}, false
	}
	defer pt.tree.Close()

	row := uint32(line - 1 + pt.offset)
	var found Function
	walk(pt.tree.RootNode(), func(n *sitter.Node) bool {
		if n.StartPoint().Row > row || n.EndPoint().Row < row {
			return true
		}
		if functionNodes[n.Type()] {
			if name := pt.nameOf(n); name != "" {
				found = Function{
					Name:  name,
					Start: int(n.StartPoint().Row) + 1 - pt.offset,
					End:   int(n.EndPoint().Row) + 1 - pt.offset,
				}
			}
		}
		return true
	})
	return found, found.Name != ""
}

// References lists classes named as the scope of static calls, constant or
// property access, in new expressions, and in instanceof tests.
func (t *TreeSitter) References(body string) []string {
	pt, ok := t.parse("class LensFragment {\n" + body + "\n}")
	if !ok {
		return nil
	}
	defer pt.tree.Close()

	seen := make(map[string]bool)
	var names []string
	walk(pt.tree.RootNode(), func(n *sitter.Node) bool {
		switch n.Type() {
		case "scoped_call_expression", "scoped_property_access_expression", "class_constant_access_expression":
			scope := n.ChildByFieldName("scope")
			if scope == nil && n.NamedChildCount() > 0 {
				scope = n.NamedChild(0)
			}
			if scope != nil && isClassName(scope) {
				names = appendUnique(names, seen, pt.text(scope))
			}
		case "object_creation_expression":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				if c := n.NamedChild(i); isClassName(c) {
					names = appendUnique(names, seen, pt.text(c))
					break
				}
			}
		case "binary_expression":
			if op := n.ChildByFieldName("operator"); op != nil && pt.text(op) == "instanceof" {
				if right := n.ChildByFieldName("right"); right != nil && isClassName(right) {
					names = appendUnique(names, seen, pt.text(right))
				}
			}
		}
		return true
	})
	return names
}

func isClassName(n *sitter.Node) bool {
	switch n.Type() {
	case "name", "qualified_name", "relative_scope":
		return true
	}
	return false
}

func (t *TreeSitter) findClass(pt parsedTree, name string) *sitter.Node {
	var found *sitter.Node
	walk(pt.tree.RootNode(), func(n *sitter.Node) bool {
		if classNodes[n.Type()] && strings.EqualFold(pt.nameOf(n), name) {
			found = n
			return false
		}
		return true
	})
	return found
}

// Class returns the source of the declaration of class name.
func (t *TreeSitter) Class(name, code string) (string, bool) {
	name = shortName(name)
	pt, ok := t.parse(code)
	if !ok {
		return "", false
	}
	defer pt.tree.Close()
	n := t.findClass(pt, name)
	if n == nil {
		return "", false
	}
	return pt.text(n), true
}

// Method returns the source of method declared in class, or anywhere in
// code when class is empty.
func (t *TreeSitter) Method(class, method, code string) (string, bool) {
	pt, ok := t.parse(code)
	if !ok {
		return "", false
	}
	defer pt.tree.Close()

	root := pt.tree.RootNode()
	if class != "" {
		if root = t.findClass(pt, shortName(class)); root == nil {
			return "", false
		}
	}
	var found string
	walk(root, func(n *sitter.Node) bool {
		if functionNodes[n.Type()] && strings.EqualFold(pt.nameOf(n), method) {
			if body := n.ChildByFieldName("body"); body != nil {
				found = pt.text(n)
				return false
			}
		}
		return true
	})
	return found, found != ""
}

// ParentOf returns the class named in the base clause of class.
func (t *TreeSitter) ParentOf(class, code string) (string, bool) {
	pt, ok := t.parse(code)
	if !ok {
		return "", false
	}
	defer pt.tree.Close()
	n := t.findClass(pt, shortName(class))
	if n == nil {
		return "", false
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() != "base_clause" {
			continue
		}
		for j := 0; j < int(c.NamedChildCount()); j++ {
			if base := c.NamedChild(j); isClassName(base) {
				return shortName(pt.text(base)), true
			}
		}
	}
	return "", false
}
