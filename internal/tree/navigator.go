package tree

import (
	"strings"

	"github.com/antchfx/xpath"
)

// Navigator implements xpath.NodeNavigator over a tree so that XPath
// expressions can select nodes directly. The tree root is exposed as the
// single element child of a virtual document node. Text is reported through
// Value rather than as separate text nodes.
type Navigator struct {
	root *Node
	curr *Node
	idx  int // position of curr among its parent's children
	attr int // -1 unless positioned on an attribute
	doc  bool
}

var _ xpath.NodeNavigator = (*Navigator)(nil)

// NewNavigator returns a navigator positioned on the document node above root.
func NewNavigator(root *Node) *Navigator {
	return &Navigator{root: root, curr: root, attr: -1, doc: true}
}

func (x *Navigator) NodeType() xpath.NodeType {
	switch {
	case x.doc:
		return xpath.RootNode
	case x.attr != -1:
		return xpath.AttributeNode
	default:
		return xpath.ElementNode
	}
}

func (x *Navigator) LocalName() string {
	if x.attr != -1 {
		return x.curr.Attrs[x.attr].Name
	}
	if x.doc {
		return ""
	}
	return x.curr.Tag
}

func (x *Navigator) Prefix() string { return "" }

func (x *Navigator) Value() string {
	if x.attr != -1 {
		return x.curr.Attrs[x.attr].Value
	}
	var b strings.Builder
	x.curr.Walk(func(n *Node) bool {
		b.WriteString(n.Text)
		return true
	})
	return b.String()
}

func (x *Navigator) Copy() xpath.NodeNavigator {
	n := *x
	return &n
}

func (x *Navigator) MoveToRoot() {
	x.curr, x.idx, x.attr, x.doc = x.root, 0, -1, true
}

func (x *Navigator) MoveToParent() bool {
	if x.attr != -1 {
		x.attr = -1
		return true
	}
	if x.doc {
		return false
	}
	p := x.curr.parent
	if p == nil || x.curr == x.root {
		x.doc = true
		return true
	}
	x.curr = p
	x.idx = 0
	if gp := p.parent; gp != nil {
		x.idx = gp.Index(p)
	}
	return true
}

func (x *Navigator) MoveToNextAttribute() bool {
	if x.doc || x.attr >= len(x.curr.Attrs)-1 {
		return false
	}
	x.attr++
	return true
}

func (x *Navigator) MoveToChild() bool {
	if x.attr != -1 {
		return false
	}
	if x.doc {
		x.doc = false
		x.curr, x.idx = x.root, 0
		return true
	}
	if x.curr.IsLeaf() {
		return false
	}
	x.curr, x.idx = x.curr.Children[0], 0
	return true
}

func (x *Navigator) siblings() []*Node {
	if x.doc || x.curr == x.root || x.curr.parent == nil {
		return nil
	}
	return x.curr.parent.Children
}

func (x *Navigator) MoveToFirst() bool {
	if x.attr != -1 {
		return false
	}
	sib := x.siblings()
	if len(sib) == 0 || x.idx == 0 {
		return false
	}
	x.curr, x.idx = sib[0], 0
	return true
}

func (x *Navigator) MoveToNext() bool {
	if x.attr != -1 {
		return false
	}
	sib := x.siblings()
	if x.idx+1 >= len(sib) {
		return false
	}
	x.idx++
	x.curr = sib[x.idx]
	return true
}

func (x *Navigator) MoveToPrevious() bool {
	if x.attr != -1 {
		return false
	}
	sib := x.siblings()
	if x.idx == 0 || len(sib) == 0 {
		return false
	}
	x.idx--
	x.curr = sib[x.idx]
	return true
}

func (x *Navigator) MoveTo(other xpath.NodeNavigator) bool {
	o, ok := other.(*Navigator)
	if !ok || o.root != x.root {
		return false
	}
	*x = *o
	return true
}

// Select evaluates expr against root and returns the matching nodes in
// document order. Attribute matches resolve to their owning element.
func Select(root *Node, expr *xpath.Expr) []*Node {
	var out []*Node
	iter := expr.Select(NewNavigator(root))
	for iter.MoveNext() {
		nav, ok := iter.Current().(*Navigator)
		if !ok || nav.doc {
			continue
		}
		out = append(out, nav.curr)
	}
	return out
}
