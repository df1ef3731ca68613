// Package tree holds the element tree produced by the PDF converter and the
// primitives the annotation pipeline uses to query and restructure it.
package tree

// Attr is a single element attribute. Nodes keep attributes in insertion
// order so serialized output is deterministic.
type Attr struct {
	Name  string
	Value string
}

// Node is one element of the document tree. Leaves carry text and a bbox
// attribute in document space; internal nodes only group children.
type Node struct {
	Tag      string
	Text     string
	Attrs    []Attr
	Children []*Node

	parent *Node
}

// NewElement creates a detached node with the given tag and attributes.
func NewElement(tag string, attrs ...Attr) *Node {
	n := &Node{Tag: tag}
	for _, a := range attrs {
		n.SetAttr(a.Name, a.Value)
	}
	return n
}

// Parent returns the node's parent, or nil for the root or a detached node.
func (n *Node) Parent() *Node { return n.parent }

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets an attribute, keeping its position if it already exists.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// Index returns the position of child c among n's children, or -1.
func (n *Node) Index(c *Node) int {
	for i, child := range n.Children {
		if child == c {
			return i
		}
	}
	return -1
}

// AppendChild detaches c from its current parent and appends it to n.
func (n *Node) AppendChild(c *Node) {
	c.Detach()
	c.parent = n
	n.Children = append(n.Children, c)
}

// InsertChild detaches c from its current parent and inserts it at position
// i of n's children. i is clamped to the valid range.
func (n *Node) InsertChild(i int, c *Node) {
	c.Detach()
	if i < 0 {
		i = 0
	}
	if i > len(n.Children) {
		i = len(n.Children)
	}
	n.Children = append(n.Children, nil)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = c
	c.parent = n
}

// RemoveChild removes c from n's children and clears its parent.
func (n *Node) RemoveChild(c *Node) bool {
	i := n.Index(c)
	if i < 0 {
		return false
	}
	n.Children = append(n.Children[:i:i], n.Children[i+1:]...)
	c.parent = nil
	return true
}

// Detach removes n from its parent, if any.
func (n *Node) Detach() {
	if n.parent != nil {
		n.parent.RemoveChild(n)
	}
}

// SetChildren replaces n's children with cs and re-parents every node in cs.
// Nodes in cs are not removed from the child lists of their previous parents;
// callers use it when those parents are being discarded.
func (n *Node) SetChildren(cs []*Node) {
	for _, c := range n.Children {
		if c.parent == n {
			c.parent = nil
		}
	}
	for _, c := range cs {
		c.parent = n
	}
	n.Children = cs
}

// Walk visits n and its descendants depth-first in document order. Returning
// false from fn skips the node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Leaves returns every leaf under n in document order.
func (n *Node) Leaves() []*Node {
	var out []*Node
	n.Walk(func(x *Node) bool {
		if x.IsLeaf() {
			out = append(out, x)
		}
		return true
	})
	return out
}
