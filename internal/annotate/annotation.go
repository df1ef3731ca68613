// Package annotate overlays client annotations on a pruned document tree:
// it maps viewer rectangles into document space, finds the leaves they
// cover, wraps those leaves in labeled Annotate tags and finally collapses
// adjacent same-label tags.
package annotate

import (
	"fmt"

	"github.com/mohammad-safakhou/annotree/internal/tree"
)

// Type is the kind of client annotation.
type Type string

const (
	TypeArea      Type = "area"
	TypeHighlight Type = "highlight"
	TypeStrikeout Type = "strikeout"
)

// Valid reports whether t is one of the known annotation types.
func (t Type) Valid() bool {
	switch t {
	case TypeArea, TypeHighlight, TypeStrikeout:
		return true
	}
	return false
}

// Geometry is a rectangle in viewer space (origin top-left, y down). It is
// either an AreaRect or a CornerRect.
type Geometry interface {
	isGeometry()
}

// AreaRect is the origin-plus-size form.
type AreaRect struct {
	X, Y, Width, Height float64
}

// CornerRect is the two-corner form.
type CornerRect struct {
	X1, Y1, X2, Y2 float64
}

func (AreaRect) isGeometry()   {}
func (CornerRect) isGeometry() {}

// Annotation is one labeled rectangle on one page. Multi-rectangle
// highlights are split into one Annotation per rectangle at ingestion.
type Annotation struct {
	Page     int
	Type     Type
	Label    string
	Geometry Geometry
}

// Applied records what an annotation did to the tree.
type Applied struct {
	Page    int    `json:"page"`
	Type    Type   `json:"type"`
	Label   string `json:"label"`
	Rect    string `json:"rect"`
	Covered int    `json:"covered"`
	Wrapped int    `json:"wrapped"`
}

// MissingFieldError is returned when an annotation record lacks a geometry
// field needed to build its rectangle.
type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("annotation is missing field %q", e.Field)
}

// AnnotateTag is the tag name of synthetic annotation nodes.
const AnnotateTag = "Annotate"

// LabelAttr holds an Annotate tag's label.
const LabelAttr = "label"

// IsTag reports whether n is an Annotate tag.
func IsTag(n *tree.Node) bool {
	return n != nil && n.Tag == AnnotateTag
}

// Label returns an Annotate tag's label.
func Label(n *tree.Node) string {
	v, _ := n.Attr(LabelAttr)
	return v
}

// NewTag builds an empty Annotate tag with bbox then label attributes.
func NewTag(bbox, label string) *tree.Node {
	return tree.NewElement(AnnotateTag,
		tree.Attr{Name: tree.BBoxAttr, Value: bbox},
		tree.Attr{Name: LabelAttr, Value: label},
	)
}
