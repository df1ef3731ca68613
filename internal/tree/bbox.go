package tree

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BBoxAttr is the attribute holding a node's bounding box.
const BBoxAttr = "bbox"

// ErrEmptyUnion is returned when a union is requested over no elements.
var ErrEmptyUnion = errors.New("tree: union over empty element set")

// BBox is an axis-aligned rectangle in document space (origin bottom-left,
// y growing upward).
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// BBoxError reports a missing or malformed bbox attribute. Converter output
// is trusted, so callers treat it as upstream corruption.
type BBoxError struct {
	Tag   string
	Value string
	Err   error
}

func (e *BBoxError) Error() string {
	if e.Value == "" && e.Err == nil {
		return fmt.Sprintf("tree: <%s> has no bbox", e.Tag)
	}
	return fmt.Sprintf("tree: <%s> has malformed bbox %q: %v", e.Tag, e.Value, e.Err)
}

func (e *BBoxError) Unwrap() error { return e.Err }

// ParseBBox parses "x1,y1,x2,y2".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("want 4 coordinates, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, err
		}
		v[i] = f
	}
	return BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

// String formats the box the way the converter writes it.
func (b BBox) String() string {
	return fmt.Sprintf("%.3f,%.3f,%.3f,%.3f", b.X1, b.Y1, b.X2, b.Y2)
}

// Normalize orders the corners so that X1<=X2 and Y1<=Y2.
func (b BBox) Normalize() BBox {
	return BBox{
		X1: math.Min(b.X1, b.X2),
		Y1: math.Min(b.Y1, b.Y2),
		X2: math.Max(b.X1, b.X2),
		Y2: math.Max(b.Y1, b.Y2),
	}
}

// Contains reports whether o lies entirely inside b. Both boxes must be
// normalized.
func (b BBox) Contains(o BBox) bool {
	return o.X1 >= b.X1 && o.Y1 >= b.Y1 && o.X2 <= b.X2 && o.Y2 <= b.Y2
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Extend returns the smallest box containing both b and o.
func (b BBox) Extend(o BBox) BBox {
	return BBox{
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
		X2: math.Max(b.X2, o.X2),
		Y2: math.Max(b.Y2, o.Y2),
	}
}

// BBox parses the node's bbox attribute.
func (n *Node) BBox() (BBox, error) {
	raw, ok := n.Attr(BBoxAttr)
	if !ok {
		return BBox{}, &BBoxError{Tag: n.Tag}
	}
	b, err := ParseBBox(raw)
	if err != nil {
		return BBox{}, &BBoxError{Tag: n.Tag, Value: raw, Err: err}
	}
	return b, nil
}

// Union returns the tight bounding box of all nodes: min x1, min y1,
// max x2, max y2.
func Union(nodes []*Node) (BBox, error) {
	if len(nodes) == 0 {
		return BBox{}, ErrEmptyUnion
	}
	var out BBox
	for i, n := range nodes {
		b, err := n.BBox()
		if err != nil {
			return BBox{}, err
		}
		if i == 0 {
			out = b
			continue
		}
		out = out.Extend(b)
	}
	return out, nil
}
