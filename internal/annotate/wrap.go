package annotate

import (
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/annotree/internal/tree"
)

// ErrDetached is returned when a covered element has no parent to wrap it in.
var ErrDetached = errors.New("covered element has no parent")

// Wrap puts every covered leaf inside a new Annotate tag carrying the leaf's
// bbox and the annotation's label, at the leaf's original position. A leaf
// whose parent is already an Annotate tag with the same label and bbox is
// left alone, so applying an annotation twice never nests duplicates. It
// returns the number of leaves wrapped.
func Wrap(label string, covered []*tree.Node) (int, error) {
	wrapped := 0
	for _, el := range covered {
		parent := el.Parent()
		if parent == nil {
			return wrapped, fmt.Errorf("<%s>: %w", el.Tag, ErrDetached)
		}
		bbox, ok := el.Attr(tree.BBoxAttr)
		if !ok {
			return wrapped, &tree.BBoxError{Tag: el.Tag}
		}
		if IsTag(parent) && Label(parent) == label {
			if pb, _ := parent.Attr(tree.BBoxAttr); pb == bbox {
				continue
			}
		}
		index := parent.Index(el)
		tag := NewTag(bbox, label)
		tag.AppendChild(el)
		parent.InsertChild(index, tag)
		wrapped++
	}
	return wrapped, nil
}
