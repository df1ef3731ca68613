package annotate

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/antchfx/xpath"
	"github.com/mohammad-safakhou/annotree/internal/tree"
)

// Margin widens mapped rectangles so leaves touching the edge of a
// selection are still covered.
const Margin = 2.0

// ErrUnknownPage is returned when an annotation names a page the tree does
// not have.
var ErrUnknownPage = errors.New("page not found in document")

// ToDocumentSpace converts a viewer-space rectangle into document space for
// a page of height pageHeight. The two forms are padded differently: the
// origin-plus-size form grows by Margin on every side while the corner form
// is only shifted by Margin.
func ToDocumentSpace(g Geometry, pageHeight float64) tree.BBox {
	switch r := g.(type) {
	case AreaRect:
		x1 := r.X - Margin
		y1 := pageHeight - r.Y - r.Height - Margin
		return tree.BBox{
			X1: x1,
			Y1: y1,
			X2: x1 + r.Width + 2*Margin,
			Y2: y1 + r.Height + 2*Margin,
		}
	case CornerRect:
		return tree.BBox{
			X1: r.X1 - Margin,
			Y1: pageHeight - r.Y1 - Margin,
			X2: r.X2 - Margin,
			Y2: pageHeight - r.Y2 - Margin,
		}
	}
	panic(fmt.Sprintf("annotate: unsupported geometry %T", g))
}

var pagesExpr = xpath.MustCompile("//page[@id][@bbox]")

// PageHeights returns, for every page of the tree, the height used to flip
// y: the top edge of the page bbox. It is read before pruning so that pages
// without any text are still known.
func PageHeights(root *tree.Node) (map[int]float64, error) {
	out := make(map[int]float64)
	for _, p := range tree.Select(root, pagesExpr) {
		raw, _ := p.Attr("id")
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("page id %q: %w", raw, err)
		}
		b, err := p.BBox()
		if err != nil {
			return nil, err
		}
		out[id] = b.Y2
	}
	return out, nil
}
