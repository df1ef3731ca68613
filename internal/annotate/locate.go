package annotate

import (
	"fmt"
	"sync"

	"github.com/antchfx/xpath"
	"github.com/mohammad-safakhou/annotree/internal/tree"
)

// Locator resolves which leaves a document-space rectangle covers on a page.
// Results must be leaves, in document order.
type Locator interface {
	Locate(root *tree.Node, rect tree.BBox, page int) ([]*tree.Node, error)
}

// XPathLocator selects the page's bbox-carrying leaves with XPath and keeps
// those lying entirely inside the rectangle.
type XPathLocator struct {
	mu    sync.Mutex
	exprs map[int]*xpath.Expr
}

// NewXPathLocator returns a locator with an empty expression cache.
func NewXPathLocator() *XPathLocator {
	return &XPathLocator{exprs: make(map[int]*xpath.Expr)}
}

func (l *XPathLocator) expr(page int) (*xpath.Expr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.exprs[page]; ok {
		return e, nil
	}
	e, err := xpath.Compile(fmt.Sprintf("//page[@id='%d']//*[not(*)][@bbox]", page))
	if err != nil {
		return nil, err
	}
	l.exprs[page] = e
	return e, nil
}

func (l *XPathLocator) Locate(root *tree.Node, rect tree.BBox, page int) ([]*tree.Node, error) {
	expr, err := l.expr(page)
	if err != nil {
		return nil, err
	}
	area := rect.Normalize()
	var out []*tree.Node
	for _, n := range tree.Select(root, expr) {
		b, err := n.BBox()
		if err != nil {
			return nil, err
		}
		if area.Contains(b.Normalize()) {
			out = append(out, n)
		}
	}
	return out, nil
}

var _ Locator = (*XPathLocator)(nil)
