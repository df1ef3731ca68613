package convert

import (
	"context"
	"fmt"
	"strconv"
	"unicode"

	"github.com/mohammad-safakhou/annotree/internal/tree"
	"github.com/tsawler/tabula/layout"
	"github.com/tsawler/tabula/pages"
	"github.com/tsawler/tabula/reader"
	"github.com/tsawler/tabula/text"
)

// Tabula converts PDFs natively. Text fragments are grouped into lines and
// every fragment is split into one <text> leaf per character, the glyph
// width being spread evenly over the fragment.
type Tabula struct {
	lines *layout.LineDetector
}

// NewTabula returns a converter whose line grouping uses tolerance, or the
// detector default when tolerance is not positive.
func NewTabula(tolerance float64) *Tabula {
	cfg := layout.DefaultLineConfig()
	if tolerance > 0 {
		cfg.LineHeightTolerance = tolerance
	}
	return &Tabula{lines: layout.NewLineDetectorWithConfig(cfg)}
}

func (c *Tabula) Convert(ctx context.Context, path string) (*tree.Node, error) {
	r, err := reader.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer r.Close()

	count, err := r.PageCount()
	if err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	root := tree.NewElement("pages")
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := r.GetPage(i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		box, err := mediaBox(page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		frags, err := r.ExtractTextFragments(page)
		if err != nil {
			return nil, fmt.Errorf("page %d text: %w", i+1, err)
		}
		detected := c.lines.Detect(frags, box.Width(), box.Height())
		root.AppendChild(pageNode(i+1, box, page.Rotate(), detected.Lines))
	}
	return root, nil
}

func mediaBox(p *pages.Page) (tree.BBox, error) {
	mb, err := p.MediaBox()
	if err != nil {
		return tree.BBox{}, fmt.Errorf("media box: %w", err)
	}
	if len(mb) != 4 {
		return tree.BBox{}, fmt.Errorf("media box has %d values", len(mb))
	}
	return tree.BBox{X1: mb[0], Y1: mb[1], X2: mb[2], Y2: mb[3]}.Normalize(), nil
}

func pageNode(id int, box tree.BBox, rotate int, lines []layout.Line) *tree.Node {
	page := tree.NewElement("page",
		tree.Attr{Name: "id", Value: strconv.Itoa(id)},
		tree.Attr{Name: tree.BBoxAttr, Value: box.String()},
		tree.Attr{Name: "rotate", Value: strconv.Itoa(rotate)},
	)
	for i, l := range lines {
		bbox := tree.BBox{X1: l.BBox.X, Y1: l.BBox.Y, X2: l.BBox.X + l.BBox.Width, Y2: l.BBox.Y + l.BBox.Height}.String()
		box := tree.NewElement("textbox",
			tree.Attr{Name: "id", Value: strconv.Itoa(i)},
			tree.Attr{Name: tree.BBoxAttr, Value: bbox},
		)
		line := tree.NewElement("textline", tree.Attr{Name: tree.BBoxAttr, Value: bbox})
		for j, f := range l.Fragments {
			if j > 0 {
				line.AppendChild(&tree.Node{Tag: "text", Text: " "})
			}
			appendGlyphs(line, f)
		}
		box.AppendChild(line)
		page.AppendChild(box)
	}
	return page
}

// appendGlyphs adds one leaf per rune of f. Whitespace gets no bbox, like
// the layout spaces pdfminer inserts.
func appendGlyphs(line *tree.Node, f text.TextFragment) {
	runes := []rune(f.Text)
	if len(runes) == 0 {
		return
	}
	step := f.Width / float64(len(runes))
	size := strconv.FormatFloat(f.FontSize, 'f', 3, 64)
	for k, r := range runes {
		if unicode.IsSpace(r) {
			line.AppendChild(&tree.Node{Tag: "text", Text: " "})
			continue
		}
		x1 := f.X + float64(k)*step
		glyph := tree.NewElement("text",
			tree.Attr{Name: "font", Value: f.FontName},
			tree.Attr{Name: tree.BBoxAttr, Value: tree.BBox{X1: x1, Y1: f.Y, X2: x1 + step, Y2: f.Y + f.Height}.String()},
			tree.Attr{Name: "size", Value: size},
		)
		glyph.Text = string(r)
		line.AppendChild(glyph)
	}
}
