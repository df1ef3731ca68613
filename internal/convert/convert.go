// Package convert turns a source document into an element tree rooted at
// <pages>, one <page id bbox rotate> per page and character-level leaves
// carrying their own bbox.
package convert

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mohammad-safakhou/annotree/internal/tree"
)

// Converter converts the file at path into an unpruned element tree.
type Converter interface {
	Convert(ctx context.Context, path string) (*tree.Node, error)
}

const (
	KindTabula = "tabula"
	KindXML    = "xml"
)

// Options tune the converters built by New.
type Options struct {
	// LineTolerance is the fraction of glyph height within which fragments
	// share a text line. Zero keeps the detector default.
	LineTolerance float64
}

// New returns the converter registered under kind.
func New(kind string, opts Options) (Converter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindTabula:
		return NewTabula(opts.LineTolerance), nil
	case KindXML:
		return XML{}, nil
	default:
		return nil, fmt.Errorf("unknown converter %q", kind)
	}
}

// XML reads a layout dump that was already produced in the pdfminer XML
// format.
type XML struct{}

func (XML) Convert(ctx context.Context, path string) (*tree.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	root, err := tree.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if root.Tag != "pages" {
		return nil, fmt.Errorf("decode %s: root element is <%s>, want <pages>", path, root.Tag)
	}
	return root, nil
}
