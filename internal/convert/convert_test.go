package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mohammad-safakhou/annotree/internal/tree"
	"github.com/tsawler/tabula/layout"
	"github.com/tsawler/tabula/text"
)

func TestNewSelectsConverter(t *testing.T) {
	tests := []struct {
		kind    string
		want    string
		wantErr bool
	}{
		{kind: "", want: "*convert.Tabula"},
		{kind: "Tabula", want: "*convert.Tabula"},
		{kind: "xml", want: "convert.XML"},
		{kind: "ocr", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.kind, func(t *testing.T) {
			c, err := New(tt.kind, Options{})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for kind %q", tt.kind)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			var got string
			switch c.(type) {
			case *Tabula:
				got = "*convert.Tabula"
			case XML:
				got = "convert.XML"
			}
			if got != tt.want {
				t.Fatalf("New(%q) = %s, want %s", tt.kind, got, tt.want)
			}
		})
	}
}

func TestPageNodeFromFragments(t *testing.T) {
	frags := []text.TextFragment{
		{Text: "Hi", X: 100, Y: 700, Width: 20, Height: 12, FontName: "Helvetica", FontSize: 12},
		{Text: "42", X: 125, Y: 700, Width: 10, Height: 12, FontName: "Helvetica", FontSize: 12},
		{Text: "a b", X: 100, Y: 600, Width: 30, Height: 10, FontName: "Times", FontSize: 10},
	}
	box := tree.BBox{X2: 600, Y2: 800}
	detected := layout.NewLineDetector().Detect(frags, box.Width(), box.Height())
	page := pageNode(3, box, 90, detected.Lines)

	if id, _ := page.Attr("id"); id != "3" {
		t.Fatalf("page id = %q", id)
	}
	if b, _ := page.Attr(tree.BBoxAttr); b != "0.000,0.000,600.000,800.000" {
		t.Fatalf("page bbox = %q", b)
	}
	if r, _ := page.Attr("rotate"); r != "90" {
		t.Fatalf("page rotate = %q", r)
	}
	if len(page.Children) != 2 {
		t.Fatalf("expected 2 text boxes, got %d", len(page.Children))
	}

	first := page.Children[0].Children[0]
	if first.Tag != "textline" {
		t.Fatalf("expected textline, got <%s>", first.Tag)
	}
	var texts []string
	for _, c := range first.Children {
		texts = append(texts, c.Text)
	}
	if diff := cmp.Diff([]string{"H", "i", " ", "4", "2"}, texts); diff != "" {
		t.Fatalf("glyphs mismatch (-want +got):\n%s", diff)
	}
	if b, _ := first.Children[1].Attr(tree.BBoxAttr); b != "110.000,700.000,120.000,712.000" {
		t.Fatalf("glyph bbox = %q", b)
	}
	if _, ok := first.Children[2].Attr(tree.BBoxAttr); ok {
		t.Fatalf("separator must not carry a bbox")
	}
	if f, _ := first.Children[0].Attr("font"); f != "Helvetica" {
		t.Fatalf("font = %q", f)
	}

	// Pruning drops the bbox-less spaces and keeps every glyph.
	root := tree.NewElement("pages")
	root.AppendChild(page)
	if !tree.Prune(root) {
		t.Fatalf("prune emptied the page")
	}
	var kept []string
	for _, l := range root.Leaves() {
		kept = append(kept, l.Text)
	}
	if diff := cmp.Diff([]string{"H", "i", "4", "2", "a", "b"}, kept); diff != "" {
		t.Fatalf("kept leaves mismatch (-want +got):\n%s", diff)
	}
}

func TestPageNodeWithoutText(t *testing.T) {
	page := pageNode(1, tree.BBox{X2: 10, Y2: 10}, 0, nil)
	if len(page.Children) != 0 {
		t.Fatalf("expected empty page, got %d children", len(page.Children))
	}
}

const pdfminerDump = `<?xml version="1.0" encoding="utf-8" ?>
<pages>
<page id="1" bbox="0.000,0.000,612.000,792.000" rotate="0">
<textbox id="0" bbox="72.000,700.000,90.000,712.000">
<textline bbox="72.000,700.000,90.000,712.000">
<text font="Times" bbox="72.000,700.000,81.000,712.000" size="12.000">O</text>
<text font="Times" bbox="81.000,700.000,90.000,712.000" size="12.000">k</text>
<text>
</text>
</textline>
</textbox>
</page>
</pages>
`

func TestXMLConverter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.xml")
	if err := os.WriteFile(path, []byte(pdfminerDump), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	root, err := XML{}.Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if root.Tag != "pages" || len(root.Children) != 1 {
		t.Fatalf("unexpected root <%s> with %d children", root.Tag, len(root.Children))
	}
	line := root.Children[0].Children[0].Children[0]
	if len(line.Children) != 3 || line.Children[0].Text != "O" || line.Children[1].Text != "k" {
		t.Fatalf("unexpected textline content")
	}
}

func TestXMLConverterRejectsOtherRoots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "other.xml")
	if err := os.WriteFile(path, []byte("<doc><p/></doc>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := XML{}.Convert(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "<doc>") {
		t.Fatalf("expected root element error, got %v", err)
	}
}

func TestConvertHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (XML{}).Convert(ctx, "unused.xml"); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
