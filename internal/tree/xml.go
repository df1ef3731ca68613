package tree

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Encode writes root as an indented XML document.
func Encode(w io.Writer, root *Node) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := encodeNode(enc, root); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func encodeNode(enc *xml.Encoder, n *Node) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Tag}}
	for _, a := range n.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
	}
	if err := enc.EncodeToken(start); err != nil {
		return fmt.Errorf("encode <%s>: %w", n.Tag, err)
	}
	if n.Text != "" {
		if err := enc.EncodeToken(xml.CharData(n.Text)); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := encodeNode(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Decode parses an XML document into a tree. Whitespace-only text between
// child elements is dropped; leaf text is kept verbatim.
func Decode(r io.Reader) (*Node, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return fromQueryNode(c), nil
		}
	}
	return nil, errors.New("parse xml: document has no root element")
}

func fromQueryNode(q *xmlquery.Node) *Node {
	n := &Node{Tag: q.Data}
	if q.Prefix != "" {
		n.Tag = q.Prefix + ":" + q.Data
	}
	for _, a := range q.Attr {
		n.SetAttr(a.Name.Local, a.Value)
	}
	var text strings.Builder
	for c := q.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
			n.AppendChild(fromQueryNode(c))
		case xmlquery.TextNode, xmlquery.CharDataNode:
			text.WriteString(c.Data)
		}
	}
	if n.IsLeaf() {
		n.Text = text.String()
	} else if s := strings.TrimSpace(text.String()); s != "" {
		n.Text = s
	}
	return n
}
