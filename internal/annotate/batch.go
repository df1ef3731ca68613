package annotate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyBatch is returned for a batch with no page groups.
var ErrEmptyBatch = errors.New("annotation batch is empty")

// Record is one annotation as sent by the viewer. Geometry is given either
// as x/y/width/height or as x1/y1/x2/y2. Highlights and strikeouts may carry
// several rectangles; each one overrides the record's own geometry fields.
type Record struct {
	Type       string   `json:"type"`
	Label      string   `json:"label,omitempty"`
	Entity     string   `json:"entity,omitempty"`
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
	Width      *float64 `json:"width,omitempty"`
	Height     *float64 `json:"height,omitempty"`
	X1         *float64 `json:"x1,omitempty"`
	Y1         *float64 `json:"y1,omitempty"`
	X2         *float64 `json:"x2,omitempty"`
	Y2         *float64 `json:"y2,omitempty"`
	Rectangles []Record `json:"rectangles,omitempty"`
}

// PageGroup is the set of annotations drawn on one page.
type PageGroup struct {
	DocumentID  string   `json:"documentId"`
	PageNumber  int      `json:"pageNumber"`
	Annotations []Record `json:"annotations"`
}

// Batch is a whole submission: page groups in order.
type Batch []PageGroup

// DocumentID returns the document the batch targets, taken from its first
// page group.
func (b Batch) DocumentID() (string, error) {
	if len(b) == 0 {
		return "", ErrEmptyBatch
	}
	id := strings.TrimSpace(b[0].DocumentID)
	if id == "" {
		return "", MissingFieldError{Field: "documentId"}
	}
	return id, nil
}

// Resolve turns every record of every page group into annotations. It fails
// on the first malformed record, before anything touches a tree.
func (b Batch) Resolve() ([]Annotation, error) {
	var out []Annotation
	for _, g := range b {
		anns, err := g.Resolve()
		if err != nil {
			return nil, err
		}
		out = append(out, anns...)
	}
	return out, nil
}

// Resolve turns the group's records into annotations on the group's page.
// Records of unknown type are skipped.
func (g PageGroup) Resolve() ([]Annotation, error) {
	var out []Annotation
	for i, r := range g.Annotations {
		t := Type(r.Type)
		if !t.Valid() {
			continue
		}
		rects := []Record{r}
		if t != TypeArea && len(r.Rectangles) > 0 {
			rects = rects[:0]
			for _, sub := range r.Rectangles {
				rects = append(rects, r.overlay(sub))
			}
		}
		for _, rect := range rects {
			a, err := rect.annotation(g.PageNumber, t)
			if err != nil {
				return nil, fmt.Errorf("page %d annotation %d: %w", g.PageNumber, i, err)
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func (r Record) label() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Entity
}

func (r Record) annotation(page int, t Type) (Annotation, error) {
	label := r.label()
	if label == "" {
		return Annotation{}, MissingFieldError{Field: "label"}
	}
	g, err := ResolveGeometry(r)
	if err != nil {
		return Annotation{}, err
	}
	return Annotation{Page: page, Type: t, Label: label, Geometry: g}, nil
}

// overlay returns r with every geometry field present in sub replaced.
func (r Record) overlay(sub Record) Record {
	out := r
	out.Rectangles = nil
	for _, f := range []struct{ dst, src **float64 }{
		{&out.X, &sub.X}, {&out.Y, &sub.Y}, {&out.Width, &sub.Width}, {&out.Height, &sub.Height},
		{&out.X1, &sub.X1}, {&out.Y1, &sub.Y1}, {&out.X2, &sub.X2}, {&out.Y2, &sub.Y2},
	} {
		if *f.src != nil {
			*f.dst = *f.src
		}
	}
	return out
}

type field struct {
	name string
	v    *float64
}

func anySet(fs []field) bool {
	for _, f := range fs {
		if f.v != nil {
			return true
		}
	}
	return false
}

func firstMissing(fs []field) error {
	for _, f := range fs {
		if f.v == nil {
			return MissingFieldError{Field: f.name}
		}
	}
	return nil
}

// ResolveGeometry picks the rectangle form from the fields present. The
// origin-plus-size form wins when any of its fields is set.
func ResolveGeometry(r Record) (Geometry, error) {
	area := []field{{"x", r.X}, {"y", r.Y}, {"width", r.Width}, {"height", r.Height}}
	corner := []field{{"x1", r.X1}, {"y1", r.Y1}, {"x2", r.X2}, {"y2", r.Y2}}

	switch {
	case anySet(area):
		if err := firstMissing(area); err != nil {
			return nil, err
		}
		return AreaRect{X: *r.X, Y: *r.Y, Width: *r.Width, Height: *r.Height}, nil
	case anySet(corner):
		if err := firstMissing(corner); err != nil {
			return nil, err
		}
		return CornerRect{X1: *r.X1, Y1: *r.Y1, X2: *r.X2, Y2: *r.Y2}, nil
	default:
		return nil, MissingFieldError{Field: "x"}
	}
}
