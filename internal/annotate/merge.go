package annotate

import (
	"github.com/mohammad-safakhou/annotree/internal/tree"
)

// Merge collapses every run of adjacent sibling Annotate tags sharing a
// label into one tag, bottom-up. The merged tag's children are the
// concatenated children of the run and its bbox is their union. Each level
// is rebuilt into a fresh child slice rather than edited while scanned.
//
// After Merge returns no two Annotate tags with the same label are direct
// siblings anywhere under n, and a second call changes nothing.
func Merge(n *tree.Node) error {
	for _, c := range n.Children {
		if err := Merge(c); err != nil {
			return err
		}
	}
	return mergeLevel(n)
}

func mergeLevel(n *tree.Node) error {
	children := n.Children
	out := make([]*tree.Node, 0, len(children))
	for i := 0; i < len(children); {
		c := children[i]
		if !IsTag(c) {
			out = append(out, c)
			i++
			continue
		}
		label := Label(c)
		var grouped []*tree.Node
		j := i
		for j < len(children) && IsTag(children[j]) && Label(children[j]) == label {
			grouped = append(grouped, children[j].Children...)
			j++
		}
		tag, err := rebuild(label, grouped)
		if err != nil {
			return err
		}
		// Flattening a run can bring nested same-label tags side by side.
		if j-i > 1 {
			if err := mergeLevel(tag); err != nil {
				return err
			}
		}
		out = append(out, tag)
		i = j
	}
	n.SetChildren(out)
	return nil
}

func rebuild(label string, children []*tree.Node) (*tree.Node, error) {
	bbox, err := tree.Union(children)
	if err != nil {
		return nil, err
	}
	tag := NewTag(bbox.String(), label)
	tag.SetChildren(children)
	return tag, nil
}
