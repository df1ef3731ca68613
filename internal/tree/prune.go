package tree

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Punctuation lists the single characters a leaf may hold besides letters
// and digits.
const Punctuation = " !\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Prune removes every element that cannot carry an annotation: leaves without
// a bbox, leaves without text, leaves whose text is not accepted content, and
// internal nodes left without children. Children are evaluated before their
// parent, so emptiness cascades upward in the same pass. It reports whether
// the root itself survived.
func Prune(root *Node) bool {
	return prune(root)
}

func prune(n *Node) bool {
	if n.IsLeaf() {
		return retainable(n)
	}
	kept := n.Children[:0]
	for _, c := range n.Children {
		if prune(c) {
			kept = append(kept, c)
		} else {
			c.parent = nil
		}
	}
	for i := len(kept); i < len(n.Children); i++ {
		n.Children[i] = nil
	}
	n.Children = kept
	return len(n.Children) > 0
}

func retainable(leaf *Node) bool {
	if _, ok := leaf.Attr(BBoxAttr); !ok {
		return false
	}
	if leaf.Text == "" {
		return false
	}
	return AcceptedText(leaf.Text)
}

// AcceptedText reports whether s is entirely letters, entirely digits, or a
// single accepted punctuation character. s is NFC-normalized first so that
// decomposed accents count as letters.
func AcceptedText(s string) bool {
	s = norm.NFC.String(s)
	if s == "" {
		return false
	}
	if all(s, unicode.IsLetter) || all(s, unicode.IsDigit) {
		return true
	}
	return utf8.RuneCountInString(s) == 1 && strings.Contains(Punctuation, s)
}

func all(s string, fn func(rune) bool) bool {
	for _, r := range s {
		if !fn(r) {
			return false
		}
	}
	return true
}
