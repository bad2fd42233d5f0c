// Package lawtree defines the hierarchical document model shared by the
// parser, the stores, and the index builder.
//
// A law document nests as Part -> Chapter -> Section (optional) -> Article
// -> Clause. Clauses are the only level that carries literal text; every
// ancestor level holds a title and an ordered list of children. The section
// tier is optional: a chapter may contain sections or articles directly,
// and both shapes must survive a save/load round trip.
package lawtree

import (
	"fmt"
	"strings"
)

// Level identifies a node's depth in the document hierarchy.
type Level int

const (
	LevelPart Level = iota
	LevelChapter
	LevelSection
	LevelArticle
	LevelClause
)

var levelNames = [...]string{"part", "chapter", "section", "article", "clause"}

func (l Level) String() string {
	if l < LevelPart || l > LevelClause {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel converts a stored level name back to a Level.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hierarchy level %q", s)
}

// IsLeaf reports whether nodes at this level carry literal content.
func (l Level) IsLeaf() bool {
	return l == LevelClause
}

// Title markers used throughout Vietnamese law documents. Classification is
// deliberately isolated here so parser changes do not ripple into the store
// or the builder.
const (
	MarkerPart    = "PHẦN"
	MarkerChapter = "CHƯƠNG"
	MarkerSection = "Mục"
	MarkerArticle = "Điều"
	MarkerClause  = "Khoản"
	MarkerPoint   = "Điểm"
)

// ClassifyTitle maps a node title to its hierarchy level by its marker
// prefix. The second return value is false when no marker matches.
func ClassifyTitle(title string) (Level, bool) {
	t := strings.TrimSpace(title)
	switch {
	case strings.HasPrefix(t, MarkerPart):
		return LevelPart, true
	case strings.HasPrefix(t, MarkerChapter):
		return LevelChapter, true
	case strings.HasPrefix(t, MarkerSection):
		return LevelSection, true
	case strings.HasPrefix(t, MarkerArticle):
		return LevelArticle, true
	case strings.HasPrefix(t, MarkerClause), strings.HasPrefix(t, MarkerPoint):
		return LevelClause, true
	}
	return 0, false
}

// ChildLevel returns the level of a parent's children. Chapters are the one
// irregular case: their children are section-level only when the first
// child's title carries the section marker, otherwise articles nest
// directly under the chapter.
func ChildLevel(parent Level, firstChildTitle string) Level {
	switch parent {
	case LevelPart:
		return LevelChapter
	case LevelChapter:
		if strings.HasPrefix(strings.TrimSpace(firstChildTitle), MarkerSection) {
			return LevelSection
		}
		return LevelArticle
	case LevelSection:
		return LevelArticle
	case LevelArticle:
		return LevelClause
	default:
		return LevelClause
	}
}

// Node is one element of the document tree. The branch/leaf distinction is
// resolved once at parse time: leaf nodes (clauses) carry Content and no
// Children, every other node carries Children and empty Content.
type Node struct {
	Title    string
	Level    Level
	Content  string
	Children []*Node
}

// IsLeaf reports whether the node carries literal content.
func (n *Node) IsLeaf() bool {
	return n.Level.IsLeaf()
}

// AddChild appends a child preserving document order.
func (n *Node) AddChild(child *Node) {
	n.Children = append(n.Children, child)
}

// Child returns the child with the given title, or nil.
func (n *Node) Child(title string) *Node {
	for _, c := range n.Children {
		if c.Title == title {
			return c
		}
	}
	return nil
}

// Tree is a parsed document: a display title and an ordered forest of
// part-level nodes.
type Tree struct {
	Title string
	Parts []*Node
}

// Part returns the part with the given title, or nil.
func (t *Tree) Part(title string) *Node {
	for _, p := range t.Parts {
		if p.Title == title {
			return p
		}
	}
	return nil
}

// CountByLevel walks the tree and tallies nodes per level.
func (t *Tree) CountByLevel() map[Level]int {
	counts := make(map[Level]int)
	var walk func(n *Node)
	walk = func(n *Node) {
		counts[n.Level]++
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, p := range t.Parts {
		walk(p)
	}
	return counts
}

// Equal reports structural equality: titles, levels, leaf content, and
// child order must all match.
func (t *Tree) Equal(other *Tree) bool {
	if other == nil || t.Title != other.Title || len(t.Parts) != len(other.Parts) {
		return false
	}
	for i := range t.Parts {
		if !nodeEqual(t.Parts[i], other.Parts[i]) {
			return false
		}
	}
	return true
}

func nodeEqual(a, b *Node) bool {
	if a.Title != b.Title || a.Level != b.Level || a.Content != b.Content || len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !nodeEqual(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
