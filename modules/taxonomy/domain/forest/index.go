package forest

import (
	"cmp"
	"slices"
)

// Index is a read-only view over one Forest. It is rebuilt for every batch.
type Index struct {
	forest   *Forest
	byID     map[Ident][]int
	children map[Ident][]int
	roots    []int
}

func newIndex(f *Forest) *Index {
	x := &Index{
		forest:   f,
		byID:     make(map[Ident][]int, f.Len()),
		children: make(map[Ident][]int),
	}
	for i, n := range f.nodes {
		x.byID[n.ID] = append(x.byID[n.ID], i)
		if n.ParentID.IsZero() {
			x.roots = append(x.roots, i)
			continue
		}
		x.children[n.ParentID] = append(x.children[n.ParentID], i)
	}
	bySort := func(a, b int) int {
		return cmp.Or(
			cmp.Compare(f.nodes[a].SortOrder, f.nodes[b].SortOrder),
			cmp.Compare(a, b),
		)
	}
	for _, kids := range x.children {
		slices.SortFunc(kids, bySort)
	}
	slices.SortFunc(x.roots, bySort)
	return x
}

func (x *Index) Forest() *Forest { return x.forest }

// Lookup returns the first node holding id.
func (x *Index) Lookup(id Ident) (Node, bool) {
	pos, ok := x.Position(id)
	if !ok {
		return Node{}, false
	}
	return x.forest.At(pos), true
}

func (x *Index) LookupKey(id string) (Node, bool) {
	return x.Lookup(Final(id))
}

// Position returns the arena position of the first node holding id.
func (x *Index) Position(id Ident) (int, bool) {
	hits := x.byID[id]
	if len(hits) == 0 {
		return 0, false
	}
	return hits[0], true
}

// Holders returns every arena position holding id.
func (x *Index) Holders(id Ident) []int {
	return slices.Clone(x.byID[id])
}

// Children returns the nodes whose parent is id, ordered by sort order.
func (x *Index) Children(id Ident) []Node {
	kids := x.children[id]
	out := make([]Node, 0, len(kids))
	for _, pos := range kids {
		out = append(out, x.forest.At(pos))
	}
	return out
}

func (x *Index) ChildPositions(id Ident) []int {
	return slices.Clone(x.children[id])
}

func (x *Index) HasChildren(id Ident) bool {
	return len(x.children[id]) > 0
}

func (x *Index) Roots() []Node {
	out := make([]Node, 0, len(x.roots))
	for _, pos := range x.roots {
		out = append(out, x.forest.At(pos))
	}
	return out
}

// Parents lists every identifier that at least one node points at, in a
// stable order.
func (x *Index) Parents() []Ident {
	out := make([]Ident, 0, len(x.children))
	for id := range x.children {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b Ident) int {
		return cmp.Compare(a.StorageKey(), b.StorageKey())
	})
	return out
}

// Descendants returns the strict descendants of id in preorder. Nodes already
// visited are not revisited, so malformed input with cycles terminates.
func (x *Index) Descendants(id Ident) []Node {
	var out []Node
	seen := map[Ident]struct{}{id: {}}
	var walk func(parent Ident)
	walk = func(parent Ident) {
		for _, pos := range x.children[parent] {
			n := x.forest.nodes[pos]
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			out = append(out, n.Clone())
			walk(n.ID)
		}
	}
	walk(id)
	return out
}

// IsDescendant reports whether candidate sits strictly below ancestor.
func (x *Index) IsDescendant(candidate, ancestor Ident) bool {
	seen := map[Ident]struct{}{}
	cur := candidate
	for {
		pos, ok := x.Position(cur)
		if !ok {
			return false
		}
		parent := x.forest.nodes[pos].ParentID
		if parent.IsZero() {
			return false
		}
		if parent == ancestor {
			return true
		}
		if _, loop := seen[parent]; loop {
			return false
		}
		seen[parent] = struct{}{}
		cur = parent
	}
}

// Duplicates returns every identifier held by more than one node.
func (x *Index) Duplicates() map[Ident][]int {
	out := map[Ident][]int{}
	for id, hits := range x.byID {
		if len(hits) > 1 {
			out[id] = slices.Clone(hits)
		}
	}
	return out
}
