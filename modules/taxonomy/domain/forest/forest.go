package forest

import (
	"cmp"
	"slices"
)

// Forest is an immutable arena of nodes. Transforms build a new Forest rather
// than mutating one, and lookups go through an Index built from it.
type Forest struct {
	nodes []Node
}

func New(nodes []Node) *Forest {
	out := make([]Node, len(nodes))
	for i := range nodes {
		out[i] = nodes[i].Clone()
	}
	return &Forest{nodes: out}
}

func (f *Forest) Len() int {
	if f == nil {
		return 0
	}
	return len(f.nodes)
}

func (f *Forest) At(i int) Node {
	return f.nodes[i].Clone()
}

func (f *Forest) Nodes() []Node {
	out := make([]Node, len(f.nodes))
	for i := range f.nodes {
		out[i] = f.nodes[i].Clone()
	}
	return out
}

func (f *Forest) Index() *Index {
	return newIndex(f)
}

// InsertOrder returns the nodes ordered so that a parent always precedes its
// children: by depth, then by parent, then by sort order.
func (f *Forest) InsertOrder() []Node {
	out := f.Nodes()
	slices.SortStableFunc(out, func(a, b Node) int {
		return cmp.Or(
			cmp.Compare(a.Depth, b.Depth),
			cmp.Compare(a.ParentID.StorageKey(), b.ParentID.StorageKey()),
			cmp.Compare(a.SortOrder, b.SortOrder),
		)
	})
	return out
}

func (f *Forest) Records() []Record {
	nodes := f.InsertOrder()
	out := make([]Record, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Record())
	}
	return out
}
