package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

func buildForest(t *testing.T, records []forest.Record) *forest.Forest {
	t.Helper()
	f, errs := forest.Build(records)
	require.Empty(t, errs)
	return f
}

// b07Records is the Structure/Weather/Roofing tree with a few levels below.
func b07Records() []forest.Record {
	return []forest.Record{
		{ID: "B07-BuildCost", Depth: 1, SortOrder: 1, ShortName: "BuildCost", Attrs: forest.Attributes{StageID: "build"}},
		{ID: "B07a-Structure", ParentID: "B07-BuildCost", Depth: 2, SortOrder: 1, ShortName: "Structure"},
		{ID: "B07b-Weather", ParentID: "B07-BuildCost", Depth: 2, SortOrder: 2, ShortName: "Weather"},
		{ID: "B07c-Roofing", ParentID: "B07-BuildCost", Depth: 2, SortOrder: 3, ShortName: "Roofing"},
		{ID: "B07a01-Footings", ParentID: "B07a-Structure", Depth: 3, SortOrder: 1, ShortName: "Footings"},
		{ID: "B07a02-Framing", ParentID: "B07a-Structure", Depth: 3, SortOrder: 2, ShortName: "Framing",
			Attrs: forest.Attributes{Unit: "sqft", Cadence: "once", Notes: "kept"}},
		{ID: "B07a02a-Studs", ParentID: "B07a02-Framing", Depth: 4, SortOrder: 1, ShortName: "Studs"},
		{ID: "B07b01-Wrap", ParentID: "B07b-Weather", Depth: 3, SortOrder: 1, ShortName: "Wrap"},
		{ID: "B07c01-Shingles", ParentID: "B07c-Roofing", Depth: 3, SortOrder: 1, ShortName: "Shingles"},
	}
}

// shellRecords has a depth-2 "Shell" node with eleven numbered children; the
// eleventh carries a deeper subtree.
func shellRecords() []forest.Record {
	records := []forest.Record{
		{ID: "B07-BuildCost", Depth: 1, SortOrder: 1, ShortName: "BuildCost"},
		{ID: "B07a-Site", ParentID: "B07-BuildCost", Depth: 2, SortOrder: 1, ShortName: "Site"},
		{ID: "B07b-Shell", ParentID: "B07-BuildCost", Depth: 2, SortOrder: 2, ShortName: "Shell"},
	}
	for i := 1; i <= 10; i++ {
		records = append(records, forest.Record{
			ID:        fmt.Sprintf("B07b%02d-Part %d", i, i),
			ParentID:  "B07b-Shell",
			Depth:     3,
			SortOrder: i,
			ShortName: fmt.Sprintf("Part %d", i),
		})
	}
	records = append(records,
		forest.Record{ID: "B07b11-Garage", ParentID: "B07b-Shell", Depth: 3, SortOrder: 11, ShortName: "Garage"},
		forest.Record{ID: "B07b11a-Slab", ParentID: "B07b11-Garage", Depth: 4, SortOrder: 1, ShortName: "Slab"},
		forest.Record{ID: "B07b11a01-Rebar", ParentID: "B07b11a-Slab", Depth: 5, SortOrder: 1, ShortName: "Rebar"},
		forest.Record{ID: "B07b11a01a-Ties", ParentID: "B07b11a01-Rebar", Depth: 6, SortOrder: 1, ShortName: "Ties"},
		forest.Record{ID: "B07b11b-Door", ParentID: "B07b11-Garage", Depth: 4, SortOrder: 2, ShortName: "Door"},
	)
	return records
}

func ids(f *forest.Forest) map[string]bool {
	out := map[string]bool{}
	for _, n := range f.Nodes() {
		out[n.Key()] = true
	}
	return out
}

func newTestPropagator(sink RowSink, collaborators ...Collaborator) *Propagator {
	p := NewPropagator(sink, collaborators...)
	p.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	p.newRunID = func() uuid.UUID { return uuid.MustParse("00000000-0000-0000-0000-000000000001") }
	return p
}

type recordingSink struct {
	batches []NodeBatch
	err     error
}

func (s *recordingSink) ApplyNodeBatch(_ context.Context, batch NodeBatch) error {
	s.batches = append(s.batches, batch)
	return s.err
}

// memoryCollaborator is a table column held in memory.
type memoryCollaborator struct {
	name   string
	values []string
	calls  int
	failAt int
}

func (c *memoryCollaborator) Name() string { return c.name }

func (c *memoryCollaborator) Replace(_ context.Context, from, to string) (int64, error) {
	c.calls++
	if c.failAt > 0 && c.calls == c.failAt {
		return 0, errors.New("connection reset")
	}
	var n int64
	for i, v := range c.values {
		if v == from {
			c.values[i] = to
			n++
		}
	}
	return n, nil
}

type batchCollaborator struct {
	memoryCollaborator
	passes int
}

func (c *batchCollaborator) ReplaceAll(ctx context.Context, passes ...[]Relabel) (int64, error) {
	var total int64
	for _, pass := range passes {
		c.passes++
		for _, r := range pass {
			n, err := c.Replace(ctx, r.From, r.To)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}
