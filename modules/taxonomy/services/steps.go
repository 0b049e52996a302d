package services

import (
	"cmp"
	"context"
	"slices"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

// Resolver maps an identifier as it was before the first step to its current
// value.
type Resolver func(id string) string

// Step plans one batch against the forest left by the previous step.
type Step struct {
	Name string
	Plan func(idx *forest.Index, resolve Resolver) (Plan, error)
}

// ApplySteps plans and applies steps in order. Each step sees the result of
// the one before it and may refer to nodes by their original identifiers
// through the resolver. The returned ledger maps original identifiers to
// final ones.
func (p *Propagator) ApplySteps(ctx context.Context, f *forest.Forest, steps []Step) (*Result, error) {
	forward := map[string]string{}
	direct := map[string]bool{}
	inserted := map[string]bool{}
	resolve := func(id string) string {
		if cur, ok := forward[id]; ok {
			return cur
		}
		return id
	}

	out := &Result{Forest: f}
	out.Ledger.RunID = p.newRunID()
	out.Ledger.StartedAt = p.now()
	current := f
	for _, step := range steps {
		plan, err := step.Plan(current.Index(), resolve)
		if err != nil {
			return nil, err
		}
		res, err := p.Apply(ctx, current, plan)
		if err != nil {
			return nil, err
		}
		current = res.Forest

		back := make(map[string]string, len(forward))
		for orig, cur := range forward {
			back[cur] = orig
		}
		for _, r := range res.Ledger.Renames {
			if inserted[r.Old] {
				delete(inserted, r.Old)
				inserted[r.New] = true
				continue
			}
			orig, ok := back[r.Old]
			if !ok {
				orig = r.Old
			}
			forward[orig] = r.New
			direct[orig] = direct[orig] || r.Direct
		}
		for _, id := range res.Ledger.Inserted {
			inserted[id] = true
		}
		for _, id := range res.Ledger.Deleted {
			if inserted[id] {
				delete(inserted, id)
				continue
			}
			orig, ok := back[id]
			if !ok {
				orig = id
			}
			delete(forward, orig)
			out.Ledger.Deleted = append(out.Ledger.Deleted, orig)
		}
		out.Ledger.Collaborators = append(out.Ledger.Collaborators, res.Ledger.Collaborators...)
		out.Ledger.Anomalies = append(out.Ledger.Anomalies, res.Ledger.Anomalies...)
		out.Phases.Pass1 = append(out.Phases.Pass1, res.Phases.Pass1...)
		out.Phases.Pass2 = append(out.Phases.Pass2, res.Phases.Pass2...)
	}

	for orig, cur := range forward {
		if orig != cur {
			out.Ledger.Renames = append(out.Ledger.Renames, Rename{Old: orig, New: cur, Direct: direct[orig]})
		}
	}
	slices.SortFunc(out.Ledger.Renames, func(a, b Rename) int { return cmp.Compare(a.Old, b.Old) })
	for id := range inserted {
		out.Ledger.Inserted = append(out.Ledger.Inserted, id)
	}
	slices.Sort(out.Ledger.Inserted)
	out.Forest = current
	out.Ledger.FinishedAt = p.now()
	return out, nil
}
