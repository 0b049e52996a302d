package services

import (
	"fmt"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

// ReorderRequest names a sibling group and the desired order of its short
// names. Depth 0 means the depth directly below the parent.
type ReorderRequest struct {
	ParentID string
	Depth    int
	Order    []string
}

// PlanReorder computes the placements that give the children of a parent the
// requested order. Names that do not match a child are reported and skipped;
// children left out of the order keep their relative order after the listed
// ones, so positions stay 1..k.
func PlanReorder(idx *forest.Index, req ReorderRequest) (Plan, error) {
	var plan Plan
	parent, ok := idx.LookupKey(req.ParentID)
	if !ok {
		plan.Anomalies = append(plan.Anomalies, notFound("parent", req.ParentID, "", suggestID(idx, req.ParentID)))
		return plan, nil
	}
	depth := req.Depth
	if depth == 0 {
		depth = parent.Depth + 1
	}
	if depth != parent.Depth+1 {
		return Plan{}, newServiceError(CodeInvalidDepth,
			fmt.Sprintf("children of %s sit at depth %d, not %d", parent.Key(), parent.Depth+1, depth), nil)
	}

	children := idx.Children(parent.ID)
	byName := make(map[string][]int, len(children))
	names := make([]string, 0, len(children))
	for i, c := range children {
		key := NormalizeName(c.ShortName)
		byName[key] = append(byName[key], i)
		names = append(names, c.ShortName)
	}

	placed := make([]bool, len(children))
	ordered := make([]forest.Node, 0, len(children))
	for _, name := range req.Order {
		key := NormalizeName(name)
		hits := byName[key]
		switch {
		case len(hits) == 0:
			plan.Anomalies = append(plan.Anomalies, notFound("child", name, parent.Key(), suggestName(name, names)))
			continue
		case len(hits) > 1:
			return Plan{}, newServiceError(CodeAmbiguousName,
				fmt.Sprintf("%d children of %s are named %q", len(hits), parent.Key(), name), nil)
		}
		if placed[hits[0]] {
			plan.Anomalies = append(plan.Anomalies, Anomaly{
				Kind:    AnomalyDuplicateOrder,
				Subject: name,
				Message: fmt.Sprintf("listed more than once for %s", parent.Key()),
			})
			continue
		}
		placed[hits[0]] = true
		ordered = append(ordered, children[hits[0]])
	}
	for i, c := range children {
		if placed[i] {
			continue
		}
		plan.Anomalies = append(plan.Anomalies, Anomaly{
			Kind:    AnomalyUnlisted,
			Subject: c.Key(),
			Message: fmt.Sprintf("not in the requested order for %s; kept after the listed children", parent.Key()),
		})
		ordered = append(ordered, c)
	}

	changes, err := placeSiblings(parent, ordered)
	if err != nil {
		return Plan{}, err
	}
	plan.Changes = changes
	return plan, nil
}

// PlanReorders plans several requests against the same index and merges
// them into one plan.
func PlanReorders(idx *forest.Index, reqs []ReorderRequest) (Plan, error) {
	var plan Plan
	for _, req := range reqs {
		p, err := PlanReorder(idx, req)
		if err != nil {
			return Plan{}, err
		}
		if err := plan.Merge(p); err != nil {
			return Plan{}, err
		}
	}
	return plan, nil
}

// placeSiblings assigns positions 1..k to ordered under parent and returns
// the changes for every sibling whose placement differs.
func placeSiblings(parent forest.Node, ordered []forest.Node) ([]Change, error) {
	var changes []Change
	for i, n := range ordered {
		c, err := placementChange(n, parent, i+1)
		if err != nil {
			return nil, err
		}
		if isNoop(n, c) {
			continue
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func suggestID(idx *forest.Index, id string) string {
	nodes := idx.Forest().Nodes()
	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key())
	}
	return suggestName(id, keys)
}
