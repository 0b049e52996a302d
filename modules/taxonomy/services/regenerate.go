package services

import (
	"fmt"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/code"
	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

// Regenerate plans the changes that make every code follow from sibling
// positions again. Each sibling group is compacted to 1..k in its current
// sort order. Nodes that cannot be reached from a root are reported.
func Regenerate(f *forest.Forest) (Plan, error) {
	var plan Plan
	idx := f.Index()
	reached := make(map[forest.Ident]bool, f.Len())

	var walk func(parent forest.Node) error
	walk = func(parent forest.Node) error {
		reached[parent.ID] = true
		children := idx.Children(parent.ID)
		fresh := children[:0:0]
		for _, c := range children {
			if !reached[c.ID] {
				fresh = append(fresh, c)
			}
		}
		changes, err := placeSiblings(parent, fresh)
		if err != nil {
			return err
		}
		plan.Changes = append(plan.Changes, changes...)
		for i, c := range fresh {
			// Recurse with the target placement so deeper codes build on it.
			tok, err := code.Token(parent.Code.Depth()+1, i)
			if err != nil {
				return err
			}
			c.Code = parent.Code.Append(tok)
			c.Depth = parent.Depth + 1
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range idx.Roots() {
		if r.Code.IsZero() {
			plan.Anomalies = append(plan.Anomalies, Anomaly{
				Kind:    AnomalyUnreachable,
				Subject: r.Key(),
				Message: "root identifier has no valid code base; subtree skipped",
			})
			continue
		}
		if err := walk(r); err != nil {
			return Plan{}, err
		}
	}
	for _, n := range f.Nodes() {
		if !reached[n.ID] && !n.IsRoot() {
			plan.Anomalies = append(plan.Anomalies, Anomaly{
				Kind:    AnomalyUnreachable,
				Subject: n.Key(),
				Message: fmt.Sprintf("parent %s does not lead to a root", n.ParentID),
			})
		}
	}
	return plan, nil
}
