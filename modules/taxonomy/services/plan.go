package services

import (
	"fmt"
	"slices"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/code"
	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

// Change is the complete target placement of one existing node. ParentID is
// in the namespace of the forest the plan was made against; the propagator
// maps it to the parent's final identifier.
type Change struct {
	OldID     string `json:"old_id"`
	NewID     string `json:"new_id"`
	ParentID  string `json:"parent_id,omitempty"`
	Depth     int    `json:"depth"`
	SortOrder int    `json:"sort_order"`
	ShortName string `json:"short_name"`
	// Token is the node's own last token at its target depth.
	Token string `json:"token"`
}

// Insert adds a node. Its code is computed when the plan is applied.
type Insert struct {
	ParentID  string            `json:"parent_id"`
	ShortName string            `json:"short_name"`
	SortOrder int               `json:"sort_order"`
	Attrs     forest.Attributes `json:"-"`
	// NewID is the identifier expected if the parent keeps its code.
	NewID string `json:"new_id"`
}

// Plan is the output of every planner. Planning never mutates a forest.
type Plan struct {
	Changes   []Change  `json:"changes"`
	Inserts   []Insert  `json:"inserts,omitempty"`
	Deletes   []string  `json:"deletes,omitempty"`
	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

func (p Plan) IsEmpty() bool {
	return len(p.Changes) == 0 && len(p.Inserts) == 0 && len(p.Deletes) == 0
}

// Renames returns the direct identifier changes the plan expects, assuming
// no ancestor of a changed node moves in the same plan.
func (p Plan) Renames() map[string]string {
	out := make(map[string]string, len(p.Changes))
	for _, c := range p.Changes {
		if c.OldID != c.NewID {
			out[c.OldID] = c.NewID
		}
	}
	return out
}

// Merge folds o into p. The same node may appear in both only with an
// identical target placement.
func (p *Plan) Merge(o Plan) error {
	existing := make(map[string]Change, len(p.Changes))
	for _, c := range p.Changes {
		existing[c.OldID] = c
	}
	for _, c := range o.Changes {
		if prev, ok := existing[c.OldID]; ok {
			if prev != c {
				return newServiceError(CodePlanConflict, fmt.Sprintf("conflicting changes for %s", c.OldID), nil)
			}
			continue
		}
		existing[c.OldID] = c
		p.Changes = append(p.Changes, c)
	}
	for _, d := range o.Deletes {
		if _, ok := existing[d]; ok {
			return newServiceError(CodePlanConflict, fmt.Sprintf("%s is both changed and deleted", d), nil)
		}
		if !slices.Contains(p.Deletes, d) {
			p.Deletes = append(p.Deletes, d)
		}
	}
	for _, d := range p.Deletes {
		if _, ok := existing[d]; ok {
			return newServiceError(CodePlanConflict, fmt.Sprintf("%s is both changed and deleted", d), nil)
		}
	}
	p.Inserts = append(p.Inserts, o.Inserts...)
	p.Anomalies = append(p.Anomalies, o.Anomalies...)
	return nil
}

// placementChange builds the change that puts n at sortOrder under parent.
func placementChange(n forest.Node, parent forest.Node, sortOrder int) (Change, error) {
	if parent.Code.IsZero() {
		return Change{}, newServiceError(CodeInvalidRequest, fmt.Sprintf("parent %s has no valid code", parent.Key()), nil)
	}
	depth := parent.Depth + 1
	tok, err := code.Token(depth, sortOrder-1)
	if err != nil {
		return Change{}, newServiceError(CodeTokenRange, fmt.Sprintf("cannot place %s at position %d", n.Key(), sortOrder), err)
	}
	return Change{
		OldID:     n.Key(),
		NewID:     code.FormatID(parent.Code.Append(tok), n.ShortName),
		ParentID:  parent.Key(),
		Depth:     depth,
		SortOrder: sortOrder,
		ShortName: n.ShortName,
		Token:     tok,
	}, nil
}

// isNoop reports whether c leaves n exactly where it is.
func isNoop(n forest.Node, c Change) bool {
	return c.NewID == n.Key() &&
		c.SortOrder == n.SortOrder &&
		c.Depth == n.Depth &&
		c.ShortName == n.ShortName &&
		c.ParentID == n.ParentID.Key() &&
		c.Token == n.Code.Last()
}
