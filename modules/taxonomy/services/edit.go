package services

import (
	"fmt"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/code"
	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

// PlanRename changes the short name of a node. Its code and position stay.
func PlanRename(idx *forest.Index, id, shortName string) (Plan, error) {
	var plan Plan
	n, ok := idx.LookupKey(id)
	if !ok {
		plan.Anomalies = append(plan.Anomalies, notFound("node", id, "", suggestID(idx, id)))
		return plan, nil
	}
	if n.IsRoot() {
		return Plan{}, newServiceError(CodeRootImmutable, fmt.Sprintf("root identifier %s is assigned externally", id), nil)
	}
	name := NormalizeName(shortName)
	if name == "" {
		return Plan{}, newServiceError(CodeInvalidRequest, "short name is required", nil)
	}
	if name == NormalizeName(n.ShortName) {
		return plan, nil
	}
	if n.Code.IsZero() {
		return Plan{}, newServiceError(CodeInvalidRequest, fmt.Sprintf("%s has no valid code", id), nil)
	}
	for _, sib := range idx.Children(n.ParentID) {
		if sib.ID != n.ID && NormalizeName(sib.ShortName) == name {
			return Plan{}, newServiceError(CodeAmbiguousName, fmt.Sprintf("%s already has a child named %q", n.ParentID, name), nil)
		}
	}
	plan.Changes = append(plan.Changes, Change{
		OldID:     n.Key(),
		NewID:     code.FormatID(n.Code, name),
		ParentID:  n.ParentID.Key(),
		Depth:     n.Depth,
		SortOrder: n.SortOrder,
		ShortName: name,
		Token:     n.Code.Last(),
	})
	return plan, nil
}

// PlanMove reparents a node to position (1-based, 0 appends) under a new
// parent. Siblings on both sides are renumbered. When the depth changes the
// whole subtree is re-encoded, since token alphabets alternate by depth.
func PlanMove(idx *forest.Index, id, newParentID string, position int) (Plan, error) {
	var plan Plan
	n, ok := idx.LookupKey(id)
	if !ok {
		plan.Anomalies = append(plan.Anomalies, notFound("node", id, "", suggestID(idx, id)))
		return plan, nil
	}
	if n.IsRoot() {
		return Plan{}, newServiceError(CodeRootImmutable, fmt.Sprintf("root %s cannot be moved", id), nil)
	}
	target, ok := idx.LookupKey(newParentID)
	if !ok {
		plan.Anomalies = append(plan.Anomalies, notFound("parent", newParentID, "", suggestID(idx, newParentID)))
		return plan, nil
	}
	if target.ID == n.ID || idx.IsDescendant(target.ID, n.ID) {
		return Plan{}, newServiceError(CodeCycle, fmt.Sprintf("cannot move %s below itself", id), nil)
	}
	oldParent, ok := idx.Lookup(n.ParentID)
	if !ok {
		return Plan{}, newServiceError(CodeInvalidRequest, fmt.Sprintf("%s has a dangling parent %s", id, n.ParentID), nil)
	}

	if target.ID == oldParent.ID {
		siblings := without(idx.Children(oldParent.ID), n.ID)
		changes, err := placeSiblings(oldParent, insertAt(siblings, n, position))
		if err != nil {
			return Plan{}, err
		}
		plan.Changes = changes
		return plan, nil
	}

	delta := target.Depth + 1 - n.Depth
	descendants := idx.Descendants(n.ID)
	for _, d := range descendants {
		if d.Depth+delta > code.MaxDepth {
			return Plan{}, newServiceError(CodeDepthOverflow,
				fmt.Sprintf("moving %s would put %s at depth %d", id, d.Key(), d.Depth+delta), nil)
		}
	}
	if target.Depth+1 > code.MaxDepth {
		return Plan{}, newServiceError(CodeDepthOverflow, fmt.Sprintf("%s cannot take children", newParentID), nil)
	}

	left, err := placeSiblings(oldParent, without(idx.Children(oldParent.ID), n.ID))
	if err != nil {
		return Plan{}, err
	}
	right, err := placeSiblings(target, insertAt(idx.Children(target.ID), n, position))
	if err != nil {
		return Plan{}, err
	}
	plan.Changes = append(left, right...)

	if delta == 0 {
		return plan, nil
	}
	codes := map[string]code.Code{}
	for _, c := range right {
		if c.OldID == n.Key() {
			codes[n.Key()] = target.Code.Append(c.Token)
		}
	}
	for _, d := range descendants {
		depth := d.Depth + delta
		tok, err := code.Token(depth, d.SortOrder-1)
		if err != nil {
			return Plan{}, newServiceError(CodeTokenRange, fmt.Sprintf("cannot re-encode %s at depth %d", d.Key(), depth), err)
		}
		c := codes[d.ParentID.Key()].Append(tok)
		codes[d.Key()] = c
		plan.Changes = append(plan.Changes, Change{
			OldID:     d.Key(),
			NewID:     code.FormatID(c, d.ShortName),
			ParentID:  d.ParentID.Key(),
			Depth:     depth,
			SortOrder: d.SortOrder,
			ShortName: d.ShortName,
			Token:     tok,
		})
	}
	return plan, nil
}

// PlanInsert adds a child at position (1-based, 0 appends). Inserting a name
// the parent already has is reported and planned as nothing.
func PlanInsert(idx *forest.Index, parentID, shortName string, position int, attrs forest.Attributes) (Plan, error) {
	var plan Plan
	parent, ok := idx.LookupKey(parentID)
	if !ok {
		plan.Anomalies = append(plan.Anomalies, notFound("parent", parentID, "", suggestID(idx, parentID)))
		return plan, nil
	}
	name := NormalizeName(shortName)
	if name == "" {
		return Plan{}, newServiceError(CodeInvalidRequest, "short name is required", nil)
	}
	depth := parent.Depth + 1
	if depth > code.MaxDepth {
		return Plan{}, newServiceError(CodeDepthOverflow, fmt.Sprintf("%s cannot take children", parentID), nil)
	}
	if parent.Code.IsZero() {
		return Plan{}, newServiceError(CodeInvalidRequest, fmt.Sprintf("parent %s has no valid code", parentID), nil)
	}
	siblings := idx.Children(parent.ID)
	for _, s := range siblings {
		if NormalizeName(s.ShortName) == name {
			plan.Anomalies = append(plan.Anomalies, Anomaly{
				Kind:    AnomalyExists,
				Subject: s.Key(),
				Message: fmt.Sprintf("%s already has a child named %q", parentID, name),
			})
			return plan, nil
		}
	}
	if position <= 0 || position > len(siblings)+1 {
		position = len(siblings) + 1
	}
	tok, err := code.Token(depth, position-1)
	if err != nil {
		return Plan{}, newServiceError(CodeTokenRange, fmt.Sprintf("cannot insert %q at position %d", name, position), err)
	}
	for i := position - 1; i < len(siblings); i++ {
		c, err := placementChange(siblings[i], parent, i+2)
		if err != nil {
			return Plan{}, err
		}
		if !isNoop(siblings[i], c) {
			plan.Changes = append(plan.Changes, c)
		}
	}
	plan.Inserts = append(plan.Inserts, Insert{
		ParentID:  parent.Key(),
		ShortName: name,
		SortOrder: position,
		Attrs:     attrs.Clone(),
		NewID:     code.FormatID(parent.Code.Append(tok), name),
	})
	return plan, nil
}

// PlanDelete removes a node. A node with children is only removed together
// with its subtree, and only when cascade is set. Later siblings close the gap.
func PlanDelete(idx *forest.Index, id string, cascade bool) (Plan, error) {
	var plan Plan
	n, ok := idx.LookupKey(id)
	if !ok {
		plan.Anomalies = append(plan.Anomalies, notFound("node", id, "", suggestID(idx, id)))
		return plan, nil
	}
	descendants := idx.Descendants(n.ID)
	if len(descendants) > 0 && !cascade {
		return Plan{}, newServiceError(CodeHasChildren,
			fmt.Sprintf("%s has %d descendants; reparent them or delete with cascade", id, len(descendants)), nil)
	}
	for i := len(descendants) - 1; i >= 0; i-- {
		plan.Deletes = append(plan.Deletes, descendants[i].Key())
	}
	plan.Deletes = append(plan.Deletes, n.Key())
	if n.IsRoot() {
		return plan, nil
	}
	parent, ok := idx.Lookup(n.ParentID)
	if !ok {
		return plan, nil
	}
	changes, err := placeSiblings(parent, without(idx.Children(parent.ID), n.ID))
	if err != nil {
		return Plan{}, err
	}
	plan.Changes = changes
	return plan, nil
}

func without(nodes []forest.Node, id forest.Ident) []forest.Node {
	out := make([]forest.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

func insertAt(nodes []forest.Node, n forest.Node, position int) []forest.Node {
	if position <= 0 || position > len(nodes)+1 {
		position = len(nodes) + 1
	}
	out := make([]forest.Node, 0, len(nodes)+1)
	out = append(out, nodes[:position-1]...)
	out = append(out, n)
	out = append(out, nodes[position-1:]...)
	return out
}
