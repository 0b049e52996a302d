package services

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/code"
	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

const (
	RuleDanglingParent = "CE_V_001_DANGLING_PARENT"
	RuleDuplicateID    = "CE_V_002_DUPLICATE_ID"
	RuleSortOrder      = "CE_V_003_SORT_ORDER"
	RuleDepth          = "CE_V_004_DEPTH"
	RuleRootPlacement  = "CE_V_005_ROOT_PLACEMENT"
	RuleIDCode         = "CE_V_006_ID_CODE"
	RuleToken          = "CE_V_007_TOKEN"
	RuleCodePosition   = "CE_V_008_CODE_POSITION"
	RuleAmbiguousCode  = "CE_V_009_AMBIGUOUS_CODE"
	RuleCycle          = "CE_V_010_CYCLE"
	RulePending        = "CE_V_011_PENDING"
)

type Violation struct {
	Rule    string `json:"rule"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

type Report struct {
	Checked    int         `json:"checked"`
	Violations []Violation `json:"violations"`
}

func (r Report) OK() bool { return len(r.Violations) == 0 }

// Err returns a *StructuralError when the report has violations.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	return &StructuralError{Violations: r.Violations}
}

// CountByRule is used for summaries.
func (r Report) CountByRule() map[string]int {
	out := map[string]int{}
	for _, v := range r.Violations {
		out[v.Rule]++
	}
	return out
}

type StructuralError struct {
	Violations []Violation
}

func (e *StructuralError) Error() string {
	if len(e.Violations) == 1 {
		v := e.Violations[0]
		return fmt.Sprintf("%s: %s: %s", v.Rule, v.NodeID, v.Message)
	}
	return fmt.Sprintf("%d structural violations (first: %s %s)", len(e.Violations), e.Violations[0].Rule, e.Violations[0].NodeID)
}

// Validate checks the whole forest and reports every violation it finds. It
// never repairs anything.
func Validate(f *forest.Forest) Report {
	idx := f.Index()
	nodes := f.Nodes()
	r := Report{Checked: len(nodes)}
	add := func(rule, id, format string, args ...any) {
		r.Violations = append(r.Violations, Violation{Rule: rule, NodeID: id, Message: fmt.Sprintf(format, args...)})
	}

	for id, hits := range idx.Duplicates() {
		add(RuleDuplicateID, id.StorageKey(), "held by %d nodes", len(hits))
	}

	for _, n := range nodes {
		key := n.ID.StorageKey()
		if n.ID.IsPending() || n.ParentID.IsPending() {
			add(RulePending, key, "pending identifier left after a batch")
		}
		if n.ID.IsZero() {
			add(RuleIDCode, key, "node has no identifier")
			continue
		}

		if n.IsRoot() {
			if n.Depth != 1 {
				add(RuleRootPlacement, key, "node without parent sits at depth %d", n.Depth)
			}
			base, _, _ := code.SplitID(n.Key())
			if _, err := code.Root(base); err != nil {
				add(RuleToken, key, "root code base: %v", err)
			}
			continue
		}
		if n.Depth == 1 {
			add(RuleRootPlacement, key, "depth-1 node has parent %s", n.ParentID)
		}
		if n.Depth < 1 || n.Depth > code.MaxDepth {
			add(RuleDepth, key, "depth %d outside 1..%d", n.Depth, code.MaxDepth)
		}

		parent, ok := idx.Lookup(n.ParentID)
		if !ok {
			add(RuleDanglingParent, key, "parent %s does not exist", n.ParentID)
		} else if n.Depth != parent.Depth+1 {
			add(RuleDepth, key, "depth %d under parent at depth %d", n.Depth, parent.Depth)
		}

		codePart, name, split := code.SplitID(n.Key())
		if !split {
			add(RuleIDCode, key, "identifier has no code separator")
			continue
		}
		if name != n.ShortName {
			add(RuleIDCode, key, "identifier name %q differs from short name %q", name, n.ShortName)
		}
		if n.Code.IsZero() {
			add(RuleToken, key, "code %q cannot be decomposed under its parent", codePart)
			continue
		}
		if err := n.Code.Validate(); err != nil {
			add(RuleToken, key, "%v", err)
			continue
		}
		if n.Code.String() != codePart {
			add(RuleIDCode, key, "identifier code %q differs from structural code %q", codePart, n.Code.String())
		}
		if n.Code.Depth() != n.Depth {
			add(RuleToken, key, "code has %d levels at depth %d", n.Code.Depth(), n.Depth)
		}
		if want, err := code.Token(n.Code.Depth(), n.SortOrder-1); err != nil {
			add(RuleCodePosition, key, "sort order %d: %v", n.SortOrder, err)
		} else if want != n.Code.Last() {
			add(RuleCodePosition, key, "token %q at sort order %d, expected %q", n.Code.Last(), n.SortOrder, want)
		}
		if ok {
			if pc, has := n.Code.Parent(); has && !parent.Code.IsZero() && !pc.Equal(parent.Code) {
				add(RuleCodePosition, key, "code does not extend parent code %s", parent.Code)
			}
		}
	}

	checkSortOrders(idx, add)
	checkAmbiguousCodes(nodes, add)
	checkCycles(idx, nodes, add)

	slices.SortStableFunc(r.Violations, func(a, b Violation) int {
		return cmp.Or(cmp.Compare(a.Rule, b.Rule), cmp.Compare(a.NodeID, b.NodeID))
	})
	return r
}

func checkSortOrders(idx *forest.Index, add func(rule, id, format string, args ...any)) {
	for _, parent := range idx.Parents() {
		kids := idx.Children(parent)
		orders := make([]string, 0, len(kids))
		broken := false
		for i, k := range kids {
			orders = append(orders, fmt.Sprint(k.SortOrder))
			if k.SortOrder != i+1 {
				broken = true
			}
		}
		if broken {
			add(RuleSortOrder, parent.StorageKey(), "children sort orders are [%s], expected 1..%d", strings.Join(orders, ","), len(kids))
		}
	}
}

// checkAmbiguousCodes flags distinct nodes whose codes render to the same
// string, which happens when tokens of different depths run together.
func checkAmbiguousCodes(nodes []forest.Node, add func(rule, id, format string, args ...any)) {
	seen := map[string]string{}
	for _, n := range nodes {
		if n.Code.IsZero() {
			continue
		}
		s := n.Code.String()
		if prev, dup := seen[s]; dup && prev != n.Key() {
			add(RuleAmbiguousCode, n.Key(), "code %s is also carried by %s", s, prev)
			continue
		}
		seen[s] = n.Key()
	}
}

func checkCycles(idx *forest.Index, nodes []forest.Node, add func(rule, id, format string, args ...any)) {
	reported := map[forest.Ident]bool{}
	for _, n := range nodes {
		path := map[forest.Ident]bool{n.ID: true}
		cur := n
		for !cur.IsRoot() {
			parent, ok := idx.Lookup(cur.ParentID)
			if !ok {
				break
			}
			if path[parent.ID] {
				if !reported[parent.ID] {
					reported[parent.ID] = true
					add(RuleCycle, parent.ID.StorageKey(), "node is its own ancestor")
				}
				break
			}
			path[parent.ID] = true
			cur = parent
		}
	}
}
