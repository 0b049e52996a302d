package services

import (
	"fmt"
	"strings"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/code"
	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

// LevelColumns is the number of named levels a drilldown row carries. Level
// n names a node at depth n+1.
const LevelColumns = 5

type DedupPolicy string

const (
	// DedupMerge collapses every occurrence of a name under one parent.
	DedupMerge DedupPolicy = "merge"
	// DedupReject refuses a row when a name under a parent was first reached
	// as a level and is now reached as a terminal category, or the reverse.
	DedupReject DedupPolicy = "reject"
)

func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DedupMerge:
		return DedupMerge, nil
	case DedupReject:
		return DedupReject, nil
	default:
		return "", newServiceError(CodeInvalidRequest, fmt.Sprintf("unknown dedup policy %q", s), nil)
	}
}

// DrilldownRow is one denormalized input row.
type DrilldownRow struct {
	Line     int
	Group    string
	Levels   [LevelColumns]string
	Terminal string
}

type SynthesisOptions struct {
	Dedup DedupPolicy
	// MaxAttachDepth is the deepest parent a terminal category may attach
	// under. Deeper terminals are cost breakdowns, not nodes.
	MaxAttachDepth int
}

// Attachment is the resolved shape of one row: the named chain and, when the
// terminal category becomes a node, the depth of the parent it attaches to.
type Attachment struct {
	Chain       []string
	Terminal    string
	ParentDepth int
}

func (a Attachment) HasTerminal() bool { return a.ParentDepth > 0 }

type SynthesisResult struct {
	Forest    *forest.Forest
	Nodes     []forest.Node
	Rejected  []int
	Anomalies []Anomaly
}

type origin uint8

const (
	originLevel origin = iota + 1
	originTerminal
)

type synthNode struct {
	name     string
	origin   origin
	line     int
	children []*synthNode
	byName   map[string]*synthNode
}

func (s *synthNode) child(name string) *synthNode {
	if s.byName == nil {
		return nil
	}
	return s.byName[name]
}

func (s *synthNode) add(name string, o origin, line int) *synthNode {
	if c := s.child(name); c != nil {
		return c
	}
	if s.byName == nil {
		s.byName = map[string]*synthNode{}
	}
	c := &synthNode{name: name, origin: o, line: line}
	s.byName[name] = c
	s.children = append(s.children, c)
	return c
}

// ResolveAttachment reads the populated levels of a row left to right. A
// blank level followed by a named one is a gap and the row is unusable.
func ResolveAttachment(row DrilldownRow, maxAttachDepth int) (Attachment, error) {
	var a Attachment
	blankAt := -1
	for i, raw := range row.Levels {
		name := NormalizeName(raw)
		if name == "" {
			if blankAt < 0 {
				blankAt = i
			}
			continue
		}
		if blankAt >= 0 {
			return Attachment{}, fmt.Errorf("level %d is blank but level %d is %q", blankAt+1, i+1, name)
		}
		a.Chain = append(a.Chain, name)
	}
	a.Terminal = NormalizeName(row.Terminal)
	if a.Terminal != "" {
		deepest := 1 + len(a.Chain)
		if deepest <= maxAttachDepth {
			a.ParentDepth = deepest
		}
	}
	return a, nil
}

// Synthesize builds the normalized tree below the given roots from
// denormalized rows. Siblings are numbered in first-seen order.
func Synthesize(roots []forest.Node, rows []DrilldownRow, opts SynthesisOptions) (*SynthesisResult, error) {
	if opts.Dedup == "" {
		opts.Dedup = DedupMerge
	}
	if opts.MaxAttachDepth <= 0 {
		opts.MaxAttachDepth = 4
	}

	trees := make([]*synthNode, len(roots))
	byGroup := map[string]int{}
	for i, r := range roots {
		if !r.IsRoot() || r.Code.IsZero() {
			return nil, newServiceError(CodeInvalidRequest, fmt.Sprintf("%s is not a root with a valid code", r.Key()), nil)
		}
		trees[i] = &synthNode{name: r.ShortName}
		byGroup[r.Key()] = i
		if _, taken := byGroup[r.Code.Base()]; !taken {
			byGroup[r.Code.Base()] = i
		}
	}

	res := &SynthesisResult{}
	reject := func(row DrilldownRow, a Anomaly) {
		res.Rejected = append(res.Rejected, row.Line)
		res.Anomalies = append(res.Anomalies, a)
	}

	for _, row := range rows {
		group := strings.TrimSpace(row.Group)
		ri, ok := byGroup[group]
		if !ok {
			if base, _, split := code.SplitID(group); split {
				ri, ok = byGroup[base]
			}
		}
		if !ok {
			reject(row, Anomaly{
				Kind:    AnomalyUnknownGroup,
				Subject: fmt.Sprintf("line %d", row.Line),
				Message: fmt.Sprintf("no depth-1 node for group %q", group),
			})
			continue
		}
		a, err := ResolveAttachment(row, opts.MaxAttachDepth)
		if err != nil {
			reject(row, Anomaly{Kind: AnomalyLevelGap, Subject: fmt.Sprintf("line %d", row.Line), Message: err.Error(), Err: err})
			continue
		}

		steps := make([]origin, 0, len(a.Chain)+1)
		names := make([]string, 0, len(a.Chain)+1)
		for _, n := range a.Chain {
			names = append(names, n)
			steps = append(steps, originLevel)
		}
		if a.HasTerminal() {
			names = append(names, a.Terminal)
			steps = append(steps, originTerminal)
		}
		if len(names) == 0 {
			continue
		}

		if opts.Dedup == DedupReject {
			if conflict := findOriginConflict(trees[ri], names, steps); conflict != nil {
				reject(row, Anomaly{
					Kind:    AnomalyDuplicateLeaf,
					Subject: fmt.Sprintf("line %d", row.Line),
					Message: fmt.Sprintf("%q was first seen on line %d through a different path", conflict.name, conflict.line),
				})
				continue
			}
		}

		if a.Terminal != "" && !a.HasTerminal() {
			res.Anomalies = append(res.Anomalies, Anomaly{
				Kind:    AnomalyDroppedTerminal,
				Subject: fmt.Sprintf("line %d", row.Line),
				Message: fmt.Sprintf("%q sits below depth %d and is kept as a cost breakdown, not a node", a.Terminal, opts.MaxAttachDepth+1),
			})
		}

		cur := trees[ri]
		for i, name := range names {
			cur = cur.add(name, steps[i], row.Line)
		}
	}

	nodes := make([]forest.Node, 0, len(roots))
	for i, r := range roots {
		nodes = append(nodes, r.Clone())
		emitted, err := emit(r, trees[i])
		if err != nil {
			return nil, err
		}
		res.Nodes = append(res.Nodes, emitted...)
		nodes = append(nodes, emitted...)
	}
	res.Forest = forest.New(nodes)
	return res, nil
}

func findOriginConflict(root *synthNode, names []string, steps []origin) *synthNode {
	cur := root
	for i, name := range names {
		next := cur.child(name)
		if next == nil {
			return nil
		}
		if next.origin != steps[i] {
			return next
		}
		cur = next
	}
	return nil
}

// emit walks the synthesized tree in first-seen preorder and assigns codes.
func emit(root forest.Node, tree *synthNode) ([]forest.Node, error) {
	var out []forest.Node
	var walk func(parent forest.Node, s *synthNode) error
	walk = func(parent forest.Node, s *synthNode) error {
		for i, c := range s.children {
			child, err := parent.Code.Child(i)
			if err != nil {
				return newServiceError(CodeTokenRange, fmt.Sprintf("too many children under %s", parent.Key()), err)
			}
			n := forest.Node{
				ID:        forest.Final(code.FormatID(child, c.name)),
				ParentID:  parent.ID,
				Depth:     child.Depth(),
				SortOrder: i + 1,
				ShortName: c.name,
				Code:      child,
				Attrs:     forest.Attributes{StageID: root.Attrs.StageID},
			}
			out = append(out, n)
			if err := walk(n, c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, tree); err != nil {
		return nil, err
	}
	return out, nil
}
