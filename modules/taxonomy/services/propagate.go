package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/code"
	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

// Relabel is one identifier substitution in storage-key form.
type Relabel struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Phases are the two relabel passes of a batch. Pass1 moves every affected
// identifier into the pending namespace, Pass2 moves it out to its final value.
type Phases struct {
	Pass1 []Relabel `json:"pass1"`
	Pass2 []Relabel `json:"pass2"`
}

// NodeBatch is everything a persistent mirror of the forest must write for
// one batch, in this order: deletes, pass 1, pass 2, placements, inserts.
type NodeBatch struct {
	Deletes    []string
	Pass1      []Relabel
	Pass2      []Relabel
	Placements []forest.Record
	Inserts    []forest.Record
}

func (b NodeBatch) IsEmpty() bool {
	return len(b.Deletes) == 0 && len(b.Pass1) == 0 && len(b.Placements) == 0 && len(b.Inserts) == 0
}

// RowSink mirrors forest changes into a store. It is written before any
// collaborator is touched.
type RowSink interface {
	ApplyNodeBatch(ctx context.Context, batch NodeBatch) error
}

// Collaborator is an external table column holding node identifiers.
type Collaborator interface {
	Name() string
	Replace(ctx context.Context, from, to string) (int64, error)
}

// BatchReplacer is implemented by collaborators that can take both passes in
// one call, typically inside one transaction.
type BatchReplacer interface {
	ReplaceAll(ctx context.Context, passes ...[]Relabel) (int64, error)
}

type Rename struct {
	Old    string `json:"old"`
	New    string `json:"new"`
	Direct bool   `json:"direct"`
}

type CollaboratorResult struct {
	Name  string `json:"name"`
	Rows  int64  `json:"rows"`
	Error string `json:"error,omitempty"`
}

// Ledger is the audit record of an applied batch.
type Ledger struct {
	RunID         uuid.UUID            `json:"run_id"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
	Renames       []Rename             `json:"renames"`
	Deleted       []string             `json:"deleted,omitempty"`
	Inserted      []string             `json:"inserted,omitempty"`
	Collaborators []CollaboratorResult `json:"collaborators,omitempty"`
	Anomalies     []Anomaly            `json:"anomalies,omitempty"`
}

func (l Ledger) RenameMap() map[string]string {
	out := make(map[string]string, len(l.Renames))
	for _, r := range l.Renames {
		out[r.Old] = r.New
	}
	return out
}

type Result struct {
	Forest *forest.Forest
	Ledger Ledger
	Phases Phases
}

type Propagator struct {
	sink          RowSink
	collaborators []Collaborator
	now           func() time.Time
	newRunID      func() uuid.UUID
}

func NewPropagator(sink RowSink, collaborators ...Collaborator) *Propagator {
	return &Propagator{
		sink:          sink,
		collaborators: collaborators,
		now:           func() time.Time { return time.Now().UTC() },
		newRunID:      uuid.New,
	}
}

// placement is the resolved target state of one arena slot.
type placement struct {
	parent   int
	depth    int
	sort     int
	short    string
	token    string
	explicit bool
	inserted bool
	node     forest.Node
}

const (
	noParent       = -1
	danglingParent = -2
)

// Apply executes plan against f. Every final identifier is computed and
// checked for collisions before anything is relabelled; not-found targets
// are skipped and reported.
func (p *Propagator) Apply(ctx context.Context, f *forest.Forest, plan Plan) (*Result, error) {
	ledger := Ledger{RunID: p.newRunID(), StartedAt: p.now()}
	ledger.Anomalies = append(ledger.Anomalies, plan.Anomalies...)
	idx := f.Index()
	nodes := f.Nodes()

	resolve := func(kind, id string) (int, bool) {
		hits := idx.Holders(forest.Final(id))
		switch len(hits) {
		case 0:
			ledger.Anomalies = append(ledger.Anomalies, notFound(kind, id, "", ""))
			return 0, false
		case 1:
			return hits[0], true
		default:
			ledger.Anomalies = append(ledger.Anomalies, Anomaly{
				Kind:    AnomalyAmbiguousID,
				Subject: id,
				Message: fmt.Sprintf("%d nodes hold this identifier; skipped", len(hits)),
			})
			return 0, false
		}
	}

	deleted := make(map[int]bool, len(plan.Deletes))
	var deleteOrder []string
	for _, id := range plan.Deletes {
		pos, ok := resolve("node", id)
		if !ok || deleted[pos] {
			continue
		}
		deleted[pos] = true
		deleteOrder = append(deleteOrder, id)
	}

	places := make([]placement, len(nodes), len(nodes)+len(plan.Inserts))
	for i, n := range nodes {
		pl := placement{parent: noParent, depth: n.Depth, sort: n.SortOrder, short: n.ShortName, token: n.Code.Last(), node: n}
		if !n.IsRoot() {
			if pos, ok := idx.Position(n.ParentID); ok {
				pl.parent = pos
			} else {
				pl.parent = danglingParent
			}
		}
		places[i] = pl
	}

	for _, c := range plan.Changes {
		pos, ok := resolve("node", c.OldID)
		if !ok {
			continue
		}
		if deleted[pos] {
			return nil, newServiceError(CodePlanConflict, fmt.Sprintf("%s is both changed and deleted", c.OldID), nil)
		}
		if nodes[pos].IsRoot() {
			return nil, newServiceError(CodeRootImmutable, fmt.Sprintf("root %s cannot be changed", c.OldID), nil)
		}
		parent, ok := resolve("parent", c.ParentID)
		if !ok {
			continue
		}
		places[pos] = placement{
			parent:   parent,
			depth:    c.Depth,
			sort:     c.SortOrder,
			short:    c.ShortName,
			token:    c.Token,
			explicit: true,
			node:     nodes[pos],
		}
	}

	for _, ins := range plan.Inserts {
		parent, ok := resolve("parent", ins.ParentID)
		if !ok {
			continue
		}
		if deleted[parent] {
			return nil, newServiceError(CodePlanConflict, fmt.Sprintf("insert under deleted %s", ins.ParentID), nil)
		}
		places = append(places, placement{
			parent:   parent,
			sort:     ins.SortOrder,
			short:    ins.ShortName,
			explicit: true,
			inserted: true,
			node:     forest.Node{ShortName: ins.ShortName, SortOrder: ins.SortOrder, Attrs: ins.Attrs.Clone()},
		})
	}

	for i, pl := range places {
		if !deleted[i] && pl.parent >= 0 && deleted[pl.parent] {
			return nil, newServiceError(CodeHasChildren,
				fmt.Sprintf("deleting %s would orphan %s", nodes[pl.parent].Key(), pl.node.Key()), nil)
		}
	}

	codes, known, err := finalCodes(places)
	if err != nil {
		return nil, err
	}

	finalIDs := make([]string, len(places))
	for i, pl := range places {
		switch {
		case pl.parent == noParent || !known[i]:
			finalIDs[i] = pl.node.Key()
		case pl.explicit:
			finalIDs[i] = code.FormatID(codes[i], pl.short)
		case codes[i].Equal(pl.node.Code):
			finalIDs[i] = pl.node.Key()
		default:
			// Only the code prefix moves; the name part of the id is kept as is.
			_, suffix, _ := code.SplitID(pl.node.Key())
			finalIDs[i] = code.FormatID(codes[i], suffix)
		}
	}

	renamed := make([]int, 0)
	for i := range nodes {
		if !deleted[i] && finalIDs[i] != nodes[i].Key() {
			renamed = append(renamed, i)
		}
	}

	if err := checkCollisions(places, finalIDs, deleted, nodes); err != nil {
		return nil, err
	}

	pending := make(map[int]forest.Ident, len(renamed))
	var phases Phases
	for seq, i := range renamed {
		pid := forest.Pending(uint64(seq + 1))
		pending[i] = pid
		phases.Pass1 = append(phases.Pass1, Relabel{From: nodes[i].Key(), To: pid.StorageKey()})
	}
	for _, i := range renamed {
		phases.Pass2 = append(phases.Pass2, Relabel{From: pending[i].StorageKey(), To: finalIDs[i]})
	}

	out := make([]forest.Node, 0, len(places)-len(deleted))
	batch := NodeBatch{Deletes: deleteOrder, Pass1: phases.Pass1, Pass2: phases.Pass2}
	var inserted []forest.Node
	for i, pl := range places {
		if deleted[i] {
			continue
		}
		n := pl.node.Clone()
		n.ID = forest.Final(finalIDs[i])
		n.Depth = pl.depth
		n.SortOrder = pl.sort
		n.ShortName = pl.short
		switch {
		case pl.parent >= 0:
			n.ParentID = forest.Final(finalIDs[pl.parent])
		case pl.parent == noParent:
			n.ParentID = forest.Ident{}
		}
		if known[i] {
			n.Code = codes[i]
			n.Depth = codes[i].Depth()
		}
		out = append(out, n)
		switch {
		case pl.inserted:
			inserted = append(inserted, n)
			ledger.Inserted = append(ledger.Inserted, finalIDs[i])
		case pl.explicit || n.Depth != nodes[i].Depth:
			batch.Placements = append(batch.Placements, n.Record())
		}
	}
	slices.SortStableFunc(inserted, func(a, b forest.Node) int { return cmp.Compare(a.Depth, b.Depth) })
	for _, n := range inserted {
		batch.Inserts = append(batch.Inserts, n.Record())
	}
	ledger.Deleted = deleteOrder

	for _, i := range renamed {
		ledger.Renames = append(ledger.Renames, Rename{Old: nodes[i].Key(), New: finalIDs[i], Direct: places[i].explicit})
	}
	slices.SortFunc(ledger.Renames, func(a, b Rename) int { return cmp.Compare(a.Old, b.Old) })

	if p.sink != nil && !batch.IsEmpty() {
		if err := p.sink.ApplyNodeBatch(ctx, batch); err != nil {
			return nil, newServiceError(CodeSinkFailed, "writing node batch", err)
		}
	}

	if len(phases.Pass1) > 0 {
		for _, c := range p.collaborators {
			res := p.propagate(ctx, c, phases)
			ledger.Collaborators = append(ledger.Collaborators, res)
			if res.Error != "" {
				ledger.Anomalies = append(ledger.Anomalies, Anomaly{Kind: AnomalyCollaborator, Subject: res.Name, Message: res.Error})
			}
		}
	}

	ledger.FinishedAt = p.now()
	logWithFields(ctx, logrus.InfoLevel, "rename batch applied", logrus.Fields{
		"run_id":        ledger.RunID.String(),
		"renames":       len(ledger.Renames),
		"deleted":       len(ledger.Deleted),
		"inserted":      len(ledger.Inserted),
		"anomalies":     len(ledger.Anomalies),
		"collaborators": len(ledger.Collaborators),
	})

	return &Result{Forest: forest.New(out), Ledger: ledger, Phases: phases}, nil
}

func (p *Propagator) propagate(ctx context.Context, c Collaborator, phases Phases) CollaboratorResult {
	res := CollaboratorResult{Name: c.Name()}
	if br, ok := c.(BatchReplacer); ok {
		rows, err := br.ReplaceAll(ctx, phases.Pass1, phases.Pass2)
		res.Rows = rows
		if err != nil {
			res.Error = err.Error()
		}
		return res
	}
	for _, pass := range [][]Relabel{phases.Pass1, phases.Pass2} {
		for _, r := range pass {
			rows, err := c.Replace(ctx, r.From, r.To)
			res.Rows += rows
			if err != nil {
				res.Error = fmt.Sprintf("%s -> %s: %v", r.From, r.To, err)
				logWithFields(ctx, logrus.ErrorLevel, "collaborator update failed", logrus.Fields{
					"collaborator": res.Name,
					"from":         r.From,
					"to":           r.To,
					"error":        err.Error(),
				})
				return res
			}
		}
	}
	return res
}

// finalCodes resolves every slot's code from its final parent's code. known
// is false for slots whose code cannot be derived (dangling parent or a
// malformed code upstream); those keep their identifier.
func finalCodes(places []placement) ([]code.Code, []bool, error) {
	codes := make([]code.Code, len(places))
	known := make([]bool, len(places))
	state := make([]uint8, len(places))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case 2:
			return nil
		case 1:
			return newServiceError(CodeCycle, fmt.Sprintf("%s would become its own ancestor", places[i].node.Key()), nil)
		}
		state[i] = 1
		pl := places[i]
		switch {
		case pl.parent == noParent:
			codes[i] = pl.node.Code
			known[i] = !codes[i].IsZero()
		case pl.parent == danglingParent:
			codes[i] = pl.node.Code
		default:
			if err := visit(pl.parent); err != nil {
				return err
			}
			if pl.inserted && !known[pl.parent] {
				return newServiceError(CodeInvalidRequest, fmt.Sprintf("cannot insert %q under a node without a valid code", pl.short), nil)
			}
			if !known[pl.parent] || (!pl.explicit && pl.node.Code.IsZero()) {
				codes[i] = pl.node.Code
				break
			}
			depth := codes[pl.parent].Depth() + 1
			// Descendants that were not moved follow their parent's new prefix.
			if !pl.explicit && depth == pl.node.Code.Depth() {
				if c, ok := pl.node.Code.Rebase(places[pl.parent].node.Code, codes[pl.parent]); ok {
					codes[i] = c
					known[i] = true
					break
				}
			}
			tok := pl.token
			if pl.inserted || tok == "" || (!pl.explicit && depth != pl.node.Code.Depth()) {
				t, err := code.Token(depth, pl.sort-1)
				if err != nil {
					return newServiceError(CodeTokenRange, fmt.Sprintf("cannot encode %s", pl.node.Key()), err)
				}
				tok = t
			}
			codes[i] = codes[pl.parent].Append(tok)
			known[i] = true
		}
		state[i] = 2
		return nil
	}

	for i := range places {
		if err := visit(i); err != nil {
			return nil, nil, err
		}
	}
	return codes, known, nil
}

func checkCollisions(places []placement, finalIDs []string, deleted map[int]bool, nodes []forest.Node) error {
	holders := map[string][]int{}
	for i := range places {
		if deleted[i] {
			continue
		}
		holders[finalIDs[i]] = append(holders[finalIDs[i]], i)
	}
	collisions := map[string][]string{}
	for id, hits := range holders {
		if len(hits) < 2 {
			continue
		}
		affected := false
		names := make([]string, 0, len(hits))
		for _, i := range hits {
			if places[i].inserted {
				affected = true
				names = append(names, "(new) "+places[i].short)
				continue
			}
			if places[i].explicit || finalIDs[i] != nodes[i].Key() {
				affected = true
			}
			names = append(names, nodes[i].Key())
		}
		if affected {
			collisions[id] = names
		}
	}
	if len(collisions) > 0 {
		return &CollisionError{Collisions: collisions}
	}
	return nil
}
