package forest

import (
	"fmt"
	"strings"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/code"
)

// BuildError describes a record whose code could not be derived. The node is
// still part of the built forest with a zero Code, so the validator can report
// it alongside everything else.
type BuildError struct {
	Line int
	ID   string
	Err  error
}

func (e *BuildError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Build turns flat records into a forest, decomposing each identifier into
// its structural code top-down from the roots.
func Build(records []Record) (*Forest, []error) {
	nodes := make([]Node, len(records))
	children := map[string][]int{}
	var roots []int
	var errs []error

	for i, rec := range records {
		id := strings.TrimSpace(rec.ID)
		parent := strings.TrimSpace(rec.ParentID)
		nodes[i] = Node{
			ID:        Final(id),
			ParentID:  Final(parent),
			Depth:     rec.Depth,
			SortOrder: rec.SortOrder,
			ShortName: rec.ShortName,
			Attrs:     rec.Attrs.Clone(),
		}
		if parent == "" {
			roots = append(roots, i)
			continue
		}
		children[parent] = append(children[parent], i)
	}

	visited := make([]bool, len(nodes))
	queue := make([]int, 0, len(nodes))
	for _, i := range roots {
		base, _, _ := code.SplitID(nodes[i].ID.Key())
		c, err := code.Root(base)
		if err != nil {
			errs = append(errs, &BuildError{Line: records[i].Line, ID: records[i].ID, Err: err})
		} else {
			nodes[i].Code = c
		}
		visited[i] = true
		queue = append(queue, i)
	}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		parent := nodes[p]
		for _, i := range children[parent.ID.Key()] {
			if visited[i] {
				continue
			}
			visited[i] = true
			queue = append(queue, i)
			if parent.Code.IsZero() {
				continue
			}
			codePart, _, ok := code.SplitID(nodes[i].ID.Key())
			if !ok {
				errs = append(errs, &BuildError{Line: records[i].Line, ID: records[i].ID, Err: fmt.Errorf("%w: missing '-' separator", code.ErrMalformed)})
				continue
			}
			c, err := code.Decompose(parent.Code, codePart, parent.Code.Depth()+1)
			if err != nil {
				errs = append(errs, &BuildError{Line: records[i].Line, ID: records[i].ID, Err: err})
				continue
			}
			nodes[i].Code = c
		}
	}

	return &Forest{nodes: nodes}, errs
}
