package sheets

import (
	"fmt"
	"io"
)

const (
	ColumnCollaborator = "collaborator"
	ColumnRefID        = "ref_id"
)

// Ref is one identifier held by a collaborator column, named "table.column".
type Ref struct {
	Line         int
	Collaborator string
	ID           string
}

// ReadRefs reads a dump of collaborator identifiers, one reference per row.
func ReadRefs(r io.Reader, comma rune) ([]Ref, error) {
	cr := newCSVReader(r, comma)
	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if err := requireHeader(header, []string{ColumnCollaborator, ColumnRefID}); err != nil {
		return nil, err
	}
	idx := headerIndex(header)

	var refs []Ref
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		ref := Ref{
			Line:         line,
			Collaborator: field(rec, idx, ColumnCollaborator),
			ID:           field(rec, idx, ColumnRefID),
		}
		if ref.Collaborator == "" {
			return nil, &RowError{Line: line, Column: ColumnCollaborator, Err: fmt.Errorf("empty collaborator")}
		}
		if ref.ID == "" {
			return nil, &RowError{Line: line, Column: ColumnRefID, Err: fmt.Errorf("empty identifier")}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// GroupRefs collects identifiers per collaborator, keeping row order.
func GroupRefs(refs []Ref) map[string][]string {
	out := map[string][]string{}
	for _, r := range refs {
		out[r.Collaborator] = append(out[r.Collaborator], r.ID)
	}
	return out
}
