package sheets

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/code"
	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

// NodeColumns is the column order of the unified cost element table.
var NodeColumns = []string{
	"ce_id",
	"parent_id",
	"level",
	"sort_order",
	"short_name",
	"description",
	"stage_id",
	"unit",
	"cadence",
	"notes",
	"assumptions",
	"uniformat_code",
	"estimate",
	"annual_estimate",
	"is_computed",
}

var requiredNodeColumns = []string{"ce_id", "parent_id", "level", "sort_order"}

// Table is a parsed node sheet. Header keeps the source column order so a
// rewritten file diffs cleanly against its input.
type Table struct {
	Header  []string
	Records []forest.Record
}

type RowError struct {
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Column, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

func ReadNodes(r io.Reader, comma rune) (*Table, error) {
	cr := newCSVReader(r, comma)
	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if err := requireHeader(header, requiredNodeColumns); err != nil {
		return nil, err
	}
	idx := headerIndex(header)
	known := map[string]bool{}
	for _, c := range NodeColumns {
		known[c] = true
	}

	t := &Table{Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if isBlank(rec) {
			continue
		}
		node, err := parseNode(rec, idx, line)
		if err != nil {
			return nil, err
		}
		for i, name := range header {
			if known[name] || name == "" || i >= len(rec) || rec[i] == "" {
				continue
			}
			if node.Attrs.Extra == nil {
				node.Attrs.Extra = map[string]string{}
			}
			node.Attrs.Extra[name] = rec[i]
		}
		t.Records = append(t.Records, node)
	}
	return t, nil
}

func parseNode(rec []string, idx map[string]int, line int) (forest.Record, error) {
	out := forest.Record{
		Line:     line,
		ID:       field(rec, idx, "ce_id"),
		ParentID: field(rec, idx, "parent_id"),
	}
	if out.ID == "" {
		return out, &RowError{Line: line, Column: "ce_id", Err: fmt.Errorf("empty identifier")}
	}
	var err error
	if out.Depth, err = strconv.Atoi(field(rec, idx, "level")); err != nil {
		return out, &RowError{Line: line, Column: "level", Err: err}
	}
	if out.SortOrder, err = strconv.Atoi(field(rec, idx, "sort_order")); err != nil {
		return out, &RowError{Line: line, Column: "sort_order", Err: err}
	}
	out.ShortName = field(rec, idx, "short_name")
	if out.ShortName == "" {
		if _, name, ok := code.SplitID(out.ID); ok {
			out.ShortName = name
		}
	}

	a := &out.Attrs
	a.Description = field(rec, idx, "description")
	a.StageID = field(rec, idx, "stage_id")
	a.Unit = field(rec, idx, "unit")
	a.Cadence = field(rec, idx, "cadence")
	a.Notes = field(rec, idx, "notes")
	a.Assumptions = field(rec, idx, "assumptions")
	a.UniformatCode = field(rec, idx, "uniformat_code")
	if a.Estimate, err = parseAmount(field(rec, idx, "estimate")); err != nil {
		return out, &RowError{Line: line, Column: "estimate", Err: err}
	}
	if a.AnnualEstimate, err = parseAmount(field(rec, idx, "annual_estimate")); err != nil {
		return out, &RowError{Line: line, Column: "annual_estimate", Err: err}
	}
	if a.IsComputed, err = parseFlag(field(rec, idx, "is_computed")); err != nil {
		return out, &RowError{Line: line, Column: "is_computed", Err: err}
	}
	return out, nil
}

// parseAmount accepts "$1,250.50" style spreadsheet values.
func parseAmount(s string) (decimal.NullDecimal, error) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "f", "false", "n", "no":
		return false, nil
	case "1", "t", "true", "y", "yes":
		return true, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

// WriteNodes writes records with header, or with NodeColumns followed by
// every extra column seen when header is nil.
func WriteNodes(w io.Writer, comma rune, header []string, records []forest.Record) error {
	if header == nil {
		header = defaultHeader(records)
	}
	cw := newCSVWriter(w, comma)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := make([]string, len(header))
		for i, name := range header {
			row[i] = nodeValue(r, name)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func defaultHeader(records []forest.Record) []string {
	header := slices.Clone(NodeColumns)
	seen := map[string]bool{}
	var extra []string
	for _, r := range records {
		for k := range r.Attrs.Extra {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	slices.Sort(extra)
	return append(header, extra...)
}

func nodeValue(r forest.Record, column string) string {
	a := r.Attrs
	switch column {
	case "ce_id":
		return r.ID
	case "parent_id":
		return r.ParentID
	case "level":
		return strconv.Itoa(r.Depth)
	case "sort_order":
		return strconv.Itoa(r.SortOrder)
	case "short_name":
		return r.ShortName
	case "description":
		return a.Description
	case "stage_id":
		return a.StageID
	case "unit":
		return a.Unit
	case "cadence":
		return a.Cadence
	case "notes":
		return a.Notes
	case "assumptions":
		return a.Assumptions
	case "uniformat_code":
		return a.UniformatCode
	case "estimate":
		return amountText(a.Estimate)
	case "annual_estimate":
		return amountText(a.AnnualEstimate)
	case "is_computed":
		if a.IsComputed {
			return "true"
		}
		return "false"
	default:
		return a.Extra[column]
	}
}

func amountText(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
