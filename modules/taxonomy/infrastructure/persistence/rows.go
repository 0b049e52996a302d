package persistence

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

var nodeColumns = []string{
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

// numericColumns travel as text and are cast on the Postgres side.
var numericColumns = map[string]bool{"estimate": true, "annual_estimate": true}

type nodeRow struct {
	ID             string  `db:"ce_id"`
	ParentID       *string `db:"parent_id"`
	Level          int     `db:"level"`
	SortOrder      int     `db:"sort_order"`
	ShortName      string  `db:"short_name"`
	Description    *string `db:"description"`
	StageID        *string `db:"stage_id"`
	Unit           *string `db:"unit"`
	Cadence        *string `db:"cadence"`
	Notes          *string `db:"notes"`
	Assumptions    *string `db:"assumptions"`
	UniformatCode  *string `db:"uniformat_code"`
	Estimate       *string `db:"estimate"`
	AnnualEstimate *string `db:"annual_estimate"`
	IsComputed     bool    `db:"is_computed"`
}

func newNodeRow(r forest.Record) nodeRow {
	return nodeRow{
		ID:             r.ID,
		ParentID:       nullable(r.ParentID),
		Level:          r.Depth,
		SortOrder:      r.SortOrder,
		ShortName:      r.ShortName,
		Description:    nullable(r.Attrs.Description),
		StageID:        nullable(r.Attrs.StageID),
		Unit:           nullable(r.Attrs.Unit),
		Cadence:        nullable(r.Attrs.Cadence),
		Notes:          nullable(r.Attrs.Notes),
		Assumptions:    nullable(r.Attrs.Assumptions),
		UniformatCode:  nullable(r.Attrs.UniformatCode),
		Estimate:       decimalText(r.Attrs.Estimate),
		AnnualEstimate: decimalText(r.Attrs.AnnualEstimate),
		IsComputed:     r.Attrs.IsComputed,
	}
}

// args follows nodeColumns.
func (n nodeRow) args() []any {
	return []any{
		n.ID, n.ParentID, n.Level, n.SortOrder, n.ShortName,
		n.Description, n.StageID, n.Unit, n.Cadence, n.Notes, n.Assumptions, n.UniformatCode,
		n.Estimate, n.AnnualEstimate, n.IsComputed,
	}
}

// dest follows nodeColumns.
func (n *nodeRow) dest() []any {
	return []any{
		&n.ID, &n.ParentID, &n.Level, &n.SortOrder, &n.ShortName,
		&n.Description, &n.StageID, &n.Unit, &n.Cadence, &n.Notes, &n.Assumptions, &n.UniformatCode,
		&n.Estimate, &n.AnnualEstimate, &n.IsComputed,
	}
}

func (n nodeRow) record() (forest.Record, error) {
	est, err := parseDecimal(n.Estimate)
	if err != nil {
		return forest.Record{}, errors.Wrapf(err, "estimate of %s", n.ID)
	}
	annual, err := parseDecimal(n.AnnualEstimate)
	if err != nil {
		return forest.Record{}, errors.Wrapf(err, "annual_estimate of %s", n.ID)
	}
	return forest.Record{
		ID:        n.ID,
		ParentID:  deref(n.ParentID),
		Depth:     n.Level,
		SortOrder: n.SortOrder,
		ShortName: n.ShortName,
		Attrs: forest.Attributes{
			Description:    deref(n.Description),
			StageID:        deref(n.StageID),
			Unit:           deref(n.Unit),
			Cadence:        deref(n.Cadence),
			Notes:          deref(n.Notes),
			Assumptions:    deref(n.Assumptions),
			UniformatCode:  deref(n.UniformatCode),
			Estimate:       est,
			AnnualEstimate: annual,
			IsComputed:     n.IsComputed,
		},
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decimalText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*s))
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
