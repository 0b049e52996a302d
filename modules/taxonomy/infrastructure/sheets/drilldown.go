package sheets

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/housing-affordability/cetree/modules/taxonomy/services"
)

const (
	ColumnGroup    = "ce_code"
	ColumnTerminal = "cost_component"
)

// LevelColumn names the header of level i (1-based).
func LevelColumn(i int) string { return fmt.Sprintf("level%d_name", i) }

func drilldownRequired() []string {
	return []string{ColumnGroup, LevelColumn(1)}
}

func drilldownRow(rec []string, idx map[string]int, line int) services.DrilldownRow {
	row := services.DrilldownRow{
		Line:     line,
		Group:    field(rec, idx, ColumnGroup),
		Terminal: field(rec, idx, ColumnTerminal),
	}
	for i := range services.LevelColumns {
		row.Levels[i] = field(rec, idx, LevelColumn(i+1))
	}
	return row
}

// ReadDrilldownCSV reads denormalized rows: a grouping key, up to five
// level names and an optional terminal component.
func ReadDrilldownCSV(r io.Reader, comma rune) ([]services.DrilldownRow, error) {
	cr := newCSVReader(r, comma)
	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if err := requireHeader(header, drilldownRequired()); err != nil {
		return nil, err
	}
	idx := headerIndex(header)

	var rows []services.DrilldownRow
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
		rows = append(rows, drilldownRow(rec, idx, line))
	}
	return rows, nil
}

// ReadDrilldownXLSX reads the same layout from a workbook sheet. An empty
// sheet name selects the first sheet.
func ReadDrilldownXLSX(r io.Reader, sheet string) ([]services.DrilldownRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}
	all, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	start := 0
	for start < len(all) && isBlank(all[start]) {
		start++
	}
	if start == len(all) {
		return nil, fmt.Errorf("missing header")
	}
	header, err := normalizeHeader(all[start])
	if err != nil {
		return nil, err
	}
	if err := requireHeader(header, drilldownRequired()); err != nil {
		return nil, err
	}
	idx := headerIndex(header)

	var rows []services.DrilldownRow
	for i := start + 1; i < len(all); i++ {
		if isBlank(all[i]) {
			continue
		}
		rows = append(rows, drilldownRow(all[i], idx, i+1))
	}
	return rows, nil
}

// WriteDrilldownXLSX writes rows in the layout ReadDrilldownXLSX reads.
func WriteDrilldownXLSX(w io.Writer, sheet string, rows []services.DrilldownRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if sheet == "" {
		sheet = "ce_drilldown"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}

	header := []any{ColumnGroup}
	for i := range services.LevelColumns {
		header = append(header, LevelColumn(i+1))
	}
	header = append(header, ColumnTerminal)
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range rows {
		values := []any{r.Group}
		for _, l := range r.Levels {
			values = append(values, l)
		}
		values = append(values, r.Terminal)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}
