package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
	"github.com/housing-affordability/cetree/modules/taxonomy/infrastructure/sheets"
	"github.com/housing-affordability/cetree/modules/taxonomy/services"
)

func readNodeTable(path string) (*sheets.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("open %s: %w", path, err))
	}
	defer func() { _ = f.Close() }()
	t, err := sheets.ReadNodes(f, sheets.DelimiterFor(path))
	if err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("read %s: %w", path, err))
	}
	return t, nil
}

func writeNodeTable(path string, header []string, records []forest.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return withCode(exitDB, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err))
	}
	f, err := os.Create(path)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("create %s: %w", path, err))
	}
	if err := sheets.WriteNodes(f, sheets.DelimiterFor(path), header, records); err != nil {
		_ = f.Close()
		return withCode(exitDB, fmt.Errorf("write %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		return withCode(exitDB, fmt.Errorf("close %s: %w", path, err))
	}
	return nil
}

func readDrilldown(path, sheet string) ([]services.DrilldownRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("open %s: %w", path, err))
	}
	defer func() { _ = f.Close() }()

	var rows []services.DrilldownRow
	if isWorkbook(path) {
		rows, err = sheets.ReadDrilldownXLSX(f, sheet)
	} else {
		rows, err = sheets.ReadDrilldownCSV(f, sheets.DelimiterFor(path))
	}
	if err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("read %s: %w", path, err))
	}
	return rows, nil
}

func writeDrilldownWorkbook(path, sheet string, rows []services.DrilldownRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return withCode(exitDB, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err))
	}
	f, err := os.Create(path)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("create %s: %w", path, err))
	}
	if err := sheets.WriteDrilldownXLSX(f, sheet, rows); err != nil {
		_ = f.Close()
		return withCode(exitDB, fmt.Errorf("write %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		return withCode(exitDB, fmt.Errorf("close %s: %w", path, err))
	}
	return nil
}

func isWorkbook(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

// buildForest reports structural problems without refusing: the validator
// is the judge of whether a forest may be written.
func buildForest(records []forest.Record) (*forest.Forest, []string) {
	f, errs := forest.Build(records)
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return f, msgs
}
