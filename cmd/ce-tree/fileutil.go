package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

func writeJSONFile(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return withCode(exitDB, fmt.Errorf("mkdir %s: %w", dir, err))
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return withCode(exitDB, fmt.Errorf("json marshal: %w", err))
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return withCode(exitDB, fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}

// runFileName names a per-run artifact, e.g. ledger_20260101T000000Z_<uuid>.json.
func runFileName(kind string, runID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.json", kind, at.UTC().Format("20060102T150405Z"), runID.String())
}

func requirePath(flag, path string) error {
	if strings.TrimSpace(path) == "" {
		return withCode(exitUsage, fmt.Errorf("--%s is required", flag))
	}
	return nil
}
