package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/housing-affordability/cetree/modules/taxonomy/infrastructure/persistence"
	"github.com/housing-affordability/cetree/modules/taxonomy/infrastructure/sheets"
	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/composables"
	"github.com/housing-affordability/cetree/pkg/configuration"
)

type pushOptions struct {
	input     string
	refs      string
	target    string
	snapshot  string
	apply     bool
	ledgerDir string
}

func newPushCmd() *cobra.Command {
	var opts pushOptions

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Load a validated node table into the snapshot or the hosted table",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return runPush(cmd.Context(), conf, opts)
		},
	}
	cmd.Flags().StringVar(&opts.input, "input", "", "Node table file (.tsv/.csv) (required)")
	cmd.Flags().StringVar(&opts.refs, "refs", "", "Collaborator identifier dump (collaborator, ref_id) kept in the snapshot")
	cmd.Flags().StringVar(&opts.target, "target", storeSnapshot, "Destination: snapshot or postgres")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "Snapshot database path (defaults to CE_SNAPSHOT_PATH)")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Write the rows (default is a dry run)")
	cmd.Flags().StringVar(&opts.ledgerDir, "ledger-dir", "", "Manifest directory (defaults to CE_LEDGER_DIR)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

type pushManifest struct {
	ManifestID uuid.UUID                  `json:"manifest_id"`
	Status     string                     `json:"status"`
	Target     string                     `json:"target"`
	Input      string                     `json:"input"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Nodes      int                        `json:"nodes"`
	Inserted   int                        `json:"inserted"`
	Refs       int                        `json:"refs,omitempty"`
	Batches    int                        `json:"batches,omitempty"`
	Failed     []persistence.FailedInsert `json:"failed,omitempty"`
	Manifest   string                     `json:"manifest,omitempty"`
}

func runPush(ctx context.Context, conf *configuration.Configuration, opts pushOptions) error {
	if err := requirePath("input", opts.input); err != nil {
		return err
	}
	opts.target = strings.ToLower(strings.TrimSpace(opts.target))
	if opts.target != storeSnapshot && opts.target != storePostgres {
		return withCode(exitUsage, fmt.Errorf("invalid --target %q (expected snapshot or postgres)", opts.target))
	}
	if opts.refs != "" && opts.target != storeSnapshot {
		return withCode(exitUsage, fmt.Errorf("--refs only applies to the snapshot target"))
	}
	ctx = commandContext(ctx, conf, "push")

	t, err := readNodeTable(opts.input)
	if err != nil {
		return err
	}
	refs, err := readRefs(conf, opts.refs)
	if err != nil {
		return err
	}
	f, _ := buildForest(t.Records)
	if report := services.Validate(f); !report.OK() {
		for _, v := range report.Violations {
			if err := writeJSONLine(v); err != nil {
				return err
			}
		}
		return withCode(exitSafetyNet, fmt.Errorf("refusing to push: %w", report.Err()))
	}

	m := pushManifest{
		ManifestID: uuid.New(),
		Status:     "dry_run",
		Target:     opts.target,
		Input:      opts.input,
		StartedAt:  time.Now().UTC(),
		Nodes:      len(t.Records),
	}
	if !opts.apply {
		m.FinishedAt = time.Now().UTC()
		return writeJSONLine(m)
	}

	records := f.Records()
	switch opts.target {
	case storeSnapshot:
		path := opts.snapshot
		if path == "" {
			path = conf.Taxonomy.SnapshotPath
		}
		snap, err := persistence.OpenSnapshot(ctx, path)
		if err != nil {
			return withCode(exitDB, err)
		}
		defer func() { _ = snap.Close() }()
		if err := snap.Save(ctx, records); err != nil {
			return withCode(exitDBWrite, err)
		}
		m.Inserted = len(records)
		if refs != nil {
			if m.Refs, err = snap.ReplaceRefs(ctx, refs); err != nil {
				return withCode(exitDBWrite, err)
			}
		}
	case storePostgres:
		pool, err := connectDB(ctx, conf)
		if err != nil {
			return withCode(exitDB, err)
		}
		defer pool.Close()
		pg := persistence.NewPgStore(persistence.PgOptions{
			Table:      conf.Taxonomy.Table,
			AliasTable: conf.Taxonomy.AliasTable,
			BatchSize:  conf.Taxonomy.BatchSize,
		})
		err = composables.InTx(composables.WithPool(ctx, pool), func(txCtx context.Context) error {
			report, err := pg.InsertNodes(txCtx, records)
			m.Inserted, m.Batches, m.Failed = report.Inserted, report.Batches, report.Failed
			return err
		})
		if err != nil {
			return withCode(exitDBWrite, err)
		}
	}

	m.Status = "pushed"
	if len(m.Failed) > 0 {
		m.Status = "pushed_with_failures"
	}
	m.FinishedAt = time.Now().UTC()
	dir := opts.ledgerDir
	if dir == "" {
		dir = conf.Taxonomy.LedgerDir
	}
	m.Manifest = filepath.Join(dir, runFileName("push", m.ManifestID, m.StartedAt))
	if err := writeJSONFile(m.Manifest, m); err != nil {
		return err
	}
	if err := writeJSONLine(m); err != nil {
		return err
	}
	if len(m.Failed) > 0 {
		return withCode(exitDBWrite, fmt.Errorf("%d rows failed to insert", len(m.Failed)))
	}
	return nil
}

// readRefs loads a collaborator dump and checks every collaborator against
// the configured columns. An empty path yields nil.
func readRefs(conf *configuration.Configuration, path string) (map[string][]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("open %s: %w", path, err))
	}
	defer func() { _ = file.Close() }()
	refs, err := sheets.ReadRefs(file, sheets.DelimiterFor(path))
	if err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("read %s: %w", path, err))
	}

	cols, err := conf.Taxonomy.CollaboratorColumns()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c.String()] = true
	}
	for _, r := range refs {
		if !known[r.Collaborator] {
			return nil, withCode(exitUsage, fmt.Errorf("%s: line %d: unknown collaborator %q", path, r.Line, r.Collaborator))
		}
	}
	return sheets.GroupRefs(refs), nil
}
