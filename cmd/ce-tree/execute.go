package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/configuration"
)

// applyOptions are shared by every command that changes the forest.
type applyOptions struct {
	store     storeOptions
	apply     bool
	output    string
	notes     string
	ledgerDir string
	verbose   bool
}

type runSummary struct {
	Status        string                        `json:"status"`
	Command       string                        `json:"command"`
	Store         string                        `json:"store"`
	RunID         string                        `json:"run_id"`
	Renamed       int                           `json:"renamed"`
	Deleted       int                           `json:"deleted"`
	Inserted      int                           `json:"inserted"`
	Anomalies     int                           `json:"anomalies"`
	Aliases       int                           `json:"aliases,omitempty"`
	Collaborators []services.CollaboratorResult `json:"collaborators,omitempty"`
	Ledger        string                        `json:"ledger,omitempty"`
	Output        string                        `json:"output,omitempty"`
}

type renameLine struct {
	Kind string `json:"kind"`
	services.Rename
}

type anomalyLine struct {
	Kind string `json:"kind"`
	services.Anomaly
}

// runSteps always rehearses the steps in memory first and validates the
// outcome. Only a clean rehearsal is replayed against the store, and only
// when apply is set.
func runSteps(ctx context.Context, conf *configuration.Configuration, name string, opts applyOptions, steps []services.Step) error {
	if err := opts.store.validate(); err != nil {
		return err
	}
	ctx = commandContext(ctx, conf, name)
	st, err := openStore(ctx, conf, opts.store)
	if err != nil {
		return err
	}
	defer st.Close()

	f, buildErrs := buildForest(st.records)
	for _, msg := range buildErrs {
		commandLogger(conf, name).Warn(msg)
	}

	rehearsal, err := services.NewPropagator(nil).ApplySteps(ctx, f, steps)
	if err != nil {
		return engineError(err)
	}
	if opts.verbose {
		if err := writeLedgerLines(rehearsal.Ledger); err != nil {
			return err
		}
	}
	if report := services.Validate(rehearsal.Forest); !report.OK() {
		for _, v := range report.Violations {
			if err := writeJSONLine(v); err != nil {
				return err
			}
		}
		return withCode(exitSafetyNet, fmt.Errorf("%s: result would not validate: %w", name, report.Err()))
	}

	summary := runSummary{
		Status:    "dry_run",
		Command:   name,
		Store:     st.kind,
		RunID:     rehearsal.Ledger.RunID.String(),
		Renamed:   len(rehearsal.Ledger.Renames),
		Deleted:   len(rehearsal.Ledger.Deleted),
		Inserted:  len(rehearsal.Ledger.Inserted),
		Anomalies: len(rehearsal.Ledger.Anomalies),
	}
	if !opts.apply {
		return writeJSONLine(summary)
	}

	res, err := services.NewPropagator(st.sink, st.collaborators...).ApplySteps(st.ctx, f, steps)
	if err != nil {
		return engineError(err)
	}
	summary.Status = "applied"
	summary.RunID = res.Ledger.RunID.String()
	summary.Collaborators = res.Ledger.Collaborators

	if st.kind == storeFile {
		out := opts.output
		if out == "" {
			out = opts.store.input
		}
		if err := writeNodeTable(out, st.header, res.Forest.Records()); err != nil {
			return err
		}
		summary.Output = out
	}
	if st.aliases != nil && len(res.Ledger.Renames) > 0 {
		n, err := st.aliases.RecordAliases(st.ctx, res.Ledger.Renames, opts.notes)
		if err != nil {
			return withCode(exitDBWrite, err)
		}
		summary.Aliases = n
	}

	dir := opts.ledgerDir
	if dir == "" {
		dir = conf.Taxonomy.LedgerDir
	}
	summary.Ledger = filepath.Join(dir, runFileName(name, res.Ledger.RunID, res.Ledger.StartedAt))
	if err := writeJSONFile(summary.Ledger, res.Ledger); err != nil {
		return err
	}

	var failed error
	for _, c := range res.Ledger.Collaborators {
		if c.Error != "" {
			summary.Status = "applied_with_errors"
			failed = withCode(exitDBWrite, fmt.Errorf("collaborator %s: %s", c.Name, c.Error))
		}
	}
	if err := writeJSONLine(summary); err != nil {
		return err
	}
	return failed
}

func writeLedgerLines(l services.Ledger) error {
	for _, r := range l.Renames {
		if err := writeJSONLine(renameLine{Kind: "rename", Rename: r}); err != nil {
			return err
		}
	}
	for _, a := range l.Anomalies {
		if err := writeJSONLine(anomalyLine{Kind: "anomaly", Anomaly: a}); err != nil {
			return err
		}
	}
	return nil
}

func addApplyFlags(cmd *cobra.Command, opts *applyOptions) {
	addStoreFlags(cmd, &opts.store)
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Write the result (default is a dry run)")
	cmd.Flags().StringVar(&opts.output, "output", "", "Result table when --store=file (defaults to rewriting --input)")
	cmd.Flags().StringVar(&opts.notes, "notes", "", "Note stored with each recorded code alias")
	cmd.Flags().StringVar(&opts.ledgerDir, "ledger-dir", "", "Ledger directory (defaults to CE_LEDGER_DIR)")
}
