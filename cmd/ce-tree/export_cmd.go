package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/configuration"
)

type exportOptions struct {
	store  storeOptions
	output string
	sheet  string
}

func newExportCmd() *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the node table to a .tsv or .csv file, or a drilldown workbook to .xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), conf, opts)
		},
	}
	addStoreFlags(cmd, &opts.store)
	cmd.Flags().StringVar(&opts.output, "output", "", "Output file (required)")
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "Workbook sheet name for .xlsx output (default ce_drilldown)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runExport(ctx context.Context, conf *configuration.Configuration, opts exportOptions) error {
	if err := requirePath("output", opts.output); err != nil {
		return err
	}
	if err := opts.store.validate(); err != nil {
		return err
	}
	st, err := openStore(commandContext(ctx, conf, "export"), conf, opts.store)
	if err != nil {
		return err
	}
	defer st.Close()

	type exportSummary struct {
		Status string `json:"status"`
		Store  string `json:"store"`
		Nodes  int    `json:"nodes"`
		Rows   int    `json:"rows,omitempty"`
		Output string `json:"output"`
	}
	f, _ := buildForest(st.records)
	summary := exportSummary{Status: "exported", Store: st.kind, Nodes: f.Len(), Output: opts.output}

	if isWorkbook(opts.output) {
		rows, err := services.Flatten(f)
		if err != nil {
			return engineError(err)
		}
		if err := writeDrilldownWorkbook(opts.output, opts.sheet, rows); err != nil {
			return err
		}
		summary.Rows = len(rows)
		return writeJSONLine(summary)
	}
	if err := writeNodeTable(opts.output, st.header, f.Records()); err != nil {
		return err
	}
	return writeJSONLine(summary)
}
