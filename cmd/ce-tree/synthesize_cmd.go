package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/configuration"
)

type synthesizeOptions struct {
	drilldown      string
	sheet          string
	roots          string
	output         string
	dedup          string
	maxAttachDepth int
}

func newSynthesizeCmd() *cobra.Command {
	var opts synthesizeOptions

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Build a coded tree from a denormalized drilldown sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return runSynthesize(cmd.Context(), conf, opts)
		},
	}

	cmd.Flags().StringVar(&opts.drilldown, "drilldown", "", "Drilldown sheet (.csv, .tsv or .xlsx) (required)")
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "Worksheet name for .xlsx input (defaults to the first sheet)")
	cmd.Flags().StringVar(&opts.roots, "roots", "", "Node table holding the root nodes (required)")
	cmd.Flags().StringVar(&opts.output, "output", "", "Write the synthesized node table here")
	cmd.Flags().StringVar(&opts.dedup, "dedup", "", "Duplicate leaf policy: merge or reject (defaults to CE_DEDUP_POLICY)")
	cmd.Flags().IntVar(&opts.maxAttachDepth, "max-attach-depth", 0, "Deepest parent level a terminal may attach under (default 4)")
	_ = cmd.MarkFlagRequired("drilldown")
	_ = cmd.MarkFlagRequired("roots")
	return cmd
}

type synthesizeSummary struct {
	Status    string             `json:"status"`
	Roots     int                `json:"roots"`
	Nodes     int                `json:"nodes"`
	Rejected  []int              `json:"rejected_lines,omitempty"`
	Anomalies []services.Anomaly `json:"anomalies,omitempty"`
	Output    string             `json:"output,omitempty"`
}

func runSynthesize(_ context.Context, conf *configuration.Configuration, opts synthesizeOptions) error {
	if err := requirePath("drilldown", opts.drilldown); err != nil {
		return err
	}
	if err := requirePath("roots", opts.roots); err != nil {
		return err
	}
	policyName := opts.dedup
	if policyName == "" {
		policyName = conf.Taxonomy.DedupPolicy
	}
	policy, err := services.ParseDedupPolicy(policyName)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("invalid --dedup: %w", err))
	}
	log := commandLogger(conf, "synthesize")

	t, err := readNodeTable(opts.roots)
	if err != nil {
		return err
	}
	f, buildErrs := buildForest(t.Records)
	if len(buildErrs) > 0 {
		return withCode(exitValidation, fmt.Errorf("roots table: %s", buildErrs[0]))
	}
	roots := f.Index().Roots()
	rows, err := readDrilldown(opts.drilldown, opts.sheet)
	if err != nil {
		return err
	}

	res, err := services.Synthesize(roots, rows, services.SynthesisOptions{Dedup: policy, MaxAttachDepth: opts.maxAttachDepth})
	if err != nil {
		return engineError(err)
	}
	log.WithField("nodes", len(res.Nodes)).Info("synthesized tree")

	if report := services.Validate(res.Forest); !report.OK() {
		for _, v := range report.Violations {
			if err := writeJSONLine(v); err != nil {
				return err
			}
		}
		return withCode(exitSafetyNet, fmt.Errorf("synthesized tree does not validate: %w", report.Err()))
	}

	summary := synthesizeSummary{
		Status:    "synthesized",
		Roots:     len(roots),
		Nodes:     len(res.Nodes),
		Rejected:  res.Rejected,
		Anomalies: res.Anomalies,
	}
	if opts.output != "" {
		if err := writeNodeTable(opts.output, nil, res.Forest.Records()); err != nil {
			return err
		}
		summary.Output = opts.output
	}
	return writeJSONLine(summary)
}
