package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/configuration"
)

func newValidateCmd() *cobra.Command {
	var opts storeOptions

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every structural rule and print violations as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return runValidate(cmd.Context(), conf, opts)
		},
	}
	addStoreFlags(cmd, &opts)
	return cmd
}

type validateSummary struct {
	Status     string         `json:"status"`
	Store      string         `json:"store"`
	Checked    int            `json:"checked"`
	Violations int            `json:"violations"`
	ByRule     map[string]int `json:"by_rule,omitempty"`
}

func runValidate(ctx context.Context, conf *configuration.Configuration, opts storeOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	st, err := openStore(commandContext(ctx, conf, "validate"), conf, opts)
	if err != nil {
		return err
	}
	defer st.Close()

	f, _ := buildForest(st.records)
	report := services.Validate(f)
	for _, v := range report.Violations {
		if err := writeJSONLine(v); err != nil {
			return err
		}
	}
	summary := validateSummary{
		Status:     "ok",
		Store:      st.kind,
		Checked:    report.Checked,
		Violations: len(report.Violations),
	}
	if !report.OK() {
		summary.Status = "invalid"
		summary.ByRule = report.CountByRule()
	}
	if err := writeJSONLine(summary); err != nil {
		return err
	}
	if !report.OK() {
		return withCode(exitValidation, fmt.Errorf("%d violations", len(report.Violations)))
	}
	return nil
}
