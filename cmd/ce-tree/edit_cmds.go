package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
	"github.com/housing-affordability/cetree/modules/taxonomy/infrastructure/planfile"
	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/configuration"
)

func newRegenerateCmd() *cobra.Command {
	var opts applyOptions

	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Recompute every identifier from parent links and sort orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return runRegenerate(cmd.Context(), conf, opts)
		},
	}
	addApplyFlags(cmd, &opts)
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Print every rename as a JSON line")
	return cmd
}

func runRegenerate(ctx context.Context, conf *configuration.Configuration, opts applyOptions) error {
	step := services.Step{
		Name: "regenerate",
		Plan: func(idx *forest.Index, _ services.Resolver) (services.Plan, error) {
			return services.Regenerate(idx.Forest())
		},
	}
	return runSteps(ctx, conf, "regenerate", opts, []services.Step{step})
}

type planOptions struct {
	applyOptions
	planPath string
}

func newPlanCmd() *cobra.Command {
	var opts planOptions

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Rehearse a plan file and print every rename it would make",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			opts.apply = false
			opts.verbose = true
			return runPlanFile(cmd.Context(), conf, "plan", opts)
		},
	}
	addStoreFlags(cmd, &opts.store)
	cmd.Flags().StringVar(&opts.planPath, "plan", "", "Plan file (.yaml or .toml) (required)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newApplyCmd() *cobra.Command {
	var opts planOptions

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a plan file (dry run unless --apply)",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return runPlanFile(cmd.Context(), conf, "apply", opts)
		},
	}
	addApplyFlags(cmd, &opts.applyOptions)
	cmd.Flags().StringVar(&opts.planPath, "plan", "", "Plan file (.yaml or .toml) (required)")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Print every rename as a JSON line")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func runPlanFile(ctx context.Context, conf *configuration.Configuration, name string, opts planOptions) error {
	if err := requirePath("plan", opts.planPath); err != nil {
		return err
	}
	pf, err := planfile.Load(opts.planPath)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("load plan: %w", err))
	}
	if opts.notes == "" {
		opts.notes = pf.Notes
	}
	return runSteps(ctx, conf, name, opts.applyOptions, pf.Steps())
}
