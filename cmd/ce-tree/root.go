package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/configuration"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ce-tree",
		Short:         "Cost element taxonomy tool: synthesize, reorder, rename and validate coded trees",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newSynthesizeCmd())
	cmd.AddCommand(newRegenerateCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

var loaded *configuration.Configuration

// loadConfig reads configuration once per process; Execute unloads it.
func loadConfig() (*configuration.Configuration, error) {
	conf, err := configuration.Load()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	loaded = conf
	return conf, nil
}

func Execute() {
	err := newRootCmd().Execute()
	if loaded != nil {
		loaded.Unload()
	}
	if err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}

func commandLogger(conf *configuration.Configuration, name string) *logrus.Entry {
	logger := conf.Logger()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("command", name)
}

// commandContext attaches the command logger for the engine to use.
func commandContext(ctx context.Context, conf *configuration.Configuration, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return services.WithLogger(ctx, commandLogger(conf, name))
}
