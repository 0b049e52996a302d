package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/housing-affordability/cetree/modules/taxonomy/infrastructure/persistence"
	"github.com/housing-affordability/cetree/pkg/configuration"
)

type migrateOptions struct {
	target   string
	snapshot string
}

func newMigrateCmd() *cobra.Command {
	var opts migrateOptions

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the node, alias and snapshot tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), conf, opts)
		},
	}
	cmd.Flags().StringVar(&opts.target, "target", storeSnapshot, "Database to migrate: snapshot or postgres")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "Snapshot database path (defaults to CE_SNAPSHOT_PATH)")
	return cmd
}

func runMigrate(ctx context.Context, conf *configuration.Configuration, opts migrateOptions) error {
	type migrateSummary struct {
		Status  string  `json:"status"`
		Target  string  `json:"target"`
		Applied []int64 `json:"applied"`
	}
	switch strings.ToLower(strings.TrimSpace(opts.target)) {
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
		return writeJSONLine(migrateSummary{Status: "migrated", Target: storeSnapshot, Applied: snap.Applied()})
	case storePostgres:
		pool, err := connectDB(ctx, conf)
		if err != nil {
			return withCode(exitDB, err)
		}
		defer pool.Close()
		applied, err := persistence.MigratePostgres(ctx, pool)
		if err != nil {
			return withCode(exitDBWrite, err)
		}
		return writeJSONLine(migrateSummary{Status: "migrated", Target: storePostgres, Applied: applied})
	default:
		return withCode(exitUsage, fmt.Errorf("invalid --target %q (expected snapshot or postgres)", opts.target))
	}
}
