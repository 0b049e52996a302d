package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
	"github.com/housing-affordability/cetree/modules/taxonomy/infrastructure/persistence"
	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/composables"
	"github.com/housing-affordability/cetree/pkg/configuration"
)

const (
	storeFile     = "file"
	storeSnapshot = "snapshot"
	storePostgres = "postgres"
)

// storeOptions selects where the node table lives.
type storeOptions struct {
	kind     string
	input    string
	snapshot string
}

func (o *storeOptions) validate() error {
	o.kind = strings.ToLower(strings.TrimSpace(o.kind))
	switch o.kind {
	case storeFile:
		return requirePath("input", o.input)
	case storeSnapshot, storePostgres:
		return nil
	default:
		return withCode(exitUsage, fmt.Errorf("invalid --store %q (expected file, snapshot or postgres)", o.kind))
	}
}

type aliasRecorder interface {
	RecordAliases(ctx context.Context, renames []services.Rename, notes string) (int, error)
}

// store is an opened node table plus whatever can write it back.
type store struct {
	kind          string
	records       []forest.Record
	header        []string
	sink          services.RowSink
	collaborators []services.Collaborator
	aliases       aliasRecorder
	ctx           context.Context
	close         func()
}

func (s *store) Close() {
	if s.close != nil {
		s.close()
	}
}

func openStore(ctx context.Context, conf *configuration.Configuration, opts storeOptions) (*store, error) {
	switch opts.kind {
	case storeFile:
		t, err := readNodeTable(opts.input)
		if err != nil {
			return nil, err
		}
		return &store{kind: storeFile, records: t.Records, header: t.Header, ctx: ctx}, nil
	case storeSnapshot:
		path := opts.snapshot
		if path == "" {
			path = conf.Taxonomy.SnapshotPath
		}
		snap, err := persistence.OpenSnapshot(ctx, path)
		if err != nil {
			return nil, withCode(exitDB, err)
		}
		records, err := snap.Load(ctx)
		if err != nil {
			_ = snap.Close()
			return nil, withCode(exitDB, err)
		}
		refs, err := conf.Taxonomy.CollaboratorColumns()
		if err != nil {
			_ = snap.Close()
			return nil, withCode(exitUsage, err)
		}
		s := &store{
			kind:    storeSnapshot,
			records: records,
			sink:    snap,
			aliases: snap,
			ctx:     ctx,
			close:   func() { _ = snap.Close() },
		}
		for _, ref := range refs {
			s.collaborators = append(s.collaborators, snap.Collaborator(ref.String()))
		}
		return s, nil
	case storePostgres:
		pool, err := connectDB(ctx, conf)
		if err != nil {
			return nil, withCode(exitDB, err)
		}
		ctx = composables.WithPool(ctx, pool)
		pg := persistence.NewPgStore(persistence.PgOptions{
			Table:      conf.Taxonomy.Table,
			AliasTable: conf.Taxonomy.AliasTable,
			BatchSize:  conf.Taxonomy.BatchSize,
		})
		records, err := pg.Load(ctx)
		if err != nil {
			pool.Close()
			return nil, withCode(exitDB, err)
		}
		refs, err := conf.Taxonomy.CollaboratorColumns()
		if err != nil {
			pool.Close()
			return nil, withCode(exitUsage, err)
		}
		s := &store{
			kind:    storePostgres,
			records: records,
			sink:    pg,
			aliases: pg,
			ctx:     ctx,
			close:   pool.Close,
		}
		for _, ref := range refs {
			s.collaborators = append(s.collaborators, persistence.NewPgCollaborator(ref.Table, ref.Column))
		}
		return s, nil
	default:
		return nil, withCode(exitUsage, fmt.Errorf("unknown store %q", opts.kind))
	}
}

func addStoreFlags(cmd *cobra.Command, opts *storeOptions) {
	cmd.Flags().StringVar(&opts.kind, "store", storeFile, "Node table location: file, snapshot or postgres")
	cmd.Flags().StringVar(&opts.input, "input", "", "Node table file (.tsv/.csv) when --store=file")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "Snapshot database path (defaults to CE_SNAPSHOT_PATH)")
}
