package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
	"github.com/housing-affordability/cetree/modules/taxonomy/services"
)

// SnapshotStore keeps a local SQLite copy of the forest and of the
// identifier columns of its collaborators, so batches can be planned and
// rehearsed offline before they are pushed.
type SnapshotStore struct {
	db      *sqlx.DB
	applied []int64
}

var _ services.RowSink = (*SnapshotStore)(nil)

func OpenSnapshot(ctx context.Context, path string) (*SnapshotStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create snapshot directory")
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open snapshot")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}
	applied, err := migrate(ctx, goose.DialectSQLite3, db.DB, "migrations/sqlite")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SnapshotStore{db: db, applied: applied}, nil
}

// Applied lists the migration versions run when the snapshot was opened.
func (s *SnapshotStore) Applied() []int64 { return s.applied }

func (s *SnapshotStore) DB() *sqlx.DB { return s.db }

func (s *SnapshotStore) Close() error { return s.db.Close() }

func (s *SnapshotStore) Load(ctx context.Context) ([]forest.Record, error) {
	var rows []nodeRow
	err := s.db.SelectContext(ctx, &rows, fmt.Sprintf(
		"SELECT %s FROM ce_nodes ORDER BY id", strings.Join(nodeColumns, ", "),
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query snapshot nodes")
	}
	out := make([]forest.Record, 0, len(rows))
	for i, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		rec.Line = i + 1
		out = append(out, rec)
	}
	return out, nil
}

func insertNodeSQL() string {
	named := make([]string, len(nodeColumns))
	for i, c := range nodeColumns {
		named[i] = ":" + c
	}
	return fmt.Sprintf("INSERT INTO ce_nodes (%s) VALUES (%s)",
		strings.Join(nodeColumns, ", "), strings.Join(named, ", "))
}

// Save replaces the stored forest with records, in insert order.
func (s *SnapshotStore) Save(ctx context.Context, records []forest.Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin snapshot transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM ce_nodes"); err != nil {
		return errors.Wrap(err, "failed to clear snapshot nodes")
	}
	if err := insertNodes(ctx, tx, records); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit snapshot")
}

func insertNodes(ctx context.Context, tx *sqlx.Tx, records []forest.Record) error {
	stmt, err := tx.PrepareNamedContext(ctx, insertNodeSQL())
	if err != nil {
		return errors.Wrap(err, "failed to prepare node insert")
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, newNodeRow(r)); err != nil {
			return errors.Wrapf(err, "failed to insert %s", r.ID)
		}
	}
	return nil
}

func (s *SnapshotStore) ApplyNodeBatch(ctx context.Context, batch services.NodeBatch) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin snapshot transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range batch.Deletes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM ce_nodes WHERE ce_id = ?", id); err != nil {
			return errors.Wrapf(err, "failed to delete %s", id)
		}
	}
	for _, pass := range [][]services.Relabel{batch.Pass1, batch.Pass2} {
		for _, r := range pass {
			if _, err := tx.ExecContext(ctx, "UPDATE ce_nodes SET ce_id = ? WHERE ce_id = ?", r.To, r.From); err != nil {
				return errors.Wrapf(err, "failed to relabel %s", r.From)
			}
			if _, err := tx.ExecContext(ctx, "UPDATE ce_nodes SET parent_id = ? WHERE parent_id = ?", r.To, r.From); err != nil {
				return errors.Wrapf(err, "failed to relabel children of %s", r.From)
			}
		}
	}
	for _, r := range batch.Placements {
		if _, err := tx.ExecContext(ctx,
			"UPDATE ce_nodes SET parent_id = ?, level = ?, sort_order = ?, short_name = ? WHERE ce_id = ?",
			nullable(r.ParentID), r.Depth, r.SortOrder, r.ShortName, r.ID,
		); err != nil {
			return errors.Wrapf(err, "failed to place %s", r.ID)
		}
	}
	if err := insertNodes(ctx, tx, batch.Inserts); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit node batch")
}

// ReplaceRefs swaps the stored collaborator identifiers for refs, keyed by
// collaborator name. Collaborators absent from refs end up with none.
func (s *SnapshotStore) ReplaceRefs(ctx context.Context, refs map[string][]string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin snapshot transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM ce_refs"); err != nil {
		return 0, errors.Wrap(err, "failed to clear references")
	}
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	n := 0
	for _, name := range names {
		for _, id := range refs[name] {
			if _, err := tx.ExecContext(ctx, "INSERT INTO ce_refs (collaborator, ref_id) VALUES (?, ?)", name, id); err != nil {
				return 0, errors.Wrapf(err, "failed to add %s reference", name)
			}
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit references")
	}
	return n, nil
}

func (s *SnapshotStore) Refs(ctx context.Context, collaborator string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, "SELECT ref_id FROM ce_refs WHERE collaborator = ? ORDER BY id", collaborator)
	return ids, errors.Wrapf(err, "failed to list %s references", collaborator)
}

// Collaborator exposes the stored references of one collaborator to the
// propagator.
func (s *SnapshotStore) Collaborator(name string) *SQLCollaborator {
	c := NewSQLCollaborator(s.db, "ce_refs", "ref_id")
	c.name = name
	c.scopeColumn = "collaborator"
	c.scopeValue = name
	return c
}

type Alias struct {
	ID            int64   `db:"id" json:"id"`
	OldCode       string  `db:"old_code" json:"old_code"`
	NewCode       string  `db:"new_code" json:"new_code"`
	MigrationDate string  `db:"migration_date" json:"migration_date"`
	Notes         *string `db:"notes" json:"notes,omitempty"`
}

func (s *SnapshotStore) RecordAliases(ctx context.Context, renames []services.Rename, notes string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin snapshot transaction")
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC().Format(time.RFC3339)
	n := 0
	for _, r := range renames {
		if r.Old == r.New {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO ce_code_alias (old_code, new_code, migration_date, notes) VALUES (?, ?, ?, ?)",
			r.Old, r.New, now, nullable(notes),
		); err != nil {
			return 0, errors.Wrap(err, "failed to record code alias")
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit aliases")
	}
	return n, nil
}

func (s *SnapshotStore) Aliases(ctx context.Context) ([]Alias, error) {
	var out []Alias
	err := s.db.SelectContext(ctx, &out, "SELECT id, old_code, new_code, migration_date, notes FROM ce_code_alias ORDER BY id")
	return out, errors.Wrap(err, "failed to list aliases")
}
