package persistence

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/composables"
)

type PgOptions struct {
	Table      string
	AliasTable string
	BatchSize  int
}

// PgStore mirrors the forest into the hosted node table. The pool (or an
// open transaction) is taken from the context, see composables.WithPool.
type PgStore struct {
	table      string
	aliasTable string
	batchSize  int
}

var _ services.RowSink = (*PgStore)(nil)

func NewPgStore(opts PgOptions) *PgStore {
	if opts.Table == "" {
		opts.Table = "cost_elements_unified"
	}
	if opts.AliasTable == "" {
		opts.AliasTable = "ce_code_alias"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &PgStore{
		table:      quoteIdent(opts.Table),
		aliasTable: quoteIdent(opts.AliasTable),
		batchSize:  opts.BatchSize,
	}
}

// quoteIdent accepts "table" or "schema.table".
func quoteIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func (s *PgStore) selectColumns() string {
	cols := make([]string, len(nodeColumns))
	for i, c := range nodeColumns {
		if numericColumns[c] {
			cols[i] = c + "::text"
			continue
		}
		cols[i] = c
	}
	return strings.Join(cols, ", ")
}

func (s *PgStore) Load(ctx context.Context) ([]forest.Record, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	rows, err := tx.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY level, parent_id NULLS FIRST, sort_order, ce_id",
		s.selectColumns(), s.table,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cost elements")
	}
	defer rows.Close()

	var out []forest.Record
	for rows.Next() {
		var row nodeRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, errors.Wrap(err, "failed to scan cost element")
		}
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		rec.Line = len(out) + 1
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating cost elements")
	}
	return out, nil
}

// insertSQL builds a multi-row insert for n rows.
func (s *PgStore) insertSQL(n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", s.table, strings.Join(nodeColumns, ", "))
	arg := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, c := range nodeColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", arg)
			if numericColumns[c] {
				b.WriteString("::numeric")
			}
			arg++
		}
		b.WriteByte(')')
	}
	return b.String()
}

func (s *PgStore) insertRows(ctx context.Context, tx composables.Tx, records []forest.Record) error {
	args := make([]any, 0, len(records)*len(nodeColumns))
	for _, r := range records {
		args = append(args, newNodeRow(r).args()...)
	}
	if _, err := tx.Exec(ctx, s.insertSQL(len(records)), args...); err != nil {
		return err
	}
	return nil
}

type FailedInsert struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type InsertReport struct {
	Inserted int            `json:"inserted"`
	Batches  int            `json:"batches"`
	Failed   []FailedInsert `json:"failed,omitempty"`
}

// InsertNodes writes records level by level, shallowest first, in batches.
// A failed batch is retried row by row so one bad record does not sink its
// neighbours; failures are reported, not returned.
func (s *PgStore) InsertNodes(ctx context.Context, records []forest.Record) (InsertReport, error) {
	var report InsertReport
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return report, errors.Wrap(err, "failed to get transaction")
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b forest.Record) int { return a.Depth - b.Depth })

	for _, level := range splitByDepth(sorted) {
		for _, batch := range chunk(level, s.batchSize) {
			report.Batches++
			err := savepoint(ctx, tx, func(sp pgx.Tx) error { return s.insertRows(ctx, sp, batch) })
			if err == nil {
				report.Inserted += len(batch)
				continue
			}
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			for _, r := range batch {
				err := savepoint(ctx, tx, func(sp pgx.Tx) error { return s.insertRows(ctx, sp, []forest.Record{r}) })
				if err != nil {
					report.Failed = append(report.Failed, FailedInsert{ID: r.ID, Error: err.Error()})
					continue
				}
				report.Inserted++
			}
		}
	}
	return report, nil
}

func splitByDepth(sorted []forest.Record) [][]forest.Record {
	var out [][]forest.Record
	for start := 0; start < len(sorted); {
		end := start
		for end < len(sorted) && sorted[end].Depth == sorted[start].Depth {
			end++
		}
		out = append(out, sorted[start:end])
		start = end
	}
	return out
}

// savepoint runs fn in a nested transaction; on a pool it is a plain one.
func savepoint(ctx context.Context, tx composables.Tx, fn func(pgx.Tx) error) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// ApplyNodeBatch writes one propagator batch in a single transaction:
// deletes, both relabel passes, placements, then inserts.
func (s *PgStore) ApplyNodeBatch(ctx context.Context, batch services.NodeBatch) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		tx, err := composables.UseTx(txCtx)
		if err != nil {
			return errors.Wrap(err, "failed to get transaction")
		}
		if _, err := tx.Exec(txCtx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
			return errors.Wrap(err, "failed to defer constraints")
		}
		for _, id := range batch.Deletes {
			if _, err := tx.Exec(txCtx, fmt.Sprintf("DELETE FROM %s WHERE ce_id = $1", s.table), id); err != nil {
				return errors.Wrapf(err, "failed to delete %s", id)
			}
		}
		for _, pass := range [][]services.Relabel{batch.Pass1, batch.Pass2} {
			if err := s.relabel(txCtx, tx, pass); err != nil {
				return err
			}
		}
		for _, r := range batch.Placements {
			if _, err := tx.Exec(txCtx, fmt.Sprintf(
				"UPDATE %s SET parent_id = $2, level = $3, sort_order = $4, short_name = $5, updated_at = now() WHERE ce_id = $1",
				s.table,
			), r.ID, nullable(r.ParentID), r.Depth, r.SortOrder, r.ShortName); err != nil {
				return errors.Wrapf(err, "failed to place %s", r.ID)
			}
		}
		for _, level := range splitByDepth(batch.Inserts) {
			for _, part := range chunk(level, s.batchSize) {
				if err := s.insertRows(txCtx, tx, part); err != nil {
					return errors.Wrap(err, "failed to insert cost elements")
				}
			}
		}
		return nil
	})
}

func (s *PgStore) relabel(ctx context.Context, tx composables.Tx, pass []services.Relabel) error {
	if len(pass) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range pass {
		b.Queue(fmt.Sprintf("UPDATE %s SET ce_id = $2, updated_at = now() WHERE ce_id = $1", s.table), r.From, r.To)
		b.Queue(fmt.Sprintf("UPDATE %s SET parent_id = $2 WHERE parent_id = $1", s.table), r.From, r.To)
	}
	br := tx.SendBatch(ctx, b)
	for _, r := range pass {
		for range 2 {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return errors.Wrapf(err, "failed to relabel %s -> %s", r.From, r.To)
			}
		}
	}
	return errors.Wrap(br.Close(), "failed to close relabel batch")
}

// RecordAliases stores old -> new pairs so external references to retired
// identifiers can still be resolved.
func (s *PgStore) RecordAliases(ctx context.Context, renames []services.Rename, notes string) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get transaction")
	}
	b := &pgx.Batch{}
	now := time.Now().UTC()
	for _, r := range renames {
		if r.Old == r.New {
			continue
		}
		b.Queue(fmt.Sprintf(
			"INSERT INTO %s (old_code, new_code, migration_date, notes) VALUES ($1, $2, $3, $4)",
			s.aliasTable,
		), r.Old, r.New, now, nullable(notes))
	}
	if b.Len() == 0 {
		return 0, nil
	}
	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return i, errors.Wrap(err, "failed to record code alias")
		}
	}
	return b.Len(), errors.Wrap(br.Close(), "failed to close alias batch")
}

// PgCollaborator rewrites one identifier column of an external table.
type PgCollaborator struct {
	table  string
	column string
	name   string
}

var (
	_ services.Collaborator  = (*PgCollaborator)(nil)
	_ services.BatchReplacer = (*PgCollaborator)(nil)
)

func NewPgCollaborator(table, column string) *PgCollaborator {
	return &PgCollaborator{
		table:  quoteIdent(table),
		column: pgx.Identifier{column}.Sanitize(),
		name:   table + "." + column,
	}
}

func (c *PgCollaborator) Name() string { return c.name }

func (c *PgCollaborator) Replace(ctx context.Context, from, to string) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get transaction")
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s = $2 WHERE %s = $1", c.table, c.column, c.column), from, to)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to update %s", c.name)
	}
	return tag.RowsAffected(), nil
}

// ReplaceAll applies every pass inside one transaction, so a failing table
// is left untouched.
func (c *PgCollaborator) ReplaceAll(ctx context.Context, passes ...[]services.Relabel) (int64, error) {
	var total int64
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		for _, pass := range passes {
			for _, r := range pass {
				n, err := c.Replace(txCtx, r.From, r.To)
				if err != nil {
					return err
				}
				total += n
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
