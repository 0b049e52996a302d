package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/housing-affordability/cetree/modules/taxonomy/services"
)

// SQLCollaborator rewrites one identifier column through database/sql.
// When a scope is set only rows whose scope column matches are touched.
type SQLCollaborator struct {
	db          *sqlx.DB
	table       string
	column      string
	name        string
	scopeColumn string
	scopeValue  string
}

var (
	_ services.Collaborator  = (*SQLCollaborator)(nil)
	_ services.BatchReplacer = (*SQLCollaborator)(nil)
)

func NewSQLCollaborator(db *sqlx.DB, table, column string) *SQLCollaborator {
	return &SQLCollaborator{db: db, table: table, column: column, name: table + "." + column}
}

func (c *SQLCollaborator) Name() string { return c.name }

func (c *SQLCollaborator) statement() (string, []any) {
	q := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", c.table, c.column, c.column)
	if c.scopeColumn == "" {
		return c.db.Rebind(q), nil
	}
	return c.db.Rebind(q + fmt.Sprintf(" AND %s = ?", c.scopeColumn)), []any{c.scopeValue}
}

func (c *SQLCollaborator) Replace(ctx context.Context, from, to string) (int64, error) {
	return c.exec(ctx, c.db, from, to)
}

func (c *SQLCollaborator) exec(ctx context.Context, ex sqlx.ExecerContext, from, to string) (int64, error) {
	q, scope := c.statement()
	res, err := ex.ExecContext(ctx, q, append([]any{to, from}, scope...)...)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to update %s", c.name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count %s updates", c.name)
	}
	return n, nil
}

// ReplaceAll applies every pass inside one transaction.
func (c *SQLCollaborator) ReplaceAll(ctx context.Context, passes ...[]services.Relabel) (int64, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin collaborator transaction")
	}
	var total int64
	for _, pass := range passes {
		for _, r := range pass {
			n, err := c.exec(ctx, tx, r.From, r.To)
			if err != nil {
				_ = tx.Rollback()
				return 0, err
			}
			total += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit collaborator updates")
	}
	return total, nil
}
