package persistence

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
	"github.com/housing-affordability/cetree/modules/taxonomy/services"
	"github.com/housing-affordability/cetree/pkg/composables"
)

func TestPgStore_InsertSQL(t *testing.T) {
	s := NewPgStore(PgOptions{Table: "public.cost_elements_unified"})
	q := s.insertSQL(2)
	require.True(t, strings.HasPrefix(q, `INSERT INTO "public"."cost_elements_unified" (ce_id, parent_id,`))
	require.Contains(t, q, "$13::numeric, $14::numeric, $15)")
	require.True(t, strings.HasSuffix(q, "$28::numeric, $29::numeric, $30)"))
	require.Contains(t, s.selectColumns(), "estimate::text")
}

func TestSplitByDepthAndChunk(t *testing.T) {
	recs := []forest.Record{{ID: "a", Depth: 1}, {ID: "b", Depth: 2}, {ID: "c", Depth: 2}, {ID: "d", Depth: 3}}
	levels := splitByDepth(recs)
	require.Len(t, levels, 3)
	require.Len(t, levels[1], 2)

	parts := chunk([]int{1, 2, 3, 4, 5}, 2)
	require.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, parts)
	require.Empty(t, chunk([]int{}, 3))
}

// newTestPool connects to CE_TEST_DATABASE_URL inside a throwaway schema.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("CE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := "cetree_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")

	admin, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPgStore_EndToEnd(t *testing.T) {
	pool := newTestPool(t)
	ctx := composables.WithPool(context.Background(), pool)

	applied, err := MigratePostgres(ctx, pool)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, applied)

	_, err = pool.Exec(ctx, "CREATE TABLE cro_ce_map (id serial PRIMARY KEY, ce_id text NOT NULL)")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "INSERT INTO cro_ce_map (ce_id) VALUES ('B07a-Structure'), ('B07c01-Shingles')")
	require.NoError(t, err)

	store := NewPgStore(PgOptions{BatchSize: 2})
	bad := forest.Record{ID: "B07d-Bad", ParentID: "B07-BuildCost", Depth: 9, SortOrder: 4, ShortName: "Bad"}
	report, err := store.InsertNodes(ctx, append(sampleRecords(), bad))
	require.NoError(t, err)
	require.Equal(t, 6, report.Inserted)
	require.Len(t, report.Failed, 1)
	require.Equal(t, "B07d-Bad", report.Failed[0].ID)

	records, err := store.Load(ctx)
	require.NoError(t, err)
	f, errs := forest.Build(records)
	require.Empty(t, errs)

	plan, err := services.PlanReorder(f.Index(), services.ReorderRequest{
		ParentID: "B07-BuildCost",
		Order:    []string{"Roofing", "Structure", "Weather"},
	})
	require.NoError(t, err)
	missing := NewPgCollaborator("no_such_table", "ce_id")
	res, err := services.NewPropagator(store, NewPgCollaborator("cro_ce_map", "ce_id"), missing).Apply(ctx, f, plan)
	require.NoError(t, err)
	require.Equal(t, int64(4), res.Ledger.Collaborators[0].Rows)
	require.NotEmpty(t, res.Ledger.Collaborators[1].Error)

	n, err := store.RecordAliases(ctx, res.Ledger.Renames, "test")
	require.NoError(t, err)
	require.Equal(t, len(res.Ledger.Renames), n)

	records, err = store.Load(ctx)
	require.NoError(t, err)
	f, errs = forest.Build(records)
	require.Empty(t, errs)
	require.True(t, services.Validate(f).OK())

	var refs []string
	rows, err := pool.Query(ctx, "SELECT ce_id FROM cro_ce_map ORDER BY id")
	require.NoError(t, err)
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		refs = append(refs, id)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"B07b-Structure", "B07a01-Shingles"}, refs, fmt.Sprint(res.Ledger.Renames))
}
