package sheets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/housing-affordability/cetree/modules/taxonomy/services"
)

const nodesTSV = "\ufeff\n" +
	"ce_id\tparent_id\tlevel\tsort_order\tshort_name\testimate\tis_computed\towner\n" +
	"B07-BuildCost\t\t1\t1\tBuildCost\t\tfalse\tops\n" +
	"B07a-Structure\tB07-BuildCost\t2\t1\t\t$12,500.25\tyes\t\n" +
	"\t\t\t\t\t\t\t\n" +
	"B07a01-Footings\tB07a-Structure\t3\t1\tFootings\t900\t0\tsite team\n"

func TestReadNodes_ParsesTSV(t *testing.T) {
	table, err := ReadNodes(strings.NewReader(nodesTSV), '\t')
	require.NoError(t, err)
	require.Len(t, table.Records, 3)
	require.Equal(t, []string{"ce_id", "parent_id", "level", "sort_order", "short_name", "estimate", "is_computed", "owner"}, table.Header)

	root := table.Records[0]
	require.Equal(t, "B07-BuildCost", root.ID)
	require.Empty(t, root.ParentID)
	require.Equal(t, "ops", root.Attrs.Extra["owner"])
	require.False(t, root.Attrs.Estimate.Valid)

	structure := table.Records[1]
	require.Equal(t, "Structure", structure.ShortName)
	require.True(t, structure.Attrs.IsComputed)
	require.True(t, structure.Attrs.Estimate.Decimal.Equal(decimal.RequireFromString("12500.25")))
	require.Nil(t, structure.Attrs.Extra)
	require.Equal(t, 4, structure.Line)

	require.Equal(t, 6, table.Records[2].Line)
}

func TestReadNodes_Errors(t *testing.T) {
	_, err := ReadNodes(strings.NewReader("ce_id,level\nB07,1\n"), ',')
	require.ErrorContains(t, err, "missing required header column: parent_id")

	_, err = ReadNodes(strings.NewReader("ce_id,parent_id,level,sort_order\nB07-X,,one,1\n"), ',')
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	require.Equal(t, 2, rowErr.Line)
	require.Equal(t, "level", rowErr.Column)

	_, err = ReadNodes(strings.NewReader(""), ',')
	require.ErrorContains(t, err, "missing header")
}

func TestWriteNodes_RoundTripKeepsHeaderOrder(t *testing.T) {
	table, err := ReadNodes(strings.NewReader(nodesTSV), '\t')
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteNodes(&buf, '\t', table.Header, table.Records))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "ce_id\tparent_id\tlevel\tsort_order\tshort_name\testimate\tis_computed\towner", lines[0])
	require.Equal(t, "B07a-Structure\tB07-BuildCost\t2\t1\tStructure\t12500.25\ttrue\t", lines[2])

	again, err := ReadNodes(&buf, '\t')
	require.NoError(t, err)
	require.Equal(t, len(table.Records), len(again.Records))
	for i := range table.Records {
		require.Equal(t, table.Records[i].ID, again.Records[i].ID)
		require.Equal(t, table.Records[i].Attrs.Extra, again.Records[i].Attrs.Extra)
	}
}

func TestWriteNodes_DefaultHeaderAppendsExtras(t *testing.T) {
	table, err := ReadNodes(strings.NewReader(nodesTSV), '\t')
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteNodes(&buf, ',', nil, table.Records))
	header := strings.SplitN(buf.String(), "\n", 2)[0]
	require.Equal(t, strings.Join(append(append([]string{}, NodeColumns...), "owner"), ","), header)
}

const drilldownCSV = `ce_code,level1_name,level2_name,level3_name,level4_name,level5_name,cost_component,cost_composition
B07-BuildCost,Structure,Framing,Studs,,,,labor
B07-BuildCost,Structure,,,,,Footings,mixed

O02-Operate,Utilities,,,,,Water,sub_op
`

func TestReadDrilldownCSV(t *testing.T) {
	rows, err := ReadDrilldownCSV(strings.NewReader(drilldownCSV), ',')
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, services.DrilldownRow{
		Line:   2,
		Group:  "B07-BuildCost",
		Levels: [services.LevelColumns]string{"Structure", "Framing", "Studs"},
	}, rows[0])
	require.Equal(t, "Footings", rows[1].Terminal)
	require.Equal(t, 5, rows[2].Line)
}

func TestDrilldownXLSX_RoundTrip(t *testing.T) {
	rows, err := ReadDrilldownCSV(strings.NewReader(drilldownCSV), ',')
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteDrilldownXLSX(&buf, "", rows))

	got, err := ReadDrilldownXLSX(bytes.NewReader(buf.Bytes()), "ce_drilldown")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range rows {
		require.Equal(t, rows[i].Group, got[i].Group)
		require.Equal(t, rows[i].Levels, got[i].Levels)
		require.Equal(t, rows[i].Terminal, got[i].Terminal)
	}
	require.Equal(t, 2, got[0].Line)

	_, err = ReadDrilldownXLSX(bytes.NewReader(buf.Bytes()), "missing")
	require.Error(t, err)
}

func TestDelimiterFor(t *testing.T) {
	require.Equal(t, '\t', DelimiterFor("cost_elements_unified.TSV"))
	require.Equal(t, ',', DelimiterFor("drilldown.csv"))
}

func TestReadRefs(t *testing.T) {
	refs, err := ReadRefs(strings.NewReader("Collaborator\tref_id\n"+
		"cro_ce_map.ce_id\tB07c-Roofing\n"+
		"\t\n"+
		"ce_drilldown.ce_code\tB07c01-Shingles\n"+
		"cro_ce_map.ce_id\tB07a01-Footings\n"), '\t')
	require.NoError(t, err)
	require.Len(t, refs, 3)
	require.Equal(t, 4, refs[1].Line)
	require.Equal(t, map[string][]string{
		"cro_ce_map.ce_id":     {"B07c-Roofing", "B07a01-Footings"},
		"ce_drilldown.ce_code": {"B07c01-Shingles"},
	}, GroupRefs(refs))

	_, err = ReadRefs(strings.NewReader("collaborator,ref_id\ncro_ce_map.ce_id,\n"), ',')
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	require.Equal(t, ColumnRefID, rowErr.Column)

	_, err = ReadRefs(strings.NewReader("collaborator\nx\n"), ',')
	require.ErrorContains(t, err, "missing required header column: ref_id")
}
