package planfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
	"github.com/housing-affordability/cetree/modules/taxonomy/services"
)

func testForest(t *testing.T) *forest.Forest {
	t.Helper()
	f, errs := forest.Build([]forest.Record{
		{ID: "B07-BuildCost", Depth: 1, SortOrder: 1, ShortName: "BuildCost"},
		{ID: "B07a-Structure", ParentID: "B07-BuildCost", Depth: 2, SortOrder: 1, ShortName: "Structure"},
		{ID: "B07a01-Footings", ParentID: "B07a-Structure", Depth: 3, SortOrder: 1, ShortName: "Footings"},
		{ID: "B07b-Weather", ParentID: "B07-BuildCost", Depth: 2, SortOrder: 2, ShortName: "Weather"},
		{ID: "B07c-Roofing", ParentID: "B07-BuildCost", Depth: 2, SortOrder: 3, ShortName: "Roofing"},
		{ID: "B07c01-Shingles", ParentID: "B07c-Roofing", Depth: 3, SortOrder: 1, ShortName: "Shingles"},
	})
	require.Empty(t, errs)
	return f
}

const yamlPlan = `
name: restructure
notes: spring cleanup
steps:
  - op: reorder
    parent: B07-BuildCost
    order: [Roofing, Structure, Weather]
  - op: Rename
    id: B07a-Structure
    name: Frame
  - op: insert
    parent: B07c-Roofing
    name: Underlayment
    position: 1
    attrs:
      estimate: "310.75"
      notes: synthetic felt
  - op: delete
    id: B07b-Weather
`

func TestDecode_YAMLStepsUseOriginalIdentifiers(t *testing.T) {
	plan, err := Decode(strings.NewReader(yamlPlan), FormatYAML)
	require.NoError(t, err)
	require.Equal(t, "restructure", plan.Name)
	require.Len(t, plan.Entries, 4)
	require.Equal(t, OpRename, plan.Entries[1].Op)

	steps := plan.Steps()
	require.Len(t, steps, 4)

	res, err := services.NewPropagator(nil).ApplySteps(context.Background(), testForest(t), steps)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"B07a-Structure":  "B07b-Frame",
		"B07a01-Footings": "B07b01-Footings",
		"B07c-Roofing":    "B07a-Roofing",
		"B07c01-Shingles": "B07a02-Shingles",
	}, res.Ledger.RenameMap())
	require.Equal(t, []string{"B07b-Weather"}, res.Ledger.Deleted)
	require.Equal(t, []string{"B07a01-Underlayment"}, res.Ledger.Inserted)

	under, ok := res.Forest.Index().LookupKey("B07a01-Underlayment")
	require.True(t, ok)
	require.Equal(t, "synthetic felt", under.Attrs.Notes)
	require.Equal(t, "310.75", under.Attrs.Estimate.Decimal.String())
	require.True(t, services.Validate(res.Forest).OK())
}

const tomlPlan = `
name = "mixed depth reorder"

[[steps]]
op = "reorder"
parent = "B07-BuildCost"
order = ["Weather", "Structure", "Roofing"]

[[steps]]
op = "reorder"
parent = "B07a-Structure"
depth = 3
order = ["Footings"]

[[steps]]
op = "move"
id = "B07c01-Shingles"
parent = "B07a-Structure"
position = 1
`

func TestDecode_TOMLGroupsConsecutiveReorders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlPlan), 0o644))
	plan, err := Load(path)
	require.NoError(t, err)

	steps := plan.Steps()
	require.Len(t, steps, 2)
	require.Equal(t, "reorder B07-BuildCost, B07a-Structure", steps[0].Name)

	res, err := services.NewPropagator(nil).ApplySteps(context.Background(), testForest(t), steps)
	require.NoError(t, err)
	got := res.Ledger.RenameMap()
	require.Equal(t, "B07a-Weather", got["B07b-Weather"])
	require.Equal(t, "B07b-Structure", got["B07a-Structure"])
	require.Equal(t, "B07b01-Shingles", got["B07c01-Shingles"])
	require.Equal(t, "B07b02-Footings", got["B07a01-Footings"])
	require.True(t, services.Validate(res.Forest).OK())
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown op":      "steps:\n  - op: explode\n    id: B07a-Structure\n",
		"missing id":      "steps:\n  - op: rename\n    name: Frame\n",
		"missing order":   "steps:\n  - op: reorder\n    parent: B07-BuildCost\n",
		"unknown key":     "steps:\n  - op: delete\n    id: B07a-Structure\n    casade: true\n",
		"bad estimate":    "steps:\n  - op: insert\n    parent: B07-BuildCost\n    name: Site\n    attrs:\n      estimate: lots\n",
		"negative offset": "steps:\n  - op: move\n    id: B07a01-Footings\n    parent: B07c-Roofing\n    position: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(body), FormatYAML)
			require.Error(t, err)
		})
	}

	_, err := Decode(strings.NewReader("name = \"x\"\nbogus = 1\n"), FormatTOML)
	require.ErrorContains(t, err, "unknown key bogus")

	_, err = FormatFor("plan.json")
	require.Error(t, err)
}
