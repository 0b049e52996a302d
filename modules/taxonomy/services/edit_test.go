package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

func applyPlan(t *testing.T, f *forest.Forest, plan Plan) *Result {
	t.Helper()
	res, err := newTestPropagator(nil).Apply(context.Background(), f, plan)
	require.NoError(t, err)
	report := Validate(res.Forest)
	require.True(t, report.OK(), "%+v", report.Violations)
	return res
}

func TestPlanRename_KeepsCodeAndDescendants(t *testing.T) {
	f := buildForest(t, b07Records())
	plan, err := PlanRename(f.Index(), "B07a02-Framing", "Wood  framing")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"B07a02-Framing": "B07a02-Wood framing"}, plan.Renames())

	res := applyPlan(t, f, plan)
	require.Equal(t, map[string]string{"B07a02-Framing": "B07a02-Wood framing"}, res.Ledger.RenameMap())
	studs, ok := res.Forest.Index().LookupKey("B07a02a-Studs")
	require.True(t, ok)
	require.Equal(t, "B07a02-Wood framing", studs.ParentID.Key())
}

func TestPlanRename_Refusals(t *testing.T) {
	f := buildForest(t, b07Records())
	idx := f.Index()
	var svcErr *ServiceError

	_, err := PlanRename(idx, "B07-BuildCost", "Other")
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeRootImmutable, svcErr.Code)

	_, err = PlanRename(idx, "B07a-Structure", "Weather")
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeAmbiguousName, svcErr.Code)

	_, err = PlanRename(idx, "B07a-Structure", "   ")
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeInvalidRequest, svcErr.Code)

	plan, err := PlanRename(idx, "B07a-Structure", "Structure")
	require.NoError(t, err)
	require.True(t, plan.IsEmpty())
}

func TestPlanMove_SameDepthCascadesByPrefix(t *testing.T) {
	f := buildForest(t, b07Records())
	plan, err := PlanMove(f.Index(), "B07a02-Framing", "B07c-Roofing", 1)
	require.NoError(t, err)

	res := applyPlan(t, f, plan)
	got := res.Ledger.RenameMap()
	require.Equal(t, "B07c01-Framing", got["B07a02-Framing"])
	require.Equal(t, "B07c01a-Studs", got["B07a02a-Studs"])
	require.Equal(t, "B07c02-Shingles", got["B07c01-Shingles"])
	require.NotContains(t, got, "B07a01-Footings")
}

func TestPlanMove_DepthChangeReencodesSubtree(t *testing.T) {
	f := buildForest(t, b07Records())
	plan, err := PlanMove(f.Index(), "B07a02-Framing", "B07c01-Shingles", 0)
	require.NoError(t, err)

	res := applyPlan(t, f, plan)
	got := res.Ledger.RenameMap()
	require.Equal(t, "B07c01a-Framing", got["B07a02-Framing"])
	require.Equal(t, "B07c01a01-Studs", got["B07a02a-Studs"])

	studs, ok := res.Forest.Index().LookupKey("B07c01a01-Studs")
	require.True(t, ok)
	require.Equal(t, 5, studs.Depth)
}

func TestPlanMove_WithinSameParentActsAsReorder(t *testing.T) {
	f := buildForest(t, b07Records())
	plan, err := PlanMove(f.Index(), "B07c-Roofing", "B07-BuildCost", 1)
	require.NoError(t, err)
	res := applyPlan(t, f, plan)
	got := res.Ledger.RenameMap()
	require.Equal(t, "B07a-Roofing", got["B07c-Roofing"])
	require.Equal(t, "B07b-Structure", got["B07a-Structure"])
	require.Equal(t, "B07c-Weather", got["B07b-Weather"])
}

func TestPlanMove_Refusals(t *testing.T) {
	f := buildForest(t, shellRecords())
	idx := f.Index()
	var svcErr *ServiceError

	_, err := PlanMove(idx, "B07b-Shell", "B07b11a-Slab", 0)
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeCycle, svcErr.Code)

	_, err = PlanMove(idx, "B07b11-Garage", "B07b01-Part 1", 0)
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeDepthOverflow, svcErr.Code)

	_, err = PlanMove(idx, "B07-BuildCost", "B07a-Site", 0)
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeRootImmutable, svcErr.Code)
}

func TestPlanInsert_ShiftsFollowingSiblings(t *testing.T) {
	f := buildForest(t, b07Records())
	attrs := forest.Attributes{Estimate: decimal.NewNullDecimal(decimal.NewFromInt(4200)), Description: "grading"}
	plan, err := PlanInsert(f.Index(), "B07-BuildCost", "Site", 1, attrs)
	require.NoError(t, err)
	require.Len(t, plan.Inserts, 1)
	require.Equal(t, "B07a-Site", plan.Inserts[0].NewID)

	res := applyPlan(t, f, plan)
	require.Equal(t, []string{"B07a-Site"}, res.Ledger.Inserted)
	got := res.Ledger.RenameMap()
	require.Equal(t, "B07b-Structure", got["B07a-Structure"])
	require.Equal(t, "B07d-Roofing", got["B07c-Roofing"])
	require.Equal(t, "B07d01-Shingles", got["B07c01-Shingles"])

	site, ok := res.Forest.Index().LookupKey("B07a-Site")
	require.True(t, ok)
	require.Equal(t, "grading", site.Attrs.Description)
	require.True(t, site.Attrs.Estimate.Valid)
}

func TestPlanInsert_ExistingNameIsNoop(t *testing.T) {
	f := buildForest(t, b07Records())
	plan, err := PlanInsert(f.Index(), "B07a-Structure", "Footings", 0, forest.Attributes{})
	require.NoError(t, err)
	require.True(t, plan.IsEmpty())
	require.Equal(t, AnomalyExists, plan.Anomalies[0].Kind)
}

func TestPlanDelete(t *testing.T) {
	f := buildForest(t, b07Records())

	_, err := PlanDelete(f.Index(), "B07b-Weather", false)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeHasChildren, svcErr.Code)

	plan, err := PlanDelete(f.Index(), "B07b-Weather", true)
	require.NoError(t, err)
	require.Equal(t, []string{"B07b01-Wrap", "B07b-Weather"}, plan.Deletes)

	res := applyPlan(t, f, plan)
	require.Equal(t, []string{"B07b01-Wrap", "B07b-Weather"}, res.Ledger.Deleted)
	got := res.Ledger.RenameMap()
	require.Equal(t, "B07b-Roofing", got["B07c-Roofing"])
	require.Equal(t, "B07b01-Shingles", got["B07c01-Shingles"])
	require.Equal(t, 7, res.Forest.Len())
}

func TestApply_DeleteThatWouldOrphanIsRefused(t *testing.T) {
	f := buildForest(t, b07Records())
	_, err := newTestPropagator(nil).Apply(context.Background(), f, Plan{Deletes: []string{"B07a02-Framing"}})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeHasChildren, svcErr.Code)
}

func TestPlan_MergeDetectsConflicts(t *testing.T) {
	f := buildForest(t, b07Records())
	a, err := PlanRename(f.Index(), "B07a-Structure", "Frame")
	require.NoError(t, err)
	b, err := PlanRename(f.Index(), "B07a-Structure", "Skeleton")
	require.NoError(t, err)

	merged := a
	require.NoError(t, merged.Merge(a))
	require.Len(t, merged.Changes, 1)

	err = merged.Merge(b)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodePlanConflict, svcErr.Code)
}
