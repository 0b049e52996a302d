package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

func TestApply_DescendantCascadeReplacesOnlyTheRenamedPrefix(t *testing.T) {
	f := buildForest(t, shellRecords())
	order := []string{"Part 1", "Garage"}
	for i := 2; i <= 10; i++ {
		order = append(order, fmt.Sprintf("Part %d", i))
	}
	plan, err := PlanReorder(f.Index(), ReorderRequest{ParentID: "B07b-Shell", Order: order})
	require.NoError(t, err)
	require.Equal(t, "B07b02-Garage", plan.Renames()["B07b11-Garage"])

	res, err := newTestPropagator(nil).Apply(context.Background(), f, plan)
	require.NoError(t, err)
	renames := res.Ledger.RenameMap()

	garage, ok := f.Index().LookupKey("B07b11-Garage")
	require.True(t, ok)
	descendants := f.Index().Descendants(garage.ID)
	require.Len(t, descendants, 4)
	for _, d := range descendants {
		old := d.Key()
		require.True(t, strings.HasPrefix(old, "B07b11"))
		require.Equal(t, "B07b02"+strings.TrimPrefix(old, "B07b11"), renames[old])
	}
	require.Equal(t, "B07b02a01a-Ties", renames["B07b11a01a-Ties"])
	require.Equal(t, "B07b03-Part 2", renames["B07b02-Part 2"])
	require.NotContains(t, renames, "B07b01-Part 1")
	require.NotContains(t, renames, "B07a-Site")
	require.True(t, Validate(res.Forest).OK(), "%+v", Validate(res.Forest).Violations)
}

func TestApply_PendingLabelsAreDisjointFromOldAndNew(t *testing.T) {
	f := buildForest(t, b07Records())
	plan, err := PlanReorder(f.Index(), ReorderRequest{ParentID: "B07-BuildCost", Order: []string{"Roofing", "Structure", "Weather"}})
	require.NoError(t, err)

	res, err := newTestPropagator(nil).Apply(context.Background(), f, plan)
	require.NoError(t, err)
	require.Len(t, res.Phases.Pass1, len(res.Ledger.Renames))
	require.Len(t, res.Phases.Pass2, len(res.Ledger.Renames))

	before := ids(f)
	after := ids(res.Forest)
	pending := map[string]bool{}
	for i, r := range res.Phases.Pass1 {
		require.True(t, forest.IsPendingKey(r.To))
		require.False(t, before[r.To])
		require.False(t, after[r.To])
		require.False(t, pending[r.To], "pending label reused")
		pending[r.To] = true
		require.Equal(t, r.To, res.Phases.Pass2[i].From)
	}
}

func TestApply_CollisionAbortsBeforeAnyWrite(t *testing.T) {
	f := buildForest(t, b07Records())
	sink := &recordingSink{}
	collab := &memoryCollaborator{name: "cro_ce_map.ce_id", values: []string{"B07c-Roofing"}}
	plan := Plan{Changes: []Change{{
		OldID:     "B07c-Roofing",
		NewID:     "B07a-Structure",
		ParentID:  "B07-BuildCost",
		Depth:     2,
		SortOrder: 1,
		ShortName: "Structure",
		Token:     "a",
	}}}

	_, err := newTestPropagator(sink, collab).Apply(context.Background(), f, plan)
	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	require.Contains(t, collision.Collisions, "B07a-Structure")
	require.Empty(t, sink.batches)
	require.Zero(t, collab.calls)
	require.Equal(t, []string{"B07c-Roofing"}, collab.values)
}

func TestApply_NotFoundTargetsAreSkipped(t *testing.T) {
	f := buildForest(t, b07Records())
	plan, err := PlanReorder(f.Index(), ReorderRequest{ParentID: "B07-BuildCost", Order: []string{"Weather", "Structure", "Roofing"}})
	require.NoError(t, err)
	plan.Changes = append(plan.Changes, Change{OldID: "B07z-Ghost", ParentID: "B07-BuildCost", Depth: 2, SortOrder: 9, ShortName: "Ghost", Token: "i"})

	res, err := newTestPropagator(nil).Apply(context.Background(), f, plan)
	require.NoError(t, err)
	require.Len(t, res.Ledger.Anomalies, 1)
	var nf *NotFoundError
	require.ErrorAs(t, res.Ledger.Anomalies[0].Err, &nf)
	require.Equal(t, "B07z-Ghost", nf.Name)
	require.Equal(t, "B07a-Weather", res.Ledger.RenameMap()["B07b-Weather"])
}

func TestApply_CollaboratorsSeeTwoPassesAfterRowSink(t *testing.T) {
	f := buildForest(t, b07Records())
	sink := &recordingSink{}
	plain := &memoryCollaborator{name: "ce_actor_map.ce_id", values: []string{"B07a-Structure", "B07b-Weather", "B07c-Roofing", "B07a02a-Studs"}}
	batch := &batchCollaborator{memoryCollaborator: memoryCollaborator{name: "ce_drilldown.ce_code", values: []string{"B07b01-Wrap", "B07a-Structure"}}}

	plan, err := PlanReorder(f.Index(), ReorderRequest{ParentID: "B07-BuildCost", Order: []string{"Weather", "Structure", "Roofing"}})
	require.NoError(t, err)
	res, err := newTestPropagator(sink, plain, batch).Apply(context.Background(), f, plan)
	require.NoError(t, err)

	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0].Pass1, 6)
	require.Len(t, sink.batches[0].Placements, 2)

	// A swap applied as one pass would merge the two groups; two passes keep them apart.
	require.Equal(t, []string{"B07b-Structure", "B07a-Weather", "B07c-Roofing", "B07b02a-Studs"}, plain.values)
	require.Equal(t, []string{"B07a01-Wrap", "B07b-Structure"}, batch.values)
	require.Equal(t, 2, batch.passes)

	require.Len(t, res.Ledger.Collaborators, 2)
	require.Equal(t, int64(6), res.Ledger.Collaborators[0].Rows)
	require.Equal(t, int64(4), res.Ledger.Collaborators[1].Rows)
}

func TestApply_CollaboratorFailureIsRecordedAndOthersContinue(t *testing.T) {
	f := buildForest(t, b07Records())
	broken := &memoryCollaborator{name: "ce_scenario_values.ce_id", values: []string{"B07a-Structure"}, failAt: 2}
	healthy := &memoryCollaborator{name: "cro_ce_map.ce_id", values: []string{"B07b-Weather"}}

	plan, err := PlanReorder(f.Index(), ReorderRequest{ParentID: "B07-BuildCost", Order: []string{"Weather", "Structure", "Roofing"}})
	require.NoError(t, err)
	res, err := newTestPropagator(nil, broken, healthy).Apply(context.Background(), f, plan)
	require.NoError(t, err)

	require.NotEmpty(t, res.Ledger.Collaborators[0].Error)
	require.Empty(t, res.Ledger.Collaborators[1].Error)
	require.Equal(t, []string{"B07a-Weather"}, healthy.values)
	require.Equal(t, AnomalyCollaborator, res.Ledger.Anomalies[len(res.Ledger.Anomalies)-1].Kind)
}

func TestApply_SinkFailureStopsBeforeCollaborators(t *testing.T) {
	f := buildForest(t, b07Records())
	sink := &recordingSink{err: errors.New("deadlock detected")}
	collab := &memoryCollaborator{name: "cro_ce_map.ce_id", values: []string{"B07a-Structure"}}

	plan, err := PlanReorder(f.Index(), ReorderRequest{ParentID: "B07-BuildCost", Order: []string{"Weather", "Structure", "Roofing"}})
	require.NoError(t, err)
	_, err = newTestPropagator(sink, collab).Apply(context.Background(), f, plan)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeSinkFailed, svcErr.Code)
	require.Zero(t, collab.calls)
}

func TestApply_RejectsChangesToRoots(t *testing.T) {
	f := buildForest(t, b07Records())
	_, err := newTestPropagator(nil).Apply(context.Background(), f, Plan{Changes: []Change{{OldID: "B07-BuildCost", ShortName: "Other"}}})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, CodeRootImmutable, svcErr.Code)
}

func TestApplySteps_LaterStepsResolveOriginalIDs(t *testing.T) {
	f := buildForest(t, b07Records())
	steps := []Step{
		{Name: "reorder", Plan: func(idx *forest.Index, _ Resolver) (Plan, error) {
			return PlanReorder(idx, ReorderRequest{ParentID: "B07-BuildCost", Order: []string{"Weather", "Structure", "Roofing"}})
		}},
		{Name: "rename", Plan: func(idx *forest.Index, resolve Resolver) (Plan, error) {
			return PlanRename(idx, resolve("B07a-Structure"), "Frame")
		}},
		{Name: "insert", Plan: func(idx *forest.Index, resolve Resolver) (Plan, error) {
			return PlanInsert(idx, resolve("B07c-Roofing"), "Gutters", 0, forest.Attributes{})
		}},
	}

	res, err := newTestPropagator(nil).ApplySteps(context.Background(), f, steps)
	require.NoError(t, err)
	got := res.Ledger.RenameMap()
	require.Equal(t, "B07b-Frame", got["B07a-Structure"])
	require.Equal(t, "B07a-Weather", got["B07b-Weather"])
	require.Equal(t, "B07b01-Footings", got["B07a01-Footings"])
	require.Equal(t, []string{"B07c02-Gutters"}, res.Ledger.Inserted)
	require.True(t, Validate(res.Forest).OK(), "%+v", Validate(res.Forest).Violations)
}
