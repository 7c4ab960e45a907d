package studies_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/researchspace/workbench/util/slice"
	"github.com/researchspace/workbench/workbenchd/studies"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	t.Run("Partition", func(t *testing.T) {
		t.Parallel()
		req := studies.UpdateRequest{
			UsersToAdd: []studies.UserEntry{
				{UID: "added", Level: studies.PermissionLevelReadonly},
				{UID: "changed", Level: studies.PermissionLevelReadonly},
			},
			UsersToRemove: []studies.UserEntry{
				{UID: "removed", Level: studies.PermissionLevelReadwrite},
				{UID: "changed", Level: studies.PermissionLevelReadwrite},
			},
		}
		delta := studies.Classify(req)
		require.Equal(t, []string{"added"}, delta.Allowed)
		require.Equal(t, []string{"removed"}, delta.Disallowed)
		require.Equal(t, []string{"changed"}, delta.Changed)
	})

	t.Run("AdminEntriesExcluded", func(t *testing.T) {
		t.Parallel()
		// A uid granted both admin and a data level participates with
		// the non-admin level only.
		req := studies.UpdateRequest{
			UsersToAdd: []studies.UserEntry{
				{UID: "u1", Level: studies.PermissionLevelAdmin},
				{UID: "u1", Level: studies.PermissionLevelReadonly},
				{UID: "u2", Level: studies.PermissionLevelAdmin},
			},
			UsersToRemove: []studies.UserEntry{
				{UID: "u3", Level: studies.PermissionLevelAdmin},
			},
		}
		delta := studies.Classify(req)
		require.Equal(t, []string{"u1"}, delta.Allowed)
		require.Empty(t, delta.Disallowed)
		require.Empty(t, delta.Changed)
	})

	t.Run("SetsAreDisjointAndCoverImpacted", func(t *testing.T) {
		t.Parallel()
		req := studies.UpdateRequest{
			UsersToAdd: []studies.UserEntry{
				{UID: "a", Level: studies.PermissionLevelReadonly},
				{UID: "b", Level: studies.PermissionLevelWriteonly},
				{UID: "c", Level: studies.PermissionLevelReadwrite},
			},
			UsersToRemove: []studies.UserEntry{
				{UID: "b", Level: studies.PermissionLevelReadonly},
				{UID: "d", Level: studies.PermissionLevelReadwrite},
			},
		}
		delta := studies.Classify(req)

		require.Empty(t, slice.Intersection(delta.Allowed, delta.Disallowed))
		require.Empty(t, slice.Intersection(delta.Allowed, delta.Changed))
		require.Empty(t, slice.Intersection(delta.Disallowed, delta.Changed))

		var union []string
		union = append(union, delta.Allowed...)
		union = append(union, delta.Disallowed...)
		union = append(union, delta.Changed...)
		require.ElementsMatch(t, []string{"a", "b", "c", "d"}, union)
	})
}
