package dbmem_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/researchspace/workbench/testutil"
	"github.com/researchspace/workbench/workbenchd/database"
	"github.com/researchspace/workbench/workbenchd/database/dbmem"
	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/studies"
)

func TestStudyRevisions(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	db := dbmem.New()

	_, err := db.GetStudy(ctx, "missing")
	require.True(t, database.IsNotFound(err))

	db.InsertStudy(studies.Study{ID: "study-a", Category: studies.CategoryOrganization})
	study, err := db.GetStudy(ctx, "study-a")
	require.NoError(t, err)

	updated, err := db.UpdateStudy(ctx, study)
	require.NoError(t, err)
	require.Equal(t, study.Rev+1, updated.Rev)

	// A write against the stale revision conflicts.
	_, err = db.UpdateStudy(ctx, study)
	require.True(t, database.IsConflict(err))
}

func TestApplyPermissionUpdateDualWrite(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	db := dbmem.New()

	req := studies.UpdateRequest{
		UsersToAdd: []studies.UserEntry{
			{UID: "u1", Level: studies.PermissionLevelReadwrite},
			{UID: "u2", Level: studies.PermissionLevelAdmin},
		},
	}
	perms, err := db.ApplyPermissionUpdate(ctx, "study-a", &req)
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, perms.ReadwriteUsers)
	require.Equal(t, []string{"u2"}, perms.AdminUsers)

	u1, err := db.GetUserPermissions(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"study-a"}, u1.ReadwriteAccess)
	u2, err := db.GetUserPermissions(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, []string{"study-a"}, u2.AdminAccess)

	// Removal mirrors into the user record as well.
	down := studies.UpdateRequest{
		UsersToRemove: []studies.UserEntry{{UID: "u1", Level: studies.PermissionLevelReadwrite}},
	}
	perms, err = db.ApplyPermissionUpdate(ctx, "study-a", &down)
	require.NoError(t, err)
	require.Empty(t, perms.ReadwriteUsers)
	u1, err = db.GetUserPermissions(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, u1.ReadwriteAccess)
}

func TestGetActiveEnvironmentsForUser(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	db := dbmem.New()

	db.InsertEnvironment(envs.Environment{
		ID: "env-1", Status: envs.StatusCompleted, CreatedBy: "u1", StudyIDs: []string{"study-a"},
	})
	db.InsertEnvironment(envs.Environment{
		ID: "env-2", Status: envs.StatusTerminated, CreatedBy: "u1", StudyIDs: []string{"study-a"},
	})
	db.InsertEnvironment(envs.Environment{
		ID: "env-3", Status: envs.StatusCompleted, CreatedBy: "u2",
	})

	got, err := db.GetActiveEnvironmentsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "env-1", got[0].ID)
}

func TestReadsAreCopies(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	db := dbmem.New()

	db.SeedStudyPermissions(studies.Permissions{StudyID: "study-a", AdminUsers: []string{"u1"}})
	perms, err := db.GetStudyPermissions(ctx, "study-a")
	require.NoError(t, err)
	perms.AdminUsers[0] = "mutated"

	again, err := db.GetStudyPermissions(ctx, "study-a")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, again.AdminUsers)
}
