package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coder/serpent"

	"github.com/researchspace/workbench/testutil"
	"github.com/researchspace/workbench/workbenchd/awspolicy"
	"github.com/researchspace/workbench/workbenchd/cloud/cloudtest"
	"github.com/researchspace/workbench/workbenchd/database/dbmem"
	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/locks"
	"github.com/researchspace/workbench/workbenchd/studies"
)

func newTestRoot(db *dbmem.Store, fake *cloudtest.Fake) *RootCmd {
	return &RootCmd{
		newDeps: func(*serpent.Invocation) (deps, error) {
			return deps{
				store:  db,
				locker: locks.NewMem(),
				roles:  fake,
			}, nil
		},
	}
}

func seedStudy(db *dbmem.Store) {
	db.InsertStudy(studies.Study{
		ID:        "genomics",
		Category:  studies.CategoryOrganization,
		Resources: []studies.Resource{{ARN: "arn:aws:s3:::studies-bucket/studies/org-1/genomics/*"}},
	})
	db.InsertEnvironment(envs.Environment{
		ID:        "ws-1",
		Status:    envs.StatusCompleted,
		CreatedBy: "u1",
		StudyIDs:  []string{"genomics"},
		Outputs: []envs.Output{
			{Key: envs.RoleARNOutputKey, Value: "arn:aws:iam::123456789012:role/ws-1-role"},
		},
	})
}

func TestUpdatePermissionsCommand(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	db := dbmem.New()
	fake := cloudtest.New()
	seedStudy(db)

	var stdout, stderr bytes.Buffer
	inv := newTestRoot(db, fake).Command().Invoke(
		"update-permissions", "--study", "genomics", "--add", "u1:readonly",
	)
	inv.Stdout = &stdout
	inv.Stderr = &stderr
	require.NoError(t, inv.WithContext(ctx).Run())

	var perms studies.Permissions
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &perms))
	require.Equal(t, []string{"u1"}, perms.ReadonlyUsers)

	doc, ok := fake.RolePolicy("ws-1-role", "StudyDataAccessPolicy")
	require.True(t, ok)
	require.NotNil(t, doc.FindStatement(awspolicy.SidReadAccess))
}

func TestUpdatePermissionsCommandRejectsBadGrant(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	inv := newTestRoot(dbmem.New(), cloudtest.New()).Command().Invoke(
		"update-permissions", "--study", "genomics", "--add", "u1=readonly",
	)
	inv.Stdout = &bytes.Buffer{}
	inv.Stderr = &bytes.Buffer{}
	err := inv.WithContext(ctx).Run()
	require.ErrorContains(t, err, "expected uid:level")
}

func TestShowAccessCommand(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	db := dbmem.New()
	seedStudy(db)
	db.SeedStudyPermissions(studies.Permissions{
		StudyID:       "genomics",
		ReadonlyUsers: []string{"u1"},
	})

	var stdout bytes.Buffer
	inv := newTestRoot(db, cloudtest.New()).Command().Invoke(
		"show-access", "--study", "genomics", "--user", "u1",
	)
	inv.Stdout = &stdout
	inv.Stderr = &bytes.Buffer{}
	require.NoError(t, inv.WithContext(ctx).Run())

	var level studies.AccessLevel
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &level))
	require.Equal(t, studies.AccessLevel{Read: true}, level)
}

func TestReconcileEnvCommand(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	db := dbmem.New()
	fake := cloudtest.New()
	seedStudy(db)
	db.SeedStudyPermissions(studies.Permissions{
		StudyID:        "genomics",
		ReadwriteUsers: []string{"u1"},
	})

	var stdout bytes.Buffer
	inv := newTestRoot(db, fake).Command().Invoke(
		"reconcile-env", "--env", "ws-1", "--study", "genomics",
	)
	inv.Stdout = &stdout
	inv.Stderr = &bytes.Buffer{}
	require.NoError(t, inv.WithContext(ctx).Run())
	require.Contains(t, stdout.String(), "environment ws-1 reconciled")

	doc, ok := fake.RolePolicy("ws-1-role", "StudyDataAccessPolicy")
	require.True(t, ok)
	require.NotNil(t, doc.FindStatement(awspolicy.SidReadWriteAccess))
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	var stdout bytes.Buffer
	inv := (&RootCmd{}).Command().Invoke("version")
	inv.Stdout = &stdout
	inv.Stderr = &bytes.Buffer{}
	require.NoError(t, inv.WithContext(ctx).Run())
	require.Contains(t, stdout.String(), "Workbench v")
}
