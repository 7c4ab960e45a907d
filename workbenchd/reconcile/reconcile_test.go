package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/researchspace/workbench/testutil"
	"github.com/researchspace/workbench/workbenchd/awspolicy"
	"github.com/researchspace/workbench/workbenchd/cloud/cloudtest"
	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/reconcile"
	"github.com/researchspace/workbench/workbenchd/studies"
)

const (
	testRoleARN  = "arn:aws:iam::123456789012:role/analysis-ws-1-role"
	testRoleName = "analysis-ws-1-role"
	testStudyARN = "arn:aws:s3:::studies-bucket/studies/org-1/genomics/*"
)

func testEnv(id string) envs.Environment {
	return envs.Environment{
		ID:        id,
		Status:    envs.StatusCompleted,
		CreatedBy: "owner",
		StudyIDs:  []string{"genomics"},
		Outputs: []envs.Output{
			{Key: envs.RoleARNOutputKey, Value: testRoleARN},
		},
	}
}

func testStudy() studies.Study {
	return studies.Study{
		ID:        "genomics",
		Category:  studies.CategoryOrganization,
		Resources: []studies.Resource{{ARN: testStudyARN}},
	}
}

func TestAllocateCreatesPolicy(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	r := reconcile.New(testutil.Logger(t), fake)

	err := r.AllocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true})
	require.NoError(t, err)

	doc, ok := fake.RolePolicy(testRoleName, "StudyDataAccessPolicy")
	require.True(t, ok)
	stmt := doc.FindStatement(awspolicy.SidReadAccess)
	require.NotNil(t, stmt)
	require.Equal(t, awspolicy.ValueList{testStudyARN}, stmt.Resource)
	require.Nil(t, doc.FindStatement(awspolicy.SidReadWriteAccess))

	list := doc.FindStatement("studyListS3Accessstudiesbucket")
	require.NotNil(t, list)
	require.Equal(t, awspolicy.ValueList{"arn:aws:s3:::studies-bucket"}, list.Resource)
}

func TestAllocateMovesBetweenLevels(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	r := reconcile.New(testutil.Logger(t), fake)

	err := r.AllocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true})
	require.NoError(t, err)
	err = r.AllocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true, Write: true})
	require.NoError(t, err)

	doc, ok := fake.RolePolicy(testRoleName, "StudyDataAccessPolicy")
	require.True(t, ok)
	require.Nil(t, doc.FindStatement(awspolicy.SidReadAccess), "resource must leave the read statement")
	rw := doc.FindStatement(awspolicy.SidReadWriteAccess)
	require.NotNil(t, rw)
	require.Equal(t, awspolicy.ValueList{testStudyARN}, rw.Resource)
}

func TestAllocateLegacyPolicyName(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	legacy := awspolicy.NewDocument()
	require.NoError(t, legacy.AddResource(awspolicy.SidReadAccess, "arn:aws:s3:::other-bucket/studies/old/*"))
	fake.SetRolePolicy(testRoleName, "studydata-access", legacy)
	r := reconcile.New(testutil.Logger(t), fake)

	err := r.AllocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true})
	require.NoError(t, err)

	_, ok := fake.RolePolicy(testRoleName, "StudyDataAccessPolicy")
	require.False(t, ok, "existing legacy-named policy must be reused")
	doc, ok := fake.RolePolicy(testRoleName, "studydata-access")
	require.True(t, ok)
	stmt := doc.FindStatement(awspolicy.SidReadAccess)
	require.NotNil(t, stmt)
	require.Len(t, stmt.Resource, 2)
}

func TestDeallocateDeletesEmptiedPolicy(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	r := reconcile.New(testutil.Logger(t), fake)

	err := r.AllocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true})
	require.NoError(t, err)
	err = r.DeallocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true})
	require.NoError(t, err)

	_, ok := fake.RolePolicy(testRoleName, "StudyDataAccessPolicy")
	require.False(t, ok, "policy with no statements left must be deleted")
}

func TestAllocateRoleNotReady(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	r := reconcile.New(testutil.Logger(t), fake)

	env := testEnv("ws-1")
	env.Outputs = nil
	err := r.AllocateEnvStudyResources(ctx, env, testStudy(), studies.AccessLevel{Read: true})
	require.Error(t, err)
	var notReady envs.NotReadyError
	require.ErrorAs(t, err, &notReady)
	require.Equal(t, "ws-1", notReady.EnvironmentID)
}

func TestRegenerateRolePolicy(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	r := reconcile.New(testutil.Logger(t), fake)

	stale := awspolicy.NewDocument()
	require.NoError(t, stale.AddResource(awspolicy.SidReadWriteAccess, "arn:aws:s3:::studies-bucket/studies/org-1/stale/*"))
	fake.SetRolePolicy(testRoleName, "StudyDataAccessPolicy", stale)

	other := studies.Study{
		ID:        "climate",
		Category:  studies.CategoryOrganization,
		Resources: []studies.Resource{{ARN: "arn:aws:s3:::studies-bucket/studies/org-1/climate/*"}},
	}
	mounts := []reconcile.StudyAccess{
		{Study: testStudy(), Access: studies.AccessLevel{Read: true}},
		{Study: other, Access: studies.AccessLevel{}},
	}
	err := r.RegenerateRolePolicy(ctx, testEnv("ws-1"), mounts)
	require.NoError(t, err)

	doc, ok := fake.RolePolicy(testRoleName, "StudyDataAccessPolicy")
	require.True(t, ok)
	require.Nil(t, doc.FindStatement(awspolicy.SidReadWriteAccess), "stale grant must not survive regeneration")
	stmt := doc.FindStatement(awspolicy.SidReadAccess)
	require.NotNil(t, stmt)
	require.Equal(t, awspolicy.ValueList{testStudyARN}, stmt.Resource)
}

func TestRegenerateDeletesWhenNothingGranted(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	r := reconcile.New(testutil.Logger(t), fake)

	stale := awspolicy.NewDocument()
	require.NoError(t, stale.AddResource(awspolicy.SidReadAccess, testStudyARN))
	fake.SetRolePolicy(testRoleName, "StudyDataAccessPolicy", stale)

	mounts := []reconcile.StudyAccess{{Study: testStudy(), Access: studies.AccessLevel{}}}
	err := r.RegenerateRolePolicy(ctx, testEnv("ws-1"), mounts)
	require.NoError(t, err)

	_, ok := fake.RolePolicy(testRoleName, "StudyDataAccessPolicy")
	require.False(t, ok)
}
