package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/researchspace/workbench/testutil"
	"github.com/researchspace/workbench/workbenchd/awspolicy"
	"github.com/researchspace/workbench/workbenchd/cloud/cloudtest"
	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/locks"
	"github.com/researchspace/workbench/workbenchd/reconcile"
	"github.com/researchspace/workbench/workbenchd/studies"
)

const testKeyID = "alias/studies-data"

func newResourcePolicies(t *testing.T, fake *cloudtest.Fake) *reconcile.ResourcePolicies {
	t.Helper()
	return reconcile.NewResourcePolicies(testutil.Logger(t), fake, fake, locks.NewMem(), testKeyID)
}

func TestResourcePoliciesAllocateRead(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	p := newResourcePolicies(t, fake)

	err := p.AllocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true})
	require.NoError(t, err)

	doc, ok := fake.BucketPolicy("studies-bucket")
	require.True(t, ok)

	list := doc.FindStatement("List:genomics")
	require.NotNil(t, list)
	require.Equal(t, awspolicy.ValueList{testRoleARN}, list.Principal.AWS)
	require.Equal(t, awspolicy.ValueList{"studies/org-1/genomics/*"}, list.Condition["StringLike"]["s3:prefix"])

	get := doc.FindStatement("Get:genomics")
	require.NotNil(t, get)
	require.Equal(t, awspolicy.ValueList{testStudyARN}, get.Resource)
	require.Nil(t, doc.FindStatement("Put:genomics"), "read-only access must not grant writes")

	key, ok := fake.KeyPolicy(testKeyID)
	require.True(t, ok)
	main := key.FindStatement("main-genomics")
	require.NotNil(t, main)
	require.Equal(t, awspolicy.ValueList{testRoleARN}, main.Principal.AWS)
}

func TestResourcePoliciesAllocateWriteThenDemote(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	p := newResourcePolicies(t, fake)

	err := p.AllocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true, Write: true})
	require.NoError(t, err)
	doc, ok := fake.BucketPolicy("studies-bucket")
	require.True(t, ok)
	require.NotNil(t, doc.FindStatement("Put:genomics"))

	// Demotion to read-only drops the role from the put statement.
	err = p.AllocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true})
	require.NoError(t, err)
	doc, ok = fake.BucketPolicy("studies-bucket")
	require.True(t, ok)
	require.Nil(t, doc.FindStatement("Put:genomics"))
	require.NotNil(t, doc.FindStatement("Get:genomics"))
}

func TestResourcePoliciesDeallocate(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	p := newResourcePolicies(t, fake)

	env1, env2 := testEnv("ws-1"), testEnv("ws-2")
	secondRole := "arn:aws:iam::123456789012:role/analysis-ws-2-role"
	env2.Outputs = []envs.Output{{Key: envs.RoleARNOutputKey, Value: secondRole}}

	access := studies.AccessLevel{Read: true, Write: true}
	require.NoError(t, p.AllocateEnvStudyResources(ctx, env1, testStudy(), access))
	require.NoError(t, p.AllocateEnvStudyResources(ctx, env2, testStudy(), access))

	require.NoError(t, p.DeallocateEnvStudyResources(ctx, env1, testStudy(), access))

	doc, ok := fake.BucketPolicy("studies-bucket")
	require.True(t, ok)
	get := doc.FindStatement("Get:genomics")
	require.NotNil(t, get, "statement survives while another role holds access")
	require.Equal(t, awspolicy.ValueList{secondRole}, get.Principal.AWS)

	require.NoError(t, p.DeallocateEnvStudyResources(ctx, env2, testStudy(), access))
	doc, ok = fake.BucketPolicy("studies-bucket")
	require.True(t, ok)
	require.Nil(t, doc.FindStatement("List:genomics"))
	require.Nil(t, doc.FindStatement("Get:genomics"))
	require.Nil(t, doc.FindStatement("Put:genomics"))

	key, ok := fake.KeyPolicy(testKeyID)
	require.True(t, ok)
	require.Nil(t, key.FindStatement("main-genomics"))
}

func TestResourcePoliciesNoKeyConfigured(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	fake := cloudtest.New()
	p := reconcile.NewResourcePolicies(testutil.Logger(t), fake, fake, locks.NewMem(), "")

	err := p.AllocateEnvStudyResources(ctx, testEnv("ws-1"), testStudy(), studies.AccessLevel{Read: true})
	require.NoError(t, err)
	_, ok := fake.KeyPolicy(testKeyID)
	require.False(t, ok)
}
