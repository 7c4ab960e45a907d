package awscloud

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/workbenchd/awspolicy"
	"github.com/researchspace/workbench/workbenchd/cloud"
)

// IAMClient is the subset of the IAM API used for role inline policies.
type IAMClient interface {
	GetRolePolicy(ctx context.Context, in *iam.GetRolePolicyInput, opts ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, in *iam.PutRolePolicyInput, opts ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	DeleteRolePolicy(ctx context.Context, in *iam.DeleteRolePolicyInput, opts ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
}

// RolePolicies implements cloud.RolePolicies on IAM.
type RolePolicies struct {
	client IAMClient
}

var _ cloud.RolePolicies = (*RolePolicies)(nil)

// NewRolePolicies wraps an IAM client.
func NewRolePolicies(client IAMClient) *RolePolicies {
	return &RolePolicies{client: client}
}

func (r *RolePolicies) GetRolePolicy(ctx context.Context, roleName, policyName string) (awspolicy.Document, error) {
	out, err := r.client.GetRolePolicy(ctx, &iam.GetRolePolicyInput{
		RoleName:   strPtr(roleName),
		PolicyName: strPtr(policyName),
	})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return awspolicy.Document{}, xerrors.Errorf("role %q policy %q: %w", roleName, policyName, cloud.ErrNoSuchPolicy)
		}
		return awspolicy.Document{}, xerrors.Errorf("get role policy %q/%q: %w", roleName, policyName, err)
	}
	if out.PolicyDocument == nil {
		return awspolicy.Document{}, xerrors.Errorf("role %q policy %q: %w", roleName, policyName, cloud.ErrNoSuchPolicy)
	}
	doc, err := awspolicy.Parse(*out.PolicyDocument)
	if err != nil {
		return awspolicy.Document{}, xerrors.Errorf("parse role policy %q/%q: %w", roleName, policyName, err)
	}
	return doc, nil
}

func (r *RolePolicies) PutRolePolicy(ctx context.Context, roleName, policyName string, doc awspolicy.Document) error {
	raw, err := doc.Marshal()
	if err != nil {
		return err
	}
	err = withThrottleRetry(ctx, func() error {
		_, err := r.client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       strPtr(roleName),
			PolicyName:     strPtr(policyName),
			PolicyDocument: strPtr(raw),
		})
		return err
	})
	if err != nil {
		return xerrors.Errorf("put role policy %q/%q: %w", roleName, policyName, err)
	}
	return nil
}

func (r *RolePolicies) DeleteRolePolicy(ctx context.Context, roleName, policyName string) error {
	_, err := r.client.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
		RoleName:   strPtr(roleName),
		PolicyName: strPtr(policyName),
	})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil
		}
		return xerrors.Errorf("delete role policy %q/%q: %w", roleName, policyName, err)
	}
	return nil
}
