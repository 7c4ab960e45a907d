// Package cloud defines the contracts for reading and writing the
// policy documents the reconciler mutates: workspace role inline
// policies, shared bucket policies, and KMS key policies. The awscloud
// subpackage implements them on the AWS SDK; cloudtest provides an
// in-memory fake.
package cloud

import (
	"context"
	"errors"

	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/workbenchd/awspolicy"
)

// ErrNoSuchPolicy is returned by Get operations when the policy does not
// exist. Implementations normalize their provider-specific not-found
// errors to it.
var ErrNoSuchPolicy = xerrors.New("no such policy")

// IsNoSuchPolicy reports whether err is, or wraps, ErrNoSuchPolicy.
func IsNoSuchPolicy(err error) bool {
	return errors.Is(err, ErrNoSuchPolicy)
}

// RolePolicies reads and writes IAM role inline policies.
type RolePolicies interface {
	GetRolePolicy(ctx context.Context, roleName, policyName string) (awspolicy.Document, error)
	PutRolePolicy(ctx context.Context, roleName, policyName string, doc awspolicy.Document) error
	DeleteRolePolicy(ctx context.Context, roleName, policyName string) error
}

// BucketPolicies reads and writes S3 bucket policies.
type BucketPolicies interface {
	GetBucketPolicy(ctx context.Context, bucket string) (awspolicy.Document, error)
	PutBucketPolicy(ctx context.Context, bucket string, doc awspolicy.Document) error
}

// KeyPolicies reads and writes KMS key policies.
type KeyPolicies interface {
	GetKeyPolicy(ctx context.Context, keyID string) (awspolicy.Document, error)
	PutKeyPolicy(ctx context.Context, keyID string, doc awspolicy.Document) error
}
