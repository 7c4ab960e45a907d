package awscloud

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/workbenchd/awspolicy"
	"github.com/researchspace/workbench/workbenchd/cloud"
)

// S3Client is the subset of the S3 API used for bucket policies.
type S3Client interface {
	GetBucketPolicy(ctx context.Context, in *s3.GetBucketPolicyInput, opts ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error)
	PutBucketPolicy(ctx context.Context, in *s3.PutBucketPolicyInput, opts ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error)
}

// BucketPolicies implements cloud.BucketPolicies on S3.
type BucketPolicies struct {
	client S3Client
}

var _ cloud.BucketPolicies = (*BucketPolicies)(nil)

// NewBucketPolicies wraps an S3 client.
func NewBucketPolicies(client S3Client) *BucketPolicies {
	return &BucketPolicies{client: client}
}

func (b *BucketPolicies) GetBucketPolicy(ctx context.Context, bucket string) (awspolicy.Document, error) {
	out, err := b.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: strPtr(bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucketPolicy" {
			return awspolicy.Document{}, xerrors.Errorf("bucket %q: %w", bucket, cloud.ErrNoSuchPolicy)
		}
		return awspolicy.Document{}, xerrors.Errorf("get bucket policy %q: %w", bucket, err)
	}
	if out.Policy == nil {
		return awspolicy.Document{}, xerrors.Errorf("bucket %q: %w", bucket, cloud.ErrNoSuchPolicy)
	}
	doc, err := awspolicy.Parse(*out.Policy)
	if err != nil {
		return awspolicy.Document{}, xerrors.Errorf("parse bucket policy %q: %w", bucket, err)
	}
	return doc, nil
}

func (b *BucketPolicies) PutBucketPolicy(ctx context.Context, bucket string, doc awspolicy.Document) error {
	raw, err := doc.Marshal()
	if err != nil {
		return err
	}
	err = withThrottleRetry(ctx, func() error {
		_, err := b.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
			Bucket: strPtr(bucket),
			Policy: strPtr(raw),
		})
		return err
	})
	if err != nil {
		return xerrors.Errorf("put bucket policy %q: %w", bucket, err)
	}
	return nil
}
