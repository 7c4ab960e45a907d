package awscloud

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/workbenchd/awspolicy"
	"github.com/researchspace/workbench/workbenchd/cloud"
)

// KMS allows exactly one key policy, always named "default".
const keyPolicyName = "default"

// KMSClient is the subset of the KMS API used for key policies.
type KMSClient interface {
	GetKeyPolicy(ctx context.Context, in *kms.GetKeyPolicyInput, opts ...func(*kms.Options)) (*kms.GetKeyPolicyOutput, error)
	PutKeyPolicy(ctx context.Context, in *kms.PutKeyPolicyInput, opts ...func(*kms.Options)) (*kms.PutKeyPolicyOutput, error)
}

// KeyPolicies implements cloud.KeyPolicies on KMS.
type KeyPolicies struct {
	client KMSClient
}

var _ cloud.KeyPolicies = (*KeyPolicies)(nil)

// NewKeyPolicies wraps a KMS client.
func NewKeyPolicies(client KMSClient) *KeyPolicies {
	return &KeyPolicies{client: client}
}

func (k *KeyPolicies) GetKeyPolicy(ctx context.Context, keyID string) (awspolicy.Document, error) {
	out, err := k.client.GetKeyPolicy(ctx, &kms.GetKeyPolicyInput{
		KeyId:      strPtr(keyID),
		PolicyName: strPtr(keyPolicyName),
	})
	if err != nil {
		var notFound *kmstypes.NotFoundException
		if errors.As(err, &notFound) {
			return awspolicy.Document{}, xerrors.Errorf("key %q: %w", keyID, cloud.ErrNoSuchPolicy)
		}
		return awspolicy.Document{}, xerrors.Errorf("get key policy %q: %w", keyID, err)
	}
	if out.Policy == nil {
		return awspolicy.Document{}, xerrors.Errorf("key %q: %w", keyID, cloud.ErrNoSuchPolicy)
	}
	doc, err := awspolicy.Parse(*out.Policy)
	if err != nil {
		return awspolicy.Document{}, xerrors.Errorf("parse key policy %q: %w", keyID, err)
	}
	return doc, nil
}

func (k *KeyPolicies) PutKeyPolicy(ctx context.Context, keyID string, doc awspolicy.Document) error {
	raw, err := doc.Marshal()
	if err != nil {
		return err
	}
	err = withThrottleRetry(ctx, func() error {
		_, err := k.client.PutKeyPolicy(ctx, &kms.PutKeyPolicyInput{
			KeyId:      strPtr(keyID),
			PolicyName: strPtr(keyPolicyName),
			Policy:     strPtr(raw),
		})
		return err
	})
	if err != nil {
		return xerrors.Errorf("put key policy %q: %w", keyID, err)
	}
	return nil
}
