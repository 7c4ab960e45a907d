package reconcile

import (
	"context"
	"slices"

	"cdr.dev/slog"
	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/util/slice"
	"github.com/researchspace/workbench/workbenchd/awspolicy"
	"github.com/researchspace/workbench/workbenchd/cloud"
	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/locks"
	"github.com/researchspace/workbench/workbenchd/studies"
)

// Per-study bucket policy statement ids. The role ARNs granted access
// live in each statement's principal list.
func listSid(studyID string) string { return "List:" + studyID }
func getSid(studyID string) string  { return "Get:" + studyID }
func putSid(studyID string) string  { return "Put:" + studyID }

// keySid names the key policy statement granting a study's workspace
// roles use of the data key.
func keySid(studyID string) string { return "main-" + studyID }

var keyActions = awspolicy.ValueList{
	"kms:Decrypt",
	"kms:DescribeKey",
	"kms:Encrypt",
	"kms:GenerateDataKey*",
	"kms:ReEncrypt*",
}

// ResourcePolicies is the legacy provider that grants access at the
// shared bucket and KMS key policies instead of the workspace role.
// Retained for studies whose buckets predate role-policy grants. Every
// mutation runs under the bucket or key lock since many environments
// share one policy document.
type ResourcePolicies struct {
	log     slog.Logger
	buckets cloud.BucketPolicies
	keys    cloud.KeyPolicies
	locks   locks.Locker
	// keyID is the KMS key guarding the study buckets. Empty disables
	// the key policy step.
	keyID string
}

var _ PolicyProvider = (*ResourcePolicies)(nil)

// NewResourcePolicies returns the bucket/key policy provider.
func NewResourcePolicies(log slog.Logger, buckets cloud.BucketPolicies, keys cloud.KeyPolicies, locker locks.Locker, keyID string) *ResourcePolicies {
	return &ResourcePolicies{
		log:     log.Named("resourcepolicy"),
		buckets: buckets,
		keys:    keys,
		locks:   locker,
		keyID:   keyID,
	}
}

// ProvideEnvRolePolicy is a no-op: resource policies grant access on the
// bucket and key side, not on the role document.
func (*ResourcePolicies) ProvideEnvRolePolicy(context.Context, *awspolicy.Document, envs.Environment, []StudyAccess) error {
	return nil
}

// addPrincipal appends roleARN to the principal list of the statement
// with template.Sid, creating the statement from the template when
// absent.
func addPrincipal(doc *awspolicy.Document, template awspolicy.Statement, roleARN string) {
	if s := doc.FindStatement(template.Sid); s != nil {
		if s.Principal == nil {
			s.Principal = &awspolicy.Principal{}
		}
		s.Principal.AWS = slice.Insert(s.Principal.AWS, roleARN)
		return
	}
	template.Principal = &awspolicy.Principal{AWS: awspolicy.ValueList{roleARN}}
	doc.Statement = append(doc.Statement, template)
}

// removePrincipal drops roleARN from the statement's principal list,
// pruning the statement when no principals remain.
func removePrincipal(doc *awspolicy.Document, sid, roleARN string) {
	for i := range doc.Statement {
		s := &doc.Statement[i]
		if s.Sid != sid || s.Principal == nil || !slice.Contains(s.Principal.AWS, roleARN) {
			continue
		}
		if len(s.Principal.AWS) == 1 {
			doc.Statement = slices.Delete(doc.Statement, i, i+1)
			return
		}
		s.Principal.AWS = slice.Remove(s.Principal.AWS, roleARN)
		return
	}
}

func bucketStatements(studyID, bucketARN, pathARN, prefix string) (list, get, put awspolicy.Statement) {
	list = awspolicy.Statement{
		Sid:      listSid(studyID),
		Effect:   awspolicy.EffectAllow,
		Action:   awspolicy.ValueList{"s3:ListBucket"},
		Resource: awspolicy.ValueList{bucketARN},
		Condition: awspolicy.Condition{
			"StringLike": {"s3:prefix": awspolicy.ValueList{prefix}},
		},
	}
	get = awspolicy.Statement{
		Sid:      getSid(studyID),
		Effect:   awspolicy.EffectAllow,
		Action:   awspolicy.ValueList{"s3:GetObject"},
		Resource: awspolicy.ValueList{pathARN},
	}
	put = awspolicy.Statement{
		Sid:    putSid(studyID),
		Effect: awspolicy.EffectAllow,
		Action: awspolicy.ValueList{
			"s3:PutObject",
			"s3:AbortMultipartUpload",
			"s3:ListMultipartUploadParts",
			"s3:DeleteObject",
		},
		Resource: awspolicy.ValueList{pathARN},
	}
	return list, get, put
}

// updateBucketPolicy runs fn against the bucket's policy under the
// bucket lock and writes the result back. A missing policy starts from
// an empty document.
func (p *ResourcePolicies) updateBucketPolicy(ctx context.Context, bucket string, fn func(doc *awspolicy.Document)) error {
	return p.locks.Do(ctx, locks.BucketPolicy(bucket), func(ctx context.Context) error {
		doc, err := p.buckets.GetBucketPolicy(ctx, bucket)
		if cloud.IsNoSuchPolicy(err) {
			doc = awspolicy.NewDocument()
		} else if err != nil {
			return err
		}
		fn(&doc)
		if err := p.buckets.PutBucketPolicy(ctx, bucket, doc); err != nil {
			return xerrors.Errorf("persist bucket policy %q: %w", bucket, err)
		}
		return nil
	})
}

// updateKeyPolicy is the key-side analogue, skipped entirely when no key
// is configured.
func (p *ResourcePolicies) updateKeyPolicy(ctx context.Context, fn func(doc *awspolicy.Document)) error {
	if p.keyID == "" {
		return nil
	}
	return p.locks.Do(ctx, locks.KeyPolicy(p.keyID), func(ctx context.Context) error {
		doc, err := p.keys.GetKeyPolicy(ctx, p.keyID)
		if cloud.IsNoSuchPolicy(err) {
			doc = awspolicy.NewDocument()
		} else if err != nil {
			return err
		}
		fn(&doc)
		if err := p.keys.PutKeyPolicy(ctx, p.keyID, doc); err != nil {
			return xerrors.Errorf("persist key policy %q: %w", p.keyID, err)
		}
		return nil
	})
}

// AllocateEnvStudyResources adds the workspace role to the per-study
// bucket statements matching the owner's access level, and to the key
// policy statement.
func (p *ResourcePolicies) AllocateEnvStudyResources(ctx context.Context, env envs.Environment, study studies.Study, access studies.AccessLevel) error {
	if !access.Granted() {
		return nil
	}
	roleARN, err := env.RoleARN()
	if err != nil {
		return err
	}
	for _, res := range study.Resources {
		bucketARN, prefix, err := awspolicy.SplitStudyARN(res.ARN)
		if err != nil {
			return err
		}
		bucket := awspolicy.BucketNameFromARN(bucketARN)
		list, get, put := bucketStatements(study.ID, bucketARN, res.ARN, prefix)
		err = p.updateBucketPolicy(ctx, bucket, func(doc *awspolicy.Document) {
			addPrincipal(doc, list, roleARN)
			if access.Read {
				addPrincipal(doc, get, roleARN)
			} else {
				removePrincipal(doc, get.Sid, roleARN)
			}
			if access.Write {
				addPrincipal(doc, put, roleARN)
			} else {
				removePrincipal(doc, put.Sid, roleARN)
			}
		})
		if err != nil {
			return err
		}
	}
	p.log.Debug(ctx, "allocated study on resource policies",
		slog.F("environment_id", env.ID),
		slog.F("study_id", study.ID),
	)
	return p.updateKeyPolicy(ctx, func(doc *awspolicy.Document) {
		addPrincipal(doc, awspolicy.Statement{
			Sid:      keySid(study.ID),
			Effect:   awspolicy.EffectAllow,
			Action:   append(awspolicy.ValueList(nil), keyActions...),
			Resource: awspolicy.ValueList{"*"},
		}, roleARN)
	})
}

// DeallocateEnvStudyResources drops the workspace role from every
// per-study statement, pruning statements left without principals.
func (p *ResourcePolicies) DeallocateEnvStudyResources(ctx context.Context, env envs.Environment, study studies.Study, access studies.AccessLevel) error {
	if !access.Granted() {
		return nil
	}
	roleARN, err := env.RoleARN()
	if err != nil {
		return err
	}
	for _, res := range study.Resources {
		bucketARN, _, err := awspolicy.SplitStudyARN(res.ARN)
		if err != nil {
			return err
		}
		bucket := awspolicy.BucketNameFromARN(bucketARN)
		err = p.updateBucketPolicy(ctx, bucket, func(doc *awspolicy.Document) {
			removePrincipal(doc, listSid(study.ID), roleARN)
			removePrincipal(doc, getSid(study.ID), roleARN)
			removePrincipal(doc, putSid(study.ID), roleARN)
		})
		if err != nil {
			return err
		}
	}
	p.log.Debug(ctx, "deallocated study from resource policies",
		slog.F("environment_id", env.ID),
		slog.F("study_id", study.ID),
	)
	return p.updateKeyPolicy(ctx, func(doc *awspolicy.Document) {
		removePrincipal(doc, keySid(study.ID), roleARN)
	})
}
