package awspolicy

import (
	"slices"
	"strings"

	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/util/slice"
)

// Reserved statement ids. Mutation logic locates or creates statements by
// these exact names; documents written by earlier releases are expected
// to use them too.
const (
	// SidReadAccess grants object reads on study paths.
	SidReadAccess = "S3StudyReadAccess"
	// SidReadWriteAccess grants the full object CRUD action set on study
	// paths.
	SidReadWriteAccess = "S3StudyReadWriteAccess"
	// SidListAccessPrefix prefixes the per-bucket ListBucket statements
	// whose s3:prefix condition enumerates the visible study prefixes.
	SidListAccessPrefix = "studyListS3Access"
)

var (
	readOnlyActions = ValueList{"s3:GetObject"}

	readWriteActions = ValueList{
		"s3:GetObject",
		"s3:GetObjectVersion",
		"s3:PutObject",
		"s3:AbortMultipartUpload",
		"s3:ListMultipartUploadParts",
		"s3:DeleteObject",
		"s3:DeleteObjectVersion",
	}
)

func statementTemplate(sid string) (Statement, bool) {
	switch sid {
	case SidReadAccess:
		return Statement{
			Sid:    SidReadAccess,
			Effect: EffectAllow,
			Action: append(ValueList(nil), readOnlyActions...),
		}, true
	case SidReadWriteAccess:
		return Statement{
			Sid:    SidReadWriteAccess,
			Effect: EffectAllow,
			Action: append(ValueList(nil), readWriteActions...),
		}, true
	}
	return Statement{}, false
}

func (d *Document) statementIndex(sid string) int {
	for i := range d.Statement {
		if d.Statement[i].Sid == sid {
			return i
		}
	}
	return -1
}

// FindStatement returns a pointer to the statement with the given Sid,
// or nil if absent.
func (d *Document) FindStatement(sid string) *Statement {
	i := d.statementIndex(sid)
	if i < 0 {
		return nil
	}
	return &d.Statement[i]
}

// AddResource appends resourceARN to the statement with the given Sid,
// creating the statement from its template when absent. Adding a
// resource that is already present is a no-op.
func (d *Document) AddResource(sid, resourceARN string) error {
	if i := d.statementIndex(sid); i >= 0 {
		d.Statement[i].Resource = slice.Insert(d.Statement[i].Resource, resourceARN)
		return nil
	}
	stmt, ok := statementTemplate(sid)
	if !ok {
		return xerrors.Errorf("no statement template for sid %q", sid)
	}
	stmt.Resource = ValueList{resourceARN}
	d.Statement = append(d.Statement, stmt)
	return nil
}

// RemoveResource removes resourceARN from the statement with the given
// Sid. The whole statement is pruned when the removal leaves it without
// resources. Removing from an absent statement, or removing an absent
// ARN, is a no-op.
func (d *Document) RemoveResource(sid, resourceARN string) {
	i := d.statementIndex(sid)
	if i < 0 {
		return
	}
	if !slice.Contains(d.Statement[i].Resource, resourceARN) {
		return
	}
	if len(d.Statement[i].Resource) == 1 {
		d.Statement = slices.Delete(d.Statement, i, i+1)
		return
	}
	d.Statement[i].Resource = slice.Remove(d.Statement[i].Resource, resourceARN)
}

const listPrefixConditionKey = "s3:prefix"

func (d *Document) listStatementIndex(bucketARN string) int {
	for i := range d.Statement {
		s := &d.Statement[i]
		if !strings.HasPrefix(s.Sid, SidListAccessPrefix) {
			continue
		}
		if len(s.Resource) == 1 && s.Resource[0] == bucketARN {
			return i
		}
	}
	return -1
}

// EnsureListAccess adds the study's prefix to the ListBucket statement
// for the study's bucket, creating the statement when absent.
func (d *Document) EnsureListAccess(studyPathARN string) error {
	bucketARN, prefix, err := SplitStudyARN(studyPathARN)
	if err != nil {
		return err
	}
	if i := d.listStatementIndex(bucketARN); i >= 0 {
		cond := d.Statement[i].Condition
		if cond == nil {
			cond = Condition{}
			d.Statement[i].Condition = cond
		}
		keys := cond["StringLike"]
		if keys == nil {
			keys = map[string]ValueList{}
			cond["StringLike"] = keys
		}
		keys[listPrefixConditionKey] = slice.Insert(keys[listPrefixConditionKey], prefix)
		return nil
	}
	d.Statement = append(d.Statement, Statement{
		Sid:      SidListAccessPrefix + sanitizeSid(BucketNameFromARN(bucketARN)),
		Effect:   EffectAllow,
		Action:   ValueList{"s3:ListBucket"},
		Resource: ValueList{bucketARN},
		Condition: Condition{
			"StringLike": {listPrefixConditionKey: ValueList{prefix}},
		},
	})
	return nil
}

// RemoveListAccess removes the study's prefix from the ListBucket
// statement for the study's bucket, pruning the statement when no
// prefixes remain. Removing an absent prefix is a no-op.
func (d *Document) RemoveListAccess(studyPathARN string) error {
	bucketARN, prefix, err := SplitStudyARN(studyPathARN)
	if err != nil {
		return err
	}
	i := d.listStatementIndex(bucketARN)
	if i < 0 {
		return nil
	}
	keys := d.Statement[i].Condition["StringLike"]
	if keys == nil || !slice.Contains(keys[listPrefixConditionKey], prefix) {
		return nil
	}
	remaining := slice.Remove(keys[listPrefixConditionKey], prefix)
	if len(remaining) == 0 {
		d.Statement = slices.Delete(d.Statement, i, i+1)
		return nil
	}
	keys[listPrefixConditionKey] = remaining
	return nil
}

// sanitizeSid strips everything that is not alphanumeric, since IAM
// restricts Sid values to [A-Za-z0-9].
func sanitizeSid(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}
