package awspolicy

import (
	"strings"

	"golang.org/x/xerrors"
)

const s3ARNPrefix = "arn:aws:s3:::"

// SplitStudyARN splits a study path ARN such as
// "arn:aws:s3:::the-bucket/studies/org-1/study-a/*" into the bucket ARN
// ("arn:aws:s3:::the-bucket") and the object prefix
// ("studies/org-1/study-a/*").
func SplitStudyARN(studyPathARN string) (bucketARN, prefix string, err error) {
	rest, ok := strings.CutPrefix(studyPathARN, s3ARNPrefix)
	if !ok {
		return "", "", xerrors.Errorf("not an s3 arn: %q", studyPathARN)
	}
	bucket, prefix, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || prefix == "" {
		return "", "", xerrors.Errorf("s3 arn %q has no object prefix", studyPathARN)
	}
	return s3ARNPrefix + bucket, prefix, nil
}

// BucketNameFromARN returns the bucket name of a bucket ARN. The input
// may also be a full object path ARN; anything after the first slash is
// ignored.
func BucketNameFromARN(arn string) string {
	rest, ok := strings.CutPrefix(arn, s3ARNPrefix)
	if !ok {
		return ""
	}
	bucket, _, _ := strings.Cut(rest, "/")
	return bucket
}

// BucketARN returns the ARN for a bucket name.
func BucketARN(bucket string) string {
	return s3ARNPrefix + bucket
}
