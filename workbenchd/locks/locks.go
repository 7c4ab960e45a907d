// Package locks provides the named mutual-exclusion capability used to
// serialize permission updates per study, reconciliation per
// environment, and shared bucket/key policy writes. Implementations may
// span processes; see dynamolock for the lease-based one.
package locks

import "context"

// Locker runs fn while holding the named lock, releasing it when fn
// returns whether or not it errors. Acquisition blocks until the lock is
// available or ctx is done.
type Locker interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// StudyOperation names the lock serializing all permission-changing
// operations for one study.
func StudyOperation(studyID string) string {
	return "study-" + studyID + "-operation"
}

// EnvironmentOperation names the lock serializing reconciliation for one
// workspace. The same environment can be impacted by concurrent changes
// to two different studies it mounts.
func EnvironmentOperation(envID string) string {
	return "environment-" + envID + "-operation"
}

// BucketPolicy names the lock guarding a shared bucket policy document.
// Many environments and studies can share one bucket policy, making this
// the highest-contention lock in the system.
func BucketPolicy(bucket string) string {
	return "bucket-policy-" + bucket
}

// KeyPolicy names the lock guarding a KMS key policy document.
func KeyPolicy(keyAlias string) string {
	return "key-policy-" + keyAlias
}
