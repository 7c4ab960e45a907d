// Package cloudtest provides an in-memory fake of the cloud policy
// interfaces with injectable per-target failures.
package cloudtest

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/workbenchd/awspolicy"
	"github.com/researchspace/workbench/workbenchd/cloud"
)

// Fake implements cloud.RolePolicies, cloud.BucketPolicies, and
// cloud.KeyPolicies in memory.
type Fake struct {
	mu sync.Mutex

	rolePolicies   map[string]map[string]awspolicy.Document
	bucketPolicies map[string]awspolicy.Document
	keyPolicies    map[string]awspolicy.Document

	rolePutErrs map[string]error
	rolePuts    int
}

var (
	_ cloud.RolePolicies   = (*Fake)(nil)
	_ cloud.BucketPolicies = (*Fake)(nil)
	_ cloud.KeyPolicies    = (*Fake)(nil)
)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		rolePolicies:   map[string]map[string]awspolicy.Document{},
		bucketPolicies: map[string]awspolicy.Document{},
		keyPolicies:    map[string]awspolicy.Document{},
		rolePutErrs:    map[string]error{},
	}
}

// FailRolePuts makes every PutRolePolicy for roleName fail with err.
func (f *Fake) FailRolePuts(roleName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolePutErrs[roleName] = err
}

// SetRolePolicy seeds an inline policy.
func (f *Fake) SetRolePolicy(roleName, policyName string, doc awspolicy.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byName, ok := f.rolePolicies[roleName]
	if !ok {
		byName = map[string]awspolicy.Document{}
		f.rolePolicies[roleName] = byName
	}
	byName[policyName] = doc.Clone()
}

// RolePolicy returns a copy of a stored inline policy.
func (f *Fake) RolePolicy(roleName, policyName string) (awspolicy.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.rolePolicies[roleName][policyName]
	if !ok {
		return awspolicy.Document{}, false
	}
	return doc.Clone(), true
}

// RolePuts returns how many PutRolePolicy calls succeeded.
func (f *Fake) RolePuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rolePuts
}

func (f *Fake) GetRolePolicy(_ context.Context, roleName, policyName string) (awspolicy.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.rolePolicies[roleName][policyName]
	if !ok {
		return awspolicy.Document{}, xerrors.Errorf("role %q policy %q: %w", roleName, policyName, cloud.ErrNoSuchPolicy)
	}
	return doc.Clone(), nil
}

func (f *Fake) PutRolePolicy(_ context.Context, roleName, policyName string, doc awspolicy.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.rolePutErrs[roleName]; err != nil {
		return err
	}
	byName, ok := f.rolePolicies[roleName]
	if !ok {
		byName = map[string]awspolicy.Document{}
		f.rolePolicies[roleName] = byName
	}
	byName[policyName] = doc.Clone()
	f.rolePuts++
	return nil
}

func (f *Fake) DeleteRolePolicy(_ context.Context, roleName, policyName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rolePolicies[roleName], policyName)
	return nil
}

// SetBucketPolicy seeds a bucket policy.
func (f *Fake) SetBucketPolicy(bucket string, doc awspolicy.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketPolicies[bucket] = doc.Clone()
}

// BucketPolicy returns a copy of a stored bucket policy.
func (f *Fake) BucketPolicy(bucket string) (awspolicy.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.bucketPolicies[bucket]
	if !ok {
		return awspolicy.Document{}, false
	}
	return doc.Clone(), true
}

func (f *Fake) GetBucketPolicy(_ context.Context, bucket string) (awspolicy.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.bucketPolicies[bucket]
	if !ok {
		return awspolicy.Document{}, xerrors.Errorf("bucket %q: %w", bucket, cloud.ErrNoSuchPolicy)
	}
	return doc.Clone(), nil
}

func (f *Fake) PutBucketPolicy(_ context.Context, bucket string, doc awspolicy.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketPolicies[bucket] = doc.Clone()
	return nil
}

// SetKeyPolicy seeds a key policy.
func (f *Fake) SetKeyPolicy(keyID string, doc awspolicy.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyPolicies[keyID] = doc.Clone()
}

// KeyPolicy returns a copy of a stored key policy.
func (f *Fake) KeyPolicy(keyID string) (awspolicy.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.keyPolicies[keyID]
	if !ok {
		return awspolicy.Document{}, false
	}
	return doc.Clone(), true
}

func (f *Fake) GetKeyPolicy(_ context.Context, keyID string) (awspolicy.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.keyPolicies[keyID]
	if !ok {
		return awspolicy.Document{}, xerrors.Errorf("key %q: %w", keyID, cloud.ErrNoSuchPolicy)
	}
	return doc.Clone(), nil
}

func (f *Fake) PutKeyPolicy(_ context.Context, keyID string, doc awspolicy.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyPolicies[keyID] = doc.Clone()
	return nil
}
