// Package studies models shared datasets, their permission records, and
// the access-level semantics applied on top of them: per-study ceilings,
// implicit admin access, and level demotion.
package studies

// Category classifies who a study is shared with. Permission records of
// "My Studies" and "Open Data" studies are immutable: the former belong
// to their owner only, the latter are world-readable.
type Category string

const (
	CategoryMyStudies    Category = "My Studies"
	CategoryOrganization Category = "Organization"
	CategoryOpenData     Category = "Open Data"
)

// PermissionsImmutable reports whether permission updates are rejected
// for studies of this category.
func (c Category) PermissionsImmutable() bool {
	return c == CategoryMyStudies || c == CategoryOpenData
}

// AccessType is the ceiling of any permission level grantable on a
// study, independent of per-user grants.
type AccessType string

const (
	AccessTypeReadonly  AccessType = "readonly"
	AccessTypeReadwrite AccessType = "readwrite"
	AccessTypeWriteonly AccessType = "writeonly"
)

// Resource is a storage location backing a study.
type Resource struct {
	ARN string `json:"arn"`
}

// Study is a named, access-controlled dataset backed by cloud object
// storage.
type Study struct {
	ID         string     `json:"id"`
	Category   Category   `json:"category"`
	AccessType AccessType `json:"accessType,omitempty"`
	Resources  []Resource `json:"resources,omitempty"`
	// Rev is a monotonic revision for optimistic concurrency.
	Rev int64 `json:"rev"`
}

// EffectiveAccessType returns the study's ceiling, defaulting to
// readwrite when unset.
func (s Study) EffectiveAccessType() AccessType {
	if s.AccessType == "" {
		return AccessTypeReadwrite
	}
	return s.AccessType
}
