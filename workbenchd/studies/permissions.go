package studies

import (
	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/util/slice"
)

// PermissionLevel is one of the four grantable levels.
type PermissionLevel string

const (
	PermissionLevelAdmin     PermissionLevel = "admin"
	PermissionLevelReadonly  PermissionLevel = "readonly"
	PermissionLevelReadwrite PermissionLevel = "readwrite"
	PermissionLevelWriteonly PermissionLevel = "writeonly"
)

// Levels lists all permission levels.
func Levels() []PermissionLevel {
	return []PermissionLevel{
		PermissionLevelAdmin,
		PermissionLevelReadonly,
		PermissionLevelReadwrite,
		PermissionLevelWriteonly,
	}
}

// Valid reports whether the level is one of the four known levels.
func (l PermissionLevel) Valid() bool {
	switch l {
	case PermissionLevelAdmin, PermissionLevelReadonly, PermissionLevelReadwrite, PermissionLevelWriteonly:
		return true
	}
	return false
}

// WildcardUID in a removal entry is a migration-only sentinel meaning
// "remove admin access from whichever user currently holds it". It is
// resolved to concrete uids before the request is applied.
const WildcardUID = "*"

// UserEntry pairs a user with a permission level inside an update
// request.
type UserEntry struct {
	UID   string          `json:"uid"`
	Level PermissionLevel `json:"permissionLevel"`
}

// UpdateRequest is the wire shape of a permission change.
type UpdateRequest struct {
	UsersToAdd    []UserEntry `json:"usersToAdd"`
	UsersToRemove []UserEntry `json:"usersToRemove"`
}

// ErrInvalidUpdate tags validation failures of an update request.
var ErrInvalidUpdate = xerrors.New("invalid permission update request")

// Validate checks the request's entries. The wildcard uid is only legal
// in a removal entry at the admin level.
func (r UpdateRequest) Validate() error {
	for _, e := range r.UsersToAdd {
		if e.UID == "" || e.UID == WildcardUID {
			return xerrors.Errorf("usersToAdd uid %q: %w", e.UID, ErrInvalidUpdate)
		}
		if !e.Level.Valid() {
			return xerrors.Errorf("usersToAdd level %q: %w", e.Level, ErrInvalidUpdate)
		}
	}
	for _, e := range r.UsersToRemove {
		if e.UID == "" {
			return xerrors.Errorf("usersToRemove uid %q: %w", e.UID, ErrInvalidUpdate)
		}
		if !e.Level.Valid() {
			return xerrors.Errorf("usersToRemove level %q: %w", e.Level, ErrInvalidUpdate)
		}
		if e.UID == WildcardUID && e.Level != PermissionLevelAdmin {
			return xerrors.Errorf("wildcard removal is only valid at the admin level: %w", ErrInvalidUpdate)
		}
	}
	return nil
}

// ImpactedUsers returns the union of all uids in the request, excluding
// the wildcard sentinel, deduplicated in first-seen order.
func (r UpdateRequest) ImpactedUsers() []string {
	uids := make([]string, 0, len(r.UsersToAdd)+len(r.UsersToRemove))
	for _, e := range r.UsersToAdd {
		uids = append(uids, e.UID)
	}
	for _, e := range r.UsersToRemove {
		if e.UID == WildcardUID {
			continue
		}
		uids = append(uids, e.UID)
	}
	return slice.Unique(uids)
}

// AddsAdmin reports whether the request grants admin to uid. Used for
// the admin read floor: a fully revoked user who stays admin keeps read
// visibility.
func (r UpdateRequest) AddsAdmin(uid string) bool {
	for _, e := range r.UsersToAdd {
		if e.UID == uid && e.Level == PermissionLevelAdmin {
			return true
		}
	}
	return false
}

// ResolveWildcards replaces wildcard admin removals with one concrete
// entry per current admin. The request is mutated in place so the caller
// observes the resolved uids, which is what the ownership-transfer
// migration relies on.
func (r *UpdateRequest) ResolveWildcards(current Permissions) {
	resolved := make([]UserEntry, 0, len(r.UsersToRemove))
	for _, e := range r.UsersToRemove {
		if e.UID != WildcardUID {
			resolved = append(resolved, e)
			continue
		}
		for _, uid := range current.AdminUsers {
			resolved = append(resolved, UserEntry{UID: uid, Level: PermissionLevelAdmin})
		}
	}
	r.UsersToRemove = resolved
}

// Permissions is the canonical permission record of one study: four
// user-id sets, one per level. Membership is not mutually exclusive
// across levels.
type Permissions struct {
	StudyID        string   `json:"studyId"`
	AdminUsers     []string `json:"adminUsers"`
	ReadonlyUsers  []string `json:"readonlyUsers"`
	ReadwriteUsers []string `json:"readwriteUsers"`
	WriteonlyUsers []string `json:"writeonlyUsers"`
}

// UsersFor returns the user set for a level.
func (p Permissions) UsersFor(level PermissionLevel) []string {
	switch level {
	case PermissionLevelAdmin:
		return p.AdminUsers
	case PermissionLevelReadonly:
		return p.ReadonlyUsers
	case PermissionLevelReadwrite:
		return p.ReadwriteUsers
	case PermissionLevelWriteonly:
		return p.WriteonlyUsers
	}
	return nil
}

func (p *Permissions) setUsersFor(level PermissionLevel, users []string) {
	switch level {
	case PermissionLevelAdmin:
		p.AdminUsers = users
	case PermissionLevelReadonly:
		p.ReadonlyUsers = users
	case PermissionLevelReadwrite:
		p.ReadwriteUsers = users
	case PermissionLevelWriteonly:
		p.WriteonlyUsers = users
	}
}

// Clone returns a deep copy.
func (p Permissions) Clone() Permissions {
	out := p
	out.AdminUsers = append([]string(nil), p.AdminUsers...)
	out.ReadonlyUsers = append([]string(nil), p.ReadonlyUsers...)
	out.ReadwriteUsers = append([]string(nil), p.ReadwriteUsers...)
	out.WriteonlyUsers = append([]string(nil), p.WriteonlyUsers...)
	return out
}

// ApplyUpdateRequest applies the request to the permission record as an
// idempotent set mutation: additions deduplicate, removals of absent
// members are no-ops. Wildcard removals are resolved against the record
// as it stands before any mutation, and the request is mutated to the
// resolved form.
func ApplyUpdateRequest(p *Permissions, req *UpdateRequest) {
	req.ResolveWildcards(*p)
	for _, e := range req.UsersToAdd {
		p.setUsersFor(e.Level, slice.Insert(p.UsersFor(e.Level), e.UID))
	}
	for _, e := range req.UsersToRemove {
		p.setUsersFor(e.Level, slice.Remove(p.UsersFor(e.Level), e.UID))
	}
}

// Narrowed applies the study's access-type ceiling for presentation:
// under a readonly ceiling readwrite holders are demoted to readonly and
// the write-side sets read as empty, and symmetrically for writeonly.
func (p Permissions) Narrowed(at AccessType) Permissions {
	out := p.Clone()
	switch at {
	case AccessTypeReadonly:
		for _, uid := range p.ReadwriteUsers {
			out.ReadonlyUsers = slice.Insert(out.ReadonlyUsers, uid)
		}
		out.ReadwriteUsers = nil
		out.WriteonlyUsers = nil
	case AccessTypeWriteonly:
		for _, uid := range p.ReadwriteUsers {
			out.WriteonlyUsers = slice.Insert(out.WriteonlyUsers, uid)
		}
		out.ReadwriteUsers = nil
		out.ReadonlyUsers = nil
	}
	return out
}

// UserPermissions is the mirror image of Permissions: four study-id sets
// per user, kept consistent with the per-study records by the same
// update operation.
type UserPermissions struct {
	UID             string   `json:"uid"`
	AdminAccess     []string `json:"adminAccess"`
	ReadonlyAccess  []string `json:"readonlyAccess"`
	ReadwriteAccess []string `json:"readwriteAccess"`
	WriteonlyAccess []string `json:"writeonlyAccess"`
}

// StudiesFor returns the study set for a level.
func (u UserPermissions) StudiesFor(level PermissionLevel) []string {
	switch level {
	case PermissionLevelAdmin:
		return u.AdminAccess
	case PermissionLevelReadonly:
		return u.ReadonlyAccess
	case PermissionLevelReadwrite:
		return u.ReadwriteAccess
	case PermissionLevelWriteonly:
		return u.WriteonlyAccess
	}
	return nil
}

func (u *UserPermissions) setStudiesFor(level PermissionLevel, ids []string) {
	switch level {
	case PermissionLevelAdmin:
		u.AdminAccess = ids
	case PermissionLevelReadonly:
		u.ReadonlyAccess = ids
	case PermissionLevelReadwrite:
		u.ReadwriteAccess = ids
	case PermissionLevelWriteonly:
		u.WriteonlyAccess = ids
	}
}

// Clone returns a deep copy.
func (u UserPermissions) Clone() UserPermissions {
	out := u
	out.AdminAccess = append([]string(nil), u.AdminAccess...)
	out.ReadonlyAccess = append([]string(nil), u.ReadonlyAccess...)
	out.ReadwriteAccess = append([]string(nil), u.ReadwriteAccess...)
	out.WriteonlyAccess = append([]string(nil), u.WriteonlyAccess...)
	return out
}

// ApplyUserUpdate mirrors an update request onto one user's record. The
// request must already have its wildcards resolved.
func ApplyUserUpdate(u *UserPermissions, studyID string, req UpdateRequest) {
	for _, e := range req.UsersToAdd {
		if e.UID != u.UID {
			continue
		}
		u.setStudiesFor(e.Level, slice.Insert(u.StudiesFor(e.Level), studyID))
	}
	for _, e := range req.UsersToRemove {
		if e.UID != u.UID {
			continue
		}
		u.setStudiesFor(e.Level, slice.Remove(u.StudiesFor(e.Level), studyID))
	}
}
