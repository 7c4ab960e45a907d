package studies

import "github.com/researchspace/workbench/util/slice"

// AccessLevel is a user's effective access to a study after the ceiling,
// implicit-admin, and demotion rules have been applied.
type AccessLevel struct {
	Admin bool `json:"admin"`
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// Granted reports whether the level carries any resource-level access.
func (a AccessLevel) Granted() bool {
	return a.Read || a.Write
}

// HasAccess reports whether uid can see the study at all. Open Data is
// always readable, admins always have access, and everyone else must
// remain in a permission set after the ceiling narrowing.
func HasAccess(study Study, p Permissions, uid string) bool {
	if study.Category == CategoryOpenData {
		return true
	}
	if slice.Contains(p.AdminUsers, uid) {
		return true
	}
	ro := slice.Contains(p.ReadonlyUsers, uid)
	rw := slice.Contains(p.ReadwriteUsers, uid)
	wo := slice.Contains(p.WriteonlyUsers, uid)
	switch study.EffectiveAccessType() {
	case AccessTypeReadonly:
		wo = false
	case AccessTypeWriteonly:
		ro = false
	}
	return ro || rw || wo
}

// AccessLevels computes uid's effective access. Admins implicitly gain
// read (or write under a writeonly ceiling), owners of "My Studies" also
// implicitly gain write, and the ceiling demotes readwrite holders to
// the allowed side.
func AccessLevels(study Study, p Permissions, uid string) AccessLevel {
	if study.Category == CategoryOpenData {
		return AccessLevel{Read: true}
	}
	at := study.EffectiveAccessType()
	admin := slice.Contains(p.AdminUsers, uid)
	ro := slice.Contains(p.ReadonlyUsers, uid)
	rw := slice.Contains(p.ReadwriteUsers, uid)
	wo := slice.Contains(p.WriteonlyUsers, uid)

	if admin {
		if at == AccessTypeWriteonly {
			wo = true
		} else {
			ro = true
		}
		if study.Category == CategoryMyStudies && at != AccessTypeReadonly {
			wo = true
		}
	}

	switch at {
	case AccessTypeReadonly:
		ro = ro || rw
		rw = false
		wo = false
	case AccessTypeWriteonly:
		wo = wo || rw
		rw = false
		ro = false
	}

	return AccessLevel{
		Admin: admin,
		Read:  ro || rw,
		Write: wo || rw,
	}
}
