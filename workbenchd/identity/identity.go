// Package identity carries the principal on whose behalf an operation
// runs. Internal service-to-service calls use the system subject instead
// of ambient global state.
package identity

// Subject identifies the caller of an operation for authorization
// attribution and audit.
type Subject struct {
	// UID is the user id of the caller, or a well-known marker for the
	// system subject.
	UID string
	// System is true for internal calls that bypass user-level
	// authorization.
	System bool
}

// SystemSubject returns the principal used for internal operations such
// as migrations and background reconciliation.
func SystemSubject() Subject {
	return Subject{UID: "_system_", System: true}
}

func (s Subject) String() string {
	if s.System {
		return "system"
	}
	return s.UID
}
