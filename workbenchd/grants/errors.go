package grants

import (
	"fmt"

	"github.com/researchspace/workbench/workbenchd/studies"
)

// CapacityExceededError rejects an update whose environment fan-out is
// too large to complete within one request. Nothing has been persisted
// when it is returned; the caller must narrow the request to fewer
// users per call.
type CapacityExceededError struct {
	Count int
	Limit int
}

func (e CapacityExceededError) Error() string {
	return fmt.Sprintf("update impacts %d environments, exceeding the limit of %d", e.Count, e.Limit)
}

// ImmutableCategoryError rejects permission changes on study categories
// whose permissions are fixed.
type ImmutableCategoryError struct {
	StudyID  string
	Category studies.Category
}

func (e ImmutableCategoryError) Error() string {
	return fmt.Sprintf("permissions of study %q cannot be changed: category is %q", e.StudyID, e.Category)
}

// UnauthorizedError reports that a user has no access to a study.
type UnauthorizedError struct {
	UID     string
	StudyID string
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("user %q has no access to study %q", e.UID, e.StudyID)
}

// EnvFailure is one environment that could not be reconciled.
type EnvFailure struct {
	EnvironmentID string
	Err           error
}

// PartialError aggregates per-environment reconciliation failures. The
// permission record has already been durably updated when it is
// returned; retrying the same update converges the remaining
// environments.
type PartialError struct {
	Failures []EnvFailure
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("permission update persisted but %d environment(s) could not be reconciled", len(e.Failures))
}

// EnvironmentIDs lists the failed environments.
func (e *PartialError) EnvironmentIDs() []string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.EnvironmentID)
	}
	return ids
}
