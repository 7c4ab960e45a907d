// Package database defines the persistence contract for studies,
// permission records, and environments. Implementations live in dbmem
// (in-memory) and dbddb (DynamoDB).
package database

import (
	"context"

	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/studies"
)

// Store is the persistence boundary of the permission engine.
//
// ApplyPermissionUpdate is the single write path for permission state:
// it resolves wildcard removals (mutating the request), applies the
// request to the study's record, and mirrors every (user, study, level)
// addition and removal into the per-user records. Both sides must be
// written atomically.
type Store interface {
	GetStudy(ctx context.Context, id string) (studies.Study, error)
	// UpdateStudy persists the study if its stored revision still equals
	// study.Rev, bumping the revision. ErrConflict otherwise.
	UpdateStudy(ctx context.Context, study studies.Study) (studies.Study, error)

	// GetStudyPermissions returns the study's permission record, or an
	// empty record (not ErrNotFound) when none has been written yet.
	GetStudyPermissions(ctx context.Context, studyID string) (studies.Permissions, error)
	// GetUserPermissions returns the user's mirror record, or an empty
	// record when none has been written yet.
	GetUserPermissions(ctx context.Context, uid string) (studies.UserPermissions, error)
	ApplyPermissionUpdate(ctx context.Context, studyID string, req *studies.UpdateRequest) (studies.Permissions, error)

	GetEnvironment(ctx context.Context, id string) (envs.Environment, error)
	GetActiveEnvironmentsForUser(ctx context.Context, uid string) ([]envs.Environment, error)
}
