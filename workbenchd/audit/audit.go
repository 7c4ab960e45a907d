// Package audit records permission-change attempts. A record is written
// for every update that reaches propagation, whether it fully propagated
// or partially failed. Requests rejected up front (validation, immutable
// category, capacity) are not recorded.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/researchspace/workbench/workbenchd/identity"
	"github.com/researchspace/workbench/workbenchd/studies"
)

// Actions recorded by the permission engine.
const (
	ActionUpdatePermissions = "update_study_permissions"
	ActionReconcileEnv      = "reconcile_environment"
)

// Log is one audit record.
type Log struct {
	ID      uuid.UUID        `json:"id"`
	Time    time.Time        `json:"time"`
	Subject identity.Subject `json:"subject"`
	Action  string           `json:"action"`
	StudyID string           `json:"studyId"`
	// Request is the update as applied, wildcards already resolved.
	Request   studies.UpdateRequest `json:"request"`
	Succeeded bool                  `json:"succeeded"`
	// FailedEnvironments lists environments that could not be
	// reconciled. Non-empty implies Succeeded is false.
	FailedEnvironments []string `json:"failedEnvironments,omitempty"`
}

// Auditor exports audit records.
type Auditor interface {
	Export(ctx context.Context, alog Log) error
}

type nop struct{}

func (nop) Export(context.Context, Log) error { return nil }

// NewNop returns an auditor that discards every record.
func NewNop() Auditor { return nop{} }
