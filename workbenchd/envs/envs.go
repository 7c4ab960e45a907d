// Package envs models provisioned research workspaces as consumed by
// permission propagation: their owner, mounted studies, lifecycle
// status, and the IAM role surfaced through provisioning outputs.
package envs

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an environment.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusCompleted   Status = "COMPLETED"
	StatusTainted     Status = "TAINTED"
	StatusFailed      Status = "FAILED"
	StatusTerminating Status = "TERMINATING"
	StatusTerminated  Status = "TERMINATED"
)

// Active reports whether the environment is in a non-terminal state and
// therefore holds a live role policy worth reconciling.
func (s Status) Active() bool {
	switch s {
	case StatusFailed, StatusTerminating, StatusTerminated:
		return false
	}
	return true
}

// Output is a key/value pair produced by workspace provisioning.
type Output struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RoleARNOutputKey is the provisioning output holding the workspace's
// instance role ARN. It is only present once provisioning completes.
const RoleARNOutputKey = "WorkspaceInstanceRoleArn"

// Environment is an active provisioned workspace. StudyIDs is fixed at
// provision time and immutable after launch.
type Environment struct {
	ID        string   `json:"id"`
	Status    Status   `json:"status"`
	CreatedBy string   `json:"createdBy"`
	StudyIDs  []string `json:"studyIds"`
	Outputs   []Output `json:"outputs,omitempty"`
}

// NotReadyError indicates the environment's role ARN is not yet
// available because provisioning is still in progress. Callers treat it
// as retryable, not fatal.
type NotReadyError struct {
	EnvironmentID string
}

func (e NotReadyError) Error() string {
	return fmt.Sprintf("environment %s: workspace role not yet provisioned", e.EnvironmentID)
}

// RoleARN returns the workspace instance role ARN from the provisioning
// outputs, or a NotReadyError when it has not been published yet.
func (e Environment) RoleARN() (string, error) {
	for _, out := range e.Outputs {
		if out.Key == RoleARNOutputKey && out.Value != "" {
			return out.Value, nil
		}
	}
	return "", NotReadyError{EnvironmentID: e.ID}
}

// RoleName returns the role name component of the workspace role ARN.
func (e Environment) RoleName() (string, error) {
	arn, err := e.RoleARN()
	if err != nil {
		return "", err
	}
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:], nil
	}
	return arn, nil
}

// Clone returns a deep copy of the environment.
func (e Environment) Clone() Environment {
	out := e
	out.StudyIDs = append([]string(nil), e.StudyIDs...)
	out.Outputs = append([]Output(nil), e.Outputs...)
	return out
}

// MountsStudy reports whether studyID was mounted at provision time.
func (e Environment) MountsStudy(studyID string) bool {
	for _, id := range e.StudyIDs {
		if id == studyID {
			return true
		}
	}
	return false
}
