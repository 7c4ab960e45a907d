// Package reconcile rewrites workspace role policies and shared
// bucket/key policies to match a study's permission state. Every
// operation reads the current policy fresh, derives the minimal
// statement mutations, and persists the result, so re-running after a
// partial failure converges on the same target state.
package reconcile

import (
	"context"

	"cdr.dev/slog"
	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/workbenchd/awspolicy"
	"github.com/researchspace/workbench/workbenchd/cloud"
	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/studies"
)

// rolePolicyNames are the inline policy names probed on a workspace
// role, in order; the first one found wins. Roles provisioned by earlier
// releases carry the legacy name. A role with no policy under any name
// gets a new one created under the first entry.
var rolePolicyNames = []string{"StudyDataAccessPolicy", "studydata-access"}

// StudyAccess pairs a mounted study with the workspace owner's effective
// access to it.
type StudyAccess struct {
	Study  studies.Study
	Access studies.AccessLevel
}

// PolicyProvider is one strategy for projecting study access onto cloud
// policies. Providers are visited in order by the orchestrator; the
// role-policy Reconciler is always first, with the resource-policy
// variant optionally behind it.
type PolicyProvider interface {
	// ProvideEnvRolePolicy contributes statements for the environment's
	// mounted studies to a role policy document being rebuilt from
	// scratch.
	ProvideEnvRolePolicy(ctx context.Context, doc *awspolicy.Document, env envs.Environment, mounts []StudyAccess) error
	// AllocateEnvStudyResources grants the owner's current access to one
	// study on the environment's policies.
	AllocateEnvStudyResources(ctx context.Context, env envs.Environment, study studies.Study, access studies.AccessLevel) error
	// DeallocateEnvStudyResources revokes a previously held access level
	// for one study from the environment's policies.
	DeallocateEnvStudyResources(ctx context.Context, env envs.Environment, study studies.Study, access studies.AccessLevel) error
}

// Reconciler is the role-policy provider: it patches the workspace
// role's inline policy statement by statement.
type Reconciler struct {
	log   slog.Logger
	roles cloud.RolePolicies
}

var _ PolicyProvider = (*Reconciler)(nil)

// New returns a role-policy reconciler.
func New(log slog.Logger, roles cloud.RolePolicies) *Reconciler {
	return &Reconciler{
		log:   log.Named("reconcile"),
		roles: roles,
	}
}

// targetSid maps an effective access level onto the statement that
// carries it. Anything with write access lands in the read-write
// statement; read-only access lands in the read statement.
func targetSid(access studies.AccessLevel) string {
	if access.Write {
		return awspolicy.SidReadWriteAccess
	}
	return awspolicy.SidReadAccess
}

func otherSid(sid string) string {
	if sid == awspolicy.SidReadAccess {
		return awspolicy.SidReadWriteAccess
	}
	return awspolicy.SidReadAccess
}

// fetchRolePolicy probes the candidate policy names and returns the
// first document found along with its name. When none exists it returns
// an empty document under the canonical name.
func (r *Reconciler) fetchRolePolicy(ctx context.Context, roleName string) (awspolicy.Document, string, error) {
	for _, name := range rolePolicyNames {
		doc, err := r.roles.GetRolePolicy(ctx, roleName, name)
		if err == nil {
			return doc, name, nil
		}
		if !cloud.IsNoSuchPolicy(err) {
			return awspolicy.Document{}, "", xerrors.Errorf("fetch role policy: %w", err)
		}
	}
	return awspolicy.NewDocument(), rolePolicyNames[0], nil
}

// persistRolePolicy writes the document back, deleting the inline policy
// outright when nothing is granted anymore.
func (r *Reconciler) persistRolePolicy(ctx context.Context, roleName, policyName string, doc awspolicy.Document) error {
	if doc.Empty() {
		if err := r.roles.DeleteRolePolicy(ctx, roleName, policyName); err != nil {
			return xerrors.Errorf("delete emptied role policy: %w", err)
		}
		return nil
	}
	if err := r.roles.PutRolePolicy(ctx, roleName, policyName, doc); err != nil {
		return xerrors.Errorf("persist role policy: %w", err)
	}
	return nil
}

// AllocateEnvStudyResources adds the study's resources to the statement
// for the owner's new access level, removes them from the other level's
// statement, and ensures list access for each study prefix. A user holds
// at most one of read/read-write per study at a time.
func (r *Reconciler) AllocateEnvStudyResources(ctx context.Context, env envs.Environment, study studies.Study, access studies.AccessLevel) error {
	if !access.Granted() {
		return nil
	}
	roleName, err := env.RoleName()
	if err != nil {
		return err
	}
	doc, policyName, err := r.fetchRolePolicy(ctx, roleName)
	if err != nil {
		return err
	}
	sid := targetSid(access)
	for _, res := range study.Resources {
		if err := doc.AddResource(sid, res.ARN); err != nil {
			return err
		}
		doc.RemoveResource(otherSid(sid), res.ARN)
		if err := doc.EnsureListAccess(res.ARN); err != nil {
			return err
		}
	}
	r.log.Debug(ctx, "allocating study on workspace role",
		slog.F("environment_id", env.ID),
		slog.F("study_id", study.ID),
		slog.F("role", roleName),
		slog.F("sid", sid),
	)
	return r.persistRolePolicy(ctx, roleName, policyName, doc)
}

// DeallocateEnvStudyResources removes the study's resources from the
// statement the owner previously qualified for, along with the list
// access prefixes. Statements emptied by the removal are pruned.
func (r *Reconciler) DeallocateEnvStudyResources(ctx context.Context, env envs.Environment, study studies.Study, access studies.AccessLevel) error {
	if !access.Granted() {
		return nil
	}
	roleName, err := env.RoleName()
	if err != nil {
		return err
	}
	doc, policyName, err := r.fetchRolePolicy(ctx, roleName)
	if err != nil {
		return err
	}
	sid := targetSid(access)
	for _, res := range study.Resources {
		doc.RemoveResource(sid, res.ARN)
		if err := doc.RemoveListAccess(res.ARN); err != nil {
			return err
		}
	}
	r.log.Debug(ctx, "deallocating study from workspace role",
		slog.F("environment_id", env.ID),
		slog.F("study_id", study.ID),
		slog.F("role", roleName),
		slog.F("sid", sid),
	)
	return r.persistRolePolicy(ctx, roleName, policyName, doc)
}

// ProvideEnvRolePolicy contributes the read, read-write, and list
// statements for every mounted study the owner still has access to.
func (r *Reconciler) ProvideEnvRolePolicy(_ context.Context, doc *awspolicy.Document, _ envs.Environment, mounts []StudyAccess) error {
	for _, m := range mounts {
		if !m.Access.Granted() {
			continue
		}
		sid := targetSid(m.Access)
		for _, res := range m.Study.Resources {
			if err := doc.AddResource(sid, res.ARN); err != nil {
				return err
			}
			if err := doc.EnsureListAccess(res.ARN); err != nil {
				return err
			}
		}
	}
	return nil
}

// RegenerateRolePolicy rebuilds the workspace role policy from scratch
// out of the environment's mounted studies and persists it, replacing
// whichever candidate-named policy is currently attached. Extra
// providers contribute after the role-policy reconciler itself.
func (r *Reconciler) RegenerateRolePolicy(ctx context.Context, env envs.Environment, mounts []StudyAccess, extra ...PolicyProvider) error {
	roleName, err := env.RoleName()
	if err != nil {
		return err
	}
	_, policyName, err := r.fetchRolePolicy(ctx, roleName)
	if err != nil {
		return err
	}
	doc := awspolicy.NewDocument()
	providers := append([]PolicyProvider{r}, extra...)
	for _, p := range providers {
		if err := p.ProvideEnvRolePolicy(ctx, &doc, env, mounts); err != nil {
			return err
		}
	}
	r.log.Debug(ctx, "regenerating workspace role policy",
		slog.F("environment_id", env.ID),
		slog.F("role", roleName),
		slog.F("statements", len(doc.Statement)),
	)
	return r.persistRolePolicy(ctx, roleName, policyName, doc)
}
