// Package grants is the permission propagation orchestrator: it applies
// a study permission update to the durable records and reconciles every
// active workspace mounting the study, tolerating partial failures
// across independently provisioned cloud resources.
package grants

import (
	"context"
	"sort"
	"sync"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/workbenchd/audit"
	"github.com/researchspace/workbench/workbenchd/database"
	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/identity"
	"github.com/researchspace/workbench/workbenchd/locks"
	"github.com/researchspace/workbench/workbenchd/reconcile"
	"github.com/researchspace/workbench/workbenchd/studies"
)

const (
	// userBatchLimit bounds concurrent environment lookups during
	// discovery.
	userBatchLimit = 5
	// envBatchLimit bounds concurrent environment reconciliations during
	// propagation.
	envBatchLimit = 10
	// maxImpactedEnvironments is the hard fan-out cap. Propagation runs
	// within a single request's time budget, so an update impacting more
	// environments than this is rejected before any state changes.
	maxImpactedEnvironments = 100
)

// Options configures the orchestrator.
type Options struct {
	Logger     slog.Logger
	Store      database.Store
	Locks      locks.Locker
	Reconciler *reconcile.Reconciler
	// ExtraProviders are visited after the role-policy reconciler on
	// every allocate/deallocate, in order.
	ExtraProviders []reconcile.PolicyProvider
	Auditor        audit.Auditor
	Clock          quartz.Clock
}

// Service orchestrates permission updates.
type Service struct {
	log        slog.Logger
	store      database.Store
	locks      locks.Locker
	reconciler *reconcile.Reconciler
	extra      []reconcile.PolicyProvider
	auditor    audit.Auditor
	clock      quartz.Clock
}

// New returns an orchestrator. Auditor defaults to a nop, Clock to the
// real clock.
func New(opts Options) *Service {
	if opts.Auditor == nil {
		opts.Auditor = audit.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	return &Service{
		log:        opts.Logger.Named("grants"),
		store:      opts.Store,
		locks:      opts.Locks,
		reconciler: opts.Reconciler,
		extra:      opts.ExtraProviders,
		auditor:    opts.Auditor,
		clock:      opts.Clock,
	}
}

func (s *Service) providers() []reconcile.PolicyProvider {
	return append([]reconcile.PolicyProvider{s.reconciler}, s.extra...)
}

// UpdatePermissions applies req to the study's permission records and
// reconciles every active environment mounting the study. All
// permission-changing operations for one study are serialized under the
// study lock. On partial propagation failure the returned error is a
// *PartialError and the returned record reflects the persisted state.
// The request is mutated in place when it contains wildcard removals.
func (s *Service) UpdatePermissions(ctx context.Context, subject identity.Subject, studyID string, req *studies.UpdateRequest) (studies.Permissions, error) {
	var updated studies.Permissions
	err := s.locks.Do(ctx, locks.StudyOperation(studyID), func(ctx context.Context) error {
		var err error
		updated, err = s.updatePermissionsLocked(ctx, subject, studyID, req)
		return err
	})
	return updated, err
}

func (s *Service) updatePermissionsLocked(ctx context.Context, subject identity.Subject, studyID string, req *studies.UpdateRequest) (studies.Permissions, error) {
	if err := req.Validate(); err != nil {
		return studies.Permissions{}, err
	}
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return studies.Permissions{}, xerrors.Errorf("get study %q: %w", studyID, err)
	}
	if study.Category.PermissionsImmutable() {
		return studies.Permissions{}, ImmutableCategoryError{StudyID: studyID, Category: study.Category}
	}

	delta := studies.Classify(*req)
	s.log.Debug(ctx, "classified permission update",
		slog.F("study_id", studyID),
		slog.F("allowed", delta.Allowed),
		slog.F("disallowed", delta.Disallowed),
		slog.F("changed", delta.Changed),
	)

	impacted, err := s.discoverEnvironments(ctx, studyID, req.ImpactedUsers())
	if err != nil {
		return studies.Permissions{}, err
	}
	if len(impacted) > maxImpactedEnvironments {
		return studies.Permissions{}, CapacityExceededError{Count: len(impacted), Limit: maxImpactedEnvironments}
	}

	// Deallocation references the pre-update access levels, so the
	// record is snapshotted before the durable mutation.
	prevPerms, err := s.store.GetStudyPermissions(ctx, studyID)
	if err != nil {
		return studies.Permissions{}, xerrors.Errorf("snapshot permissions for %q: %w", studyID, err)
	}

	updated, err := s.store.ApplyPermissionUpdate(ctx, studyID, req)
	if err != nil {
		return studies.Permissions{}, xerrors.Errorf("persist permission update for %q: %w", studyID, err)
	}

	// The durable state transition is done. Reconciliation is a
	// best-effort pass; per-environment failures are collected and
	// reported together, never rolled back.
	failures := s.propagate(ctx, study, prevPerms, updated, impacted)

	var resultErr error
	if len(failures) > 0 {
		resultErr = &PartialError{Failures: failures}
		s.log.Warn(ctx, "permission update partially propagated",
			slog.F("study_id", studyID),
			slog.F("impacted", len(impacted)),
			slog.F("failed", len(failures)),
		)
	}

	alog := audit.Log{
		ID:        uuid.New(),
		Time:      s.clock.Now(),
		Subject:   subject,
		Action:    audit.ActionUpdatePermissions,
		StudyID:   studyID,
		Request:   *req,
		Succeeded: resultErr == nil,
	}
	if p, ok := resultErr.(*PartialError); ok {
		alog.FailedEnvironments = p.EnvironmentIDs()
	}
	if err := s.auditor.Export(ctx, alog); err != nil {
		s.log.Error(ctx, "export audit record", slog.Error(err))
	}

	return updated.Narrowed(study.EffectiveAccessType()), resultErr
}

// discoverEnvironments lists each impacted user's active environments
// concurrently and keeps the ones mounting the study, deduplicated. An
// environment shows up once even when several impacted users own
// workspaces, since records are keyed by owner.
func (s *Service) discoverEnvironments(ctx context.Context, studyID string, uids []string) ([]envs.Environment, error) {
	var (
		mu    sync.Mutex
		found []envs.Environment
		seen  = map[string]bool{}
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(userBatchLimit)
	for _, uid := range uids {
		eg.Go(func() error {
			list, err := s.store.GetActiveEnvironmentsForUser(egCtx, uid)
			if err != nil {
				return xerrors.Errorf("list environments for user %q: %w", uid, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, env := range list {
				if !env.Status.Active() || !env.MountsStudy(studyID) || seen[env.ID] {
					continue
				}
				seen[env.ID] = true
				found = append(found, env)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// propagate reconciles every impacted environment. Failures are
// captured per environment and never abort sibling processing, so a
// plain group without context cancellation is used.
func (s *Service) propagate(ctx context.Context, study studies.Study, prevPerms, updated studies.Permissions, impacted []envs.Environment) []EnvFailure {
	var (
		mu       sync.Mutex
		failures []EnvFailure
	)
	var eg errgroup.Group
	eg.SetLimit(envBatchLimit)
	for _, env := range impacted {
		eg.Go(func() error {
			if err := s.reconcileEnvironment(ctx, study, prevPerms, updated, env.ID); err != nil {
				s.log.Warn(ctx, "environment reconciliation failed",
					slog.F("environment_id", env.ID),
					slog.F("study_id", study.ID),
					slog.Error(err),
				)
				mu.Lock()
				failures = append(failures, EnvFailure{EnvironmentID: env.ID, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].EnvironmentID < failures[j].EnvironmentID
	})
	return failures
}

// reconcileEnvironment runs the deallocate/allocate/regenerate sequence
// for one environment under its lock. The record is re-fetched before
// each phase because it may have mutated since discovery and again
// during deallocation.
func (s *Service) reconcileEnvironment(ctx context.Context, study studies.Study, prevPerms, updated studies.Permissions, envID string) error {
	return s.locks.Do(ctx, locks.EnvironmentOperation(envID), func(ctx context.Context) error {
		env, err := s.store.GetEnvironment(ctx, envID)
		if err != nil {
			return xerrors.Errorf("find environment: %w", err)
		}
		prevAccess := studies.AccessLevels(study, prevPerms, env.CreatedBy)
		for _, p := range s.providers() {
			if err := p.DeallocateEnvStudyResources(ctx, env, study, prevAccess); err != nil {
				return xerrors.Errorf("deallocate study %q: %w", study.ID, err)
			}
		}

		env, err = s.store.GetEnvironment(ctx, envID)
		if err != nil {
			return xerrors.Errorf("refetch environment: %w", err)
		}
		// Admins keep read visibility even when every explicit grant was
		// removed: AccessLevels folds the implicit admin read in.
		if studies.HasAccess(study, updated, env.CreatedBy) {
			access := studies.AccessLevels(study, updated, env.CreatedBy)
			for _, p := range s.providers() {
				if err := p.AllocateEnvStudyResources(ctx, env, study, access); err != nil {
					return xerrors.Errorf("allocate study %q: %w", study.ID, err)
				}
			}
		}

		mounts, err := s.mountedStudies(ctx, env, study, updated)
		if err != nil {
			return err
		}
		if err := s.reconciler.RegenerateRolePolicy(ctx, env, mounts, s.extra...); err != nil {
			return xerrors.Errorf("regenerate role policy: %w", err)
		}
		return nil
	})
}

// mountedStudies resolves the owner's current access to every study
// mounted on the environment. The study being updated uses the freshly
// persisted record instead of a re-read.
func (s *Service) mountedStudies(ctx context.Context, env envs.Environment, current studies.Study, currentPerms studies.Permissions) ([]reconcile.StudyAccess, error) {
	mounts := make([]reconcile.StudyAccess, 0, len(env.StudyIDs))
	for _, id := range env.StudyIDs {
		study, perms := current, currentPerms
		if id != current.ID {
			var err error
			study, err = s.store.GetStudy(ctx, id)
			if err != nil {
				return nil, xerrors.Errorf("get mounted study %q: %w", id, err)
			}
			perms, err = s.store.GetStudyPermissions(ctx, id)
			if err != nil {
				return nil, xerrors.Errorf("get permissions of mounted study %q: %w", id, err)
			}
		}
		mounts = append(mounts, reconcile.StudyAccess{
			Study:  study,
			Access: studies.AccessLevels(study, perms, env.CreatedBy),
		})
	}
	return mounts, nil
}

// GetPermissions returns the study's permission record narrowed by its
// access-type ceiling.
func (s *Service) GetPermissions(ctx context.Context, studyID string) (studies.Permissions, error) {
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return studies.Permissions{}, xerrors.Errorf("get study %q: %w", studyID, err)
	}
	perms, err := s.store.GetStudyPermissions(ctx, studyID)
	if err != nil {
		return studies.Permissions{}, xerrors.Errorf("get permissions of %q: %w", studyID, err)
	}
	return perms.Narrowed(study.EffectiveAccessType()), nil
}

// VerifyAccess returns uid's effective access to the study, or an
// UnauthorizedError when they have none.
func (s *Service) VerifyAccess(ctx context.Context, studyID, uid string) (studies.AccessLevel, error) {
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return studies.AccessLevel{}, xerrors.Errorf("get study %q: %w", studyID, err)
	}
	perms, err := s.store.GetStudyPermissions(ctx, studyID)
	if err != nil {
		return studies.AccessLevel{}, xerrors.Errorf("get permissions of %q: %w", studyID, err)
	}
	if !studies.HasAccess(study, perms, uid) {
		return studies.AccessLevel{}, UnauthorizedError{UID: uid, StudyID: studyID}
	}
	return studies.AccessLevels(study, perms, uid), nil
}

// ReconcileEnvironment re-runs the full reconciliation sequence for one
// environment and study from current state. This is the manual repair
// path after a partial propagation failure.
func (s *Service) ReconcileEnvironment(ctx context.Context, subject identity.Subject, envID, studyID string) error {
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return xerrors.Errorf("get study %q: %w", studyID, err)
	}
	perms, err := s.store.GetStudyPermissions(ctx, studyID)
	if err != nil {
		return xerrors.Errorf("get permissions of %q: %w", studyID, err)
	}
	err = s.reconcileEnvironment(ctx, study, perms, perms, envID)

	alog := audit.Log{
		ID:        uuid.New(),
		Time:      s.clock.Now(),
		Subject:   subject,
		Action:    audit.ActionReconcileEnv,
		StudyID:   studyID,
		Succeeded: err == nil,
	}
	if err != nil {
		alog.FailedEnvironments = []string{envID}
	}
	if auditErr := s.auditor.Export(ctx, alog); auditErr != nil {
		s.log.Error(ctx, "export audit record", slog.Error(auditErr))
	}
	return err
}
