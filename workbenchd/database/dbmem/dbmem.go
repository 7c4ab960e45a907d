// Package dbmem implements an in-memory database.Store. It backs unit
// tests and the CLI's dry-run mode; data does not survive the process.
package dbmem

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/workbenchd/database"
	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/studies"
)

type store struct {
	mu sync.Mutex

	studies          map[string]studies.Study
	studyPermissions map[string]studies.Permissions
	userPermissions  map[string]studies.UserPermissions
	environments     map[string]envs.Environment
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		inner: store{
			studies:          map[string]studies.Study{},
			studyPermissions: map[string]studies.Permissions{},
			userPermissions:  map[string]studies.UserPermissions{},
			environments:     map[string]envs.Environment{},
		},
	}
}

// Store is the in-memory database.Store implementation. All reads return
// deep copies so callers cannot alias stored state.
type Store struct {
	inner store
}

var _ database.Store = (*Store)(nil)

// InsertStudy seeds a study. The revision starts at zero when unset.
func (s *Store) InsertStudy(study studies.Study) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	s.inner.studies[study.ID] = study
}

// InsertEnvironment seeds an environment.
func (s *Store) InsertEnvironment(env envs.Environment) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	s.inner.environments[env.ID] = env.Clone()
}

// SeedStudyPermissions seeds a permission record without the dual-write
// bookkeeping. Intended for test setup only.
func (s *Store) SeedStudyPermissions(perms studies.Permissions) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	s.inner.studyPermissions[perms.StudyID] = perms.Clone()
}

func (s *Store) GetStudy(_ context.Context, id string) (studies.Study, error) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	study, ok := s.inner.studies[id]
	if !ok {
		return studies.Study{}, xerrors.Errorf("study %q: %w", id, database.ErrNotFound)
	}
	return study, nil
}

func (s *Store) UpdateStudy(_ context.Context, study studies.Study) (studies.Study, error) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	current, ok := s.inner.studies[study.ID]
	if !ok {
		return studies.Study{}, xerrors.Errorf("study %q: %w", study.ID, database.ErrNotFound)
	}
	if current.Rev != study.Rev {
		return studies.Study{}, xerrors.Errorf("study %q rev %d != %d: %w",
			study.ID, study.Rev, current.Rev, database.ErrConflict)
	}
	study.Rev++
	s.inner.studies[study.ID] = study
	return study, nil
}

func (s *Store) GetStudyPermissions(_ context.Context, studyID string) (studies.Permissions, error) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	perms, ok := s.inner.studyPermissions[studyID]
	if !ok {
		return studies.Permissions{StudyID: studyID}, nil
	}
	return perms.Clone(), nil
}

func (s *Store) GetUserPermissions(_ context.Context, uid string) (studies.UserPermissions, error) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	user, ok := s.inner.userPermissions[uid]
	if !ok {
		return studies.UserPermissions{UID: uid}, nil
	}
	return user.Clone(), nil
}

func (s *Store) ApplyPermissionUpdate(_ context.Context, studyID string, req *studies.UpdateRequest) (studies.Permissions, error) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()

	perms, ok := s.inner.studyPermissions[studyID]
	if !ok {
		perms = studies.Permissions{StudyID: studyID}
	}
	studies.ApplyUpdateRequest(&perms, req)
	s.inner.studyPermissions[studyID] = perms

	for _, uid := range req.ImpactedUsers() {
		user, ok := s.inner.userPermissions[uid]
		if !ok {
			user = studies.UserPermissions{UID: uid}
		}
		studies.ApplyUserUpdate(&user, studyID, *req)
		s.inner.userPermissions[uid] = user
	}
	return perms.Clone(), nil
}

func (s *Store) GetEnvironment(_ context.Context, id string) (envs.Environment, error) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	env, ok := s.inner.environments[id]
	if !ok {
		return envs.Environment{}, xerrors.Errorf("environment %q: %w", id, database.ErrNotFound)
	}
	return env.Clone(), nil
}

func (s *Store) GetActiveEnvironmentsForUser(_ context.Context, uid string) ([]envs.Environment, error) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	var out []envs.Environment
	for _, env := range s.inner.environments {
		if env.CreatedBy != uid || !env.Status.Active() {
			continue
		}
		out = append(out, env.Clone())
	}
	return out, nil
}
