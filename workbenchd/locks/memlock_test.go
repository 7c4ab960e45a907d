package locks_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/researchspace/workbench/testutil"
	"github.com/researchspace/workbench/workbenchd/locks"
)

func TestMemSerializesSameName(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	locker := locks.NewMem()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.Do(ctx, locks.StudyOperation("study-a"), func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestMemReleasesOnError(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	locker := locks.NewMem()

	err := locker.Do(ctx, "name", func(context.Context) error {
		return xerrors.New("boom")
	})
	require.Error(t, err)

	// The lock must be free again.
	err = locker.Do(ctx, "name", func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestMemRespectsContext(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)
	locker := locks.NewMem()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.Do(ctx, "name", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := locker.Do(canceled, "name", func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestLockNames(t *testing.T) {
	t.Parallel()
	require.Equal(t, "study-s1-operation", locks.StudyOperation("s1"))
	require.Equal(t, "environment-e1-operation", locks.EnvironmentOperation("e1"))
	require.Equal(t, "bucket-policy-b1", locks.BucketPolicy("b1"))
	require.Equal(t, "key-policy-k1", locks.KeyPolicy("k1"))
}
