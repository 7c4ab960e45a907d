package testutil

import (
	"context"
	"testing"
	"time"
)

// Context returns a context that is canceled when the test finishes or
// the timeout elapses, whichever comes first.
func Context(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
