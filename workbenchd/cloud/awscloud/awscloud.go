// Package awscloud implements the cloud policy interfaces on
// aws-sdk-go-v2. Writes retry on throttling since policy reconciliation
// fans out across many roles at once.
package awscloud

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"

	"github.com/coder/retry"
	"golang.org/x/xerrors"
)

const (
	putAttempts = 4
	retryFloor  = 100 * time.Millisecond
	retryCeil   = 2 * time.Second
)

func isThrottle(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "Throttling", "ThrottlingException", "RequestLimitExceeded", "SlowDown":
		return true
	}
	return false
}

// withThrottleRetry runs op, retrying a bounded number of times when the
// provider throttles.
func withThrottleRetry(ctx context.Context, op func() error) error {
	r := retry.New(retryFloor, retryCeil)
	var err error
	for attempt := 0; attempt < putAttempts; attempt++ {
		err = op()
		if err == nil || !isThrottle(err) {
			return err
		}
		if !r.Wait(ctx) {
			return xerrors.Errorf("throttled: %w", ctx.Err())
		}
	}
	return err
}

func strPtr(s string) *string { return aws.String(s) }
