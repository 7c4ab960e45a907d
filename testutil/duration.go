package testutil

import "time"

// Constants for timing out operations in tests. Pick the smallest one
// that comfortably covers the operation under test.
const (
	WaitShort    = 10 * time.Second
	WaitMedium   = 15 * time.Second
	WaitLong     = 25 * time.Second
	IntervalFast = 25 * time.Millisecond
	IntervalSlow = time.Second
)
