package database

import (
	"errors"

	"golang.org/x/xerrors"
)

// ErrNotFound is returned when a study or environment does not exist.
var ErrNotFound = xerrors.New("record not found")

// ErrConflict is returned on an optimistic-concurrency failure: the
// record's stored revision no longer matches the caller's. Callers
// re-read and retry.
var ErrConflict = xerrors.New("record revision conflict")

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is, or wraps, ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
