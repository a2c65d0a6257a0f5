// Package status exports errors produced by the tag registry.
package status

import (
	"github.com/stratumfs/stratum/pkg/errors"
)

var (
	// ErrNotFound indicates an unknown tag name or version
	ErrNotFound = errors.New("tag not found")

	// ErrTagConflict indicates a lost compare-and-swap race on a tag
	// head, recoverable by retrying against the fresh head
	ErrTagConflict = errors.New("tag conflict")

	// ErrAmbiguousTag indicates a version qualifier matching several
	// history entries without a unique winner
	ErrAmbiguousTag = errors.New("ambiguous tag version")

	// ErrLockTimeout indicates the per-tag lock could not be acquired
	ErrLockTimeout = errors.New("tag lock timeout")
)
