// Package status exports errors produced by the runtime manager.
package status

import (
	"github.com/stratumfs/stratum/pkg/errors"
)

var (
	// ErrNotFound indicates an unknown runtime id
	ErrNotFound = errors.New("runtime not found")

	// ErrMountError indicates that no mount strategy could be used:
	// privilege or kernel support is missing for the overlay mount and
	// the lazy fallback is unavailable
	ErrMountError = errors.New("mount error")

	// ErrMountBusy indicates the mount point still has open references
	// at delete time, recoverable by retry or force
	ErrMountBusy = errors.New("mount busy")

	// ErrNoChanges indicates a commit with an empty diff; the caller
	// decides whether an empty layer is acceptable
	ErrNoChanges = errors.New("no changes to commit")

	// ErrInvalidTransition indicates an operation out of order for the
	// runtime's current state, e.g. commit before mount
	ErrInvalidTransition = errors.New("invalid runtime state transition")
)
