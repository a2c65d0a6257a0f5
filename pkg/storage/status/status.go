// Package status exports errors produced by storage backends.
package status

import (
	"github.com/stratumfs/stratum/pkg/errors"
)

var (
	// ErrNotFound indicates the requested key is absent from the store
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey indicates a key that conflicts with the store's internal layout
	ErrInvalidKey = errors.New("invalid key")

	// ErrNetwork indicates the remote end of a store could not be reached
	ErrNetwork = errors.New("network error")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
