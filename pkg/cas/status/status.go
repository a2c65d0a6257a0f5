// Package status exports errors produced by the cas package.
package status

import (
	"github.com/stratumfs/stratum/pkg/errors"
	modelstatus "github.com/stratumfs/stratum/pkg/model/status"
)

var (
	// ErrNotFound indicates an object absent from the store,
	// recoverable by the caller fetching or creating it
	ErrNotFound = errors.New("object not found")

	// ErrCorruptObject indicates a hash mismatch on read, fatal for
	// that object and never silently repaired
	ErrCorruptObject = modelstatus.ErrCorruptObject

	// ErrDanglingReference indicates the graph references an object
	// that is not locally present, recoverable via pull
	ErrDanglingReference = errors.New("dangling reference")
)
