// Package status exports errors produced during repository sync.
package status

import (
	"github.com/stratumfs/stratum/pkg/errors"
)

var (
	// ErrTagNotFound indicates the requested tag exists on neither end
	ErrTagNotFound = errors.New("tag not found on source")

	// ErrDigestMismatch indicates the destination stored different
	// bytes than the source sent, pointing at corruption in transit
	ErrDigestMismatch = errors.New("digest mismatch after transfer")
)
