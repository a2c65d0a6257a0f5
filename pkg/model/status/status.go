// Package status exports errors produced by the model package.
package status

import (
	"github.com/stratumfs/stratum/pkg/errors"
)

var (
	// ErrCorruptObject indicates bytes that cannot be decoded as the
	// expected object kind, or stored bytes whose recomputed digest
	// does not match the key they were stored under. Never silently
	// repaired.
	ErrCorruptObject = errors.New("corrupt object")

	// ErrBadDigest indicates a digest of invalid size or encoding
	ErrBadDigest = errors.New("invalid digest")

	// ErrPathNotFound indicates a path that is absent from a manifest
	ErrPathNotFound = errors.New("path not found in manifest")
)
