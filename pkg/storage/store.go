// Package storage declares the key/value store contract backing the
// object store, the tag registry and the runtime state area.
//
// Typically this is something file system-like: a local directory, an
// in-memory filesystem during tests, or a remote store speaking the
// same contract over HTTP. Implementations are assumed to be simple:
// higher level semantics such as content addressing, atomic publication
// under a digest key, or compare-and-swap tag updates are layered on
// top by their owning packages.
package storage

import (
	"context"
	"io"
	"io/ioutil"

	"github.com/stratumfs/stratum/pkg/storage/status"
)

// Store implementations know how to read and write entries in a
// key/value model.
type Store interface {
	String() string
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, source io.Reader) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Sizer is an optional Store extension reporting a value's length
// from metadata, without reading the value.
type Sizer interface {
	Size(ctx context.Context, key string) (int64, error)
}

// SizeOf returns the length of the value under a key, statting when
// the store supports it and falling back to a full read.
func SizeOf(ctx context.Context, store Store, key string) (int64, error) {
	if sizer, ok := store.(Sizer); ok {
		return sizer.Size(ctx, key)
	}
	b, err := ReadAll(ctx, store, key)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// ReadAll retrieves a key and reads it fully into memory.
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	rdr, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	b, err := ioutil.ReadAll(rdr)
	if err != nil {
		_ = rdr.Close()
		return nil, err
	}
	if err = rdr.Close(); err != nil {
		return nil, err
	}
	return b, nil
}

// PipeIO copies all content from a reader to a writer.
func PipeIO(writer io.Writer, reader io.Reader) (n int64, err error) {
	return io.Copy(writer, reader)
}

// IsNotFound reports whether an error from a store is a missing-key error.
func IsNotFound(err error) bool {
	return status.Is(err, status.ErrNotFound)
}
