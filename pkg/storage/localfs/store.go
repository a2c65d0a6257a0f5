// Package localfs implements a filesystem-backed storage.Store.
//
// All writes are staged under a hidden directory inside the store root
// and published with a rename, so concurrent readers never observe a
// partially written value under a valid-looking key. On filesystems
// where rename is atomic this makes Put safe against both crashes and
// concurrent writers of the same key.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/stratumfs/stratum/pkg/storage"
	"github.com/stratumfs/stratum/pkg/storage/status"
	"github.com/spf13/afero"
)

// stage area key prefix, reserved inside the store root
const putStageName = ".put-stage"

// New creates a local file system backed store rooted at the given
// afero filesystem. A nil fs defaults to the current directory.
func New(fs afero.Fs) (storage.Store, error) {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), ".")
	}
	if err := fs.MkdirAll(putStageName, 0700); err != nil {
		return nil, fmt.Errorf("ensuring put staging directory %q: %v", putStageName, err)
	}
	return &localFS{fs: fs}, nil
}

// MustNew is New, panicking on error. Intended for tests and wiring
// code where the root is known to be writable.
func MustNew(fs afero.Fs) storage.Store {
	s, err := New(fs)
	if err != nil {
		panic(err)
	}
	return s
}

type localFS struct {
	fs afero.Fs
}

func maybeInvalidKey(key string) error {
	const sep = string(os.PathSeparator)
	components := strings.Split(strings.TrimLeft(key, sep), sep)
	if len(components) == 0 {
		return nil
	}
	if components[0] == putStageName {
		return status.ErrInvalidKey.WrapMessage("key %q conflicts with staging area %q", key, putStageName)
	}
	return nil
}

func (l *localFS) Has(ctx context.Context, key string) (bool, error) {
	if err := maybeInvalidKey(key); err != nil {
		return false, err
	}
	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !fi.IsDir(), nil
}

// Size reports a value's length from file metadata alone.
func (l *localFS) Size(ctx context.Context, key string) (int64, error) {
	if err := maybeInvalidKey(key); err != nil {
		return 0, err
	}
	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, status.ErrNotFound.WrapMessage("key %q in %s", key, l)
		}
		return 0, err
	}
	if fi.IsDir() {
		return 0, status.ErrNotFound.WrapMessage("key %q in %s", key, l)
	}
	return fi.Size(), nil
}

func (l *localFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	has, err := l.Has(ctx, key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, status.ErrNotFound.WrapMessage("key %q in %s", key, l)
	}
	return l.fs.Open(key)
}

// Put stages the value then renames it into place under the key.
// Storing the same key twice is allowed: the last rename wins.
func (l *localFS) Put(ctx context.Context, key string, source io.Reader) error {
	if err := maybeInvalidKey(key); err != nil {
		return err
	}
	stageKey := filepath.Join(putStageName, strings.ReplaceAll(key, string(os.PathSeparator), "_"))
	if err := l.write(stageKey, source); err != nil {
		return err
	}
	// Rename does not create intermediate directories
	if dir := filepath.Dir(key); dir != "" {
		if err := l.fs.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("ensuring directories for %q: %v", key, err)
		}
	}
	return l.fs.Rename(stageKey, key)
}

func (l *localFS) write(key string, source io.Reader) error {
	target, err := l.fs.OpenFile(key, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0600)
	if err != nil {
		return fmt.Errorf("create record for %q: %v", key, err)
	}
	if _, err = storage.PipeIO(target, source); err != nil {
		_ = target.Close()
		return fmt.Errorf("write record for %q: %v", key, err)
	}
	return target.Close()
}

func (l *localFS) Delete(ctx context.Context, key string) error {
	if err := maybeInvalidKey(key); err != nil {
		return err
	}
	if err := l.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %v", key, err)
	}
	return nil
}

func (l *localFS) Keys(ctx context.Context) ([]string, error) {
	const root = "."
	var res []string
	e := afero.Walk(l.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if info.IsDir() {
			if filepath.Base(path) == putStageName {
				return filepath.SkipDir
			}
			return nil
		}
		res = append(res, path)
		return nil
	})
	if e != nil {
		return nil, e
	}
	return res, nil
}

func (l *localFS) String() string {
	const localfs = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfs
		}
		return localfs + "@" + pp
	default:
		return localfs
	}
}
