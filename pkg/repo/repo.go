// Package repo assembles a stratum repository: an object store, a tag
// registry and a runtime state area rooted in a single directory.
//
// On-disk layout:
//
//	<root>/objects/<xx>/<rest>   content-addressed objects
//	<root>/tags/<name>.tag       append-only tag histories
//	<root>/runtimes/<id>/        runtime sessions (state + upper dirs)
//	<root>/renders/<digest>/     manifests rendered as real file trees
//	<root>/.repo.lock            coordination lock for gc vs writers
package repo

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/stratumfs/stratum/pkg/cas"
	"github.com/stratumfs/stratum/pkg/errors"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/storage/localfs"
	"github.com/stratumfs/stratum/pkg/tags"
	tagstatus "github.com/stratumfs/stratum/pkg/tags/status"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	objectsDir  = "objects"
	tagsDir     = "tags"
	runtimesDir = "runtimes"
	rendersDir  = "renders"
	lockFile    = ".repo.lock"
)

// Repository is a local stratum store rooted at a directory.
type Repository struct {
	root    string
	objects *cas.Store
	tags    *tags.Registry
	l       *zap.Logger
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	l    *zap.Logger
	user string
}

// Logger sets the logger shared by the repository's components.
func Logger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.l = l
		}
	}
}

// User sets the user recorded on tag history entries.
func User(user string) Option {
	return func(o *options) { o.user = user }
}

// New opens (creating if needed) the repository at root.
func New(root string, opts ...Option) (*Repository, error) {
	o := &options{l: zap.NewNop()}
	for _, apply := range opts {
		apply(o)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, sub := range []string{objectsDir, tagsDir, runtimesDir, rendersDir} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, err
		}
	}
	base := afero.NewOsFs()
	objectStore, err := localfs.New(afero.NewBasePathFs(base, abs))
	if err != nil {
		return nil, err
	}
	r := &Repository{
		root:    abs,
		objects: cas.New(objectStore, cas.Logger(o.l)),
		tags: tags.New(
			afero.NewBasePathFs(base, filepath.Join(abs, tagsDir)),
			tags.Logger(o.l), tags.User(o.user),
		),
		l: o.l,
	}
	return r, nil
}

// Root returns the repository root directory.
func (r *Repository) Root() string { return r.root }

// String identifies the repository in logs and sync summaries.
func (r *Repository) String() string { return "file://" + r.root }

// Objects returns the content-addressable object store.
func (r *Repository) Objects() *cas.Store { return r.objects }

// Tags returns the tag registry.
func (r *Repository) Tags() *tags.Registry { return r.tags }

// RuntimesRoot returns the directory holding runtime sessions.
func (r *Repository) RuntimesRoot() string {
	return filepath.Join(r.root, runtimesDir)
}

// RendersRoot returns the directory holding rendered manifests.
func (r *Repository) RendersRoot() string {
	return filepath.Join(r.root, rendersDir)
}

// Resolve turns a reference, either a full digest or a tag spec, into
// the digest it names plus the decoded object.
func (r *Repository) Resolve(ctx context.Context, ref string) (model.Digest, model.Object, error) {
	if d, err := model.ParseDigest(ref); err == nil {
		obj, err := r.objects.ReadReference(ctx, d)
		if err != nil {
			return model.NullDigest, nil, err
		}
		return d, obj, nil
	}
	entry, err := r.tags.Resolve(ctx, ref)
	if err != nil {
		return model.NullDigest, nil, err
	}
	obj, err := r.objects.ReadReference(ctx, entry.Target)
	if err != nil {
		return model.NullDigest, nil, err
	}
	return entry.Target, obj, nil
}

// ResolveTag resolves a tag spec without touching the object store; a
// tag is allowed to point at a digest not yet present locally.
func (r *Repository) ResolveTag(ctx context.Context, spec string) (*model.TagEntry, error) {
	return r.tags.Resolve(ctx, spec)
}

// IsTagNotFound reports whether an error from Resolve means the tag
// name is simply unknown.
func IsTagNotFound(err error) bool {
	return errors.Is(err, tagstatus.ErrNotFound)
}

// Lock acquires the repository coordination lock. Operations that put
// temporarily unreferenced objects (commit, push, pull) take it
// shared; the garbage collector takes it exclusive so it never sweeps
// under their feet. The returned release function must be called.
func (r *Repository) Lock(ctx context.Context, exclusive bool) (func(), error) {
	f, err := os.OpenFile(filepath.Join(r.root, lockFile), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// --- sync endpoint surface ---

// HasObject reports whether the object store holds the digest.
func (r *Repository) HasObject(ctx context.Context, d model.Digest) (bool, error) {
	return r.objects.Has(ctx, d)
}

// GetObject retrieves the verified bytes stored under the digest.
func (r *Repository) GetObject(ctx context.Context, d model.Digest) ([]byte, error) {
	return r.objects.Get(ctx, d)
}

// PutObjectBytes stores an encoded object under its content digest.
func (r *Repository) PutObjectBytes(ctx context.Context, data []byte) (model.Digest, error) {
	return r.objects.Put(ctx, data)
}

// TagHistory returns the full history for a tag name.
func (r *Repository) TagHistory(ctx context.Context, name string) ([]model.TagEntry, error) {
	return r.tags.History(ctx, name)
}

// PushTagRaw mirrors a prepared history entry into the registry.
// Pushing the entry that is already at the head is a no-op, so
// re-running an interrupted sync stays idempotent; anything else goes
// through the registry's compare-and-swap.
func (r *Repository) PushTagRaw(ctx context.Context, entry *model.TagEntry) error {
	entryDigest, err := entry.Digest()
	if err != nil {
		return err
	}
	if head, err := r.tags.Head(ctx, entry.Name); err == nil {
		if headDigest, err := head.Digest(); err == nil && headDigest == entryDigest {
			return nil
		}
	}
	return r.tags.PushEntry(ctx, entry)
}
