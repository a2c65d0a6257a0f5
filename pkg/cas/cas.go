// Package cas implements the content-addressable object store.
//
// Every object is stored under a key derived from the digest of its
// bytes, sharded by digest prefix to bound directory sizes. Objects
// are immutable once written: puts are idempotent, reads re-hash the
// retrieved bytes and refuse to return content that does not match
// the key it was stored under.
package cas

import (
	"bytes"
	"context"

	"github.com/stratumfs/stratum/pkg/cas/status"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/storage"
	"go.uber.org/zap"
)

const objectPrefix = "objects"

// Store is a content-addressable object store over a storage backend.
type Store struct {
	backend storage.Store
	l       *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// Logger sets the logger used by the store.
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// New creates an object store over the given backend.
func New(backend storage.Store, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

func objectKey(d model.Digest) string {
	hex := d.String()
	return objectPrefix + "/" + hex[:2] + "/" + hex[2:]
}

func digestFromKey(key string) (model.Digest, bool) {
	// objects/<2 hex chars>/<62 hex chars>
	if len(key) != len(objectPrefix)+1+model.DigestSizeHex+1 ||
		key[:len(objectPrefix)+1] != objectPrefix+"/" {
		return model.NullDigest, false
	}
	d, err := model.ParseDigest(key[len(objectPrefix)+1:len(objectPrefix)+3] + key[len(objectPrefix)+4:])
	return d, err == nil
}

// Has reports whether the store holds the given digest.
func (s *Store) Has(ctx context.Context, d model.Digest) (bool, error) {
	return s.backend.Has(ctx, objectKey(d))
}

// Put stores a byte encoding under its content digest. Storing
// already-present content is a no-op returning the existing digest:
// content is identical by definition of content-addressing, so the
// last concurrent writer's atomic publish winning is harmless.
func (s *Store) Put(ctx context.Context, data []byte) (model.Digest, error) {
	d := model.DigestBytes(data)
	has, err := s.Has(ctx, d)
	if err != nil {
		return model.NullDigest, err
	}
	if has {
		return d, nil
	}
	if err := s.backend.Put(ctx, objectKey(d), bytes.NewReader(data)); err != nil {
		return model.NullDigest, err
	}
	s.l.Debug("stored object", zap.String("digest", d.String()), zap.Int("bytes", len(data)))
	return d, nil
}

// Get retrieves the bytes stored under a digest, re-hashing them to
// protect against on-disk corruption.
func (s *Store) Get(ctx context.Context, d model.Digest) ([]byte, error) {
	data, err := storage.ReadAll(ctx, s.backend, objectKey(d))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, status.ErrNotFound.WrapMessage("%s", d)
		}
		return nil, err
	}
	if recomputed := model.DigestBytes(data); recomputed != d {
		return nil, status.ErrCorruptObject.WrapMessage("stored under %s but hashes to %s", d, recomputed)
	}
	return data, nil
}

// Size reports the stored length of an object without reading or
// re-hashing its content.
func (s *Store) Size(ctx context.Context, d model.Digest) (int64, error) {
	n, err := storage.SizeOf(ctx, s.backend, objectKey(d))
	if err != nil {
		if storage.IsNotFound(err) {
			return 0, status.ErrNotFound.WrapMessage("%s", d)
		}
		return 0, err
	}
	return n, nil
}

// Delete removes an object. Used by the garbage collector only.
func (s *Store) Delete(ctx context.Context, d model.Digest) error {
	return s.backend.Delete(ctx, objectKey(d))
}

// Keys enumerates every digest currently stored.
func (s *Store) Keys(ctx context.Context) ([]model.Digest, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}
	digests := make([]model.Digest, 0, len(keys))
	for _, key := range keys {
		if d, ok := digestFromKey(key); ok {
			digests = append(digests, d)
		}
	}
	return digests, nil
}

// PutObject encodes and stores a tree, layer or platform.
func (s *Store) PutObject(ctx context.Context, obj model.Object) (model.Digest, error) {
	encoded, err := model.Encode(obj)
	if err != nil {
		return model.NullDigest, err
	}
	return s.Put(ctx, encoded)
}

// ReadObject retrieves and decodes an object of the expected kind.
func (s *Store) ReadObject(ctx context.Context, d model.Digest, kind model.ObjectKind) (model.Object, error) {
	data, err := s.Get(ctx, d)
	if err != nil {
		return nil, err
	}
	return model.Decode(data, kind)
}

// PutManifest stores every tree of a manifest and returns the root
// tree digest.
func (s *Store) PutManifest(ctx context.Context, manifest *model.Manifest) (model.Digest, error) {
	for _, tree := range manifest.Trees() {
		if _, err := s.PutObject(ctx, tree); err != nil {
			return model.NullDigest, err
		}
	}
	return manifest.RootDigest()
}

// ReadManifest reconstructs a manifest from its root tree digest,
// loading every referenced sub-tree.
func (s *Store) ReadManifest(ctx context.Context, root model.Digest) (*model.Manifest, error) {
	manifest := model.NewManifest()
	loaded := map[model.Digest]*model.Tree{}
	var load func(d model.Digest) (*model.Tree, error)
	load = func(d model.Digest) (*model.Tree, error) {
		if t, ok := loaded[d]; ok {
			return t, nil
		}
		obj, err := s.ReadObject(ctx, d, model.KindTree)
		if err != nil {
			return nil, err
		}
		tree := obj.(*model.Tree)
		loaded[d] = tree
		for _, entry := range tree.Entries {
			if entry.Kind == model.EntryTree {
				if _, err := load(entry.Object); err != nil {
					return nil, err
				}
			}
		}
		return tree, nil
	}
	rootTree, err := load(root)
	if err != nil {
		return nil, err
	}
	*manifest = *model.ManifestFromTrees(rootTree, loaded)
	return manifest, nil
}
