package cas

import (
	"context"

	"github.com/stratumfs/stratum/pkg/cas/status"
	"github.com/stratumfs/stratum/pkg/errors"
	"github.com/stratumfs/stratum/pkg/model"
	"go.uber.org/zap"
)

// ReadReference resolves a bare digest into the object it encodes,
// trying the composite kinds in composition order. Layers and
// platforms are what tags usually point at; a tree is accepted so
// that a manifest root can be inspected directly.
func (s *Store) ReadReference(ctx context.Context, d model.Digest) (model.Object, error) {
	data, err := s.Get(ctx, d)
	if err != nil {
		return nil, err
	}
	for _, kind := range []model.ObjectKind{model.KindLayer, model.KindPlatform, model.KindTree} {
		obj, err := model.Decode(data, kind)
		if err == nil {
			return obj, nil
		}
	}
	return nil, status.ErrCorruptObject.WrapMessage("%s does not decode as layer, platform or tree", d)
}

// ReadValidated reads an object of the expected kind and additionally
// verifies that every child it references resolves in this store. An
// unresolvable child yields ErrDanglingReference naming the missing
// digest; this is the common state right after a partial pull.
func (s *Store) ReadValidated(ctx context.Context, d model.Digest, kind model.ObjectKind) (model.Object, error) {
	obj, err := s.ReadObject(ctx, d, kind)
	if err != nil {
		return nil, err
	}
	for _, child := range obj.ChildObjects() {
		has, err := s.Has(ctx, child)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, status.ErrDanglingReference.WrapMessage("%s referenced by %s", child, d)
		}
	}
	return obj, nil
}

// WalkFn receives each object in a graph walk exactly once.
type WalkFn func(d model.Digest, kind model.ObjectKind, data []byte) error

// Walk traverses the object graph rooted at the given digest in
// deterministic order: platforms before their stack members, layers
// before their trees, trees before their entries. Each digest is
// visited once. Missing objects surface as ErrDanglingReference.
func (s *Store) Walk(ctx context.Context, root model.Digest, fn WalkFn) error {
	seen := map[model.Digest]bool{}
	obj, err := s.ReadReference(ctx, root)
	if err != nil {
		return err
	}
	return s.walkObject(ctx, root, obj, seen, fn)
}

func (s *Store) walkObject(ctx context.Context, d model.Digest, obj model.Object, seen map[model.Digest]bool, fn WalkFn) error {
	if seen[d] {
		return nil
	}
	seen[d] = true
	data, err := s.Get(ctx, d)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return status.ErrDanglingReference.WrapMessage("%s", d)
		}
		return err
	}
	if err := fn(d, obj.Kind(), data); err != nil {
		return err
	}
	switch typed := obj.(type) {
	case *model.Platform:
		for _, member := range typed.Stack {
			child, err := s.ReadReference(ctx, member)
			if err != nil {
				if errors.Is(err, status.ErrNotFound) {
					return status.ErrDanglingReference.WrapMessage("%s referenced by %s", member, d)
				}
				return err
			}
			if err := s.walkObject(ctx, member, child, seen, fn); err != nil {
				return err
			}
		}
	case *model.Layer:
		if typed.Root.IsNull() {
			return nil
		}
		child, err := s.ReadObject(ctx, typed.Root, model.KindTree)
		if err != nil {
			if errors.Is(err, status.ErrNotFound) {
				return status.ErrDanglingReference.WrapMessage("%s referenced by %s", typed.Root, d)
			}
			return err
		}
		return s.walkObject(ctx, typed.Root, child, seen, fn)
	case *model.Tree:
		for _, entry := range typed.Entries {
			switch entry.Kind {
			case model.EntryTree:
				child, err := s.ReadObject(ctx, entry.Object, model.KindTree)
				if err != nil {
					if errors.Is(err, status.ErrNotFound) {
						return status.ErrDanglingReference.WrapMessage("%s referenced by %s", entry.Object, d)
					}
					return err
				}
				if err := s.walkObject(ctx, entry.Object, child, seen, fn); err != nil {
					return err
				}
			case model.EntryBlob, model.EntrySymlink:
				if seen[entry.Object] {
					continue
				}
				seen[entry.Object] = true
				blob, err := s.Get(ctx, entry.Object)
				if err != nil {
					if errors.Is(err, status.ErrNotFound) {
						return status.ErrDanglingReference.WrapMessage("%s referenced by %s", entry.Object, d)
					}
					return err
				}
				if err := fn(entry.Object, model.KindBlob, blob); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Reachable computes the set of digests reachable from the given
// roots. Missing children are skipped, not failed: partially pulled
// graphs are a normal, validated state, and everything present that
// hangs off a root must still count as reachable.
func (s *Store) Reachable(ctx context.Context, roots []model.Digest) (map[model.Digest]bool, error) {
	reachable := map[model.Digest]bool{}
	toProcess := append([]model.Digest(nil), roots...)
	for len(toProcess) > 0 {
		d := toProcess[len(toProcess)-1]
		toProcess = toProcess[:len(toProcess)-1]
		if reachable[d] {
			continue
		}
		has, err := s.Has(ctx, d)
		if err != nil {
			return nil, err
		}
		if !has {
			s.l.Debug("object missing while marking", zap.String("digest", d.String()))
			continue
		}
		reachable[d] = true
		obj, err := s.ReadReference(ctx, d)
		if err != nil {
			if errors.Is(err, status.ErrCorruptObject) {
				// raw blob payloads do not decode; they have no children
				continue
			}
			return nil, err
		}
		toProcess = append(toProcess, obj.ChildObjects()...)
	}
	return reachable, nil
}
