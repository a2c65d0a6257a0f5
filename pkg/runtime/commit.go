package runtime

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/runtime/status"
	"go.uber.org/zap"
)

// CommitOption tweaks a commit.
type CommitOption func(*commitOptions)

type commitOptions struct {
	tag         string
	env         []string
	annotations map[string]string
	allowEmpty  bool
}

// CommitTag also moves the named tag to the committed layer.
func CommitTag(name string) CommitOption {
	return func(o *commitOptions) { o.tag = name }
}

// CommitEnv declares environment the new layer contributes when stacked.
func CommitEnv(env []string) CommitOption {
	return func(o *commitOptions) { o.env = env }
}

// CommitAnnotations attaches free-form metadata to the new layer.
func CommitAnnotations(a map[string]string) CommitOption {
	return func(o *commitOptions) { o.annotations = a }
}

// AllowEmpty permits committing a layer with no changes.
func AllowEmpty() CommitOption {
	return func(o *commitOptions) { o.allowEmpty = true }
}

// Commit turns the changes captured in the runtime's upper dir into a
// new layer object. The layer's manifest describes only the change
// set: modified and created paths as entries, deletions as mask
// entries. An empty change set fails with ErrNoChanges unless
// AllowEmpty is given. On success the new layer is appended to the
// runtime's stack and the runtime returns to editable.
func (m *Manager) Commit(ctx context.Context, rt *Runtime, opts ...CommitOption) (model.Digest, error) {
	var o commitOptions
	for _, apply := range opts {
		apply(&o)
	}
	if rt.Status != StatusEditable {
		return model.NullDigest, status.ErrInvalidTransition.WrapMessage("%s: commit in state %s", rt.ID, rt.Status)
	}
	if err := rt.transition(StatusFinalizing); err != nil {
		return model.NullDigest, err
	}
	layerDigest, err := m.commitLocked(ctx, rt, &o)
	if err != nil {
		// the runtime stays usable after a failed or empty commit
		_ = rt.transition(StatusEditable)
		return model.NullDigest, err
	}
	return layerDigest, nil
}

func (m *Manager) commitLocked(ctx context.Context, rt *Runtime, o *commitOptions) (model.Digest, error) {
	unlock, err := m.repo.Lock(ctx, false)
	if err != nil {
		return model.NullDigest, err
	}
	defer unlock()

	manifest, err := m.scanUpper(ctx, rt.UpperDir())
	if err != nil {
		return model.NullDigest, err
	}
	if manifest.IsEmpty() && !o.allowEmpty {
		return model.NullDigest, status.ErrNoChanges.WrapMessage("%s", rt.ID)
	}
	root, err := m.repo.Objects().PutManifest(ctx, manifest)
	if err != nil {
		return model.NullDigest, err
	}
	layer := &model.Layer{Root: root, Env: o.env, Annotations: o.annotations}
	layerDigest, err := m.repo.Objects().PutObject(ctx, layer)
	if err != nil {
		return model.NullDigest, err
	}
	if o.tag != "" {
		if _, err := m.repo.Tags().Push(ctx, o.tag, layerDigest); err != nil {
			return model.NullDigest, err
		}
	}

	rt.Stack = append(rt.Stack, layerDigest)
	rt.Roots = append(rt.Roots, root)
	if err := m.refreshView(ctx, rt); err != nil {
		return model.NullDigest, err
	}
	if err := rt.transition(StatusEditable); err != nil {
		return model.NullDigest, err
	}
	m.l.Info("committed layer",
		zap.String("runtime", rt.ID),
		zap.String("layer", layerDigest.String()),
		zap.String("tag", o.tag))
	return layerDigest, nil
}

// refreshView swings a mounted view over to the extended stack before
// the upper dir is cleared, so paths whose content just moved into the
// new layer keep resolving. A live lazy mount absorbs the new view in
// place; an overlay mount is cycled so the new layer joins its lower
// stack. With no mount there is only the upper dir to reset.
func (m *Manager) refreshView(ctx context.Context, rt *Runtime) error {
	m.mu.Lock()
	lm := m.live[rt.ID]
	m.mu.Unlock()
	if lm != nil {
		view, err := m.composedView(ctx, rt)
		if err != nil {
			return err
		}
		if err := lm.fs.absorb(view); err != nil {
			return err
		}
		return clearUpper(rt)
	}
	if rt.Strategy == strategyOverlay {
		o := &overlayStrategy{}
		if err := o.unmount(ctx, m, rt); err != nil {
			return err
		}
		if err := clearUpper(rt); err != nil {
			return err
		}
		opts, err := o.mountOptions(ctx, m, rt, true)
		if err != nil {
			return err
		}
		return o.apply(ctx, rt, opts)
	}
	return clearUpper(rt)
}

func clearUpper(rt *Runtime) error {
	if err := os.RemoveAll(rt.UpperDir()); err != nil {
		return err
	}
	return os.MkdirAll(rt.UpperDir(), 0o755)
}

// scanUpper walks the upper dir and builds the change-set manifest.
// Blob content is stored as it is discovered. Overlay whiteouts (0/0
// character devices) and lazy-mount whiteout markers both become mask
// entries.
func (m *Manager) scanUpper(ctx context.Context, upper string) (*model.Manifest, error) {
	builder := model.NewManifestBuilder()
	err := filepath.Walk(upper, func(onDisk string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if onDisk == upper {
			return nil
		}
		rel, err := filepath.Rel(upper, onDisk)
		if err != nil {
			return err
		}
		entryPath := filepath.ToSlash(rel)
		name := info.Name()

		if strings.HasPrefix(name, whiteoutPrefix) {
			masked := filepath.ToSlash(filepath.Join(filepath.Dir(rel), strings.TrimPrefix(name, whiteoutPrefix)))
			builder.AddEntry(masked, model.Entry{
				Name: path.Base(masked),
				Kind: model.EntryMask,
			})
			return nil
		}
		mode := info.Mode()
		switch {
		case mode.IsDir():
			builder.AddEntry(entryPath, model.Entry{
				Name: name,
				Kind: model.EntryTree,
				Mode: uint32(mode.Perm()),
			})
			return nil
		case mode&os.ModeSymlink != 0:
			target, err := os.Readlink(onDisk)
			if err != nil {
				return err
			}
			d, err := m.repo.Objects().Put(ctx, []byte(target))
			if err != nil {
				return err
			}
			builder.AddEntry(entryPath, model.Entry{
				Name:   name,
				Kind:   model.EntrySymlink,
				Mode:   uint32(mode.Perm()),
				Size:   int64(len(target)),
				Object: d,
			})
			return nil
		case mode&os.ModeCharDevice != 0:
			// kernel overlay whiteout
			builder.AddEntry(entryPath, model.Entry{Name: name, Kind: model.EntryMask})
			return nil
		case mode.IsRegular():
			content, err := os.ReadFile(onDisk)
			if err != nil {
				return err
			}
			d, err := m.repo.Objects().Put(ctx, content)
			if err != nil {
				return err
			}
			builder.AddEntry(entryPath, model.Entry{
				Name:   name,
				Kind:   model.EntryBlob,
				Mode:   uint32(mode.Perm()),
				Size:   info.Size(),
				Object: d,
			})
			return nil
		default:
			// sockets, pipes and other transient node types are not
			// content-addressable; skip them
			m.l.Debug("skipping special file", zap.String("path", entryPath))
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return builder.Finalize()
}
