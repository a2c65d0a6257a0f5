package runtime

import (
	"context"
	"os"
	"path/filepath"

	"github.com/stratumfs/stratum/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// renderManifest materializes a manifest as a real file tree under
// the repository's renders area, keyed by the manifest root digest.
// Renders are what the kernel overlay mount consumes as lower
// directories. Rendering is idempotent: the tree is built in a
// staging dir and published with a rename, so an existing render dir
// is always complete and reused as-is.
func (m *Manager) renderManifest(ctx context.Context, root model.Digest) (string, error) {
	target := filepath.Join(m.repo.RendersRoot(), root.String())
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	manifest, err := m.repo.Objects().ReadManifest(ctx, root)
	if err != nil {
		return "", err
	}
	staging := target + ".tmp"
	_ = os.RemoveAll(staging)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", err
	}
	err = manifest.Walk(func(entryPath string, entry model.Entry) error {
		onDisk := filepath.Join(staging, filepath.FromSlash(entryPath))
		switch entry.Kind {
		case model.EntryTree:
			return os.MkdirAll(onDisk, os.FileMode(entry.Mode)|0o700)
		case model.EntryBlob:
			content, err := m.fetcher(ctx, entry.Object)
			if err != nil {
				return err
			}
			return os.WriteFile(onDisk, content, os.FileMode(entry.Mode))
		case model.EntrySymlink:
			linkTarget, err := m.fetcher(ctx, entry.Object)
			if err != nil {
				return err
			}
			return os.Symlink(string(linkTarget), onDisk)
		case model.EntryMask:
			// overlayfs whiteout: a 0/0 character device of the same name
			return unix.Mknod(onDisk, unix.S_IFCHR|0o600, 0)
		}
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(staging)
		return "", err
	}
	if err := os.Rename(staging, target); err != nil {
		// a concurrent renderer may have won the publish race
		if _, statErr := os.Stat(target); statErr == nil {
			_ = os.RemoveAll(staging)
			return target, nil
		}
		return "", err
	}
	m.l.Debug("rendered manifest", zap.String("root", root.String()), zap.String("path", target))
	return target, nil
}
