package runtime

import (
	"context"
	"log"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/runtime/status"
)

// lazyStrategy serves runtimes through an unprivileged FUSE mount
// that faults blob content in from the object store on first read.
// Nothing is rendered up front, which makes mounting O(manifest)
// instead of O(content).
type lazyStrategy struct{}

// liveMount tracks a FUSE server owned by this process. Editable
// remounts flip a flag on the live filesystem instead of cycling the
// kernel mount.
type liveMount struct {
	fs  *lazyFS
	mfs *fuse.MountedFileSystem
}

func (s *lazyStrategy) name() string { return strategyLazy }

func (s *lazyStrategy) available() error {
	if _, err := os.Stat("/dev/fuse"); err != nil {
		return status.ErrMountError.WrapMessage("/dev/fuse not available")
	}
	return nil
}

func (s *lazyStrategy) mount(ctx context.Context, m *Manager, rt *Runtime, view *model.Manifest) error {
	fs, err := newLazyFS(m, rt, view)
	if err != nil {
		return err
	}
	cfg := &fuse.MountConfig{
		FSName:      "stratum",
		VolumeName:  rt.ID,
		ErrorLogger: log.New(os.Stderr, "fuse: ", log.Flags()),
	}
	mfs, err := fuse.Mount(rt.MountPath(), fuseutil.NewFileSystemServer(fs), cfg)
	if err != nil {
		return status.ErrMountError.Wrap(err)
	}
	m.mu.Lock()
	m.live[rt.ID] = &liveMount{fs: fs, mfs: mfs}
	m.mu.Unlock()
	return nil
}

func (s *lazyStrategy) remountEditable(ctx context.Context, m *Manager, rt *Runtime) error {
	m.mu.Lock()
	lm := m.live[rt.ID]
	m.mu.Unlock()
	if lm == nil {
		return status.ErrMountError.WrapMessage("%s: lazy mount is not owned by this process", rt.ID)
	}
	lm.fs.setEditable(true)
	return nil
}

func (s *lazyStrategy) unmount(ctx context.Context, m *Manager, rt *Runtime) error {
	if err := fuse.Unmount(rt.MountPath()); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	m.mu.Lock()
	lm := m.live[rt.ID]
	delete(m.live, rt.ID)
	m.mu.Unlock()
	if lm != nil {
		// wait for in-flight ops before the caller removes dirs
		return lm.mfs.Join(ctx)
	}
	return nil
}
