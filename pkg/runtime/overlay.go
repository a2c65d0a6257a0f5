package runtime

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/runtime/status"
	"golang.org/x/sys/unix"
)

// EnterHelper is the name of the privileged helper binary used to
// perform overlay mounts when the current process is not root.
const EnterHelper = "stratum-enter"

// TargetEnv carries the mount target path to the helper; the helper
// accepts the overlay options as its only argument.
const TargetEnv = "STRATUM_MOUNT_TARGET"

// overlayStrategy serves runtimes through a kernel overlayfs mount.
// Every layer manifest is rendered to a real directory tree first, so
// reads after mount never touch the object store.
type overlayStrategy struct{}

func (o *overlayStrategy) name() string { return strategyOverlay }

func (o *overlayStrategy) available() error {
	if _, err := os.Stat("/sys/module/overlay"); err != nil {
		return status.ErrMountError.WrapMessage("overlayfs kernel module not loaded")
	}
	if os.Geteuid() == 0 {
		return nil
	}
	if _, err := exec.LookPath(EnterHelper); err == nil {
		return nil
	}
	return status.ErrMountError.WrapMessage("not root and %s not in PATH", EnterHelper)
}

func (o *overlayStrategy) mount(ctx context.Context, m *Manager, rt *Runtime, _ *model.Manifest) error {
	opts, err := o.mountOptions(ctx, m, rt, false)
	if err != nil {
		return err
	}
	return o.apply(ctx, rt, opts)
}

func (o *overlayStrategy) remountEditable(ctx context.Context, m *Manager, rt *Runtime) error {
	// overlayfs cannot grow an upper dir on a live mount; tear down and
	// remount with write capture enabled
	if err := o.unmount(ctx, m, rt); err != nil {
		return err
	}
	opts, err := o.mountOptions(ctx, m, rt, true)
	if err != nil {
		return err
	}
	return o.apply(ctx, rt, opts)
}

func (o *overlayStrategy) unmount(ctx context.Context, m *Manager, rt *Runtime) error {
	if os.Geteuid() == 0 {
		err := unix.Unmount(rt.MountPath(), 0)
		if err == unix.EINVAL || err == unix.ENOENT {
			// not mounted
			return nil
		}
		return err
	}
	cmd := exec.CommandContext(ctx, EnterHelper, "-u")
	cmd.Env = append(os.Environ(), TargetEnv+"="+rt.MountPath())
	if out, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(out), "busy") {
			return unix.EBUSY
		}
		return status.ErrMountError.WrapMessage("%s -u: %v: %s", EnterHelper, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// mountOptions renders each layer and assembles the overlay option
// string. Overlayfs treats the leftmost lowerdir as topmost, so the
// stack is reversed; the runtime's empty lower dir anchors the bottom
// because overlayfs refuses a mount without one.
func (o *overlayStrategy) mountOptions(ctx context.Context, m *Manager, rt *Runtime, editable bool) (string, error) {
	lowers := make([]string, 0, len(rt.Roots)+1)
	for i := len(rt.Roots) - 1; i >= 0; i-- {
		rendered, err := m.renderManifest(ctx, rt.Roots[i])
		if err != nil {
			return "", err
		}
		lowers = append(lowers, rendered)
	}
	lowers = append(lowers, rt.LowerDir())
	opts := "lowerdir=" + strings.Join(lowers, ":")
	if editable {
		opts += ",upperdir=" + rt.UpperDir() + ",workdir=" + rt.WorkDir()
	}
	return opts, nil
}

func (o *overlayStrategy) apply(ctx context.Context, rt *Runtime, opts string) error {
	if os.Geteuid() == 0 {
		if err := unix.Mount("overlay", rt.MountPath(), "overlay", 0, opts); err != nil {
			return status.ErrMountError.Wrap(err)
		}
		return nil
	}
	cmd := exec.CommandContext(ctx, EnterHelper, opts)
	cmd.Env = append(os.Environ(), TargetEnv+"="+rt.MountPath())
	if out, err := cmd.CombinedOutput(); err != nil {
		return status.ErrMountError.WrapMessage("%s: %v: %s", EnterHelper, err, strings.TrimSpace(string(out)))
	}
	return nil
}
