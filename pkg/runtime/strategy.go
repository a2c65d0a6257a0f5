package runtime

import (
	"context"

	"github.com/stratumfs/stratum/pkg/errors"
	"github.com/stratumfs/stratum/pkg/model"
	"golang.org/x/sys/unix"
)

const (
	strategyOverlay = "overlay"
	strategyLazy    = "lazy"
)

// Strategy is a mount strategy. Both implementations expose an
// observably identical file tree to callers; which one serves a
// runtime is decided by probing the environment at mount time, never
// at compile time.
type Strategy interface {
	name() string
	// available reports whether this strategy can serve mounts in the
	// current environment.
	available() error
	// mount composes the view and blocks until it serves reads.
	mount(ctx context.Context, m *Manager, rt *Runtime, view *model.Manifest) error
	// remountEditable provisions write capture into the upper dir.
	remountEditable(ctx context.Context, m *Manager, rt *Runtime) error
	// unmount tears the view down.
	unmount(ctx context.Context, m *Manager, rt *Runtime) error
}

type strategy = Strategy

func isBusy(err error) bool {
	return errors.Is(err, unix.EBUSY)
}
