package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	casstatus "github.com/stratumfs/stratum/pkg/cas/status"
	"github.com/stratumfs/stratum/pkg/errors"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/repo"
	"github.com/stratumfs/stratum/pkg/runtime/status"
	"go.uber.org/zap"
)

// BlobFetcher retrieves blob content by digest. The default fetcher
// reads the local object store; a remote-backed fetcher lets the lazy
// mount strategy fault content in over the network on first access.
type BlobFetcher func(ctx context.Context, d model.Digest) ([]byte, error)

// CachingFetcher builds a fetcher that reads the local object store
// first and faults misses in through fetch, storing what arrives so
// every blob is transferred at most once. It backs lazy mounts of
// stacks that were pulled without their blob content.
func CachingFetcher(r *repo.Repository, fetch BlobFetcher) BlobFetcher {
	return func(ctx context.Context, d model.Digest) ([]byte, error) {
		data, err := r.Objects().Get(ctx, d)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, casstatus.ErrNotFound) {
			return nil, err
		}
		data, err = fetch(ctx, d)
		if err != nil {
			return nil, err
		}
		stored, err := r.Objects().Put(ctx, data)
		if err != nil {
			return nil, err
		}
		if stored != d {
			return nil, casstatus.ErrCorruptObject.WrapMessage("fetched %s, wanted %s", stored, d)
		}
		return data, nil
	}
}

// Manager drives runtime sessions against a repository.
type Manager struct {
	repo     *repo.Repository
	l        *zap.Logger
	fetcher  BlobFetcher
	strategy strategy

	mu   sync.Mutex
	live map[string]*liveMount
}

// Option configures a Manager.
type Option func(*Manager)

// Logger sets the logger used by the manager.
func Logger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.l = l
		}
	}
}

// Fetcher overrides the blob fetcher used by the lazy mount strategy.
func Fetcher(f BlobFetcher) Option {
	return func(m *Manager) {
		if f != nil {
			m.fetcher = f
		}
	}
}

// MountStrategy forces a mount strategy instead of probing the
// environment. Intended for tests.
func MountStrategy(s strategy) Option {
	return func(m *Manager) { m.strategy = s }
}

// NewManager creates a runtime manager over the given repository.
func NewManager(r *repo.Repository, opts ...Option) *Manager {
	m := &Manager{
		repo: r,
		l:    zap.NewNop(),
		live: make(map[string]*liveMount),
	}
	for _, apply := range opts {
		apply(m)
	}
	if m.fetcher == nil {
		m.fetcher = func(ctx context.Context, d model.Digest) ([]byte, error) {
			return r.Objects().Get(ctx, d)
		}
	}
	return m
}

// Create resolves the given references into an ordered layer stack
// and registers a new runtime session. Nothing is mounted yet. A
// reference to an object that is missing locally fails with
// ErrDanglingReference.
func (m *Manager) Create(ctx context.Context, refs []string) (*Runtime, error) {
	stack, roots, env, err := m.resolveStack(ctx, refs)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		ID:     newRuntimeID(),
		Stack:  stack,
		Roots:  roots,
		Env:    env,
		Status: StatusInitializing,
	}
	rt.root = filepath.Join(m.repo.RuntimesRoot(), rt.ID)
	if err := os.MkdirAll(rt.root, 0o755); err != nil {
		return nil, err
	}
	if err := rt.save(); err != nil {
		return nil, err
	}
	m.l.Info("created runtime",
		zap.String("runtime", rt.ID),
		zap.Int("layers", len(stack)))
	return rt, nil
}

// resolveStack flattens references (tags, platforms, layers) into the
// bottom-to-top layer digest list with matching manifest roots, and
// merges the environment declared by each layer in stack order.
func (m *Manager) resolveStack(ctx context.Context, refs []string) (stack, roots []model.Digest, env []string, err error) {
	seenEnv := map[string]int{}
	var appendLayer func(d model.Digest, obj model.Object) error
	appendLayer = func(d model.Digest, obj model.Object) error {
		switch typed := obj.(type) {
		case *model.Layer:
			if _, err := m.repo.Objects().ReadValidated(ctx, d, model.KindLayer); err != nil {
				return err
			}
			if _, err := m.repo.Objects().ReadManifest(ctx, typed.Root); err != nil {
				if errors.Is(err, casstatus.ErrNotFound) {
					return casstatus.ErrDanglingReference.WrapMessage("%s referenced by layer %s", typed.Root, d)
				}
				return err
			}
			stack = append(stack, d)
			roots = append(roots, typed.Root)
			for _, kv := range typed.Env {
				if i, ok := seenEnv[envKey(kv)]; ok {
					env[i] = kv
					continue
				}
				seenEnv[envKey(kv)] = len(env)
				env = append(env, kv)
			}
			return nil
		case *model.Platform:
			for _, member := range typed.Stack {
				child, err := m.repo.Objects().ReadReference(ctx, member)
				if err != nil {
					if errors.Is(err, casstatus.ErrNotFound) {
						return casstatus.ErrDanglingReference.WrapMessage("%s referenced by platform %s", member, d)
					}
					return err
				}
				if err := appendLayer(member, child); err != nil {
					return err
				}
			}
			return nil
		default:
			return casstatus.ErrCorruptObject.WrapMessage("%s is a %s, expected layer or platform", d, obj.Kind())
		}
	}
	for _, ref := range refs {
		d, obj, err := m.repo.Resolve(ctx, ref)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := appendLayer(d, obj); err != nil {
			return nil, nil, nil, err
		}
	}
	return stack, roots, env, nil
}

func envKey(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i]
		}
	}
	return kv
}

// Mount composes the runtime's stack into a live view, blocking until
// the mount point serves reads. The strategy is probed from the
// environment: the kernel overlay mount when privileges and support
// are present, the lazy FUSE view otherwise. Partial setup is unwound
// on failure.
func (m *Manager) Mount(ctx context.Context, rt *Runtime) error {
	if rt.Status != StatusInitializing {
		return status.ErrInvalidTransition.WrapMessage("%s: mount in state %s", rt.ID, rt.Status)
	}
	if err := rt.ensureDirs(); err != nil {
		return err
	}
	view, err := m.composedView(ctx, rt)
	if err != nil {
		return err
	}
	strat := m.strategy
	if strat == nil {
		strat, err = m.detectStrategy(ctx)
		if err != nil {
			return err
		}
	}
	if err := strat.mount(ctx, m, rt, view); err != nil {
		m.unwind(rt)
		return err
	}
	rt.Strategy = strat.name()
	if err := rt.transition(StatusActive); err != nil {
		_ = strat.unmount(ctx, m, rt)
		m.unwind(rt)
		return err
	}
	m.l.Info("mounted runtime",
		zap.String("runtime", rt.ID),
		zap.String("strategy", rt.Strategy),
		zap.String("path", rt.MountPath()))
	return nil
}

// composedView merges the stack's manifests bottom-to-top; the last
// layer wins on path conflicts.
func (m *Manager) composedView(ctx context.Context, rt *Runtime) (*model.Manifest, error) {
	manifests := make([]*model.Manifest, 0, len(rt.Roots))
	for _, root := range rt.Roots {
		manifest, err := m.repo.Objects().ReadManifest(ctx, root)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	return model.MergeManifests(manifests...)
}

func (m *Manager) detectStrategy(ctx context.Context) (strategy, error) {
	overlay := &overlayStrategy{}
	if err := overlay.available(); err == nil {
		return overlay, nil
	} else {
		m.l.Debug("overlay mount unavailable, falling back to lazy mount", zap.Error(err))
	}
	lazy := &lazyStrategy{}
	if err := lazy.available(); err != nil {
		return nil, status.ErrMountError.Wrap(err)
	}
	return lazy, nil
}

func (m *Manager) unwind(rt *Runtime) {
	// remove only what mount setup created; the state file stays so
	// the failure is inspectable
	_ = os.RemoveAll(rt.WorkDir())
	_ = os.RemoveAll(rt.MountPath())
	_ = os.MkdirAll(rt.MountPath(), 0o755)
}

// Edit transitions a runtime into editable mode, provisioning the
// writable upper directory. It is idempotent.
func (m *Manager) Edit(ctx context.Context, rt *Runtime) error {
	if rt.Status == StatusEditable {
		return nil
	}
	if rt.Status != StatusActive {
		return status.ErrInvalidTransition.WrapMessage("%s: edit in state %s", rt.ID, rt.Status)
	}
	if err := os.MkdirAll(rt.UpperDir(), 0o755); err != nil {
		return err
	}
	if err := m.strategyFor(rt).remountEditable(ctx, m, rt); err != nil {
		return err
	}
	return rt.transition(StatusEditable)
}

// Delete unmounts the runtime and discards its working files. A busy
// mount point fails with ErrMountBusy so the caller can retry, unless
// force is set.
func (m *Manager) Delete(ctx context.Context, rt *Runtime, force bool) error {
	if rt.Status == StatusDead {
		return nil
	}
	if rt.Status != StatusInitializing {
		if err := m.strategyFor(rt).unmount(ctx, m, rt); err != nil {
			if isBusy(err) && !force {
				return status.ErrMountBusy.WrapMessage("%s at %s", rt.ID, rt.MountPath())
			}
			if !force {
				return err
			}
			m.l.Warn("forcing runtime teardown", zap.String("runtime", rt.ID), zap.Error(err))
		}
	}
	if err := rt.transition(StatusDead); err != nil {
		return err
	}
	return os.RemoveAll(rt.root)
}

func (m *Manager) strategyFor(rt *Runtime) strategy {
	if m.strategy != nil {
		return m.strategy
	}
	switch rt.Strategy {
	case strategyLazy:
		return &lazyStrategy{}
	default:
		return &overlayStrategy{}
	}
}

// Load retrieves a runtime session by id.
func (m *Manager) Load(ctx context.Context, id string) (*Runtime, error) {
	return loadRuntime(filepath.Join(m.repo.RuntimesRoot(), id))
}

// List returns every known runtime session, sorted by id.
func (m *Manager) List(ctx context.Context) ([]*Runtime, error) {
	entries, err := os.ReadDir(m.repo.RuntimesRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var runtimes []*Runtime
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rt, err := loadRuntime(filepath.Join(m.repo.RuntimesRoot(), entry.Name()))
		if err != nil {
			m.l.Warn("skipping unreadable runtime", zap.String("runtime", entry.Name()), zap.Error(err))
			continue
		}
		runtimes = append(runtimes, rt)
	}
	sort.Slice(runtimes, func(i, j int) bool { return runtimes[i].ID < runtimes[j].ID })
	return runtimes, nil
}
