// Package runtime composes stacks of layers into live, mountable
// filesystem views.
//
// A runtime is an ephemeral session: created from a resolved layer
// stack, mounted through one of two interchangeable strategies (a
// privileged kernel overlay mount, or an unprivileged lazy FUSE view
// that faults content in from the object store on first access), and
// optionally made editable so that changes captured in its upper
// directory can be committed back as a new layer.
//
// State machine: initializing → active → editable → finalizing → dead.
// Active is terminal-for-use when the caller never edits.
package runtime

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/runtime/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the lifecycle state of a runtime.
type Status string

const (
	// StatusInitializing means the stack is resolved but nothing has
	// touched the filesystem yet
	StatusInitializing Status = "initializing"
	// StatusActive means the mount point serves reads
	StatusActive Status = "active"
	// StatusEditable means writes are being captured in the upper dir
	StatusEditable Status = "editable"
	// StatusFinalizing means a commit is turning the upper dir into a
	// new layer
	StatusFinalizing Status = "finalizing"
	// StatusDead means the runtime has been unmounted and discarded
	StatusDead Status = "dead"
)

const (
	stateFile  = "state.json"
	upperName  = "upper"
	workName   = "work"
	lowerName  = "lower"
	mergedName = "merged"
)

// Runtime is a live session composing a stack of layers.
type Runtime struct {
	// ID is the local identifier of this session; not content-addressed.
	ID string `json:"id"`
	// Stack is the resolved layer digest list, bottom-to-top. Later
	// layers win on path conflicts.
	Stack []model.Digest `json:"stack"`
	// Roots are the manifest root tree digests matching Stack.
	Roots []model.Digest `json:"roots"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// Strategy records which mount strategy is active ("overlay" or
	// "lazy"), empty before mount.
	Strategy string `json:"strategy,omitempty"`
	// Env is the merged environment declared by the stacked layers.
	Env []string `json:"env,omitempty"`

	root string
}

func newRuntimeID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// Root returns the directory holding this runtime's working files.
func (rt *Runtime) Root() string { return rt.root }

// UpperDir returns the writable upper directory (editable mode).
func (rt *Runtime) UpperDir() string { return filepath.Join(rt.root, upperName) }

// WorkDir returns the overlay work directory.
func (rt *Runtime) WorkDir() string { return filepath.Join(rt.root, workName) }

// LowerDir returns the always-present empty bottom layer. Overlayfs
// requires at least one lower directory even for an empty stack.
func (rt *Runtime) LowerDir() string { return filepath.Join(rt.root, lowerName) }

// MountPath returns the merged view served to the caller.
func (rt *Runtime) MountPath() string { return filepath.Join(rt.root, mergedName) }

// IsDirty reports whether the upper dir has captured any changes.
func (rt *Runtime) IsDirty() bool {
	entries, err := os.ReadDir(rt.UpperDir())
	if err != nil {
		return false
	}
	return len(entries) > 0
}

func (rt *Runtime) save() error {
	data, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	tmp := filepath.Join(rt.root, stateFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(rt.root, stateFile))
}

func loadRuntime(root string) (*Runtime, error) {
	data, err := os.ReadFile(filepath.Join(root, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.ErrNotFound.WrapMessage("%s", filepath.Base(root))
		}
		return nil, err
	}
	rt := &Runtime{root: root}
	if err := json.Unmarshal(data, rt); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) ensureDirs() error {
	for _, dir := range []string{rt.UpperDir(), rt.WorkDir(), rt.LowerDir(), rt.MountPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// transition enforces the legal state machine edges.
func (rt *Runtime) transition(to Status) error {
	legal := map[Status][]Status{
		StatusInitializing: {StatusActive, StatusDead},
		StatusActive:       {StatusEditable, StatusDead},
		StatusEditable:     {StatusFinalizing, StatusDead},
		StatusFinalizing:   {StatusEditable, StatusDead},
	}
	if rt.Status == to {
		return nil
	}
	for _, next := range legal[rt.Status] {
		if next == to {
			rt.Status = to
			return rt.save()
		}
	}
	return status.ErrInvalidTransition.WrapMessage("%s: %s -> %s", rt.ID, rt.Status, to)
}
