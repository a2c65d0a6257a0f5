package runtime

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/stratumfs/stratum/pkg/model"
)

// whiteoutPrefix marks deletions of lower-layer paths captured in the
// upper dir by the lazy mount, which cannot create the 0/0 character
// devices the kernel overlay uses. Commit translates these markers
// into mask entries.
const whiteoutPrefix = ".stratum-wh."

type lazyNode struct {
	id   fuseops.InodeID
	path string
	kind model.EntryKind
	mode os.FileMode
	size int64
	blob model.Digest

	// upper means content lives in the upper dir, not the object store
	upper bool
	// lower means the path exists in the composed lower view, so a
	// deletion must leave a whiteout
	lower bool

	children map[string]fuseops.InodeID
	data     []byte
}

// lazyFS exposes a composed manifest view over FUSE. Reads fault blob
// content in through the manager's fetcher; writes, once the runtime
// is editable, are captured in the upper dir with copy-up on first
// touch.
type lazyFS struct {
	fuseutil.NotImplementedFileSystem

	mgr *Manager
	rt  *Runtime

	mu       sync.Mutex
	editable bool
	nodes    map[fuseops.InodeID]*lazyNode
	next     fuseops.InodeID
}

func newLazyFS(m *Manager, rt *Runtime, view *model.Manifest) (*lazyFS, error) {
	fs := &lazyFS{
		mgr:   m,
		rt:    rt,
		nodes: make(map[fuseops.InodeID]*lazyNode),
		next:  fuseops.RootInodeID + 1,
	}
	root := &lazyNode{
		id:       fuseops.RootInodeID,
		kind:     model.EntryTree,
		mode:     0o755 | os.ModeDir,
		lower:    true,
		children: make(map[string]fuseops.InodeID),
	}
	fs.nodes[root.id] = root
	byPath := map[string]*lazyNode{"/": root}
	err := view.Walk(func(entryPath string, entry model.Entry) error {
		if entry.Kind == model.EntryMask {
			return nil
		}
		parent := byPath[path.Dir(entryPath)]
		if parent == nil {
			return nil
		}
		node := &lazyNode{
			id:    fs.next,
			path:  strings.TrimPrefix(entryPath, "/"),
			kind:  entry.Kind,
			mode:  entryMode(entry),
			size:  entry.Size,
			blob:  entry.Object,
			lower: true,
		}
		fs.next++
		if entry.Kind == model.EntryTree {
			node.children = make(map[string]fuseops.InodeID)
			byPath[entryPath] = node
		}
		fs.nodes[node.id] = node
		parent.children[entry.Name] = node.id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func entryMode(entry model.Entry) os.FileMode {
	mode := os.FileMode(entry.Mode & 0o777)
	switch entry.Kind {
	case model.EntryTree:
		mode |= os.ModeDir
	case model.EntrySymlink:
		mode |= os.ModeSymlink
	}
	return mode
}

// absorb swings copied-up nodes over to a freshly committed view so
// the upper dir can be cleared without breaking reads of their paths.
// Every copied-up path is in the new view, because the commit scan
// stored it; from here on its content faults in from the object store
// like any lower path.
func (fs *lazyFS) absorb(view *model.Manifest) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, node := range fs.nodes {
		if !node.upper {
			continue
		}
		entry, err := view.GetPath("/" + node.path)
		if err != nil {
			return err
		}
		node.upper = false
		node.lower = true
		node.data = nil
		node.blob = entry.Object
		node.size = entry.Size
	}
	return nil
}

func (fs *lazyFS) setEditable(on bool) {
	fs.mu.Lock()
	fs.editable = on
	fs.mu.Unlock()
}

func (fs *lazyFS) upperPath(p string) string {
	return filepath.Join(fs.rt.UpperDir(), filepath.FromSlash(p))
}

func (fs *lazyFS) attributes(node *lazyNode) fuseops.InodeAttributes {
	nlink := uint32(1)
	if node.kind == model.EntryTree {
		nlink = 2
	}
	now := time.Now()
	return fuseops.InodeAttributes{
		Size:  uint64(node.size),
		Nlink: nlink,
		Mode:  node.mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
	}
}

// content returns the node's file bytes, reading the upper dir for
// copied-up nodes and faulting in from the object store otherwise.
// Fetched content is cached on the node; mu must be held.
func (fs *lazyFS) content(ctx context.Context, node *lazyNode) ([]byte, error) {
	if node.upper {
		return os.ReadFile(fs.upperPath(node.path))
	}
	if node.data != nil {
		return node.data, nil
	}
	data, err := fs.mgr.fetcher(ctx, node.blob)
	if err != nil {
		return nil, err
	}
	node.data = data
	return data, nil
}

// copyUp materializes a lower file into the upper dir so it can be
// modified in place. mu must be held.
func (fs *lazyFS) copyUp(ctx context.Context, node *lazyNode) error {
	if node.upper {
		return nil
	}
	onDisk := fs.upperPath(node.path)
	if err := os.MkdirAll(filepath.Dir(onDisk), 0o755); err != nil {
		return err
	}
	data, err := fs.content(ctx, node)
	if err != nil {
		return err
	}
	if err := os.WriteFile(onDisk, data, node.mode.Perm()); err != nil {
		return err
	}
	node.upper = true
	node.data = nil
	return nil
}

func (fs *lazyFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

func (fs *lazyFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, ok := fs.nodes[op.Parent]
	if !ok || parent.children == nil {
		return fuse.ENOENT
	}
	childID, ok := parent.children[op.Name]
	if !ok {
		return fuse.ENOENT
	}
	child := fs.nodes[childID]
	op.Entry.Child = child.id
	op.Entry.Attributes = fs.attributes(child)
	op.Entry.AttributesExpiration = time.Now().Add(time.Minute)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *lazyFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	node, ok := fs.nodes[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	op.Attributes = fs.attributes(node)
	op.AttributesExpiration = time.Now().Add(time.Minute)
	return nil
}

func (fs *lazyFS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.editable {
		return syscall.EROFS
	}
	node, ok := fs.nodes[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	if node.kind == model.EntryBlob && (op.Size != nil || op.Mode != nil) {
		if err := fs.copyUp(ctx, node); err != nil {
			return err
		}
	}
	if op.Size != nil {
		if err := os.Truncate(fs.upperPath(node.path), int64(*op.Size)); err != nil {
			return err
		}
		node.size = int64(*op.Size)
	}
	if op.Mode != nil {
		if node.upper {
			if err := os.Chmod(fs.upperPath(node.path), op.Mode.Perm()); err != nil {
				return err
			}
		}
		node.mode = *op.Mode | (node.mode &^ os.ModePerm &^ 0o777)
	}
	op.Attributes = fs.attributes(node)
	op.AttributesExpiration = time.Now().Add(time.Minute)
	return nil
}

func (fs *lazyFS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *lazyFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	node, ok := fs.nodes[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	if node.kind != model.EntryTree {
		return fuse.ENOTDIR
	}
	return nil
}

func (fs *lazyFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	node, ok := fs.nodes[op.Inode]
	if !ok || node.children == nil {
		return fuse.ENOENT
	}
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)
	if op.Offset > fuseops.DirOffset(len(names)) {
		return fuse.EINVAL
	}
	for i := int(op.Offset); i < len(names); i++ {
		child := fs.nodes[node.children[names[i]]]
		dirent := fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  child.id,
			Name:   names[i],
			Type:   direntType(child.kind),
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dirent)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func direntType(kind model.EntryKind) fuseutil.DirentType {
	switch kind {
	case model.EntryTree:
		return fuseutil.DT_Directory
	case model.EntrySymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func (fs *lazyFS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *lazyFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.nodes[op.Inode]; !ok {
		return fuse.ENOENT
	}
	return nil
}

func (fs *lazyFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	node, ok := fs.nodes[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	data, err := fs.content(ctx, node)
	if err != nil {
		return err
	}
	if op.Offset >= int64(len(data)) {
		return nil
	}
	op.BytesRead = copy(op.Dst, data[op.Offset:])
	return nil
}

func (fs *lazyFS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.editable {
		return syscall.EROFS
	}
	node, ok := fs.nodes[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	if err := fs.copyUp(ctx, node); err != nil {
		return err
	}
	f, err := os.OpenFile(fs.upperPath(node.path), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt(op.Data, op.Offset); err != nil {
		return err
	}
	if end := op.Offset + int64(len(op.Data)); end > node.size {
		node.size = end
	}
	return nil
}

func (fs *lazyFS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *lazyFS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *lazyFS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *lazyFS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	node, ok := fs.nodes[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	if node.upper {
		target, err := os.Readlink(fs.upperPath(node.path))
		if err != nil {
			return err
		}
		op.Target = target
		return nil
	}
	data, err := fs.content(ctx, node)
	if err != nil {
		return err
	}
	op.Target = string(data)
	return nil
}

func (fs *lazyFS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.editable {
		return syscall.EROFS
	}
	parent, ok := fs.nodes[op.Parent]
	if !ok || parent.children == nil {
		return fuse.ENOENT
	}
	if _, exists := parent.children[op.Name]; exists {
		return fuse.EEXIST
	}
	childPath := path.Join(parent.path, op.Name)
	onDisk := fs.upperPath(childPath)
	if err := os.MkdirAll(filepath.Dir(onDisk), 0o755); err != nil {
		return err
	}
	_ = os.Remove(filepath.Join(filepath.Dir(onDisk), whiteoutPrefix+op.Name))
	f, err := os.OpenFile(onDisk, os.O_CREATE|os.O_EXCL|os.O_WRONLY, op.Mode.Perm())
	if err != nil {
		return err
	}
	_ = f.Close()
	node := &lazyNode{
		id:    fs.next,
		path:  childPath,
		kind:  model.EntryBlob,
		mode:  op.Mode,
		upper: true,
	}
	fs.next++
	fs.nodes[node.id] = node
	parent.children[op.Name] = node.id
	op.Entry.Child = node.id
	op.Entry.Attributes = fs.attributes(node)
	op.Entry.AttributesExpiration = time.Now().Add(time.Minute)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *lazyFS) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.editable {
		return syscall.EROFS
	}
	parent, ok := fs.nodes[op.Parent]
	if !ok || parent.children == nil {
		return fuse.ENOENT
	}
	if _, exists := parent.children[op.Name]; exists {
		return fuse.EEXIST
	}
	childPath := path.Join(parent.path, op.Name)
	onDisk := fs.upperPath(childPath)
	if err := os.MkdirAll(filepath.Dir(onDisk), 0o755); err != nil {
		return err
	}
	_ = os.Remove(filepath.Join(filepath.Dir(onDisk), whiteoutPrefix+op.Name))
	if err := os.Symlink(op.Target, onDisk); err != nil {
		return err
	}
	node := &lazyNode{
		id:    fs.next,
		path:  childPath,
		kind:  model.EntrySymlink,
		mode:  0o777 | os.ModeSymlink,
		size:  int64(len(op.Target)),
		upper: true,
	}
	fs.next++
	fs.nodes[node.id] = node
	parent.children[op.Name] = node.id
	op.Entry.Child = node.id
	op.Entry.Attributes = fs.attributes(node)
	op.Entry.AttributesExpiration = time.Now().Add(time.Minute)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *lazyFS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.editable {
		return syscall.EROFS
	}
	parent, ok := fs.nodes[op.Parent]
	if !ok || parent.children == nil {
		return fuse.ENOENT
	}
	if _, exists := parent.children[op.Name]; exists {
		return fuse.EEXIST
	}
	childPath := path.Join(parent.path, op.Name)
	onDisk := fs.upperPath(childPath)
	if err := os.MkdirAll(onDisk, op.Mode.Perm()); err != nil {
		return err
	}
	_ = os.Remove(filepath.Join(filepath.Dir(onDisk), whiteoutPrefix+op.Name))
	node := &lazyNode{
		id:       fs.next,
		path:     childPath,
		kind:     model.EntryTree,
		mode:     op.Mode | os.ModeDir,
		upper:    true,
		children: make(map[string]fuseops.InodeID),
	}
	fs.next++
	fs.nodes[node.id] = node
	parent.children[op.Name] = node.id
	op.Entry.Child = node.id
	op.Entry.Attributes = fs.attributes(node)
	op.Entry.AttributesExpiration = time.Now().Add(time.Minute)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *lazyFS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return fs.removeChild(op.Parent, op.Name, false)
}

func (fs *lazyFS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return fs.removeChild(op.Parent, op.Name, true)
}

func (fs *lazyFS) removeChild(parentID fuseops.InodeID, name string, wantDir bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.editable {
		return syscall.EROFS
	}
	parent, ok := fs.nodes[parentID]
	if !ok || parent.children == nil {
		return fuse.ENOENT
	}
	childID, ok := parent.children[name]
	if !ok {
		return fuse.ENOENT
	}
	child := fs.nodes[childID]
	isDir := child.kind == model.EntryTree
	if isDir != wantDir {
		if wantDir {
			return fuse.ENOTDIR
		}
		return fuse.EINVAL
	}
	if isDir && len(child.children) > 0 {
		return fuse.ENOTEMPTY
	}
	onDisk := fs.upperPath(child.path)
	if child.upper {
		if err := os.RemoveAll(onDisk); err != nil {
			return err
		}
	}
	if child.lower {
		// the path survives in the lower view; leave a whiteout so the
		// commit records the deletion
		if err := os.MkdirAll(filepath.Dir(onDisk), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(filepath.Dir(onDisk), whiteoutPrefix+name), nil, 0o644); err != nil {
			return err
		}
	}
	delete(parent.children, name)
	delete(fs.nodes, childID)
	return nil
}
