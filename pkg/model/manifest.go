package model

import (
	"path"
	"sort"
	"strings"

	"github.com/stratumfs/stratum/pkg/model/status"
)

// Manifest is the in-memory expansion of a layer's tree graph: the
// root tree plus every sub-tree, keyed by digest. It is what gets
// walked, merged across layers, and rendered to disk. Individual
// trees remain the stored objects; a manifest is never stored itself.
type Manifest struct {
	root  *Tree
	trees map[Digest]*Tree
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		root:  &Tree{},
		trees: map[Digest]*Tree{},
	}
}

// ManifestFromTrees assembles a manifest from a root tree and a map
// of loaded sub-trees keyed by digest.
func ManifestFromTrees(root *Tree, trees map[Digest]*Tree) *Manifest {
	m := NewManifest()
	m.root = root
	for d, t := range trees {
		m.trees[d] = t
	}
	return m
}

// Root returns the root tree.
func (m *Manifest) Root() *Tree { return m.root }

// RootDigest computes the digest of the root tree.
func (m *Manifest) RootDigest() (Digest, error) {
	return m.root.Digest()
}

// Tree returns the sub-tree stored under the given digest.
func (m *Manifest) Tree(d Digest) (*Tree, bool) {
	t, ok := m.trees[d]
	return t, ok
}

// Trees returns every tree in this manifest, root included, in
// deterministic digest order.
func (m *Manifest) Trees() []*Tree {
	digests := make([]string, 0, len(m.trees))
	byDigest := make(map[string]*Tree, len(m.trees))
	for d, t := range m.trees {
		digests = append(digests, d.String())
		byDigest[d.String()] = t
	}
	sort.Strings(digests)
	out := make([]*Tree, 0, len(digests))
	for _, d := range digests {
		out = append(out, byDigest[d])
	}
	return out
}

// IsEmpty reports whether the manifest has no contents.
func (m *Manifest) IsEmpty() bool {
	return m.root.Len() == 0
}

// Walk visits the contents of this manifest depth-first, entries
// sorted by name at every level. Paths are absolute ("/dir/file").
func (m *Manifest) Walk(fn func(entryPath string, entry Entry) error) error {
	return m.walkTree("/", m.root, fn)
}

func (m *Manifest) walkTree(root string, tree *Tree, fn func(string, Entry) error) error {
	tree.sortEntries()
	for _, entry := range tree.Entries {
		entryPath := path.Join(root, entry.Name)
		if err := fn(entryPath, entry); err != nil {
			return err
		}
		if entry.Kind == EntryTree {
			if sub, ok := m.trees[entry.Object]; ok {
				if err := m.walkTree(entryPath, sub, fn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// GetPath returns the entry for the given file path.
func (m *Manifest) GetPath(p string) (Entry, error) {
	p = strings.TrimLeft(path.Clean(p), "/")
	if p == "" || p == "." {
		return Entry{}, status.ErrPathNotFound.WrapMessage("%q is not addressable", p)
	}
	steps := strings.Split(p, "/")
	tree := m.root
	for i, step := range steps {
		entry, ok := tree.Get(step)
		if !ok {
			return Entry{}, status.ErrPathNotFound.WrapMessage("%s", p)
		}
		if i == len(steps)-1 {
			return entry, nil
		}
		if entry.Kind != EntryTree {
			return Entry{}, status.ErrPathNotFound.WrapMessage("%s", p)
		}
		tree, ok = m.trees[entry.Object]
		if !ok {
			return Entry{}, status.ErrPathNotFound.WrapMessage("%s", p)
		}
	}
	return Entry{}, status.ErrPathNotFound.WrapMessage("%s", p)
}

// ManifestBuilder assembles a manifest from individual entries added
// by path. Intermediate directories are created on demand and tree
// digests are resolved bottom-up at Finalize time.
type ManifestBuilder struct {
	trees       map[string]*Tree
	treeEntries map[string]Entry
}

// NewManifestBuilder creates an empty builder.
func NewManifestBuilder() *ManifestBuilder {
	b := &ManifestBuilder{
		trees:       map[string]*Tree{},
		treeEntries: map[string]Entry{},
	}
	b.trees["/"] = &Tree{}
	return b
}

// AddEntry records an entry at the given absolute path, creating any
// missing parent directories with a default mode. An existing entry at
// the same path is replaced.
func (b *ManifestBuilder) AddEntry(p string, entry Entry) {
	p = "/" + strings.TrimLeft(path.Clean(p), "/")
	if entry.Kind == EntryTree {
		if _, ok := b.trees[p]; !ok {
			b.trees[p] = &Tree{}
		}
		b.treeEntries[p] = entry
	} else {
		// a file replacing a directory also removes its old subtree
		for treePath := range b.treeEntries {
			if treePath == p || strings.HasPrefix(treePath, p+"/") {
				delete(b.treeEntries, treePath)
				delete(b.trees, treePath)
			}
		}
	}
	if p == "/" {
		return
	}
	dir := path.Dir(p)
	b.makeDirs(dir)
	b.trees[dir].Upsert(entry)
}

// RemoveEntry removes the entry at the given path along with any
// sub-trees below it.
func (b *ManifestBuilder) RemoveEntry(p string) error {
	p = "/" + strings.TrimLeft(path.Clean(p), "/")
	if p == "/" {
		b.trees = map[string]*Tree{"/": {}}
		b.treeEntries = map[string]Entry{}
		return nil
	}
	dir, base := path.Split(p)
	dir = path.Clean(dir)
	parent, ok := b.trees[dir]
	if !ok || !parent.Remove(base) {
		return status.ErrPathNotFound.WrapMessage("%s", p)
	}
	for treePath := range b.treeEntries {
		if treePath == p || strings.HasPrefix(treePath, p+"/") {
			delete(b.treeEntries, treePath)
			delete(b.trees, treePath)
		}
	}
	return nil
}

func (b *ManifestBuilder) makeDirs(p string) {
	if _, ok := b.trees[p]; ok {
		return
	}
	b.AddEntry(p, Entry{
		Name:   path.Base(p),
		Kind:   EntryTree,
		Mode:   0o755,
		Object: NullDigest,
	})
}

// Finalize resolves tree digests bottom-up and produces the manifest.
func (b *ManifestBuilder) Finalize() (*Manifest, error) {
	manifest := NewManifest()
	paths := make([]string, 0, len(b.trees))
	for p := range b.trees {
		paths = append(paths, p)
	}
	// reverse lexical order guarantees children finalize before parents
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	for _, treePath := range paths {
		tree := b.trees[treePath]
		digest, err := tree.Digest()
		if err != nil {
			return nil, err
		}
		if treePath == "/" {
			manifest.root = tree
			manifest.trees[digest] = tree
			return manifest, nil
		}
		entry := b.treeEntries[treePath]
		entry.Object = digest
		entry.Name = path.Base(treePath)
		entry.Kind = EntryTree
		b.trees[path.Dir(treePath)].Upsert(entry)
		manifest.trees[digest] = tree
	}
	return nil, status.ErrPathNotFound.WrapMessage("root tree was never visited")
}

// MergeManifests layers manifests bottom-to-top into a single view.
// Later manifests win on path conflicts, and mask entries remove the
// shadowed path (recursively for directories) without appearing in
// the result themselves.
func MergeManifests(manifests ...*Manifest) (*Manifest, error) {
	result := NewManifestBuilder()
	for _, manifest := range manifests {
		err := manifest.Walk(func(entryPath string, entry Entry) error {
			if entry.Kind == EntryMask {
				// nonexistence is all that matters: the lower stack
				// may legitimately not contain the masked path
				_ = result.RemoveEntry(entryPath)
				return nil
			}
			result.AddEntry(entryPath, entry)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return result.Finalize()
}
