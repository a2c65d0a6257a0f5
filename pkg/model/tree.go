package model

import (
	"sort"
)

// Entry is a single named member of a tree.
type Entry struct {
	Name   string    `cbor:"1,keyasint" json:"name"`
	Kind   EntryKind `cbor:"2,keyasint" json:"kind"`
	Mode   uint32    `cbor:"3,keyasint" json:"mode"`
	Size   int64     `cbor:"4,keyasint" json:"size"`
	Object Digest    `cbor:"5,keyasint" json:"object"`
}

// Tree is an ordered-by-name directory listing. Its digest is computed
// over the canonical encoding of the sorted entry list, so a tree can
// never reference itself: its digest cannot be known until all of its
// children's are.
type Tree struct {
	Entries []Entry `cbor:"1,keyasint" json:"entries"`
}

// Kind implements Object.
func (t *Tree) Kind() ObjectKind { return KindTree }

// ChildObjects returns the digests referenced by this tree's entries.
// Mask entries carry no object.
func (t *Tree) ChildObjects() []Digest {
	children := make([]Digest, 0, len(t.Entries))
	for _, entry := range t.Entries {
		if entry.Kind == EntryMask || entry.Object.IsNull() {
			continue
		}
		children = append(children, entry.Object)
	}
	return children
}

// Digest computes the content digest of this tree.
func (t *Tree) Digest() (Digest, error) {
	t.sortEntries()
	_, d, err := EncodedDigest(t)
	return d, err
}

// Get returns the named entry, if present.
func (t *Tree) Get(name string) (Entry, bool) {
	for _, entry := range t.Entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return Entry{}, false
}

// Upsert adds or replaces the entry with the same name, keeping the
// listing sorted.
func (t *Tree) Upsert(entry Entry) {
	for i, existing := range t.Entries {
		if existing.Name == entry.Name {
			t.Entries[i] = entry
			return
		}
	}
	t.Entries = append(t.Entries, entry)
	t.sortEntries()
}

// Remove deletes the named entry. It reports whether the entry existed.
func (t *Tree) Remove(name string) bool {
	for i, existing := range t.Entries {
		if existing.Name == name {
			t.Entries = append(t.Entries[:i], t.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (t *Tree) Len() int { return len(t.Entries) }

func (t *Tree) sortEntries() {
	sort.Slice(t.Entries, func(i, j int) bool {
		return t.Entries[i].Name < t.Entries[j].Name
	})
}
