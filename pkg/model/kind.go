package model

import "fmt"

// ObjectKind discriminates the immutable object kinds stored in the
// content-addressable store.
type ObjectKind uint8

const (
	// KindBlob is opaque file content, stored as raw bytes
	KindBlob ObjectKind = iota + 1
	// KindTree is a directory listing
	KindTree
	// KindLayer is a filesystem change-set wrapping a root tree
	KindLayer
	// KindPlatform is an ordered stack of layers or nested platforms
	KindPlatform
)

func (k ObjectKind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindLayer:
		return "layer"
	case KindPlatform:
		return "platform"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// EntryKind discriminates the kinds of entries held in a tree.
type EntryKind uint8

const (
	// EntryBlob is a regular file whose content is a blob
	EntryBlob EntryKind = iota + 1
	// EntryTree is a sub-directory
	EntryTree
	// EntrySymlink is a symbolic link whose target is stored as a blob
	EntrySymlink
	// EntryMask marks a path removed by an upper layer (whiteout)
	EntryMask
)

func (k EntryKind) String() string {
	switch k {
	case EntryBlob:
		return "file"
	case EntryTree:
		return "dir"
	case EntrySymlink:
		return "symlink"
	case EntryMask:
		return "mask"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}
