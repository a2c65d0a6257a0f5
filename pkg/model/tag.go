package model

import (
	"time"
)

// TagEntry is one record in a tag's append-only history, linking a
// human name to a storage object at some point in time. Much like a
// commit, entries form a linked list through the Parent digest.
type TagEntry struct {
	Name   string    `cbor:"1,keyasint" json:"name"`
	Target Digest    `cbor:"2,keyasint" json:"target"`
	Parent Digest    `cbor:"3,keyasint" json:"parent"`
	User   string    `cbor:"4,keyasint" json:"user"`
	Time   time.Time `cbor:"5,keyasint" json:"time"`
}

// NewTagEntry creates a history entry for the given name and target.
// The parent is filled in by the registry at push time.
func NewTagEntry(name, user string, target Digest) *TagEntry {
	return &TagEntry{
		Name:   name,
		Target: target,
		Parent: NullDigest,
		User:   user,
		// microsecond precision survives the canonical encoding
		Time: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// Digest computes the identity of this history entry, used as the
// parent reference of the entry that follows it.
func (t *TagEntry) Digest() (Digest, error) {
	payload, err := encMode.Marshal(t)
	if err != nil {
		return NullDigest, err
	}
	return DigestBytes(payload), nil
}
