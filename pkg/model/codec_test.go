package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stratumfs/stratum/pkg/model/status"
)

func testTree(t *testing.T) *Tree {
	t.Helper()
	blob := DigestBytes([]byte("hello"))
	return &Tree{Entries: []Entry{
		{Name: "bin", Kind: EntryTree, Mode: 0o755, Object: DigestBytes([]byte("subtree"))},
		{Name: "hello.txt", Kind: EntryBlob, Mode: 0o644, Size: 5, Object: blob},
		{Name: "link", Kind: EntrySymlink, Mode: 0o777, Object: DigestBytes([]byte("hello.txt"))},
	}}
}

func TestEncodeDecodeTree(t *testing.T) {
	tree := testTree(t)
	encoded, err := Encode(tree)
	require.NoError(t, err)

	decoded, err := Decode(encoded, KindTree)
	require.NoError(t, err)
	back, ok := decoded.(*Tree)
	require.True(t, ok)
	require.Len(t, back.Entries, 3)
	assert.Equal(t, tree.Entries, back.Entries)
}

func TestEncodeDecodeLayer(t *testing.T) {
	layer := &Layer{
		Root: DigestBytes([]byte("root")),
		Env:  []string{"PATH=/opt/tools/bin"},
		Annotations: map[string]string{
			"message": "initial import",
		},
	}
	encoded, err := Encode(layer)
	require.NoError(t, err)

	decoded, err := Decode(encoded, KindLayer)
	require.NoError(t, err)
	assert.Equal(t, layer, decoded)
}

func TestEncodeDecodePlatform(t *testing.T) {
	platform := &Platform{Stack: []Digest{
		DigestBytes([]byte("base")),
		DigestBytes([]byte("tools")),
	}}
	encoded, err := Encode(platform)
	require.NoError(t, err)

	decoded, err := Decode(encoded, KindPlatform)
	require.NoError(t, err)
	assert.Equal(t, platform, decoded)
}

func TestDecodeKindMismatch(t *testing.T) {
	encoded, err := Encode(testTree(t))
	require.NoError(t, err)

	_, err = Decode(encoded, KindLayer)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrCorruptObject)
}

func TestEncodingIsDeterministic(t *testing.T) {
	a := &Tree{Entries: []Entry{
		{Name: "a", Kind: EntryBlob, Mode: 0o644, Object: DigestBytes([]byte("a"))},
		{Name: "b", Kind: EntryBlob, Mode: 0o644, Object: DigestBytes([]byte("b"))},
	}}
	// same entries, different insertion order
	b := &Tree{Entries: []Entry{a.Entries[1], a.Entries[0]}}

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestDigestHexRoundTrip(t *testing.T) {
	d := DigestBytes([]byte("some content"))
	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = ParseDigest("f00")
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrBadDigest)
}

func TestTagEntryDigestCoversParent(t *testing.T) {
	target := DigestBytes([]byte("layer"))
	first := NewTagEntry("prod/base", "tester@host", target)
	second := NewTagEntry("prod/base", "tester@host", target)
	second.Time = first.Time
	firstDigest, err := first.Digest()
	require.NoError(t, err)
	second.Parent = firstDigest

	secondDigest, err := second.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, firstDigest, secondDigest)
}
