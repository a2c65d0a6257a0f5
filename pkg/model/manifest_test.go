package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobEntry(name, content string) Entry {
	data := []byte(content)
	return Entry{
		Name:   name,
		Kind:   EntryBlob,
		Mode:   0o644,
		Size:   int64(len(data)),
		Object: DigestBytes(data),
	}
}

func buildManifest(t *testing.T, files map[string]string) *Manifest {
	t.Helper()
	b := NewManifestBuilder()
	for p, content := range files {
		b.AddEntry(p, blobEntry(pathBase(p), content))
	}
	m, err := b.Finalize()
	require.NoError(t, err)
	return m
}

func pathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func walkPaths(t *testing.T, m *Manifest) map[string]Entry {
	t.Helper()
	seen := map[string]Entry{}
	err := m.Walk(func(entryPath string, entry Entry) error {
		seen[entryPath] = entry
		return nil
	})
	require.NoError(t, err)
	return seen
}

func TestBuilderCreatesParents(t *testing.T) {
	m := buildManifest(t, map[string]string{
		"bin/tools/run.sh": "#!/bin/sh",
		"etc/config":       "x=1",
	})
	seen := walkPaths(t, m)
	require.Contains(t, seen, "/bin")
	require.Contains(t, seen, "/bin/tools")
	require.Contains(t, seen, "/bin/tools/run.sh")
	require.Contains(t, seen, "/etc/config")
	assert.Equal(t, EntryTree, seen["/bin"].Kind)
	assert.Equal(t, EntryBlob, seen["/etc/config"].Kind)
}

func TestBuilderFileReplacesDirectory(t *testing.T) {
	b := NewManifestBuilder()
	b.AddEntry("data/inner/file", blobEntry("file", "old"))
	b.AddEntry("data", blobEntry("data", "now a file"))
	m, err := b.Finalize()
	require.NoError(t, err)

	seen := walkPaths(t, m)
	require.Contains(t, seen, "/data")
	assert.Equal(t, EntryBlob, seen["/data"].Kind)
	assert.NotContains(t, seen, "/data/inner")
	assert.NotContains(t, seen, "/data/inner/file")
}

func TestGetPath(t *testing.T) {
	m := buildManifest(t, map[string]string{"dir/a.txt": "aaa"})

	entry, err := m.GetPath("/dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", entry.Name)

	_, err = m.GetPath("/dir/missing")
	require.Error(t, err)
}

func TestMergeLastWins(t *testing.T) {
	lower := buildManifest(t, map[string]string{
		"shared.txt": "from lower",
		"lower.txt":  "only lower",
	})
	upper := buildManifest(t, map[string]string{
		"shared.txt": "from upper",
		"upper.txt":  "only upper",
	})

	merged, err := MergeManifests(lower, upper)
	require.NoError(t, err)
	seen := walkPaths(t, merged)
	require.Contains(t, seen, "/lower.txt")
	require.Contains(t, seen, "/upper.txt")
	assert.Equal(t, DigestBytes([]byte("from upper")), seen["/shared.txt"].Object)
}

func TestMergeMaskRemoves(t *testing.T) {
	lower := buildManifest(t, map[string]string{
		"doomed.txt": "bye",
		"kept.txt":   "hi",
	})
	b := NewManifestBuilder()
	b.AddEntry("doomed.txt", Entry{Name: "doomed.txt", Kind: EntryMask})
	upper, err := b.Finalize()
	require.NoError(t, err)

	merged, err := MergeManifests(lower, upper)
	require.NoError(t, err)
	seen := walkPaths(t, merged)
	assert.NotContains(t, seen, "/doomed.txt")
	assert.Contains(t, seen, "/kept.txt")
}

func TestMergeMaskOfAbsentPathIsIgnored(t *testing.T) {
	lower := buildManifest(t, map[string]string{"kept.txt": "hi"})
	b := NewManifestBuilder()
	b.AddEntry("never-existed", Entry{Name: "never-existed", Kind: EntryMask})
	upper, err := b.Finalize()
	require.NoError(t, err)

	merged, err := MergeManifests(lower, upper)
	require.NoError(t, err)
	seen := walkPaths(t, merged)
	assert.Contains(t, seen, "/kept.txt")
	assert.NotContains(t, seen, "/never-existed")
}

func TestMergeIdenticalContentIsStable(t *testing.T) {
	a := buildManifest(t, map[string]string{"x/y.txt": "same"})
	b := buildManifest(t, map[string]string{"x/y.txt": "same"})

	merged, err := MergeManifests(a, b)
	require.NoError(t, err)
	da, err := a.RootDigest()
	require.NoError(t, err)
	dm, err := merged.RootDigest()
	require.NoError(t, err)
	assert.Equal(t, da, dm)
}
