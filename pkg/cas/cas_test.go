package cas

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stratumfs/stratum/pkg/cas/status"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/storage/localfs"
)

func setupStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return New(localfs.MustNew(fs)), fs
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	content := []byte("the quick brown fox")
	d, err := s.Put(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, model.DigestBytes(content), d)

	back, err := s.Get(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, content, back)

	has, err := s.Has(ctx, d)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPutIsIdempotent(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	content := []byte("stored twice")
	first, err := s.Put(ctx, content)
	require.NoError(t, err)
	second, err := s.Put(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestSizeStatsWithoutReading(t *testing.T) {
	s, fs := setupStore(t)
	ctx := context.Background()

	content := []byte("measured, never read")
	d, err := s.Put(ctx, content)
	require.NoError(t, err)

	n, err := s.Size(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)

	// size comes from metadata: corrupted bytes still report their
	// stored length where Get would refuse them
	hex := d.String()
	key := "objects/" + hex[:2] + "/" + hex[2:]
	require.NoError(t, afero.WriteFile(fs, key, []byte("xx"), 0o600))
	n, err = s.Size(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Size(ctx, model.DigestBytes([]byte("never stored")))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestGetMissing(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Get(context.Background(), model.DigestBytes([]byte("never stored")))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestGetDetectsCorruption(t *testing.T) {
	s, fs := setupStore(t)
	ctx := context.Background()

	d, err := s.Put(ctx, []byte("pristine"))
	require.NoError(t, err)

	// flip the stored bytes behind the store's back
	hex := d.String()
	key := "objects/" + hex[:2] + "/" + hex[2:]
	require.NoError(t, afero.WriteFile(fs, key, []byte("tampered"), 0o600))

	_, err = s.Get(ctx, d)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrCorruptObject)
}

func TestPutObjectReadObject(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	layer := &model.Layer{Root: model.DigestBytes([]byte("root"))}
	d, err := s.PutObject(ctx, layer)
	require.NoError(t, err)

	back, err := s.ReadObject(ctx, d, model.KindLayer)
	require.NoError(t, err)
	assert.Equal(t, layer, back)

	_, err = s.ReadObject(ctx, d, model.KindPlatform)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrCorruptObject)
}

func storeManifest(t *testing.T, s *Store, files map[string]string) model.Digest {
	t.Helper()
	ctx := context.Background()
	b := model.NewManifestBuilder()
	for p, content := range files {
		data := []byte(content)
		d, err := s.Put(ctx, data)
		require.NoError(t, err)
		b.AddEntry(p, model.Entry{
			Name:   p[bytes.LastIndexByte([]byte(p), '/')+1:],
			Kind:   model.EntryBlob,
			Mode:   0o644,
			Size:   int64(len(data)),
			Object: d,
		})
	}
	manifest, err := b.Finalize()
	require.NoError(t, err)
	root, err := s.PutManifest(ctx, manifest)
	require.NoError(t, err)
	return root
}

func TestManifestRoundTrip(t *testing.T) {
	s, _ := setupStore(t)
	root := storeManifest(t, s, map[string]string{
		"bin/run.sh": "#!/bin/sh",
		"etc/conf":   "x=1",
	})

	manifest, err := s.ReadManifest(context.Background(), root)
	require.NoError(t, err)

	entry, err := manifest.GetPath("/bin/run.sh")
	require.NoError(t, err)
	assert.Equal(t, model.DigestBytes([]byte("#!/bin/sh")), entry.Object)

	back, err := manifest.RootDigest()
	require.NoError(t, err)
	assert.Equal(t, root, back)
}

func TestWalkVisitsGraphOnce(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	root := storeManifest(t, s, map[string]string{"a/b.txt": "b", "a/c.txt": "c"})
	layer := &model.Layer{Root: root}
	layerDigest, err := s.PutObject(ctx, layer)
	require.NoError(t, err)
	platformDigest, err := s.PutObject(ctx, &model.Platform{Stack: []model.Digest{layerDigest}})
	require.NoError(t, err)

	visits := map[model.Digest]int{}
	err = s.Walk(ctx, platformDigest, func(d model.Digest, kind model.ObjectKind, data []byte) error {
		visits[d]++
		return nil
	})
	require.NoError(t, err)
	for d, n := range visits {
		assert.Equalf(t, 1, n, "object %s visited %d times", d, n)
	}
	assert.Contains(t, visits, layerDigest)
	assert.Contains(t, visits, root)
}

func TestReadValidatedFlagsDanglingChildren(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	layer := &model.Layer{Root: model.DigestBytes([]byte("missing tree"))}
	d, err := s.PutObject(ctx, layer)
	require.NoError(t, err)

	_, err = s.ReadValidated(ctx, d, model.KindLayer)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrDanglingReference)
}

func TestReachableToleratesMissingChildren(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	root := storeManifest(t, s, map[string]string{"f.txt": "content"})
	layerDigest, err := s.PutObject(ctx, &model.Layer{Root: root})
	require.NoError(t, err)

	// a layer whose manifest was never stored must not wedge the mark
	danglingLayer, err := s.PutObject(ctx, &model.Layer{Root: model.DigestBytes([]byte("gone"))})
	require.NoError(t, err)

	reachable, err := s.Reachable(ctx, []model.Digest{layerDigest, danglingLayer})
	require.NoError(t, err)
	assert.True(t, reachable[layerDigest])
	assert.True(t, reachable[root])
	assert.True(t, reachable[model.DigestBytes([]byte("content"))])
	assert.True(t, reachable[danglingLayer])
	assert.False(t, reachable[model.DigestBytes([]byte("gone"))])
}
