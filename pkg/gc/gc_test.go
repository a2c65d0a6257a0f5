package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/repo"
	"github.com/stratumfs/stratum/pkg/runtime"
)

func newTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.New(t.TempDir())
	require.NoError(t, err)
	return r
}

func storeLayer(t *testing.T, r *repo.Repository, files map[string]string) model.Digest {
	t.Helper()
	ctx := context.Background()
	b := model.NewManifestBuilder()
	for p, content := range files {
		data := []byte(content)
		d, err := r.Objects().Put(ctx, data)
		require.NoError(t, err)
		b.AddEntry(p, model.Entry{
			Name:   p,
			Kind:   model.EntryBlob,
			Mode:   0o644,
			Size:   int64(len(data)),
			Object: d,
		})
	}
	manifest, err := b.Finalize()
	require.NoError(t, err)
	root, err := r.Objects().PutManifest(ctx, manifest)
	require.NoError(t, err)
	layerDigest, err := r.Objects().PutObject(ctx, &model.Layer{Root: root})
	require.NoError(t, err)
	return layerDigest
}

func TestCleanSweepsOrphans(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	layerDigest := storeLayer(t, r, map[string]string{"kept.txt": "kept"})
	_, err := r.Tags().Push(ctx, "env", layerDigest)
	require.NoError(t, err)

	orphan := []byte("nothing points here")
	orphanDigest, err := r.Objects().Put(ctx, orphan)
	require.NoError(t, err)

	report, err := New(r).Clean(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 3, report.Reachable)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, int64(len(orphan)), report.Reclaimed)

	has, err := r.Objects().Has(ctx, orphanDigest)
	require.NoError(t, err)
	assert.False(t, has)
	has, err = r.Objects().Has(ctx, layerDigest)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = r.Objects().Has(ctx, model.DigestBytes([]byte("kept")))
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCleanKeepsFullTagHistory(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	old := storeLayer(t, r, map[string]string{"f": "v1"})
	_, err := r.Tags().Push(ctx, "env", old)
	require.NoError(t, err)
	current := storeLayer(t, r, map[string]string{"f": "v2"})
	_, err = r.Tags().Push(ctx, "env", current)
	require.NoError(t, err)

	report, err := New(r).Clean(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Removed)

	// rollback targets survive collection
	has, err := r.Objects().Has(ctx, old)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCleanKeepsRuntimeStacks(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	// an untagged layer held alive only by a live runtime
	layerDigest := storeLayer(t, r, map[string]string{"f": "pinned"})
	_, err := runtime.NewManager(r).Create(ctx, []string{layerDigest.String()})
	require.NoError(t, err)

	report, err := New(r).Clean(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Removed)

	has, err := r.Objects().Has(ctx, layerDigest)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = r.Objects().Has(ctx, model.DigestBytes([]byte("pinned")))
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCleanDryRun(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	orphanDigest, err := r.Objects().Put(ctx, []byte("doomed but spared"))
	require.NoError(t, err)

	report, err := New(r, DryRun()).Clean(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.NotZero(t, report.Reclaimed)

	has, err := r.Objects().Has(ctx, orphanDigest)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCleanEmptyRepository(t *testing.T) {
	r := newTestRepo(t)

	report, err := New(r).Clean(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Zero(t, report.Removed)
}
