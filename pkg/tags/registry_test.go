package tags

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/tags/status"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(afero.NewMemMapFs(), User("tester@host"))
}

func digestOf(s string) model.Digest {
	return model.DigestBytes([]byte(s))
}

func TestPushAppendsHistory(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	first, err := r.Push(ctx, "prod/base", digestOf("v1"))
	require.NoError(t, err)
	assert.Equal(t, "prod/base", first.Name)
	assert.Equal(t, "tester@host", first.User)
	assert.True(t, first.Parent.IsNull())

	second, err := r.Push(ctx, "prod/base", digestOf("v2"))
	require.NoError(t, err)
	firstDigest, err := first.Digest()
	require.NoError(t, err)
	assert.Equal(t, firstDigest, second.Parent)

	history, err := r.History(ctx, "prod/base")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, digestOf("v1"), history[0].Target)
	assert.Equal(t, digestOf("v2"), history[1].Target)
}

func TestPushSameTargetIsNoOp(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	_, err := r.Push(ctx, "tag", digestOf("v1"))
	require.NoError(t, err)
	_, err = r.Push(ctx, "tag", digestOf("v1"))
	require.NoError(t, err)

	history, err := r.History(ctx, "tag")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestResolveSpecs(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	for _, v := range []string{"v1", "v2", "v3"} {
		_, err := r.Push(ctx, "env", digestOf(v))
		require.NoError(t, err)
	}

	head, err := r.Resolve(ctx, "env")
	require.NoError(t, err)
	assert.Equal(t, digestOf("v3"), head.Target)

	back, err := r.Resolve(ctx, "env~1")
	require.NoError(t, err)
	assert.Equal(t, digestOf("v2"), back.Target)

	back, err = r.Resolve(ctx, "env~2")
	require.NoError(t, err)
	assert.Equal(t, digestOf("v1"), back.Target)

	_, err = r.Resolve(ctx, "env~9")
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrNotFound)

	byPrefix, err := r.Resolve(ctx, "env@"+digestOf("v1").String()[:8])
	require.NoError(t, err)
	assert.Equal(t, digestOf("v1"), byPrefix.Target)
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	_, err := r.Push(ctx, "env", digestOf("v1"))
	require.NoError(t, err)
	_, err = r.Push(ctx, "env", digestOf("v2"))
	require.NoError(t, err)

	// the empty prefix matches both distinct targets
	_, err = r.Resolve(ctx, "env@")
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrAmbiguousTag)
}

func TestResolveUnknownTag(t *testing.T) {
	r := setupRegistry(t)

	_, err := r.Resolve(context.Background(), "no/such/tag")
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestPushEntryConflict(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	head, err := r.Push(ctx, "tag", digestOf("v1"))
	require.NoError(t, err)
	headDigest, err := head.Digest()
	require.NoError(t, err)

	// a writer that observed the current head wins
	good := model.NewTagEntry("tag", "peer@other", digestOf("v2"))
	good.Parent = headDigest
	require.NoError(t, r.PushEntry(ctx, good))

	// one that observed a stale head does not
	stale := model.NewTagEntry("tag", "peer@other", digestOf("v3"))
	stale.Parent = headDigest
	err = r.PushEntry(ctx, stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrTagConflict)
}

func TestNamesWalksHierarchy(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	_, err := r.Push(ctx, "prod/base", digestOf("a"))
	require.NoError(t, err)
	_, err = r.Push(ctx, "prod/tools", digestOf("b"))
	require.NoError(t, err)
	_, err = r.Push(ctx, "scratch", digestOf("c"))
	require.NoError(t, err)

	names, err := r.Names(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"prod/base", "prod/tools", "scratch"}, names)
}
