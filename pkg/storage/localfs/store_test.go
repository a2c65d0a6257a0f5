package localfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stratumfs/stratum/pkg/storage"
	"github.com/stratumfs/stratum/pkg/storage/status"
)

func setupStore(t *testing.T) storage.Store {
	t.Helper()
	s := MustNew(afero.NewMemMapFs())
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "sixteentons", bytes.NewBufferString("this is the text")))
	require.NoError(t, s.Put(ctx, "nested/key", bytes.NewBufferString("under a directory")))
	return s
}

func TestHas(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	has, err := s.Has(ctx, "sixteentons")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.Has(ctx, "fifteentons")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestGet(t *testing.T) {
	s := setupStore(t)

	b, err := storage.ReadAll(context.Background(), s, "sixteentons")
	require.NoError(t, err)
	assert.Equal(t, "this is the text", string(b))
}

func TestGetMissing(t *testing.T) {
	s := setupStore(t)

	_, err := s.Get(context.Background(), "no-such-key")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestSize(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	sizer, ok := s.(storage.Sizer)
	require.True(t, ok)

	n, err := sizer.Size(ctx, "sixteentons")
	require.NoError(t, err)
	assert.Equal(t, int64(len("this is the text")), n)

	_, err = sizer.Size(ctx, "no-such-key")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestPutOverwrites(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "sixteentons", bytes.NewBufferString("rewritten")))
	b, err := storage.ReadAll(ctx, s, "sixteentons")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", string(b))
}

func TestKeysSkipStagingArea(t *testing.T) {
	s := setupStore(t)

	keys, err := s.Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sixteentons", "nested/key"}, keys)
}

func TestStagingAreaKeysRejected(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.Put(ctx, ".put-stage/sneaky", bytes.NewBufferString("nope"))
	require.Error(t, err)
	assert.True(t, status.Is(err, status.ErrInvalidKey))
}

func TestDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "sixteentons"))
	has, err := s.Has(ctx, "sixteentons")
	require.NoError(t, err)
	assert.False(t, has)

	// deleting a missing key is not an error
	require.NoError(t, s.Delete(ctx, "sixteentons"))
}
