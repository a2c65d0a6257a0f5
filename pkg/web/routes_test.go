package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/repo"
	"github.com/stratumfs/stratum/pkg/storage/remote"
	storagestatus "github.com/stratumfs/stratum/pkg/storage/status"
	"github.com/stratumfs/stratum/pkg/sync"
	tagstatus "github.com/stratumfs/stratum/pkg/tags/status"
)

// setupServer serves a fresh repository over the real router and
// returns it alongside a client pointed at it.
func setupServer(t *testing.T) (*repo.Repository, *remote.Client, *httptest.Server) {
	t.Helper()
	r, err := repo.New(t.TempDir())
	require.NoError(t, err)
	srv := httptest.NewServer(InitRouter(NewServer(r)))
	t.Cleanup(srv.Close)
	client, err := remote.New(srv.URL, remote.HTTPClient(srv.Client()))
	require.NoError(t, err)
	return r, client, srv
}

func TestObjectRoundTripOverHTTP(t *testing.T) {
	r, client, _ := setupServer(t)
	ctx := context.Background()

	content := []byte("served bytes")
	d, err := client.PutObjectBytes(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, model.DigestBytes(content), d)

	has, err := client.HasObject(ctx, d)
	require.NoError(t, err)
	assert.True(t, has)

	back, err := client.GetObject(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, content, back)

	// the bytes really landed in the repository behind the server
	local, err := r.GetObject(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, content, local)
}

func TestGetMissingObject(t *testing.T) {
	_, client, srv := setupServer(t)
	ctx := context.Background()

	missing := model.DigestBytes([]byte("never uploaded"))
	has, err := client.HasObject(ctx, missing)
	require.NoError(t, err)
	assert.False(t, has)

	// a miss is a 404 on the wire, not a server error
	resp, err := srv.Client().Get(srv.URL + "/objects/" + missing.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = client.GetObject(ctx, missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, storagestatus.ErrNotFound)
}

func TestPutObjectDigestMismatch(t *testing.T) {
	_, _, srv := setupServer(t)

	// the client computes digests itself, so fake a lying peer
	wrong := model.DigestBytes([]byte("what I claim"))
	req, err := http.NewRequest(http.MethodPut,
		srv.URL+"/objects/"+wrong.String(),
		bytes.NewReader([]byte("what I send")))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBadDigestParam(t *testing.T) {
	_, _, srv := setupServer(t)

	resp, err := srv.Client().Get(srv.URL + "/objects/not-a-digest")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTagPushAndHistory(t *testing.T) {
	r, client, _ := setupServer(t)
	ctx := context.Background()

	target := model.DigestBytes([]byte("the layer"))
	first := model.NewTagEntry("prod/env", "tester@host", target)
	require.NoError(t, client.PushTagRaw(ctx, first))

	history, err := client.TagHistory(ctx, "prod/env")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, target, history[0].Target)
	assert.Equal(t, "tester@host", history[0].User)

	// chained entry with the observed head as parent
	head, err := r.Tags().Head(ctx, "prod/env")
	require.NoError(t, err)
	headDigest, err := head.Digest()
	require.NoError(t, err)
	second := model.NewTagEntry("prod/env", "tester@host", model.DigestBytes([]byte("v2")))
	second.Parent = headDigest
	require.NoError(t, client.PushTagRaw(ctx, second))

	history, err = client.TagHistory(ctx, "prod/env")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestTagPushConflict(t *testing.T) {
	_, client, _ := setupServer(t)
	ctx := context.Background()

	first := model.NewTagEntry("env", "a@x", model.DigestBytes([]byte("v1")))
	require.NoError(t, client.PushTagRaw(ctx, first))

	// a second root entry never observed the head
	stale := model.NewTagEntry("env", "b@y", model.DigestBytes([]byte("v2")))
	err := client.PushTagRaw(ctx, stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, tagstatus.ErrTagConflict)
}

func TestTagHistoryUnknownName(t *testing.T) {
	_, client, _ := setupServer(t)

	_, err := client.TagHistory(context.Background(), "no/such/tag")
	require.Error(t, err)
	assert.ErrorIs(t, err, tagstatus.ErrNotFound)
}

func TestTagPushNameMismatch(t *testing.T) {
	_, _, srv := setupServer(t)

	entry := model.NewTagEntry("actual/name", "a@x", model.DigestBytes([]byte("v1")))
	payload, err := json.Marshal(entry)
	require.NoError(t, err)
	resp, err := srv.Client().Post(srv.URL+"/tags/other/name", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTags(t *testing.T) {
	r, _, srv := setupServer(t)
	ctx := context.Background()

	_, err := r.Tags().Push(ctx, "prod/base", model.DigestBytes([]byte("a")))
	require.NoError(t, err)
	_, err = r.Tags().Push(ctx, "scratch", model.DigestBytes([]byte("b")))
	require.NoError(t, err)

	resp, err := srv.Client().Get(srv.URL + "/tags")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var names []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	assert.ElementsMatch(t, []string{"prod/base", "scratch"}, names)
}

// TestSyncThroughServer drives the whole push path: local repository,
// HTTP transport, remote repository.
func TestSyncThroughServer(t *testing.T) {
	remoteRepo, client, _ := setupServer(t)
	local, err := repo.New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	content := []byte("#!/bin/sh\necho hi\n")
	blob, err := local.Objects().Put(ctx, content)
	require.NoError(t, err)
	b := model.NewManifestBuilder()
	b.AddEntry("bin/hi.sh", model.Entry{
		Name:   "hi.sh",
		Kind:   model.EntryBlob,
		Mode:   0o755,
		Size:   int64(len(content)),
		Object: blob,
	})
	manifest, err := b.Finalize()
	require.NoError(t, err)
	root, err := local.Objects().PutManifest(ctx, manifest)
	require.NoError(t, err)
	layerDigest, err := local.Objects().PutObject(ctx, &model.Layer{Root: root})
	require.NoError(t, err)
	_, err = local.Tags().Push(ctx, "env", layerDigest)
	require.NoError(t, err)

	summary, err := sync.New(local, client).Push(ctx, "env")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Tags)

	entry, err := remoteRepo.Tags().Head(ctx, "env")
	require.NoError(t, err)
	assert.Equal(t, layerDigest, entry.Target)
	has, err := remoteRepo.HasObject(ctx, blob)
	require.NoError(t, err)
	assert.True(t, has)
}
