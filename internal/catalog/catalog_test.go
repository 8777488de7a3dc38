package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distantorigin/craftlauncher/internal/channel"
	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/testutil"
	"github.com/distantorigin/craftlauncher/internal/version"
)

func newCatalog(t *testing.T, srv *testutil.MockServer) *Catalog {
	t.Helper()
	c, err := New(NewRemoteIndex(srv.URL, 5*time.Second), t.TempDir(), 8, testutil.Logger())
	require.NoError(t, err)
	return c
}

func TestResolve_Remote(t *testing.T) {
	srv := testutil.NewMockServer(t)
	want := testutil.NewRelease(srv, "1.20.1", version.LoaderFabric, "0.15.3").
		Add("client.jar", testutil.Content(1, 1024)).
		Add("mods/fabric-api.jar", testutil.Content(2, 512)).
		Publish()

	c := newCatalog(t, srv)
	got, err := c.Resolve(context.Background(), Query{GameVersion: "1.20.1", Loader: version.LoaderFabric, LoaderVersion: "0.15.3"})
	require.NoError(t, err)

	assert.Equal(t, "1.20.1-fabric-0.15.3", got.ID)
	assert.Len(t, got.Files, 2)
	assert.Equal(t, want.Files[0].Hash, got.Files[0].Hash)
}

func TestResolve_NotFound(t *testing.T) {
	srv := testutil.NewMockServer(t)
	c := newCatalog(t, srv)

	_, err := c.Resolve(context.Background(), Query{GameVersion: "9.9.9", Loader: version.LoaderNone})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Resolve(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_MemoryCache(t *testing.T) {
	srv := testutil.NewMockServer(t)
	testutil.NewRelease(srv, "1.19.2", version.LoaderNone, "").
		Add("client.jar", testutil.Content(1, 64)).
		Publish()

	c := newCatalog(t, srv)
	q := Query{GameVersion: "1.19.2", Loader: version.LoaderNone}

	for i := 0; i < 3; i++ {
		_, err := c.Resolve(context.Background(), q)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, srv.GetRequestCount("/v1/manifest"))
}

func TestResolve_ConcurrentCallersShareRequest(t *testing.T) {
	srv := testutil.NewMockServer(t)
	testutil.NewRelease(srv, "1.19.2", version.LoaderNone, "").
		Add("client.jar", testutil.Content(1, 64)).
		Publish()

	c := newCatalog(t, srv)
	q := Query{GameVersion: "1.19.2", Loader: version.LoaderNone}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), q)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, srv.GetRequestCount("/v1/manifest"), 16)
	assert.GreaterOrEqual(t, srv.GetRequestCount("/v1/manifest"), 1)
}

func TestResolve_OfflineFallsBackToDisk(t *testing.T) {
	srv := testutil.NewMockServer(t)
	testutil.NewRelease(srv, "1.20.1", version.LoaderNone, "").
		Add("client.jar", testutil.Content(1, 64)).
		Publish()

	cacheDir := t.TempDir()
	index := NewRemoteIndex(srv.URL, 5*time.Second)
	q := Query{GameVersion: "1.20.1", Loader: version.LoaderNone}

	warm, err := New(index, cacheDir, 8, testutil.Logger())
	require.NoError(t, err)
	_, err = warm.Resolve(context.Background(), q)
	require.NoError(t, err)

	srv.SetOffline(true)

	// A fresh catalog has an empty memory cache and must use the disk copy
	cold, err := New(index, cacheDir, 8, testutil.Logger())
	require.NoError(t, err)
	got, err := cold.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "1.20.1", got.ID)

	_, err = cold.Resolve(context.Background(), Query{GameVersion: "1.18.2", Loader: version.LoaderNone})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolve_InvalidDocument(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.SetRawResponse("/v1/manifest", 200, []byte(`{"id":"1.20.1","files":[{"path":"../evil","hash":"sha256:00","size":1,"url":"x"}]}`), nil)

	c := newCatalog(t, srv)
	_, err := c.Resolve(context.Background(), Query{GameVersion: "1.20.1", Loader: version.LoaderNone})
	assert.Error(t, err)
}

func TestVersions(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.SetVersions("1.19.2", "23w31a", "1.20.1", "1.20.2-pre1")

	c := newCatalog(t, srv)

	releases, err := c.Versions(context.Background(), channel.Release)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.20.1", "1.19.2"}, releases)

	all, err := c.Versions(context.Background(), channel.Snapshot)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "1.20.2-pre1", all[0])
}

func TestVersions_OfflineUsesCachedList(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.SetVersions("1.19.2", "1.20.1")

	c := newCatalog(t, srv)
	_, err := c.Versions(context.Background(), channel.Release)
	require.NoError(t, err)

	srv.SetOffline(true)
	got, err := c.Versions(context.Background(), channel.Release)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.20.1", "1.19.2"}, got)
}

func TestVersions_OfflineWithoutCache(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.SetOffline(true)

	c := newCatalog(t, srv)
	_, err := c.Versions(context.Background(), channel.Release)
	assert.ErrorIs(t, err, ErrUnavailable)
}

// gatedIndex holds every manifest request until release is closed
type gatedIndex struct {
	Index
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedIndex(inner Index) *gatedIndex {
	return &gatedIndex{Index: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedIndex) Manifest(ctx context.Context, q Query) (*manifest.Manifest, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Index.Manifest(ctx, q)
}

func TestResolve_CancelledCallerIgnoresDiskCache(t *testing.T) {
	srv := testutil.NewMockServer(t)
	testutil.NewRelease(srv, "1.20.1", version.LoaderNone, "").
		Add("client.jar", testutil.Content(1, 64)).
		Publish()

	cacheDir := t.TempDir()
	q := Query{GameVersion: "1.20.1", Loader: version.LoaderNone}
	warm, err := New(NewRemoteIndex(srv.URL, 5*time.Second), cacheDir, 8, testutil.Logger())
	require.NoError(t, err)
	_, err = warm.Resolve(context.Background(), q)
	require.NoError(t, err)

	srv.SetOffline(true)
	gated := newGatedIndex(NewRemoteIndex(srv.URL, 5*time.Second))
	t.Cleanup(func() { close(gated.release) })

	cold, err := New(gated, cacheDir, 8, testutil.Logger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-gated.entered
		cancel()
	}()

	got, err := cold.Resolve(ctx, q)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestResolve_SharedRequestSurvivesCancelledCaller(t *testing.T) {
	srv := testutil.NewMockServer(t)
	testutil.NewRelease(srv, "1.19.2", version.LoaderNone, "").
		Add("client.jar", testutil.Content(1, 64)).
		Publish()

	gated := newGatedIndex(NewRemoteIndex(srv.URL, 5*time.Second))
	c, err := New(gated, t.TempDir(), 8, testutil.Logger())
	require.NoError(t, err)
	q := Query{GameVersion: "1.19.2", Loader: version.LoaderNone}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctx, q)
		first <- err
	}()
	<-gated.entered

	second := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), q)
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(gated.release)
	assert.NoError(t, <-second)
}
