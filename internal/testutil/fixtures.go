package testutil

import (
	"math/rand"
	"net/url"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/distantorigin/craftlauncher/internal/delta"
	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/version"
)

// Content returns size deterministic pseudo-random bytes
func Content(seed int64, size int) []byte {
	b := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// Release builds a manifest whose artifacts are served by a MockServer
type Release struct {
	srv      *MockServer
	Manifest *manifest.Manifest
	Content  map[string][]byte
}

// NewRelease starts an empty release for a game/loader combination
func NewRelease(srv *MockServer, game string, loader version.LoaderKind, loaderVersion string) *Release {
	return &Release{
		srv: srv,
		Manifest: &manifest.Manifest{
			ID:            version.ID(game, loader, loaderVersion),
			GameVersion:   game,
			Loader:        loader,
			LoaderVersion: loaderVersion,
		},
		Content: make(map[string][]byte),
	}
}

func (r *Release) artifactPath(kind, path string) string {
	return "/" + kind + "/" + url.PathEscape(r.Manifest.ID) + "/" + path
}

// ArtifactPath is the server path the file's full artifact is served from
func (r *Release) ArtifactPath(path string) string {
	return r.artifactPath("files", path)
}

// DeltaPath is the server path of the file's delta from an older version
func (r *Release) DeltaPath(from, path string) string {
	return r.artifactPath("deltas/"+url.PathEscape(from), path)
}

// Add publishes a file with the given content
func (r *Release) Add(path string, data []byte) *Release {
	r.Content[path] = data
	r.Manifest.Files = append(r.Manifest.Files, manifest.File{
		Path: path,
		Hash: digest.FromBytes(data),
		Size: int64(len(data)),
		URL:  r.srv.SetArtifact(r.ArtifactPath(path), data),
	})
	return r
}

// AddDelta publishes a patch turning base (the file as shipped by
// version from) into this release's copy of path
func (r *Release) AddDelta(t *testing.T, path, from string, base []byte) *Release {
	t.Helper()

	target, ok := r.Content[path]
	if !ok {
		t.Fatalf("release %s has no file %s", r.Manifest.ID, path)
	}
	patch, err := delta.Encode(base, target)
	if err != nil {
		t.Fatalf("failed to encode delta for %s: %v", path, err)
	}

	for i := range r.Manifest.Files {
		f := &r.Manifest.Files[i]
		if f.Path != path {
			continue
		}
		f.Deltas = append(f.Deltas, manifest.Delta{
			From:     from,
			BaseHash: digest.FromBytes(base),
			Hash:     digest.FromBytes(patch),
			Size:     int64(len(patch)),
			URL:      r.srv.SetArtifact(r.DeltaPath(from, path), patch),
		})
	}
	return r
}

// Publish makes the release resolvable through the mock index
func (r *Release) Publish() *manifest.Manifest {
	r.srv.Publish(r.Manifest)
	return r.Manifest
}
