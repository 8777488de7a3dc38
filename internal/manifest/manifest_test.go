package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distantorigin/craftlauncher/internal/version"
)

func testManifest() *Manifest {
	return &Manifest{
		ID:            "1.20.1-fabric-0.14.21",
		GameVersion:   "1.20.1",
		Loader:        version.LoaderFabric,
		LoaderVersion: "0.14.21",
		Files: []File{
			{
				Path: "client.jar",
				Hash: digest.FromString("client-1.20.1"),
				Size: 13,
				URL:  "https://example.com/client.jar",
				Deltas: []Delta{{
					From:     "1.19.2-fabric-0.14.21",
					BaseHash: digest.FromString("client-1.19.2"),
					Hash:     digest.FromString("patch"),
					Size:     5,
					URL:      "https://example.com/client.jar.patch",
				}},
			},
			{
				Path: "libraries/fabric-loader.jar",
				Hash: digest.FromString("loader"),
				Size: 6,
				URL:  "https://example.com/fabric-loader.jar",
			},
		},
	}
}

// TestDecode_WithComments tests loading a manifest document with // comments
func TestDecode_WithComments(t *testing.T) {
	doc := `{
  // generated by the catalog publisher
  "id": "1.20.1",
  "game_version": "1.20.1",
  "loader": "none",
  "files": [
    // the game client
    {"path": "client.jar", "hash": "` + digest.FromString("x").String() + `", "size": 1, "url": "https://example.com/client.jar"}
  ]
}`

	m, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "1.20.1", m.ID)
	require.Len(t, m.Files, 1)
	assert.Equal(t, "client.jar", m.Files[0].Path)
}

// TestDecode_InvalidJSON tests error handling for corrupt manifest
func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"id": "1.20.1", "files": [`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse manifest")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Manifest)
	}{
		{name: "missing id", mutate: func(m *Manifest) { m.ID = "" }},
		{name: "path traversal", mutate: func(m *Manifest) { m.Files[0].Path = "../../evil.jar" }},
		{name: "absolute path", mutate: func(m *Manifest) { m.Files[0].Path = "/usr/bin/java" }},
		{name: "staging area path", mutate: func(m *Manifest) { m.Files[0].Path = ".staging/client.jar" }},
		{name: "patch area path", mutate: func(m *Manifest) { m.Files[1].Path = ".patch/client.jar" }},
		{name: "duplicate path", mutate: func(m *Manifest) { m.Files[1].Path = m.Files[0].Path }},
		{name: "bad digest", mutate: func(m *Manifest) { m.Files[0].Hash = "md5:nothex" }},
		{name: "negative size", mutate: func(m *Manifest) { m.Files[1].Size = -1 }},
		{name: "missing url", mutate: func(m *Manifest) { m.Files[1].URL = "" }},
		{name: "incomplete delta", mutate: func(m *Manifest) { m.Files[0].Deltas[0].URL = "" }},
	}

	require.NoError(t, testManifest().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManifest()
			tt.mutate(m)
			assert.ErrorIs(t, m.Validate(), ErrInvalid)
		})
	}
}

func TestDeltaFrom(t *testing.T) {
	f := testManifest().Files[0]

	d, ok := f.DeltaFrom("1.19.2-fabric-0.14.21", digest.FromString("client-1.19.2"))
	require.True(t, ok)
	assert.Equal(t, int64(5), d.Size)

	_, ok = f.DeltaFrom("1.19.2-fabric-0.14.21", digest.FromString("modified locally"))
	assert.False(t, ok, "delta must not apply to a base with a different hash")

	_, ok = f.DeltaFrom("1.18.2", digest.FromString("client-1.19.2"))
	assert.False(t, ok)

	_, ok = f.DeltaFrom("", digest.FromString("client-1.19.2"))
	assert.False(t, ok)
}

func TestInstalled(t *testing.T) {
	m := testManifest()
	installed := m.Installed()

	assert.Len(t, installed, 2)
	assert.Equal(t, []string{"client.jar", "libraries/fabric-loader.jar"}, installed.Paths())
	assert.True(t, installed.Equal(m.Installed()))
	assert.Equal(t, int64(19), m.TotalSize())

	clone := installed.Clone()
	clone["client.jar"] = Entry{Hash: digest.FromString("other"), Size: 1}
	assert.False(t, installed.Equal(clone))
	assert.Equal(t, digest.FromString("client-1.20.1"), installed["client.jar"].Hash, "clone must not alias")

	delete(clone, "client.jar")
	assert.False(t, installed.Equal(clone))
}

// TestSaveFile tests writing then reloading a manifest document
func TestSaveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog", "1.20.1.json")

	require.NoError(t, SaveFile(path, testManifest()))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testManifest(), loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.jar")
	require.NoError(t, os.WriteFile(path, []byte("client-1.20.1"), 0644))

	require.NoError(t, VerifyFile(context.Background(), path, digest.FromString("client-1.20.1")))

	err := VerifyFile(context.Background(), path, digest.FromString("something else"))
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestCompute_LargeInputAcrossChunks(t *testing.T) {
	data := strings.Repeat("a", ChunkSize*2+17)

	got, n, err := Compute(context.Background(), strings.NewReader(data), "")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, digest.FromString(data), got)
}

func TestCompute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Compute(ctx, strings.NewReader("data"), digest.SHA256)
	assert.ErrorIs(t, err, context.Canceled)
}
