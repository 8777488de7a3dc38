package channel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSaveAndLoad tests saving and loading the remembered channel
func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()

	for _, c := range []Channel{Release, Snapshot} {
		t.Run(string(c), func(t *testing.T) {
			require.NoError(t, Save(tempDir, c))

			loaded, err := Load(tempDir)
			require.NoError(t, err)
			assert.Equal(t, c, loaded)
		})
	}
}

// TestLoad_Missing tests that a missing channel file means release
func TestLoad_Missing(t *testing.T) {
	loaded, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Release, loaded)
}

// TestLoad_TrimsWhitespace tests that whitespace is trimmed from the stored channel
func TestLoad_TrimsWhitespace(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    Channel
	}{
		{name: "leading space", content: "  snapshot", want: Snapshot},
		{name: "trailing newline", content: "release\n", want: Release},
		{name: "windows line ending", content: "snapshot\r\n", want: Snapshot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(filepath.Join(tempDir, ChannelFile), []byte(tt.content), 0644))
			loaded, err := Load(tempDir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, loaded)
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, ChannelFile), []byte("nightly"), 0644))

	_, err := Load(tempDir)
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	versions := []string{"1.20.1", "1.20.1-rc1", "23w31a", "1.19.2"}

	assert.Equal(t, []string{"1.20.1", "1.19.2"}, Release.Filter(versions))
	assert.Equal(t, versions, Snapshot.Filter(versions))
}
