package channel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/distantorigin/craftlauncher/internal/version"
)

// ChannelFile stores the remembered channel inside the data directory
const ChannelFile = ".version-channel"

// Channel selects which game versions a listing includes.
type Channel string

const (
	// Release lists full releases only.
	Release Channel = "release"
	// Snapshot also lists pre-releases, release candidates and snapshots.
	Snapshot Channel = "snapshot"
)

// Parse validates a channel name. An empty name means Release.
func Parse(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case "", Release:
		return Release, nil
	case Snapshot:
		return Snapshot, nil
	}
	return "", fmt.Errorf("unknown channel %q (want %s or %s)", s, Release, Snapshot)
}

// Allows reports whether the game version belongs to the channel
func (c Channel) Allows(gameVersion string) bool {
	if c == Snapshot {
		return true
	}
	return version.IsRelease(gameVersion)
}

// Filter returns the versions the channel allows, preserving order
func (c Channel) Filter(versions []string) []string {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		if c.Allows(v) {
			out = append(out, v)
		}
	}
	return out
}

// Save writes the channel to the channel file in the specified directory
func Save(baseDir string, c Channel) error {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(baseDir, ChannelFile), []byte(c), 0644)
}

// Load reads the remembered channel. A missing file yields Release.
func Load(baseDir string) (Channel, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, ChannelFile))
	if os.IsNotExist(err) {
		return Release, nil
	}
	if err != nil {
		return "", err
	}
	return Parse(string(data))
}
