package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/distantorigin/craftlauncher/internal/paths"
	"github.com/distantorigin/craftlauncher/internal/version"
)

// ErrInvalid marks a manifest document that fails validation.
var ErrInvalid = errors.New("invalid manifest")

// Delta is a patch artifact that turns the file of an older version
// (identified by BaseHash) into this file.
type Delta struct {
	From     string        `json:"from"`
	BaseHash digest.Digest `json:"base_hash"`
	Hash     digest.Digest `json:"hash"`
	Size     int64         `json:"size"`
	URL      string        `json:"url"`
}

// File represents a file in the manifest
type File struct {
	Path   string        `json:"path"`
	Hash   digest.Digest `json:"hash"`
	Size   int64         `json:"size"`
	URL    string        `json:"url"`
	Deltas []Delta       `json:"deltas,omitempty"`
}

// DeltaFrom returns the delta that patches fromVersion's copy of the file,
// provided the installed copy still has the expected base hash.
func (f File) DeltaFrom(fromVersion string, baseHash digest.Digest) (Delta, bool) {
	if fromVersion == "" {
		return Delta{}, false
	}
	for _, d := range f.Deltas {
		if d.From == fromVersion && d.BaseHash == baseHash {
			return d, true
		}
	}
	return Delta{}, false
}

// Manifest is the immutable descriptor of a publishable version.
type Manifest struct {
	ID            string             `json:"id"`
	GameVersion   string             `json:"game_version"`
	Loader        version.LoaderKind `json:"loader"`
	LoaderVersion string             `json:"loader_version,omitempty"`
	Files         []File             `json:"files"`
}

// Lookup finds a file by manifest path
func (m *Manifest) Lookup(path string) (File, bool) {
	for _, f := range m.Files {
		if f.Path == path {
			return f, true
		}
	}
	return File{}, false
}

// Installed returns the install-state view of the manifest
func (m *Manifest) Installed() Installed {
	out := make(Installed, len(m.Files))
	for _, f := range m.Files {
		out[f.Path] = Entry{Hash: f.Hash, Size: f.Size}
	}
	return out
}

// TotalSize is the sum of all file sizes
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// Validate checks that every entry is usable: relative, unique paths that
// stay inside the instance directory, parseable digests and sane sizes.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}

	seen := make(map[string]struct{}, len(m.Files))
	for i, f := range m.Files {
		if err := paths.CheckManifestPath(f.Path); err != nil {
			return fmt.Errorf("%w: file[%d]: %v", ErrInvalid, i, err)
		}
		if _, dup := seen[f.Path]; dup {
			return fmt.Errorf("%w: duplicate path %s", ErrInvalid, f.Path)
		}
		seen[f.Path] = struct{}{}

		if err := f.Hash.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, f.Path, err)
		}
		if f.Size < 0 {
			return fmt.Errorf("%w: %s: negative size", ErrInvalid, f.Path)
		}
		if f.URL == "" {
			return fmt.Errorf("%w: %s: missing url", ErrInvalid, f.Path)
		}
		for _, d := range f.Deltas {
			if err := d.Hash.Validate(); err != nil {
				return fmt.Errorf("%w: %s: delta from %s: %v", ErrInvalid, f.Path, d.From, err)
			}
			if err := d.BaseHash.Validate(); err != nil {
				return fmt.Errorf("%w: %s: delta base from %s: %v", ErrInvalid, f.Path, d.From, err)
			}
			if d.Size < 0 || d.URL == "" || d.From == "" {
				return fmt.Errorf("%w: %s: incomplete delta from %q", ErrInvalid, f.Path, d.From)
			}
		}
	}
	return nil
}

// Entry is what an instance records for one installed file
type Entry struct {
	Hash digest.Digest `json:"hash"`
	Size int64         `json:"size"`
}

// Installed maps manifest paths to installed entries
type Installed map[string]Entry

// Clone returns an independent copy
func (in Installed) Clone() Installed {
	if in == nil {
		return nil
	}
	out := make(Installed, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Equal reports whether both sets contain the same paths with the same hashes
func (in Installed) Equal(other Installed) bool {
	if len(in) != len(other) {
		return false
	}
	for p, e := range in {
		o, ok := other[p]
		if !ok || o.Hash != e.Hash {
			return false
		}
	}
	return true
}

// Paths returns the manifest paths in sorted order
func (in Installed) Paths() []string {
	out := make([]string, 0, len(in))
	for p := range in {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Decode parses a manifest document. Lines starting with // are treated
// as comments and stripped before parsing.
func Decode(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var jsonLines [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if !bytes.HasPrefix(bytes.TrimSpace(line), []byte("//")) {
			jsonLines = append(jsonLines, line)
		}
	}

	var m Manifest
	if err := json.Unmarshal(bytes.Join(jsonLines, []byte("\n")), &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile reads and validates a manifest document from disk
func LoadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// SaveFile writes a manifest atomically (temp file + rename)
func SaveFile(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+strings.TrimPrefix(filepath.Base(path), ".")+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
