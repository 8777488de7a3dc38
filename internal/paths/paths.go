package paths

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// PreserveFile lists extra per-instance preserve patterns, one per line
const PreserveFile = ".preserve"

const (
	// StagingDir holds in-flight downloads inside an instance directory
	StagingDir = ".staging"
	// PatchDir holds downloaded deltas inside a staging area
	PatchDir = ".patch"
)

// reserved top-level names a manifest may not ship files under
var reserved = []string{StagingDir, PatchDir}

// Normalize converts a path to use forward slashes (for manifest/cross-platform storage)
func Normalize(p string) string {
	return strings.ReplaceAll(filepath.Clean(p), string(filepath.Separator), "/")
}

// Denormalize converts a path from forward slashes to platform-specific separators
func Denormalize(p string) string {
	return strings.ReplaceAll(p, "/", string(filepath.Separator))
}

// CheckRelative rejects manifest paths that are absolute or climb out of
// the instance directory.
func CheckRelative(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if path.IsAbs(p) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return fmt.Errorf("absolute path not allowed: %s", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path traversal attempt detected: %s", p)
	}
	return nil
}

// CheckManifestPath is CheckRelative plus a refusal of paths inside the
// launcher's own scratch directories.
func CheckManifestPath(p string) error {
	if err := CheckRelative(p); err != nil {
		return err
	}
	first, _, _ := strings.Cut(path.Clean(strings.ReplaceAll(p, "\\", "/")), "/")
	for _, name := range reserved {
		if strings.EqualFold(first, name) {
			return fmt.Errorf("reserved path not allowed: %s", p)
		}
	}
	return nil
}

// Resolve joins a manifest path under baseDir, refusing paths that would
// land outside it.
func Resolve(baseDir, rel string) (string, error) {
	if err := CheckRelative(rel); err != nil {
		return "", err
	}
	return ValidatePath(baseDir, filepath.Join(baseDir, Denormalize(rel)))
}

// ValidatePath ensures a path doesn't escape the base directory (path traversal protection)
func ValidatePath(basePath, targetPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve target path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected")
	}

	return absTarget, nil
}

// Matcher matches manifest paths against preserve patterns.
// Patterns use glob syntax with '/' as separator: "*" stays inside one
// directory, "**" crosses directories, a trailing "/" means "everything
// below". Matching is case-insensitive.
type Matcher struct {
	patterns []string
	globs    []glob.Glob
}

// NewMatcher compiles the given patterns
func NewMatcher(patterns ...string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		if err := m.add(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Matcher) add(pattern string) error {
	pattern = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(pattern), "\\", "/"))
	if pattern == "" {
		return nil
	}
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return fmt.Errorf("invalid preserve pattern %q: %w", pattern, err)
	}
	m.patterns = append(m.patterns, pattern)
	m.globs = append(m.globs, g)
	return nil
}

// With returns a new matcher carrying the receiver's patterns plus extra
func (m *Matcher) With(extra ...string) (*Matcher, error) {
	var base []string
	if m != nil {
		base = m.patterns
	}
	return NewMatcher(append(append([]string{}, base...), extra...)...)
}

// Match reports whether p matches any pattern. A nil Matcher matches nothing.
func (m *Matcher) Match(p string) bool {
	if m == nil {
		return false
	}
	normalized := strings.ToLower(Normalize(p))
	for _, g := range m.globs {
		if g.Match(normalized) {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns in their normalized form
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string{}, m.patterns...)
}

// LoadPatterns reads preserve patterns from a file. Blank lines and lines
// starting with '#' are skipped; a missing file yields no patterns.
func LoadPatterns(file string) ([]string, error) {
	f, err := os.Open(file)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
