package version

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// LoaderKind identifies the mod loader installed on top of the game.
type LoaderKind string

const (
	LoaderNone   LoaderKind = "none"
	LoaderFabric LoaderKind = "fabric"
	LoaderForge  LoaderKind = "forge"
	LoaderQuilt  LoaderKind = "quilt"
)

// ErrInvalid is returned for version strings that cannot be parsed.
var ErrInvalid = errors.New("invalid version")

// Loaders lists every supported loader kind.
var Loaders = []LoaderKind{LoaderNone, LoaderFabric, LoaderForge, LoaderQuilt}

// ParseLoader converts user input ("Fabric", "quilt", "") into a LoaderKind
func ParseLoader(s string) (LoaderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "vanilla":
		return LoaderNone, nil
	case "fabric":
		return LoaderFabric, nil
	case "forge":
		return LoaderForge, nil
	case "quilt":
		return LoaderQuilt, nil
	}
	return "", fmt.Errorf("unknown loader %q", s)
}

func (k LoaderKind) String() string {
	return string(k)
}

// RequiresVersion reports whether the loader needs an explicit loader version.
func (k LoaderKind) RequiresVersion() bool {
	return k != LoaderNone && k != ""
}

// Game represents a game version such as 1.20.1 or 1.20-pre1
type Game struct {
	Major int
	Minor int
	Patch int
	Pre   string
}

// String returns the version the way the game itself prints it
func (g Game) String() string {
	v := fmt.Sprintf("%d.%d", g.Major, g.Minor)
	if g.Patch != 0 {
		v += "." + strconv.Itoa(g.Patch)
	}
	if g.Pre != "" {
		v += "-" + g.Pre
	}
	return v
}

// Semver returns the canonical semantic version ("v1.20.1-pre1").
func (g Game) Semver() string {
	v := fmt.Sprintf("v%d.%d.%d", g.Major, g.Minor, g.Patch)
	if g.Pre != "" {
		v += "-" + g.Pre
	}
	return v
}

// ParseGame extracts version components from a release-style game version.
// Snapshot ids (e.g. "23w31a") are not release-style and return ErrInvalid.
func ParseGame(s string) (Game, error) {
	core, pre, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(s), "v"), "-")
	parts := strings.Split(core, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Game{}, fmt.Errorf("%w: %q (expected X.Y or X.Y.Z)", ErrInvalid, s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Game{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		nums[i] = n
	}

	g := Game{Major: nums[0], Minor: nums[1], Patch: nums[2], Pre: pre}
	if !semver.IsValid(g.Semver()) {
		return Game{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return g, nil
}

// IsRelease reports whether v is a full release (no pre-release suffix, not a snapshot).
func IsRelease(v string) bool {
	g, err := ParseGame(v)
	return err == nil && g.Pre == ""
}

// Compare orders two game versions. Release-style versions compare by
// semver; anything unparseable sorts below every parseable version and
// falls back to lexical order among its peers.
func Compare(a, b string) int {
	ga, errA := ParseGame(a)
	gb, errB := ParseGame(b)
	switch {
	case errA == nil && errB == nil:
		return semver.Compare(ga.Semver(), gb.Semver())
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	}
	return strings.Compare(a, b)
}

// SortNewestFirst sorts versions in place, newest first.
func SortNewestFirst(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) > 0
	})
}

// ID builds the catalog identifier for a game/loader combination
// ("1.20.1", "1.20.1-fabric-0.14.21").
func ID(game string, loader LoaderKind, loaderVersion string) string {
	if !loader.RequiresVersion() {
		return game
	}
	id := game + "-" + string(loader)
	if loaderVersion != "" {
		id += "-" + loaderVersion
	}
	return id
}
