package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/version"
)

var (
	// ErrNotFound indicates no instance exists with the requested id
	ErrNotFound = errors.New("instance not found")
	// ErrBusy indicates another session holds the instance lease
	ErrBusy = errors.New("instance is busy")
	// ErrInvalidSpec indicates a create request that cannot be stored
	ErrInvalidSpec = errors.New("invalid instance spec")
)

// Spec is what a user supplies to create an instance
type Spec struct {
	Name          string             `json:"name"`
	GameVersion   string             `json:"game_version"`
	Loader        version.LoaderKind `json:"loader"`
	LoaderVersion string             `json:"loader_version,omitempty"`
}

// Validate normalises the spec and checks required fields
func (s *Spec) Validate() error {
	s.Name = strings.TrimSpace(s.Name)
	s.GameVersion = strings.TrimSpace(s.GameVersion)
	s.LoaderVersion = strings.TrimSpace(s.LoaderVersion)
	if s.Loader == "" {
		s.Loader = version.LoaderNone
	}

	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if s.GameVersion == "" {
		return fmt.Errorf("%w: game version is required", ErrInvalidSpec)
	}
	if _, err := version.ParseLoader(string(s.Loader)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if !s.Loader.RequiresVersion() {
		s.LoaderVersion = ""
	}
	return nil
}

// Instance is a configured, independently launchable game installation.
// GameVersion/Loader/LoaderVersion describe what the user wants;
// InstalledVersion and Manifest describe what is on disk.
type Instance struct {
	ID               string             `json:"id"`
	Seq              int64              `json:"-"`
	Name             string             `json:"name"`
	GameVersion      string             `json:"game_version"`
	Loader           version.LoaderKind `json:"loader"`
	LoaderVersion    string             `json:"loader_version,omitempty"`
	InstalledVersion string             `json:"installed_version,omitempty"`
	Manifest         manifest.Installed `json:"manifest"`
	Updating         bool               `json:"updating"`
	LastPlayed       time.Time          `json:"last_played"`
	CreatedAt        time.Time          `json:"created_at"`
}

// VersionID is the catalog id of the version the instance should run
func (i *Instance) VersionID() string {
	return version.ID(i.GameVersion, i.Loader, i.LoaderVersion)
}

// Clone returns a deep copy, used as the mutator snapshot
func (i *Instance) Clone() *Instance {
	c := *i
	c.Manifest = i.Manifest.Clone()
	return &c
}
