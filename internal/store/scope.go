package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/distantorigin/craftlauncher/internal/paths"
)

// ErrScopeClosed is returned for any use of a released Scope
var ErrScopeClosed = errors.New("plan scope closed")

// Scope is the only way a plan execution touches an instance directory.
// Files are staged under <instance>/.staging/<plan>/ and moved into place
// by Commit. Close releases every handle and removes the staging area.
type Scope struct {
	instanceDir string
	stagingDir  string

	mu      sync.Mutex
	handles map[*os.File]struct{}
	closed  bool
}

// Scope issues a plan-scoped handle set for the instance
func (s *Store) Scope(id, planID string) (*Scope, error) {
	instanceDir := s.Dir(id)
	if _, err := os.Stat(instanceDir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	staging := filepath.Join(instanceDir, stagingDir, planID)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}

	return &Scope{
		instanceDir: instanceDir,
		stagingDir:  staging,
		handles:     make(map[*os.File]struct{}),
	}, nil
}

func (sc *Scope) checkOpen() error {
	if sc.closed {
		return ErrScopeClosed
	}
	return nil
}

// StagingPath returns where rel is staged, creating parent directories
func (sc *Scope) StagingPath(rel string) (string, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.checkOpen(); err != nil {
		return "", err
	}

	p, err := paths.Resolve(sc.stagingDir, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}
	return p, nil
}

// InstalledPath returns where rel lives inside the instance directory
func (sc *Scope) InstalledPath(rel string) (string, error) {
	return paths.Resolve(sc.instanceDir, rel)
}

func (sc *Scope) track(f *os.File) (*os.File, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		f.Close()
		return nil, ErrScopeClosed
	}
	sc.handles[f] = struct{}{}
	return f, nil
}

// CreateStaged truncates and opens the staged copy of rel for writing
func (sc *Scope) CreateStaged(rel string) (*os.File, error) {
	p, err := sc.StagingPath(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return sc.track(f)
}

// OpenInstalled opens the currently installed copy of rel for reading
func (sc *Scope) OpenInstalled(rel string) (*os.File, error) {
	p, err := sc.InstalledPath(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return sc.track(f)
}

// Release closes a handle obtained from this scope
func (sc *Scope) Release(f *os.File) error {
	sc.mu.Lock()
	_, ok := sc.handles[f]
	delete(sc.handles, f)
	sc.mu.Unlock()

	if !ok {
		return nil // Already released by Close
	}
	return f.Close()
}

// Commit atomically moves the staged copy of rel into the instance
func (sc *Scope) Commit(rel string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.checkOpen(); err != nil {
		return err
	}

	src, err := paths.Resolve(sc.stagingDir, rel)
	if err != nil {
		return err
	}
	dst, err := paths.Resolve(sc.instanceDir, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to commit %s: %w", rel, err)
	}
	return nil
}

// Delete removes an installed file; a missing file is not an error
func (sc *Scope) Delete(rel string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.checkOpen(); err != nil {
		return err
	}

	p, err := paths.Resolve(sc.instanceDir, rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", rel, err)
	}
	return nil
}

// Close releases all handles and removes the staging area. Safe to call
// more than once.
func (sc *Scope) Close() error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil
	}
	sc.closed = true
	handles := sc.handles
	sc.handles = nil
	sc.mu.Unlock()

	var errs []error
	for f := range handles {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(sc.stagingDir); err != nil {
		errs = append(errs, err)
	}
	// Drop the parent .staging directory once no plan uses it
	_ = os.Remove(filepath.Dir(sc.stagingDir))

	return errors.Join(errs...)
}

// OpenHandles reports how many handles are still held
func (sc *Scope) OpenHandles() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.handles)
}
