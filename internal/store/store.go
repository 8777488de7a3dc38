package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	_ "modernc.org/sqlite"

	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/paths"
	"github.com/distantorigin/craftlauncher/internal/version"
)

const (
	trashDir   = ".trash"
	stagingDir = paths.StagingDir
)

// Store is the durable record of instances. It exclusively owns the
// instance directories under root.
type Store struct {
	db     *sql.DB
	root   string
	logger *slog.Logger

	locks *keyedMutex

	leaseMu sync.Mutex
	leases  map[string]struct{}
}

// Open opens (or creates) the sqlite database at dbPath and the instance
// directory tree at root, runs migrations and discards leftovers of
// interrupted updates and removals.
func Open(dbPath, root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Ensure the database directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create instances directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	s := &Store{
		db:     db,
		root:   root,
		logger: logger.With("component", "store"),
		locks:  newKeyedMutex(),
		leases: make(map[string]struct{}),
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	// A single connection keeps writers from tripping over SQLITE_BUSY;
	// per-id ordering is handled by the keyed mutex.
	db.SetMaxOpenConns(1)

	s.discardLeftovers()
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the directory holding all instance directories
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory owned by the instance
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, id)
}

// discardLeftovers removes staging areas and trash. Download tasks are
// never resumed across restarts, so anything staged is stale.
func (s *Store) discardLeftovers() {
	if err := os.RemoveAll(filepath.Join(s.root, trashDir)); err != nil {
		s.logger.Warn("failed to purge trash", "error", err)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == trashDir {
			continue
		}
		staging := filepath.Join(s.root, e.Name(), stagingDir)
		if _, err := os.Stat(staging); err == nil {
			s.logger.Info("discarding interrupted update", "instance", e.Name())
			_ = os.RemoveAll(staging)
		}
	}
}

// Create stores a new instance and creates its directory
func (s *Store) Create(ctx context.Context, spec Spec) (*Instance, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inst := &Instance{
		ID:            ksuid.New().String(),
		Name:          spec.Name,
		GameVersion:   spec.GameVersion,
		Loader:        spec.Loader,
		LoaderVersion: spec.LoaderVersion,
		Manifest:      manifest.Installed{},
		CreatedAt:     now,
	}

	dir := s.Dir(inst.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create instance directory: %w", err)
	}

	manifestJSON, err := json.Marshal(inst.Manifest)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, name, game_version, loader, loader_version, manifest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Name, inst.GameVersion, string(inst.Loader), inst.LoaderVersion,
		string(manifestJSON), now.UnixMilli(),
	)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}
	if inst.Seq, err = res.LastInsertId(); err != nil {
		return nil, err
	}

	s.logger.Info("instance created", "id", inst.ID, "name", inst.Name, "version", inst.VersionID())
	return inst, nil
}

const selectColumns = `seq, id, name, game_version, loader, loader_version, installed_version,
	manifest, updating, last_played, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var (
		inst         Instance
		loader       string
		manifestJSON string
		updating     int
		lastPlayed   int64
		createdAt    int64
	)
	err := row.Scan(&inst.Seq, &inst.ID, &inst.Name, &inst.GameVersion, &loader, &inst.LoaderVersion,
		&inst.InstalledVersion, &manifestJSON, &updating, &lastPlayed, &createdAt)
	if err != nil {
		return nil, err
	}

	inst.Loader = version.LoaderKind(loader)
	inst.Updating = updating != 0
	inst.CreatedAt = time.UnixMilli(createdAt).UTC()
	if lastPlayed != 0 {
		inst.LastPlayed = time.UnixMilli(lastPlayed).UTC()
	}
	if err := json.Unmarshal([]byte(manifestJSON), &inst.Manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for %s: %w", inst.ID, err)
	}
	if inst.Manifest == nil {
		inst.Manifest = manifest.Installed{}
	}
	return &inst, nil
}

// Get returns the instance with the given id
func (s *Store) Get(ctx context.Context, id string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM instances WHERE id = ? LIMIT 1`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instance: %w", err)
	}
	return inst, nil
}

// List returns every instance in insertion order
func (s *Store) List(ctx context.Context) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM instances ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Update applies mutator to a snapshot of the instance and writes the
// result as a single statement. If the mutator returns an error nothing is
// written. Updates to the same id are serialised; the mutator runs outside
// any database transaction so other ids are never held up by it.
func (s *Store) Update(ctx context.Context, id string, mutator func(*Instance) error) (*Instance, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := mutator(next); err != nil {
		return nil, err
	}

	// Identity is not up to the mutator
	next.ID, next.Seq, next.CreatedAt = current.ID, current.Seq, current.CreatedAt
	if next.Manifest == nil {
		next.Manifest = manifest.Installed{}
	}

	manifestJSON, err := json.Marshal(next.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	var lastPlayed int64
	if !next.LastPlayed.IsZero() {
		lastPlayed = next.LastPlayed.UnixMilli()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances SET name = ?, game_version = ?, loader = ?, loader_version = ?,
			installed_version = ?, manifest = ?, updating = ?, last_played = ?
		WHERE id = ?`,
		next.Name, next.GameVersion, string(next.Loader), next.LoaderVersion,
		next.InstalledVersion, string(manifestJSON), boolToInt(next.Updating), lastPlayed,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to write instance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return next, nil
}

// Remove deletes the record and the instance directory together. The
// directory is moved aside first so a failed delete can put it back.
func (s *Store) Remove(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.leaseMu.Lock()
	_, leased := s.leases[id]
	s.leaseMu.Unlock()
	if leased {
		return fmt.Errorf("%w: %s", ErrBusy, id)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	dir := s.Dir(id)
	trash := filepath.Join(s.root, trashDir, id+"-"+ksuid.New().String())
	if err := os.MkdirAll(filepath.Dir(trash), 0755); err != nil {
		return err
	}

	moved := true
	if err := os.Rename(dir, trash); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to move instance directory: %w", err)
		}
		moved = false
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id); err != nil {
		if moved {
			if rerr := os.Rename(trash, dir); rerr != nil {
				s.logger.Error("failed to restore instance directory", "id", id, "error", rerr)
			}
		}
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	if moved {
		if err := os.RemoveAll(trash); err != nil {
			// The record is gone; leftover trash is purged on next Open
			s.logger.Warn("failed to purge instance files", "id", id, "error", err)
		}
	}

	s.logger.Info("instance removed", "id", id)
	return nil
}

// Acquire takes the exclusive session lease for an instance. Only one
// update or launch may hold it at a time.
func (s *Store) Acquire(id string) (release func(), err error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	if _, held := s.leases[id]; held {
		return nil, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	s.leases[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.leaseMu.Lock()
			delete(s.leases, id)
			s.leaseMu.Unlock()
		})
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
