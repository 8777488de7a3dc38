package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/distantorigin/craftlauncher/internal/channel"
	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/metrics"
	"github.com/distantorigin/craftlauncher/internal/version"
)

var (
	// ErrNotFound indicates the requested version does not exist
	ErrNotFound = errors.New("version not found")
	// ErrUnavailable indicates the index could not be reached and nothing was cached
	ErrUnavailable = errors.New("catalog unavailable")
)

const versionsFile = "versions.json"

// Catalog resolves versions through the remote index with an in-memory
// LRU in front and an on-disk cache as fallback.
type Catalog struct {
	index    Index
	cacheDir string
	memory   *lru.Cache[string, *manifest.Manifest]
	group    singleflight.Group
	logger   *slog.Logger
}

// New creates a catalog caching up to size manifests in memory
func New(index Index, cacheDir string, size int, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 64
	}
	memory, err := lru.New[string, *manifest.Manifest](size)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog cache: %w", err)
	}

	return &Catalog{
		index:    index,
		cacheDir: cacheDir,
		memory:   memory,
		logger:   logger.With("component", "catalog"),
	}, nil
}

func (c *Catalog) cachePath(id string) string {
	return filepath.Join(c.cacheDir, id+".json")
}

// Resolve returns the manifest for q. Manifests are immutable, so a
// manifest already held in memory is returned without asking the index.
// When the index fails the on-disk cache is used.
func (c *Catalog) Resolve(ctx context.Context, q Query) (*manifest.Manifest, error) {
	if q.GameVersion == "" {
		return nil, fmt.Errorf("%w: empty game version", ErrNotFound)
	}

	id := q.ID()
	if m, ok := c.memory.Get(id); ok {
		metrics.CatalogRequests.WithLabelValues("memory").Inc()
		return m, nil
	}

	// The shared request outlives any single caller; each caller stops
	// waiting on its own cancellation.
	ch := c.group.DoChan(id, func() (any, error) {
		return c.resolve(context.WithoutCancel(ctx), id, q)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("resolving %s: %w", id, ctx.Err())
	case r := <-ch:
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolving %s: %w", id, err)
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*manifest.Manifest), nil
	}
}

func (c *Catalog) resolve(ctx context.Context, id string, q Query) (*manifest.Manifest, error) {
	m, err := c.index.Manifest(ctx, q)
	if err == nil {
		metrics.CatalogRequests.WithLabelValues("remote").Inc()
		c.memory.Add(id, m)
		if serr := manifest.SaveFile(c.cachePath(id), m); serr != nil {
			c.logger.Warn("failed to cache manifest", "version", id, "error", serr)
		}
		return m, nil
	}

	if errors.Is(err, ErrNotFound) {
		return nil, err
	}

	cached, cerr := manifest.LoadFile(c.cachePath(id))
	if cerr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, id, err)
	}

	metrics.CatalogRequests.WithLabelValues("disk").Inc()
	c.logger.Warn("version index unreachable, using cached manifest", "version", id, "error", err)
	c.memory.Add(id, cached)
	return cached, nil
}

// Versions lists the game versions of a channel, newest first
func (c *Catalog) Versions(ctx context.Context, ch channel.Channel) ([]string, error) {
	all, err := c.index.Versions(ctx)
	if err == nil {
		if data, merr := json.Marshal(all); merr == nil {
			if werr := os.WriteFile(filepath.Join(c.cacheDir, versionsFile), data, 0644); werr != nil {
				c.logger.Warn("failed to cache version list", "error", werr)
			}
		}
	} else if ctx.Err() != nil {
		return nil, fmt.Errorf("listing versions: %w", ctx.Err())
	} else {
		data, rerr := os.ReadFile(filepath.Join(c.cacheDir, versionsFile))
		if rerr != nil || json.Unmarshal(data, &all) != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		c.logger.Warn("version index unreachable, using cached version list", "error", err)
	}

	out := ch.Filter(all)
	version.SortNewestFirst(out)
	return out, nil
}
