package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/distantorigin/craftlauncher/internal/catalog"
	"github.com/distantorigin/craftlauncher/internal/channel"
	"github.com/distantorigin/craftlauncher/internal/config"
	"github.com/distantorigin/craftlauncher/internal/download"
	"github.com/distantorigin/craftlauncher/internal/launch"
	"github.com/distantorigin/craftlauncher/internal/logging"
	"github.com/distantorigin/craftlauncher/internal/paths"
	"github.com/distantorigin/craftlauncher/internal/process"
	"github.com/distantorigin/craftlauncher/internal/resolver"
	"github.com/distantorigin/craftlauncher/internal/store"
)

const userAgent = "craftlauncher"

// app holds everything a command needs, wired from the config
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	catalog    *catalog.Catalog
	resolver   *resolver.Resolver
	controller *launch.Controller
	progress   *progressView
}

// lockedWriter serialises writes from the command, the progress display
// and the game process
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// setup loads the config and opens the store. progress enables the
// download progress display on the command's output.
func setup(cmd *cobra.Command, progress bool) (*app, error) {
	cmd.SetOut(&lockedWriter{w: cmd.OutOrStdout()})
	cmd.SetErr(&lockedWriter{w: cmd.ErrOrStderr()})

	path, err := cmd.Flags().GetString(ConfigFlag)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.FromCommand(cmd, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath(), cfg.InstancesDir(), logger)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.New(catalog.NewRemoteIndex(cfg.Catalog.URL, cfg.Catalog.Timeout), cfg.CatalogDir(), cfg.Catalog.CacheSize, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	extra, err := paths.LoadPatterns(cfg.PreserveFile())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to read preserve patterns: %w", err)
	}
	preserve, err := paths.NewMatcher(append(append([]string(nil), cfg.Preserve...), extra...)...)
	if err != nil {
		st.Close()
		return nil, err
	}
	res := resolver.New(resolver.Options{Preserve: preserve, DisableDelta: cfg.Download.DisableDelta})

	engine := download.New(download.NewGrabFetcher(userAgent, 200*time.Millisecond), download.Config{
		Parallelism:    cfg.Download.Parallelism,
		MaxAttempts:    cfg.Download.MaxAttempts,
		InitialBackoff: cfg.Download.InitialBackoff,
		MaxBackoff:     cfg.Download.MaxBackoff,
	}, logger)

	view := newProgressView(cmd.OutOrStdout(), progress)
	ctrl := launch.New(st, cat, res, engine, &process.ExecSpawner{Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}, launch.Options{
		Command: launch.CommandTemplate{
			Executable: cfg.Launch.Executable,
			Args:       cfg.Launch.Args,
			Env:        cfg.Launch.Env,
		},
		OnProgress: view.update,
		Logger:     logger,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		catalog:    cat,
		resolver:   res,
		controller: ctrl,
		progress:   view,
	}, nil
}

// Close stops the progress display and closes the store
func (a *app) Close() error {
	a.progress.stop()
	return a.store.Close()
}

// channel picks the version channel: an explicit flag value first, then
// the remembered channel, then the config
func (a *app) channel(flag string) (channel.Channel, error) {
	if flag != "" {
		return channel.Parse(flag)
	}
	if _, err := os.Stat(filepath.Join(a.cfg.DataDir, channel.ChannelFile)); err == nil {
		return channel.Load(a.cfg.DataDir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return channel.Parse(a.cfg.Channel)
}

// changelogDir is where the summary of the instance's last update is kept
func (a *app) changelogDir(id string) string {
	return filepath.Join(a.cfg.DataDir, "changelogs", id)
}
