// Package logging builds the slog logger shared by every command.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

const (
	LevelFlag  = "loglevel"
	FormatFlag = "logformat"
)

// RegisterFlags adds --loglevel and --logformat to cmd and its children
func RegisterFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String(LevelFlag, "", "set the log level (debug, info, warn, error); overrides log.level")
	cmd.PersistentFlags().String(FormatFlag, "", "set the log format (text, json); overrides log.format")
}

// ParseLevel converts a level name
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s", name)
}

// New creates a logger writing to w
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	return slog.New(handler), nil
}

// FromCommand creates a logger from the flags of cmd, falling back to the
// configured level and format for flags that were not set
func FromCommand(cmd *cobra.Command, level, format string) (*slog.Logger, error) {
	if f := cmd.Flag(LevelFlag); f != nil && f.Changed {
		level = f.Value.String()
	}
	if f := cmd.Flag(FormatFlag); f != nil && f.Changed {
		format = f.Value.String()
	}
	return New(cmd.ErrOrStderr(), level, format)
}
