package launch

import (
	"context"
	"errors"
	"fmt"

	"github.com/distantorigin/craftlauncher/internal/catalog"
	"github.com/distantorigin/craftlauncher/internal/download"
	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/process"
	"github.com/distantorigin/craftlauncher/internal/store"
)

var (
	// ErrUpdating indicates a launch was refused because the instance is
	// being updated or its last update did not complete
	ErrUpdating = errors.New("instance is updating")
	// ErrNotConverged indicates the plan was still not empty after an update
	ErrNotConverged = errors.New("update did not converge")
	// ErrNoSession indicates there is nothing to cancel
	ErrNoSession = errors.New("no active session")
)

// ErrorKind classifies why a session ended
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindCatalogUnavailable ErrorKind = "catalog_unavailable"
	KindInvalidManifest    ErrorKind = "invalid_manifest"
	KindDownload           ErrorKind = "download_failed"
	KindProcessStart       ErrorKind = "process_start"
	KindBusy               ErrorKind = "busy"
	KindUpdating           ErrorKind = "updating"
	KindNotConverged       ErrorKind = "not_converged"
	KindInternal           ErrorKind = "internal"
)

// Error is the failure carried by a transition to Idle
type Error struct {
	Kind  ErrorKind `json:"kind"`
	Paths []string  `json:"paths,omitempty"`
	Err   error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the human readable cause, used when the error is serialised
func (e *Error) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// isCancellation reports errors that end a session without failing it
func isCancellation(err error) bool {
	return errors.Is(err, download.ErrCancelled) || errors.Is(err, context.Canceled)
}

// classify maps a package error onto an Error; nil stays nil
func classify(err error) *Error {
	if err == nil {
		return nil
	}

	var launchErr *Error
	if errors.As(err, &launchErr) {
		return launchErr
	}

	var failures *download.FailureList
	switch {
	case errors.As(err, &failures):
		return &Error{Kind: KindDownload, Paths: failures.Paths(), Err: err}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return &Error{Kind: KindNotFound, Err: err}
	case errors.Is(err, catalog.ErrUnavailable):
		return &Error{Kind: KindCatalogUnavailable, Err: err}
	case errors.Is(err, manifest.ErrInvalid):
		return &Error{Kind: KindInvalidManifest, Err: err}
	case errors.Is(err, process.ErrStart):
		return &Error{Kind: KindProcessStart, Err: err}
	case errors.Is(err, store.ErrBusy):
		return &Error{Kind: KindBusy, Err: err}
	case errors.Is(err, ErrUpdating):
		return &Error{Kind: KindUpdating, Err: err}
	case errors.Is(err, ErrNotConverged):
		return &Error{Kind: KindNotConverged, Err: err}
	}
	return &Error{Kind: KindInternal, Err: err}
}
