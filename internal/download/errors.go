package download

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled is returned when the caller cancels plan execution
	ErrCancelled = errors.New("plan execution cancelled")
	// ErrDeltaBase indicates the installed file no longer matches the base
	// a delta was built against. It is not retried.
	ErrDeltaBase = errors.New("delta base mismatch")
)

// Failure is one path that could not be produced
type Failure struct {
	Path   string
	Reason error
}

// FailureList is returned when at least one task failed permanently
type FailureList struct {
	PlanID   string
	Failures []Failure
}

func (f *FailureList) Error() string {
	parts := make([]string, len(f.Failures))
	for i, fail := range f.Failures {
		parts[i] = fmt.Sprintf("%s: %v", fail.Path, fail.Reason)
	}
	return fmt.Sprintf("plan %s failed for %d path(s): %s", f.PlanID, len(f.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual reasons to errors.Is and errors.As
func (f *FailureList) Unwrap() []error {
	out := make([]error, len(f.Failures))
	for i, fail := range f.Failures {
		out[i] = fail.Reason
	}
	return out
}

// Paths lists the failed paths in failure order
func (f *FailureList) Paths() []string {
	out := make([]string, len(f.Failures))
	for i, fail := range f.Failures {
		out[i] = fail.Path
	}
	return out
}

// Matching lists the failed paths whose reason matches target
func (f *FailureList) Matching(target error) []string {
	var out []string
	for _, fail := range f.Failures {
		if errors.Is(fail.Reason, target) {
			out = append(out, fail.Path)
		}
	}
	return out
}
