package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/distantorigin/craftlauncher/internal/delta"
	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/metrics"
	"github.com/distantorigin/craftlauncher/internal/paths"
	"github.com/distantorigin/craftlauncher/internal/resolver"
)

// Scope is the part of a plan scope the engine writes through
type Scope interface {
	StagingPath(rel string) (string, error)
	CreateStaged(rel string) (*os.File, error)
	OpenInstalled(rel string) (*os.File, error)
	Release(f *os.File) error
	Commit(rel string) error
	Delete(rel string) error
}

// Config controls parallelism and retries
type Config struct {
	Parallelism    int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the stock engine settings
func DefaultConfig() Config {
	return Config{
		Parallelism:    4,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

// Backoff is the delay before the retry following the given attempt (1-based)
func (c Config) Backoff(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return min(d, c.MaxBackoff)
}

// Result describes what an execution achieved, including partial work
// when it failed
type Result struct {
	PlanID string
	// Completed lists the paths verified and committed, in completion order
	Completed []string
	// Removed lists the removals applied
	Removed []string
	// Skipped lists tasks that never started
	Skipped []string
	// BytesCompleted sums the sizes of the Completed tasks. Bytes fetched
	// for tasks that later failed are not counted.
	BytesCompleted int64
	BytesTotal     int64
	Duration       time.Duration
}

// Engine executes update plans
type Engine struct {
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

// Option customises an Engine
type Option func(*Engine)

// WithSleep replaces the backoff sleep, letting tests run without delays
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// New creates an engine
func New(fetcher Fetcher, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "download"),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs every task of the plan and, once all of them verified,
// applies the plan's removals. On a permanent task failure tasks that have
// not started are abandoned, running tasks finish, and a *FailureList is
// returned. Cancelling ctx returns ErrCancelled. The returned Result is
// never nil.
func (e *Engine) Execute(ctx context.Context, plan *resolver.Plan, scope Scope, onProgress ProgressFunc) (*Result, error) {
	start := time.Now()
	total := plan.TotalBytes()
	progress := newTracker(plan.ID, total, onProgress)
	result := &Result{PlanID: plan.ID, BytesTotal: total}

	log := e.logger.With("plan", plan.ID, "instance", plan.InstanceID)
	log.Info("executing plan", "tasks", len(plan.Tasks), "removals", len(plan.Removals), "bytes", total)

	for _, task := range plan.Tasks {
		progress.state(task, TaskQueued)
	}

	// stop prevents new tasks from starting; running tasks keep ctx
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		mu       sync.Mutex
		failures []Failure
		wg       sync.WaitGroup
	)
	sem := semaphore.NewWeighted(int64(e.cfg.Parallelism))

	for i, task := range plan.Tasks {
		if err := sem.Acquire(stopCtx, 1); err != nil || stopCtx.Err() != nil {
			if err == nil {
				sem.Release(1)
			}
			for _, rest := range plan.Tasks[i:] {
				result.Skipped = append(result.Skipped, rest.Path)
			}
			break
		}

		wg.Add(1)
		go func(task resolver.Task) {
			defer wg.Done()
			defer sem.Release(1)

			err := e.runTask(ctx, task, scope, progress, log)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Completed = append(result.Completed, task.Path)
			case ctx.Err() != nil:
				// Cancellation is reported for the plan, not per task
			default:
				failures = append(failures, Failure{Path: task.Path, Reason: err})
				stop()
			}
		}(task)
	}
	wg.Wait()

	result.BytesCompleted = progress.completed()
	result.Duration = time.Since(start)

	if ctx.Err() != nil {
		log.Warn("plan cancelled", "completed", len(result.Completed))
		e.observe(metrics.StatusCancelled, start)
		return result, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	if len(failures) == 0 {
		for _, rel := range plan.Removals {
			if err := scope.Delete(rel); err != nil {
				failures = append(failures, Failure{Path: rel, Reason: err})
				continue
			}
			result.Removed = append(result.Removed, rel)
		}
	}

	if len(failures) > 0 {
		for _, f := range failures {
			log.Error("task failed", "path", f.Path, "error", f.Reason)
		}
		e.observe(metrics.StatusFailure, start)
		return result, &FailureList{PlanID: plan.ID, Failures: failures}
	}

	log.Info("plan complete", "files", len(result.Completed), "removed", len(result.Removed), "duration", result.Duration)
	e.observe(metrics.StatusSuccess, start)
	return result, nil
}

func (e *Engine) observe(status string, start time.Time) {
	metrics.PlanExecutions.WithLabelValues(status).Inc()
	metrics.PlanDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// runTask retries one task until it verifies, fails permanently or runs
// out of attempts. Transport errors resume from the bytes already staged;
// a hash mismatch starts over.
func (e *Engine) runTask(ctx context.Context, task resolver.Task, scope Scope, progress *tracker, log *slog.Logger) error {
	var (
		offset  int64
		lastErr error
	)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		metrics.DownloadAttempts.WithLabelValues(string(task.Kind)).Inc()

		var err error
		offset, err = e.attempt(ctx, task, scope, offset, progress)
		if err == nil {
			progress.advance(task, task.Size, TaskDone)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrDeltaBase) {
			break
		}

		reason := "transport"
		if errors.Is(err, manifest.ErrHashMismatch) {
			reason = "hash"
			offset = 0
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		metrics.DownloadRetries.WithLabelValues(reason).Inc()
		backoff := e.cfg.Backoff(attempt)
		log.Warn("retrying task", "path", task.Path, "attempt", attempt, "backoff", backoff, "error", err)
		progress.state(task, TaskRetrying)
		if err := e.sleep(ctx, backoff); err != nil {
			return err
		}
	}

	reason := "exhausted"
	if errors.Is(lastErr, ErrDeltaBase) {
		reason = "delta_base"
	}
	metrics.DownloadFailures.WithLabelValues(reason).Inc()
	progress.state(task, TaskFailed)
	return lastErr
}

// attempt performs one fetch-verify-commit pass. It returns the offset a
// following attempt may resume from.
func (e *Engine) attempt(ctx context.Context, task resolver.Task, scope Scope, offset int64, progress *tracker) (int64, error) {
	switch task.Kind {
	case resolver.KindDelta:
		return e.attemptDelta(ctx, task, scope, offset, progress)
	default:
		return e.attemptFull(ctx, task, scope, offset, progress)
	}
}

// fetch downloads into the staged file rel and returns how many bytes
// are present afterwards
func (e *Engine) fetch(ctx context.Context, task resolver.Task, rel string, scope Scope, offset int64, progress *tracker) (string, int64, error) {
	dst, err := scope.StagingPath(rel)
	if err != nil {
		return "", 0, err
	}

	progress.state(task, TaskFetching)
	var received int64
	err = e.fetcher.Fetch(ctx, task.URL, dst, offset, func(n int64) {
		if n > offset+received {
			metrics.DownloadBytes.Add(float64(n - offset - received))
			received = n - offset
		}
		progress.advance(task, n, TaskFetching)
	})

	if err != nil {
		present := int64(0)
		if info, serr := os.Stat(dst); serr == nil {
			present = info.Size()
		}
		return dst, present, err
	}
	return dst, 0, nil
}

func (e *Engine) attemptFull(ctx context.Context, task resolver.Task, scope Scope, offset int64, progress *tracker) (int64, error) {
	dst, present, err := e.fetch(ctx, task, task.Path, scope, offset, progress)
	if err != nil {
		return present, err
	}

	progress.state(task, TaskVerifying)
	if err := manifest.VerifyFile(ctx, dst, task.Hash); err != nil {
		return 0, err
	}
	return 0, scope.Commit(task.Path)
}

func (e *Engine) attemptDelta(ctx context.Context, task resolver.Task, scope Scope, offset int64, progress *tracker) (int64, error) {
	base, err := e.readBase(ctx, task, scope)
	if err != nil {
		return 0, err
	}

	patchRel := path.Join(paths.PatchDir, task.Path)
	patchPath, present, err := e.fetch(ctx, task, patchRel, scope, offset, progress)
	if err != nil {
		return present, err
	}

	progress.state(task, TaskVerifying)
	if err := manifest.VerifyFile(ctx, patchPath, task.ArtifactHash); err != nil {
		return 0, err
	}

	if err := e.applyPatch(ctx, task, scope, base, patchPath); err != nil {
		return 0, err
	}
	_ = os.Remove(patchPath)

	dst, err := scope.StagingPath(task.Path)
	if err != nil {
		return 0, err
	}
	if err := manifest.VerifyFile(ctx, dst, task.Hash); err != nil {
		return 0, err
	}
	return 0, scope.Commit(task.Path)
}

// readBase loads the installed file a delta patches, checking that it is
// the file the delta was built against
func (e *Engine) readBase(ctx context.Context, task resolver.Task, scope Scope) ([]byte, error) {
	f, err := scope.OpenInstalled(task.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeltaBase, err)
	}
	defer scope.Release(f)

	got, _, err := manifest.Compute(ctx, f, task.BaseHash.Algorithm())
	if err != nil {
		return nil, err
	}
	if got != task.BaseHash {
		return nil, fmt.Errorf("%w: installed %s, delta expects %s", ErrDeltaBase, got, task.BaseHash)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

func (e *Engine) applyPatch(ctx context.Context, task resolver.Task, scope Scope, base []byte, patchPath string) error {
	patch, err := os.Open(patchPath)
	if err != nil {
		return err
	}
	defer patch.Close()

	out, err := scope.CreateStaged(task.Path)
	if err != nil {
		return err
	}
	defer scope.Release(out)

	if _, err := delta.Apply(ctx, base, patch, out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A verified patch that does not apply means the output is unusable
		return fmt.Errorf("%w: %v", manifest.ErrHashMismatch, err)
	}
	return out.Sync()
}
