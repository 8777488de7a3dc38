// Package launch drives an instance through validation, update and launch.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/distantorigin/craftlauncher/internal/catalog"
	"github.com/distantorigin/craftlauncher/internal/download"
	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/metrics"
	"github.com/distantorigin/craftlauncher/internal/process"
	"github.com/distantorigin/craftlauncher/internal/resolver"
	"github.com/distantorigin/craftlauncher/internal/store"
)

// Catalog resolves the manifest an instance should have
type Catalog interface {
	Resolve(ctx context.Context, q catalog.Query) (*manifest.Manifest, error)
}

// Executor runs update plans
type Executor interface {
	Execute(ctx context.Context, plan *resolver.Plan, scope download.Scope, onProgress download.ProgressFunc) (*download.Result, error)
}

// CommandTemplate is the launch command. Executable, Args and Env may use
// ${game_version}, ${loader}, ${loader_version}, ${version_id},
// ${instance_id}, ${instance_dir} and ${instance_name}.
type CommandTemplate struct {
	Executable string
	Args       []string
	Env        []string
}

// Options configures a Controller
type Options struct {
	Command CommandTemplate
	// OnProgress receives download progress for any instance
	OnProgress func(instanceID string, e download.Event)
	Logger     *slog.Logger
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	mu   sync.Mutex
	proc process.Process
}

func (s *session) process() process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Controller owns the lifecycle of every instance
type Controller struct {
	store    *store.Store
	catalog  Catalog
	resolver *resolver.Resolver
	engine   Executor
	spawner  process.Spawner
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	status   map[string]*Status
	sessions map[string]*session
	subs     map[int]chan Transition
	nextSub  int
}

// New creates a controller
func New(s *store.Store, cat Catalog, res *resolver.Resolver, engine Executor, spawner process.Spawner, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    s,
		catalog:  cat,
		resolver: res,
		engine:   engine,
		spawner:  spawner,
		opts:     opts,
		logger:   logger.With("component", "launch"),
		status:   make(map[string]*Status),
		sessions: make(map[string]*session),
		subs:     make(map[int]chan Transition),
	}
}

// Subscribe streams transitions of every instance. A subscriber that
// does not keep up loses transitions rather than stalling the controller.
func (c *Controller) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Transition, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// State returns a snapshot of the instance's lifecycle
func (c *Controller) State(id string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.status[id]
	if !ok {
		return Status{InstanceID: id, State: Idle}
	}
	out := *st
	if st.Progress != nil {
		p := *st.Progress
		out.Progress = &p
	}
	return out
}

func (c *Controller) transition(id string, to State, err *Error, cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.status[id]
	if !ok {
		st = &Status{InstanceID: id, State: Idle}
		c.status[id] = st
	}
	from := st.State
	if !CanTransition(from, to) {
		c.logger.Error("illegal state transition", "instance", id, "from", from, "to", to)
	}

	st.State = to
	st.Error = err
	st.Cancelled = cancelled
	if to != Updating {
		st.Progress = nil
	}
	if to == Idle {
		st.Pid = 0
	}

	t := Transition{InstanceID: id, From: from, To: to, Error: err, Cancelled: cancelled, At: time.Now()}
	for _, ch := range c.subs {
		select {
		case ch <- t:
		default:
		}
	}
	metrics.Transitions.WithLabelValues(string(to)).Inc()
	c.logger.Debug("state transition", "instance", id, "from", from, "to", to)
}

func (c *Controller) progress(id string) download.ProgressFunc {
	return func(e download.Event) {
		c.mu.Lock()
		if st, ok := c.status[id]; ok {
			st.Progress = &e
		}
		c.mu.Unlock()

		if c.opts.OnProgress != nil {
			c.opts.OnProgress(id, e)
		}
	}
}

// begin takes the instance lease and registers a cancellable session
func (c *Controller) begin(ctx context.Context, id string) (context.Context, *session, func(), error) {
	if _, err := c.store.Get(ctx, id); err != nil {
		return nil, nil, nil, classify(err)
	}

	release, err := c.store.Acquire(id)
	if err != nil {
		if c.State(id).State == Updating {
			return nil, nil, nil, &Error{Kind: KindUpdating, Err: fmt.Errorf("%w: %s", ErrUpdating, id)}
		}
		return nil, nil, nil, classify(err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.sessions[id] = s
	c.mu.Unlock()

	end := func() {
		c.mu.Lock()
		if c.sessions[id] == s {
			delete(c.sessions, id)
		}
		c.mu.Unlock()
		cancel()
		release()
		close(s.done)
	}
	return sctx, s, end, nil
}

// fail moves the instance to Idle and returns the error for the caller
func (c *Controller) fail(id string, s *session, err error) error {
	if isCancellation(err) {
		c.transition(id, Idle, nil, true)
		c.logger.Info("session cancelled", "instance", id)
		s.err = fmt.Errorf("%w: %s", download.ErrCancelled, id)
		return s.err
	}

	e := classify(err)
	s.err = e
	c.transition(id, Idle, e, false)
	c.logger.Error("session failed", "instance", id, "kind", e.Kind, "error", e.Err)
	return e
}

// Sync validates the instance and updates it when needed, without launching
func (c *Controller) Sync(ctx context.Context, id string) error {
	sctx, s, end, err := c.begin(ctx, id)
	if err != nil {
		return err
	}
	defer end()

	if err := c.converge(sctx, id); err != nil {
		return c.fail(id, s, err)
	}
	c.transition(id, Idle, nil, false)
	return nil
}

// Launch validates, updates and starts the instance. It returns once the
// process is running; the exit is observed in the background.
func (c *Controller) Launch(ctx context.Context, id string) error {
	sctx, s, end, err := c.begin(ctx, id)
	if err != nil {
		return err
	}

	if err := c.converge(sctx, id); err != nil {
		defer end()
		return c.fail(id, s, err)
	}

	c.transition(id, Launching, nil, false)
	proc, err := c.start(sctx, id)
	if err != nil {
		metrics.Launches.WithLabelValues(metrics.StatusFailure).Inc()
		defer end()
		return c.fail(id, s, err)
	}
	metrics.Launches.WithLabelValues(metrics.StatusSuccess).Inc()
	metrics.Running.Inc()

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	// A Cancel that ran before proc was stored found nothing to kill
	if sctx.Err() != nil {
		_ = proc.Kill()
	}

	c.mu.Lock()
	if st, ok := c.status[id]; ok {
		st.Pid = proc.Pid()
	}
	c.mu.Unlock()
	c.transition(id, Running, nil, false)

	go func() {
		defer end()
		code, werr := proc.Wait()
		metrics.Running.Dec()
		if werr != nil {
			c.logger.Warn("failed to wait for process", "instance", id, "error", werr)
		}
		c.logger.Info("process exited", "instance", id, "code", code)
		c.transition(id, Idle, nil, sctx.Err() != nil)
	}()
	return nil
}

// Wait blocks until the instance's current session ends and returns its
// error. It returns nil at once when there is no session.
func (c *Controller) Wait(id string) error {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	<-s.done
	return s.err
}

// Cancel aborts an in-flight update, or stops the process if it is running
func (c *Controller) Cancel(id string) error {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}

	s.cancel()
	if p := s.process(); p != nil {
		return p.Kill()
	}
	return nil
}

// Shutdown cancels every session and waits for them to end
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	active := make(map[string]*session, len(c.sessions))
	for id, s := range c.sessions {
		active[id] = s
	}
	c.mu.Unlock()

	for id := range active {
		_ = c.Cancel(id)
	}
	for _, s := range active {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// converge validates the instance and runs at most one update, then
// re-plans once to confirm the instance matches its target. It leaves the
// instance in Ready.
func (c *Controller) converge(ctx context.Context, id string) error {
	for round := 0; ; round++ {
		c.transition(id, Validating, nil, false)

		inst, err := c.store.Get(ctx, id)
		if err != nil {
			return err
		}
		target, err := c.catalog.Resolve(ctx, catalog.Query{
			GameVersion:   inst.GameVersion,
			Loader:        inst.Loader,
			LoaderVersion: inst.LoaderVersion,
		})
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return fmt.Errorf("validating %s: %w", id, cerr)
			}
			return err
		}
		plan, err := c.resolver.Plan(inst, target)
		if err != nil {
			return err
		}

		if plan.Empty() {
			if err := c.settle(ctx, inst, plan); err != nil {
				return err
			}
			if round == 0 {
				c.transition(id, UpToDate, nil, false)
			}
			c.transition(id, Ready, nil, false)
			return nil
		}
		if round > 0 {
			return fmt.Errorf("%w: %s", ErrNotConverged, plan)
		}

		c.transition(id, Updating, nil, false)
		if err := c.update(ctx, inst, plan); err != nil {
			return err
		}
	}
}

// settle records an empty plan's target as installed when the record
// does not say so yet
func (c *Controller) settle(ctx context.Context, inst *store.Instance, plan *resolver.Plan) error {
	if !inst.Updating && inst.InstalledVersion == plan.Target.ID {
		return nil
	}
	_, err := c.store.Update(ctx, inst.ID, func(i *store.Instance) error {
		i.Manifest = plan.Installed(i.Manifest)
		i.InstalledVersion = plan.Target.ID
		i.Updating = false
		return nil
	})
	return err
}

// update executes the plan. The record is flagged Updating for the whole
// run and only cleared once every task verified.
func (c *Controller) update(ctx context.Context, inst *store.Instance, plan *resolver.Plan) error {
	log := c.logger.With("instance", inst.ID, "plan", plan.ID)
	log.Info("updating instance", "from", plan.From, "to", plan.Target.ID, "tasks", len(plan.Tasks), "bytes", plan.TotalBytes())

	if _, err := c.store.Update(ctx, inst.ID, func(i *store.Instance) error {
		i.Updating = true
		return nil
	}); err != nil {
		return err
	}

	scope, err := c.store.Scope(inst.ID, plan.ID)
	if err != nil {
		return err
	}
	defer scope.Close()

	result, execErr := c.engine.Execute(ctx, plan, scope, c.progress(inst.ID))

	// Record what happened even when the caller has gone away
	wctx := context.WithoutCancel(ctx)
	if execErr == nil {
		_, err := c.store.Update(wctx, inst.ID, func(i *store.Instance) error {
			i.Manifest = plan.Installed(i.Manifest)
			i.InstalledVersion = plan.Target.ID
			i.Updating = false
			return nil
		})
		return err
	}

	if _, err := c.store.Update(wctx, inst.ID, func(i *store.Instance) error {
		mergePartial(i, plan, result, execErr)
		return nil
	}); err != nil {
		log.Error("failed to record partial update", "error", err)
	}
	return execErr
}

// mergePartial folds the work of a failed run into the record so the
// next plan only covers what is still missing
func mergePartial(i *store.Instance, plan *resolver.Plan, result *download.Result, execErr error) {
	if i.Manifest == nil {
		i.Manifest = manifest.Installed{}
	}
	i.Updating = true
	if result == nil {
		return
	}

	for _, p := range result.Completed {
		if f, ok := plan.Target.Lookup(p); ok {
			i.Manifest[p] = manifest.Entry{Hash: f.Hash, Size: f.Size}
		}
	}
	for _, p := range result.Removed {
		delete(i.Manifest, p)
	}

	var failures *download.FailureList
	if errors.As(execErr, &failures) {
		for _, p := range failures.Matching(download.ErrDeltaBase) {
			delete(i.Manifest, p)
		}
	}
}

// start builds the launch command from the template and spawns it
func (c *Controller) start(ctx context.Context, id string) (process.Process, error) {
	inst, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Updating {
		return nil, fmt.Errorf("%w: %s", ErrUpdating, id)
	}
	if c.opts.Command.Executable == "" {
		return nil, fmt.Errorf("%w: no launch command configured", process.ErrStart)
	}

	dir := c.store.Dir(id)
	vars := map[string]string{
		"game_version":   inst.GameVersion,
		"loader":         string(inst.Loader),
		"loader_version": inst.LoaderVersion,
		"version_id":     inst.VersionID(),
		"instance_id":    inst.ID,
		"instance_dir":   dir,
		"instance_name":  inst.Name,
	}
	cmd := process.Build(c.opts.Command.Executable, c.opts.Command.Args, dir, vars)
	for _, e := range c.opts.Command.Env {
		cmd.Env = append(cmd.Env, process.Expand(e, vars))
	}

	proc, err := c.spawner.Start(ctx, cmd)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("starting %s: %w", id, cerr)
		}
		if !errors.Is(err, process.ErrStart) {
			err = fmt.Errorf("%w: %v", process.ErrStart, err)
		}
		return nil, err
	}
	if cerr := ctx.Err(); cerr != nil {
		_ = proc.Kill()
		_, _ = proc.Wait()
		return nil, fmt.Errorf("starting %s: %w", id, cerr)
	}

	if _, err := c.store.Update(context.WithoutCancel(ctx), id, func(i *store.Instance) error {
		i.LastPlayed = time.Now().UTC()
		return nil
	}); err != nil {
		c.logger.Warn("failed to record last played", "instance", id, "error", err)
	}
	c.logger.Info("process started", "instance", id, "pid", proc.Pid(), "command", cmd.String())
	return proc, nil
}
