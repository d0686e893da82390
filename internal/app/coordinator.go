package app

import (
	"context"
	"errors"
	"sync"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	"bgrefresh/internal/notifier"
	"bgrefresh/internal/runtime/supervisor"
	"bgrefresh/internal/task/executor"
	"bgrefresh/internal/task/scheduler"
	logx "bgrefresh/pkg/logx"
)

// Launcher is the host hook that seals task registration.
// Satisfied by *simhost.Scheduler.
type Launcher interface {
	FinishLaunching()
}

// Coordinator wires the permission gate, scheduler, executor and dispatcher
// to the app lifecycle hooks.
type Coordinator struct {
	Gate       *notifier.Gate
	Policy     *notifier.Policy
	Dispatcher *notifier.Dispatcher
	Scheduler  *scheduler.Service
	Executor   *executor.Executor

	launcher Launcher
	log      logx.Logger

	mu       sync.Mutex
	authOpts host.AuthorizationOptions
	launched bool
}

// CoordinatorDeps are the host side of the coordinator.
type CoordinatorDeps struct {
	Tasks    host.TaskScheduler
	Center   host.NotificationCenter
	Launcher Launcher
	Log      logx.Logger
	Bus      eventbus.Bus
}

// Settings are the hot-reloadable knobs of the coordinator.
type Settings struct {
	Scheduler scheduler.Config
	Executor  executor.Config
	Content   notifier.Content
	AuthOpts  host.AuthorizationOptions
}

func NewCoordinator(deps CoordinatorDeps, st Settings) *Coordinator {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	policy := notifier.NewPolicy(deps.Center.Capabilities(), log.With(logx.String("comp", "presentation")), deps.Bus)
	gate := notifier.NewGate(deps.Center, policy, log.With(logx.String("comp", "permission")), deps.Bus)
	disp := notifier.NewDispatcher(deps.Center, gate, log.With(logx.String("comp", "dispatcher")), deps.Bus)
	sched := scheduler.New(st.Scheduler, deps.Tasks, log.With(logx.String("comp", "scheduler")), deps.Bus)
	exec := executor.New(st.Executor, sched, disp, executor.StaticWork(st.Content), log.With(logx.String("comp", "executor")), deps.Bus)

	return &Coordinator{
		Gate:       gate,
		Policy:     policy,
		Dispatcher: disp,
		Scheduler:  sched,
		Executor:   exec,
		launcher:   deps.Launcher,
		log:        log.With(logx.String("comp", "coordinator")),
		authOpts:   st.AuthOpts,
	}
}

// DidFinishLaunching registers the refresh task and requests notification
// permission concurrently. The permission request runs on sup and may outlive
// this call; registration completes before the host seals launch.
func (c *Coordinator) DidFinishLaunching(ctx context.Context, sup *supervisor.Supervisor) error {
	c.mu.Lock()
	if c.launched {
		c.mu.Unlock()
		return errors.New("already launched")
	}
	c.launched = true
	opts := c.authOpts
	c.mu.Unlock()

	c.Executor.Start(ctx)
	c.Gate.InstallDelegate()
	sup.Go0("permission.request", func(pctx context.Context) {
		c.Gate.RequestAuthorization(pctx, opts)
	})

	err := c.Scheduler.Register(c.Executor.Handle)
	if c.launcher != nil {
		c.launcher.FinishLaunching()
	}
	if err != nil {
		// Refresh is unavailable for this process lifetime; the app keeps running.
		c.log.Error("background refresh unavailable", logx.Err(err))
		return err
	}
	c.log.Info("launch complete", logx.String("task", c.Scheduler.TaskID()))
	return nil
}

// DidEnterBackground arms the next refresh run. Failures are logged and
// retried by the next natural trigger.
func (c *Coordinator) DidEnterBackground() {
	if err := c.Scheduler.Arm(scheduler.ReasonBackground); err != nil {
		c.log.Debug("background re-arm failed", logx.Err(err))
	}
}

// WillEnterForeground is a lifecycle hook with no scheduling side effect.
// The pending request stays armed.
func (c *Coordinator) WillEnterForeground() {
	snap := c.Scheduler.Snapshot()
	c.log.Debug("entering foreground", logx.String("state", snap.State.String()), logx.Bool("armed", snap.Armed))
}

// Apply pushes reloaded settings to the components.
func (c *Coordinator) Apply(st Settings, caps host.Capabilities) {
	c.Scheduler.Apply(st.Scheduler)
	c.Executor.Apply(st.Executor)
	c.Executor.SetWork(executor.StaticWork(st.Content))
	c.Policy.Apply(caps)
	c.mu.Lock()
	c.authOpts = st.AuthOpts
	c.mu.Unlock()
}
