package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	"bgrefresh/internal/notifier"
	"bgrefresh/internal/task/scheduler"
	logx "bgrefresh/pkg/logx"
)

// Executor is the handler the host invokes for each refresh run.
type Executor struct {
	sched Rearmer
	disp  Dispatcher
	log   logx.Logger
	bus   eventbus.Bus

	mu     sync.Mutex
	cfg    Config
	work   Work
	parent context.Context
}

func New(cfg Config, sched Rearmer, disp Dispatcher, work Work, log logx.Logger, bus eventbus.Bus) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		sched:  sched,
		disp:   disp,
		work:   work,
		log:    log,
		bus:    bus,
		cfg:    cfg,
		parent: context.Background(),
	}
}

// Start binds in-flight runs to ctx: canceling it winds them down like an expiration.
func (e *Executor) Start(ctx context.Context) {
	if ctx == nil {
		return
	}
	e.mu.Lock()
	e.parent = ctx
	e.mu.Unlock()
}

func (e *Executor) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// SetWork swaps the bounded unit of work. Takes effect on the next run.
func (e *Executor) SetWork(w Work) {
	e.mu.Lock()
	e.work = w
	e.mu.Unlock()
}

// Handle runs one invocation. It never panics and always completes h exactly once.
//
// Order: re-arm, install expiration, work, dispatch, complete.
func (e *Executor) Handle(h host.TaskHandle) {
	e.Run(h)
}

// Run is Handle returning the token, for callers that need the outcome.
func (e *Executor) Run(h host.TaskHandle) *Token {
	e.mu.Lock()
	parent := e.parent
	work := e.work
	grace := e.cfg.WinddownGrace
	e.mu.Unlock()
	if grace <= 0 {
		grace = DefaultWinddownGrace
	}

	runID := uuid.NewString()
	started := time.Now()
	log := e.log.With(logx.String("run", runID), logx.String("task", h.ID()))
	tok := NewToken(h)

	// 1. Re-arm before anything that can block or crash.
	seq := e.sched.BeginRun()
	defer e.sched.EndRun(seq)
	if err := e.sched.Arm(scheduler.ReasonInvocation); err != nil {
		log.Debug("in-run re-arm failed", logx.Err(err))
	}

	ev := RunEvent{RunID: runID, TaskID: h.ID(), Started: started}
	eventbus.Publish(e.bus, eventbus.RefreshStarted, ev)
	log.Info("refresh run started")

	// 2. Expiration cancels the work; it never completes the handle itself
	// unless the work ignores cancellation past the grace window.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	// Once finished is set under expMu the expiration handler is a no-op.
	var (
		expMu      sync.Mutex
		expired    bool
		finished   bool
		graceTimer *time.Timer
	)
	h.SetExpirationHandler(func() {
		expMu.Lock()
		defer expMu.Unlock()
		if finished || expired {
			return
		}
		expired = true
		log.Warn("refresh run expired; winding down", logx.Duration("after", time.Since(started)))
		exp := ev
		exp.Expired = true
		exp.Duration = time.Since(started)
		eventbus.Publish(e.bus, eventbus.RefreshExpired, exp)
		cancel()
		graceTimer = time.AfterFunc(grace, func() {
			if tok.Complete(false) {
				log.Error("work ignored expiration; completed on its behalf", logx.Duration("grace", grace))
			}
		})
	})

	// 3. Bounded work.
	content, err := e.runWork(ctx, work)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	// 4. Dispatch.
	if err == nil {
		ev.NotificationID = e.disp.DispatchContent(content)
	}

	// 5. Complete.
	expMu.Lock()
	finished = true
	wasExpired := expired
	if graceTimer != nil {
		graceTimer.Stop()
	}
	expMu.Unlock()

	if wasExpired && err == nil {
		err = ErrExpired
	}
	if wasExpired && errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %v", ErrExpired, err)
	}
	success := err == nil
	wrote := tok.Complete(success)

	ev.Duration = time.Since(started)
	ev.Success = success
	ev.Expired = wasExpired
	if err != nil {
		ev.Error = err.Error()
	}
	if !wrote {
		// The grace watchdog already reported failure.
		ev.Success = false
	}

	if success {
		log.Info("refresh run completed", logx.Duration("dur", ev.Duration), logx.String("notification", ev.NotificationID))
	} else {
		log.Warn("refresh run failed", logx.Duration("dur", ev.Duration), logx.Bool("expired", ev.Expired), logx.Err(err))
	}
	eventbus.Publish(e.bus, eventbus.RefreshCompleted, ev)
	return tok
}

// runWork contains work failures, including panics, at this boundary.
func (e *Executor) runWork(ctx context.Context, work Work) (c notifier.Content, err error) {
	if work == nil {
		return c, errors.New("no work configured")
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("refresh work panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx)
}
