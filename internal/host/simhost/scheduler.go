package simhost

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bgrefresh/internal/host"
	"bgrefresh/internal/runtime/supervisor"
	logx "bgrefresh/pkg/logx"
)

const (
	DefaultMaxPending = 10
	DefaultTimeBudget = 30 * time.Second
	// DefaultKillGrace is how long an expired invocation may run before the
	// host gives up on it and frees the slot without a completion.
	DefaultKillGrace = 10 * time.Second

	busyRetry = time.Second
)

var (
	ErrNoPending  = errors.New("no pending request for task")
	ErrNotStarted = errors.New("scheduler not started")
)

type SchedulerConfig struct {
	// PermittedIDs is the static list of task identifiers the app declared.
	PermittedIDs []string
	MaxPending   int
	TimeBudget   time.Duration
	LaunchJitter time.Duration
	KillGrace    time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = DefaultTimeBudget
	}
	if c.LaunchJitter < 0 {
		c.LaunchJitter = 0
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	return c
}

// SchedulerStats counts what the host observed.
type SchedulerStats struct {
	Submitted uint64
	Replaced  uint64
	Rejected  uint64
	Launched  uint64
	Expired   uint64
	Completed uint64
	Succeeded uint64
	Killed    uint64
	// Misuse counts extra SetTaskCompleted calls on one handle.
	Misuse uint64
}

type pendingRun struct {
	req   host.RunRequest
	at    time.Time
	entry cron.EntryID
}

// Scheduler implements host.TaskScheduler.
type Scheduler struct {
	log logx.Logger
	c   *cron.Cron
	sup *supervisor.Supervisor

	mu        sync.Mutex
	cfg       SchedulerConfig
	permitted map[string]bool
	handlers  map[string]func(host.TaskHandle)
	launched  bool
	pending   map[string]*pendingRun
	inflight  map[string]*taskHandle
	stats     SchedulerStats
	rng       *rand.Rand
}

func NewScheduler(cfg SchedulerConfig, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Scheduler{
		log:      log,
		cfg:      cfg,
		handlers: map[string]func(host.TaskHandle){},
		pending:  map[string]*pendingRun{},
		inflight: map[string]*taskHandle{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.permitted = permittedSet(cfg.PermittedIDs)
	return s
}

func permittedSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Start runs the launch loop. Requests submitted before Start become eligible once it runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(s.log))
	s.c = cron.New(cron.WithLocation(time.Local))
	for id, p := range s.pending {
		s.scheduleLocked(id, p)
	}
	s.c.Start()
	s.log.Info("simulated task scheduler started", logx.Int("pending", len(s.pending)))
}

// Stop halts launches and waits for in-flight handlers until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	for _, h := range s.inflight {
		h.stopTimers()
	}
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	return sup.Stop(ctx)
}

// Apply updates the host limits. Pending requests keep their launch time.
func (s *Scheduler) Apply(cfg SchedulerConfig) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.permitted = permittedSet(cfg.PermittedIDs)
}

func (s *Scheduler) Register(id string, handler func(host.TaskHandle)) error {
	if handler == nil {
		return fmt.Errorf("register %s: nil handler", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.permitted[id]:
		return fmt.Errorf("%w: %s", host.ErrNotPermitted, id)
	case s.launched:
		return host.ErrRegistrationClosed
	case s.handlers[id] != nil:
		return host.ErrAlreadyRegistered
	}
	s.handlers[id] = handler
	s.log.Debug("task handler registered", logx.String("task", id))
	return nil
}

// FinishLaunching seals registration, like the end of app launch.
func (s *Scheduler) FinishLaunching() {
	s.mu.Lock()
	s.launched = true
	s.mu.Unlock()
}

func (s *Scheduler) Submit(req host.RunRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Submitted++
	switch {
	case !s.permitted[req.TaskID]:
		s.stats.Rejected++
		return fmt.Errorf("%w: %s", host.ErrNotPermitted, req.TaskID)
	case s.handlers[req.TaskID] == nil:
		s.stats.Rejected++
		return host.ErrUnregistered
	}

	if old, ok := s.pending[req.TaskID]; ok {
		s.removeEntryLocked(old)
		s.stats.Replaced++
	} else if len(s.pending) >= s.cfg.MaxPending {
		s.stats.Rejected++
		return host.ErrTooManyPending
	}

	at := req.EarliestBegin
	if s.cfg.LaunchJitter > 0 {
		at = at.Add(time.Duration(s.rng.Int63n(int64(s.cfg.LaunchJitter))))
	}
	p := &pendingRun{req: req, at: at}
	s.pending[req.TaskID] = p
	if s.c != nil {
		s.scheduleLocked(req.TaskID, p)
	}
	s.log.Debug("run request accepted", logx.String("task", req.TaskID), logx.Time("launch_at", at))
	return nil
}

// Pending returns the request waiting for id, if any.
func (s *Scheduler) Pending(id string) (host.RunRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return host.RunRequest{}, false
	}
	return p.req, true
}

// Trigger launches the pending request for id now, ignoring its earliest begin time.
func (s *Scheduler) Trigger(id string) error {
	s.mu.Lock()
	started := s.c != nil
	p, ok := s.pending[id]
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPending, id)
	}
	s.launch(id, p)
	return nil
}

func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// InFlight reports whether an invocation of id is running.
func (s *Scheduler) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id] != nil
}

func (s *Scheduler) scheduleLocked(id string, p *pendingRun) {
	at := p.at
	if now := time.Now(); at.Before(now) {
		at = now
	}
	p.entry = s.c.Schedule(newOneShot(at), cron.FuncJob(func() { s.launch(id, p) }))
}

func (s *Scheduler) removeEntryLocked(p *pendingRun) {
	if s.c != nil && p.entry != 0 {
		s.c.Remove(p.entry)
	}
}

// launch consumes the pending request p for id and invokes its handler.
// A request replaced since p was scheduled is ignored.
func (s *Scheduler) launch(id string, p *pendingRun) {
	s.mu.Lock()
	if s.pending[id] != p || s.c == nil {
		s.mu.Unlock()
		return
	}
	s.removeEntryLocked(p)
	if s.inflight[id] != nil {
		// One invocation per identifier; retry once the slot frees up.
		p.at = time.Now().Add(busyRetry)
		s.scheduleLocked(id, p)
		s.mu.Unlock()
		s.log.Debug("launch deferred; invocation in flight", logx.String("task", id))
		return
	}
	delete(s.pending, id)
	handler := s.handlers[id]
	h := &taskHandle{id: id, s: s, started: time.Now()}
	s.inflight[id] = h
	s.stats.Launched++
	budget, kill := s.cfg.TimeBudget, s.cfg.KillGrace
	sup := s.sup
	s.mu.Unlock()

	s.log.Info("launching background task", logx.String("task", id), logx.Duration("budget", budget))
	h.armBudget(budget, kill)
	sup.Go0("task."+id, func(context.Context) { handler(h) })
}

func (s *Scheduler) finish(h *taskHandle, success bool) {
	s.mu.Lock()
	if s.inflight[h.id] == h {
		delete(s.inflight, h.id)
	}
	s.stats.Completed++
	if success {
		s.stats.Succeeded++
	}
	s.mu.Unlock()
	s.log.Info("background task completed", logx.String("task", h.id), logx.Bool("success", success), logx.Duration("dur", time.Since(h.started)))
}

func (s *Scheduler) expired() {
	s.mu.Lock()
	s.stats.Expired++
	s.mu.Unlock()
}

func (s *Scheduler) kill(h *taskHandle) {
	s.mu.Lock()
	if s.inflight[h.id] == h {
		delete(s.inflight, h.id)
	}
	s.stats.Killed++
	s.mu.Unlock()
	s.log.Error("background task never completed; terminated", logx.String("task", h.id), logx.Duration("dur", time.Since(h.started)))
}

func (s *Scheduler) misuse(h *taskHandle) {
	s.mu.Lock()
	s.stats.Misuse++
	s.mu.Unlock()
	s.log.Warn("task completed more than once", logx.String("task", h.id))
}

// taskHandle implements host.TaskHandle for one invocation.
type taskHandle struct {
	id      string
	s       *Scheduler
	started time.Time

	mu        sync.Mutex
	onExpire  func()
	expired   bool
	completed bool
	killed    bool
	budget    *time.Timer
	killTimer *time.Timer
}

func (h *taskHandle) ID() string { return h.id }

func (h *taskHandle) SetExpirationHandler(fn func()) {
	h.mu.Lock()
	h.onExpire = fn
	h.mu.Unlock()
}

func (h *taskHandle) SetTaskCompleted(success bool) {
	h.mu.Lock()
	if h.completed || h.killed {
		h.mu.Unlock()
		h.s.misuse(h)
		return
	}
	h.completed = true
	h.stopTimersLocked()
	h.mu.Unlock()
	h.s.finish(h, success)
}

func (h *taskHandle) armBudget(budget, kill time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.budget = time.AfterFunc(budget, func() { h.expire(kill) })
}

// expire fires the expiration handler at most once.
func (h *taskHandle) expire(kill time.Duration) {
	h.mu.Lock()
	if h.expired || h.completed {
		h.mu.Unlock()
		return
	}
	h.expired = true
	fn := h.onExpire
	h.killTimer = time.AfterFunc(kill, h.terminate)
	h.mu.Unlock()

	h.s.expired()
	h.s.log.Warn("background task time budget exhausted", logx.String("task", h.id))
	if fn != nil {
		fn()
	}
}

func (h *taskHandle) terminate() {
	h.mu.Lock()
	if h.completed || h.killed {
		h.mu.Unlock()
		return
	}
	h.killed = true
	h.mu.Unlock()
	h.s.kill(h)
}

func (h *taskHandle) stopTimers() {
	h.mu.Lock()
	h.stopTimersLocked()
	h.mu.Unlock()
}

func (h *taskHandle) stopTimersLocked() {
	if h.budget != nil {
		h.budget.Stop()
	}
	if h.killTimer != nil {
		h.killTimer.Stop()
	}
}
