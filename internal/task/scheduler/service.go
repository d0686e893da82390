package scheduler

import (
	"fmt"
	"strings"
	"time"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	logx "bgrefresh/pkg/logx"
)

func New(cfg Config, hs host.TaskScheduler, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg.withDefaults(),
		host: hs,
		log:  log,
		bus:  bus,
		now:  time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Apply updates the minimum interval at runtime. The task identifier is fixed
// once registered; a changed identifier is ignored until restart.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.TaskID != s.cfg.TaskID && s.state != StateUnregistered {
		s.log.Warn("task id change ignored until restart", logx.String("current", s.cfg.TaskID), logx.String("requested", cfg.TaskID))
		cfg.TaskID = s.cfg.TaskID
	}
	if cfg.MinInterval != s.cfg.MinInterval {
		s.log.Info("min interval updated", logx.Duration("from", s.cfg.MinInterval), logx.Duration("to", cfg.MinInterval))
	}
	s.cfg = cfg
}

func (s *Service) TaskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.TaskID
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Register hands the task handler to the host. It must run exactly once per
// process, before launch completes; it does not schedule a run.
func (s *Service) Register(handler func(host.TaskHandle)) error {
	if handler == nil {
		return fmt.Errorf("register: nil handler")
	}
	s.mu.Lock()
	if s.state != StateUnregistered {
		s.mu.Unlock()
		return host.ErrAlreadyRegistered
	}
	id := s.cfg.TaskID
	s.mu.Unlock()

	if err := s.host.Register(id, handler); err != nil {
		s.log.Error("task registration failed", logx.String("task", id), logx.Err(err))
		return fmt.Errorf("register %s: %w", id, err)
	}

	s.mu.Lock()
	s.state = StateRegistered
	s.mu.Unlock()

	s.log.Info("task registered", logx.String("task", id))
	eventbus.Publish(s.bus, eventbus.RefreshRegistered, ArmEvent{TaskID: id, At: time.Now()})
	return nil
}

// Arm submits a run request for now + MinInterval.
func (s *Service) Arm(reason string) error {
	s.mu.Lock()
	req := host.RunRequest{TaskID: s.cfg.TaskID, EarliestBegin: s.now().Add(s.cfg.MinInterval)}
	s.mu.Unlock()
	return s.submit(req, reason)
}

// Submit submits an explicit run request. EarliestBegin is raised to the
// minimum floor (now + MinInterval) if it is earlier.
func (s *Service) Submit(req host.RunRequest) error {
	return s.submit(req, "explicit")
}

// Normalize applies the task identifier default and the earliest-begin floor.
func (s *Service) Normalize(req host.RunRequest) host.RunRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return normalize(req, s.cfg, s.now())
}

func normalize(req host.RunRequest, cfg Config, now time.Time) host.RunRequest {
	if strings.TrimSpace(req.TaskID) == "" {
		req.TaskID = cfg.TaskID
	}
	floor := now.Add(cfg.MinInterval)
	if req.EarliestBegin.Before(floor) {
		req.EarliestBegin = floor
	}
	return req
}

func (s *Service) submit(req host.RunRequest, reason string) error {
	s.mu.Lock()
	req = normalize(req, s.cfg, s.now())
	state := s.state
	taskID := s.cfg.TaskID
	s.mu.Unlock()

	var err error
	switch {
	case req.TaskID != taskID:
		err = fmt.Errorf("%w: %q", ErrTaskIDMismatch, req.TaskID)
	case state == StateUnregistered:
		err = host.ErrUnregistered
	default:
		err = s.host.Submit(req)
	}

	now := time.Now()
	ev := ArmEvent{TaskID: req.TaskID, Reason: reason, EarliestBegin: req.EarliestBegin, At: now}

	s.mu.Lock()
	s.submits++
	if err != nil {
		s.submitFailures++
		s.lastErr = err.Error()
		s.mu.Unlock()

		s.reportSubmitError(req.TaskID, reason, err)
		ev.Error = err.Error()
		eventbus.Publish(s.bus, eventbus.RefreshArmFailed, ev)
		return fmt.Errorf("submit %s: %w", req.TaskID, err)
	}
	s.armed = true
	s.lastArmedAt = now
	s.nextEarliest = req.EarliestBegin
	s.lastErr = ""
	if s.state != StateRunning {
		s.state = StateArmed
	}
	s.mu.Unlock()

	s.log.Debug("run armed", logx.String("task", req.TaskID), logx.String("reason", reason), logx.Time("earliest_begin", req.EarliestBegin))
	eventbus.Publish(s.bus, eventbus.RefreshArmed, ev)
	return nil
}

// BeginRun marks the start of an invocation and returns its sequence number.
// The host consumed the pending request when it launched the task.
func (s *Service) BeginRun() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRunning
	s.armed = false
	s.runs++
	return s.runs
}

// EndRun leaves Running: back to Armed if the in-run re-arm succeeded.
// A stale seq is ignored; a newer invocation already owns the state.
func (s *Service) EndRun(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.runs {
		return
	}
	if s.armed {
		s.state = StateArmed
	} else {
		s.state = StateRegistered
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TaskID:         s.cfg.TaskID,
		MinInterval:    s.cfg.MinInterval,
		State:          s.state,
		Armed:          s.armed,
		LastArmedAt:    s.lastArmedAt,
		NextEarliest:   s.nextEarliest,
		LastError:      s.lastErr,
		Submits:        s.submits,
		SubmitFailures: s.submitFailures,
		Runs:           s.runs,
	}
}
