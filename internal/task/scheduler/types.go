package scheduler

import (
	"errors"
	"sync"
	"time"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	logx "bgrefresh/pkg/logx"
)

const (
	// DefaultTaskID names the recurring refresh task. The host must also
	// declare it in its static configuration.
	DefaultTaskID = "com.wflw.social.fetch"
	// DefaultMinInterval is the floor between now and a run's earliest begin time.
	DefaultMinInterval = 15 * time.Minute
)

var ErrTaskIDMismatch = errors.New("run request task id does not match registered task")

// Config controls the refresh scheduler.
type Config struct {
	TaskID      string
	MinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TaskID == "" {
		c.TaskID = DefaultTaskID
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	return c
}

type State int32

const (
	StateUnregistered State = iota
	StateRegistered
	StateArmed
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	default:
		return "unregistered"
	}
}

// Re-arm reasons.
const (
	ReasonBackground = "background"
	ReasonInvocation = "invocation"
)

// ArmEvent is emitted on the event bus for submission outcomes.
type ArmEvent struct {
	TaskID        string    `json:"task_id"`
	Reason        string    `json:"reason"`
	EarliestBegin time.Time `json:"earliest_begin"`
	At            time.Time `json:"at"`
	Error         string    `json:"error,omitempty"`
}

type Service struct {
	mu sync.Mutex

	cfg  Config
	host host.TaskScheduler
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time

	state State
	// armed is true while a submitted request is pending with the host.
	armed bool

	lastArmedAt    time.Time
	nextEarliest   time.Time
	lastErr        string
	submits        uint64
	submitFailures uint64
	runs           uint64

	warnMu     sync.Mutex
	lastWarnAt time.Time
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	TaskID         string
	MinInterval    time.Duration
	State          State
	Armed          bool
	LastArmedAt    time.Time
	NextEarliest   time.Time
	LastError      string
	Submits        uint64
	SubmitFailures uint64
	Runs           uint64
}
