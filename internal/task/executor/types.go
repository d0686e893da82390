package executor

import (
	"context"
	"errors"
	"time"

	"bgrefresh/internal/notifier"
)

// DefaultWinddownGrace bounds how long a run may keep going after expiration
// before the executor reports failure on its behalf.
const DefaultWinddownGrace = 5 * time.Second

var ErrExpired = errors.New("refresh run expired")

// Work is the bounded unit of work of one refresh run. It must return
// promptly once ctx is done.
type Work func(ctx context.Context) (notifier.Content, error)

// StaticWork always produces c. It stands in for a real fetch.
func StaticWork(c notifier.Content) Work {
	return func(ctx context.Context) (notifier.Content, error) {
		if err := ctx.Err(); err != nil {
			return notifier.Content{}, err
		}
		return c, nil
	}
}

// Rearmer is the scheduler surface the executor drives. Satisfied by *scheduler.Service.
type Rearmer interface {
	BeginRun() uint64
	Arm(reason string) error
	EndRun(seq uint64)
}

// Dispatcher is satisfied by *notifier.Dispatcher.
type Dispatcher interface {
	DispatchContent(c notifier.Content) string
}

type Config struct {
	// WinddownGrace <= 0 uses DefaultWinddownGrace.
	WinddownGrace time.Duration
}

// RunEvent is emitted on the event bus when a run starts, expires and completes.
type RunEvent struct {
	RunID          string        `json:"run_id"`
	TaskID         string        `json:"task_id"`
	Started        time.Time     `json:"started"`
	Duration       time.Duration `json:"duration"`
	Success        bool          `json:"success"`
	Expired        bool          `json:"expired"`
	NotificationID string        `json:"notification_id,omitempty"`
	Error          string        `json:"error,omitempty"`
}
