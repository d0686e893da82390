package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is the outcome of one refresh invocation.
type RunRecord struct {
	RunID          string        `json:"run_id"`
	TaskID         string        `json:"task_id"`
	Started        time.Time     `json:"started"`
	Duration       time.Duration `json:"duration"`
	Success        bool          `json:"success"`
	Expired        bool          `json:"expired"`
	NotificationID string        `json:"notification_id,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Notification statuses.
const (
	StatusDispatched = "dispatched"
	StatusDropped    = "dropped"
	StatusDelivered  = "delivered"
	StatusSuppressed = "suppressed"
)

// NotificationRecord is one lifecycle step of a notification.
type NotificationRecord struct {
	ID      string        `json:"id"`
	Status  string        `json:"status"`
	Title   string        `json:"title,omitempty"`
	Body    string        `json:"body,omitempty"`
	Trigger time.Duration `json:"trigger,omitempty"`
	// Detail is the permission state, presentation options or error, by status.
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}
