package notifier

import (
	"time"
)

// PermissionState is the recorded outcome of the authorization request.
type PermissionState int32

const (
	PermissionUnknown PermissionState = iota
	PermissionGranted
	PermissionDenied
)

func (s PermissionState) String() string {
	switch s {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// MinTrigger models "deliver as soon as the host processes the queue".
// Hosts reject non-positive trigger intervals.
const MinTrigger = time.Second

// Content is what a refresh run wants to show the user.
type Content struct {
	Title string
	Body  string
	Delay time.Duration
}

// PermissionEvent is emitted on the event bus when the authorization request resolves.
type PermissionEvent struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// DispatchEvent is emitted on the event bus for every dispatched notification.
type DispatchEvent struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	Trigger    time.Duration `json:"trigger"`
	Permission string        `json:"permission"`
	At         time.Time     `json:"at"`
	Error      string        `json:"error,omitempty"`
}

// PresentationEvent is emitted when the foreground policy answers the host.
type PresentationEvent struct {
	ID      string    `json:"id"`
	Options string    `json:"options"`
	At      time.Time `json:"at"`
}
