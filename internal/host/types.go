package host

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnregistered is returned by Submit for an identifier with no registered handler.
	ErrUnregistered = errors.New("task identifier not registered")
	// ErrTooManyPending is returned by Submit when the host submission queue is full.
	ErrTooManyPending = errors.New("too many pending task requests")
	// ErrNotPermitted is returned for identifiers missing from the host's static configuration.
	ErrNotPermitted = errors.New("task identifier not permitted")
	// ErrAlreadyRegistered is returned by Register for a second registration of an identifier.
	ErrAlreadyRegistered = errors.New("task identifier already registered")
	// ErrRegistrationClosed is returned by Register after the process finished launching.
	ErrRegistrationClosed = errors.New("registration closed after launch")
)

// RunRequest asks the host to run a registered task no earlier than EarliestBegin.
// The host provides no upper bound.
type RunRequest struct {
	TaskID        string
	EarliestBegin time.Time
}

// TaskHandle is a live reference to one in-flight invocation.
type TaskHandle interface {
	ID() string
	// SetExpirationHandler installs the callback the host fires (at most once)
	// when the time budget of this invocation is exhausted.
	SetExpirationHandler(fn func())
	// SetTaskCompleted reports the outcome. It must be called exactly once.
	SetTaskCompleted(success bool)
}

// TaskScheduler is the host's background task scheduler.
type TaskScheduler interface {
	Register(id string, handler func(TaskHandle)) error
	Submit(req RunRequest) error
}

// AuthorizationOptions is the set of notification capabilities requested from the user.
type AuthorizationOptions uint8

const (
	AuthAlert AuthorizationOptions = 1 << iota
	AuthSound
	AuthBadge
)

func (o AuthorizationOptions) String() string {
	return joinFlags(uint8(o), []string{"alert", "sound", "badge"})
}

// PresentationOptions tells the host how to render a notification while the app is foregrounded.
type PresentationOptions uint8

const (
	PresentAlert PresentationOptions = 1 << iota
	PresentBanner
	PresentList
	PresentSound
	PresentBadge
)

func (o PresentationOptions) Has(flag PresentationOptions) bool { return o&flag == flag }

func (o PresentationOptions) String() string {
	return joinFlags(uint8(o), []string{"alert", "banner", "list", "sound", "badge"})
}

func joinFlags(v uint8, names []string) string {
	if v == 0 {
		return "none"
	}
	parts := make([]string, 0, len(names))
	for i, n := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// Tier is the host's declared presentation capability level.
type Tier int

const (
	// TierLegacy hosts understand {alert, sound}.
	TierLegacy Tier = iota
	// TierModern hosts understand {banner, list, sound}.
	TierModern
)

func (t Tier) String() string {
	if t == TierModern {
		return "modern"
	}
	return "legacy"
}

// ParseTier maps a config string to a Tier. Unknown values fall back to legacy.
func ParseTier(s string) Tier {
	if strings.EqualFold(strings.TrimSpace(s), "modern") {
		return TierModern
	}
	return TierLegacy
}

type Capabilities struct {
	Tier Tier
}

// NotificationRequest is one notification handed to the host for delivery.
// ID must be unique per logical notification; the host coalesces colliding IDs.
type NotificationRequest struct {
	ID      string
	Title   string
	Body    string
	Trigger time.Duration
}

// Notification is a request the host has decided to deliver.
type Notification struct {
	Request     NotificationRequest
	DeliveredAt time.Time
}

// PresentationDelegate decides foreground presentation. completion must be
// invoked exactly once; the host treats a missing call as suppression.
type PresentationDelegate interface {
	WillPresent(n Notification, completion func(PresentationOptions))
}

// NotificationCenter is the host's notification subsystem.
type NotificationCenter interface {
	// RequestAuthorization blocks until the user answers or ctx ends.
	RequestAuthorization(ctx context.Context, opts AuthorizationOptions) (granted bool, err error)
	// Add enqueues a request. completion (optional) reports acceptance by the host.
	Add(req NotificationRequest, completion func(error))
	SetDelegate(d PresentationDelegate)
	Capabilities() Capabilities
}

// DeliverySink receives notifications the host actually showed to the user:
// every background delivery and foreground ones presented with a visible option.
type DeliverySink interface {
	Deliver(ctx context.Context, n Notification) error
}
